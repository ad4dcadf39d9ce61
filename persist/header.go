// Package persist holds the versioned value format shared by the file and
// S3 backends.
//
// A persisted value is a 32-byte header followed by the value's text
// encoding. Byte i of the header, for i < 31, is a tab if bit i of the
// version is set and a space otherwise; byte 31 is a newline. The header is
// whitespace, so the whole file still reads as the encoded value.
package persist

import "github.com/jrhy/styx"

const (
	HeaderSize  = 32
	versionBits = HeaderSize - 1

	// MaxVersion is the largest version; the next one is 1.
	MaxVersion = 1<<versionBits - 1
)

// EncodeHeader returns the header for version v, which must be in
// 1..MaxVersion.
func EncodeHeader(v uint32) []byte {
	h := make([]byte, HeaderSize)
	for i := 0; i < versionBits; i++ {
		if v&(1<<i) != 0 {
			h[i] = '\t'
		} else {
			h[i] = ' '
		}
	}
	h[versionBits] = '\n'
	return h
}

// DecodeHeader returns the version in the first HeaderSize bytes of b. ok is
// false if b does not start with a well-formed header.
func DecodeHeader(b []byte) (v uint32, ok bool) {
	if len(b) < HeaderSize || b[versionBits] != '\n' {
		return 0, false
	}
	for i := 0; i < versionBits; i++ {
		switch b[i] {
		case '\t':
			v |= 1 << i
		case ' ':
		default:
			return 0, false
		}
	}
	return v, true
}

// NextVersion returns the version after v, wrapping from MaxVersion to 1.
// Version 0 means "unversioned" and is never produced.
func NextVersion(v uint32) uint32 {
	v = (v + 1) & MaxVersion
	if v == 0 {
		return 1
	}
	return v
}

// Split separates persisted content into its version and payload. Content
// without a well-formed header is version 0, and all of it is payload.
func Split(content []byte) (version uint32, payload []byte) {
	if v, ok := DecodeHeader(content); ok {
		return v, content[HeaderSize:]
	}
	return 0, content
}

// Encode serializes v after the header for version.
func Encode(ser styx.Serializer, version uint32, v styx.Value) ([]byte, error) {
	b, err := ser.Serialize(v)
	if err != nil {
		return nil, err
	}
	return append(EncodeHeader(version), b...), nil
}
