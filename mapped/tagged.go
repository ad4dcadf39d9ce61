package mapped

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/jrhy/styx"
)

// A word is a tagged 64-bit reference to a value. The top 4 bits are the
// tag, the next 4 the length of an inline binary or text, and the low 56
// bits the payload or an arena address. The zero word is "no value".
const (
	tagNone    = 0
	tagComplex = 1
	tagBool    = 2
	tagInteger = 3
	tagBinary  = 4
	tagText    = 5
	tagOther   = 6

	tagShift    = 60
	lenShift    = 56
	payloadMask = 1<<lenShift - 1
	maxInline   = 7
)

func wordTag(w uint64) uint64 { return w >> tagShift }

func packInline(tag uint64, b []byte) uint64 {
	w := tag<<tagShift | uint64(len(b))<<lenShift
	for i, c := range b {
		w |= uint64(c) << (8 * i)
	}
	return w
}

func unpackInline(w uint64) ([]byte, error) {
	n := int(w>>lenShift) & 0xf
	if n > maxInline {
		return nil, fmt.Errorf("%w: inline length %d", styx.ErrCorrupt, n)
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(w >> (8 * i))
	}
	return b, nil
}

func isInteger(f float64) bool {
	return f == math.Trunc(f) &&
		f >= math.MinInt32 && f <= math.MaxInt32 &&
		!(f == 0 && math.Signbit(f))
}

// encode turns v into a word, writing it to the arena first if it does not
// fit inline. A nil v encodes as the zero word.
func (s *Store) encode(v styx.Value) (uint64, error) {
	switch v := v.(type) {
	case nil:
		return tagNone, nil
	case styx.Map:
		addr, err := s.storeMap(v)
		if err != nil {
			return 0, err
		}
		return tagComplex<<tagShift | addr, nil
	case styx.Bool:
		if v {
			return tagBool<<tagShift | 1, nil
		}
		return tagBool << tagShift, nil
	case styx.Number:
		if isInteger(float64(v)) {
			return tagInteger<<tagShift | uint64(uint32(int32(v))), nil
		}
	case styx.Binary:
		if len(v) <= maxInline {
			return packInline(tagBinary, v), nil
		}
	case styx.Text:
		if !utf8.ValidString(string(v)) {
			return 0, fmt.Errorf("%w: text %q is not UTF-8", styx.ErrUnsupportedValue, string(v))
		}
		if len(v) <= maxInline {
			return packInline(tagText, []byte(v)), nil
		}
	}
	return s.storeOther(v)
}

// storeMap returns the address of a tree holding m's entries in this store,
// copying them in when m lives elsewhere.
func (s *Store) storeMap(m styx.Map) (uint64, error) {
	if t, ok := m.SortedMap.(Tree); ok && t.store == s {
		return t.Store()
	}
	t := s.NewTree()
	if m.SortedMap != nil {
		var sm styx.SortedMap = t
		for e, err := range m.Entries() {
			if err != nil {
				return 0, fmt.Errorf("copy map: %w", err)
			}
			sm, err = sm.Put(e.Key, e.Val)
			if err != nil {
				return 0, fmt.Errorf("copy map: %w", err)
			}
		}
		t = sm.(Tree)
	}
	return t.Store()
}

func (s *Store) storeOther(v styx.Value) (uint64, error) {
	b, err := s.ser.Serialize(v)
	if err != nil {
		return 0, fmt.Errorf("serialize: %w", err)
	}
	if uint64(len(b)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: blob of %d bytes", styx.ErrUnsupportedValue, len(b))
	}
	addr, err := s.Alloc(4 + len(b))
	if err != nil {
		return 0, err
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(b)))
	s.writeAt(addr, prefix[:])
	s.writeAt(addr+4, b)
	return tagOther<<tagShift | addr, nil
}

// decode is the inverse of encode. The zero word decodes to nil.
func (s *Store) decode(w uint64) (styx.Value, error) {
	payload := w & payloadMask
	switch wordTag(w) {
	case tagNone:
		if w != 0 {
			return nil, fmt.Errorf("%w: word %#x", styx.ErrCorrupt, w)
		}
		return nil, nil
	case tagComplex:
		t, err := s.TreeAt(payload)
		if err != nil {
			return nil, err
		}
		return styx.Map{SortedMap: t}, nil
	case tagBool:
		return styx.Bool(payload != 0), nil
	case tagInteger:
		return styx.Number(int32(uint32(payload))), nil
	case tagBinary:
		b, err := unpackInline(w)
		if err != nil {
			return nil, err
		}
		return styx.Binary(b), nil
	case tagText:
		b, err := unpackInline(w)
		if err != nil {
			return nil, err
		}
		return styx.Text(b), nil
	case tagOther:
		prefix, err := s.readAt(payload, 4)
		if err != nil {
			return nil, err
		}
		b, err := s.readAt(payload+4, int(binary.LittleEndian.Uint32(prefix)))
		if err != nil {
			return nil, err
		}
		v, err := s.ser.Deserialize(append([]byte(nil), b...))
		if err != nil {
			return nil, fmt.Errorf("deserialize at %d: %w", payload, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: unknown tag in word %#x", styx.ErrCorrupt, w)
}
