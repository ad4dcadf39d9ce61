package styx

import (
	"encoding/binary"
	"fmt"

	"github.com/minio/blake2b-simd"
)

// Digest hashes the entries of m in order. Two maps holding the same
// entries have the same digest whatever their shape or backing store.
func Digest(m SortedMap) ([32]byte, error) {
	var res [32]byte
	h := blake2b.New256()
	var ser TextSerializer
	var lenBuf [binary.MaxVarintLen64]byte
	write := func(v Value) error {
		b, err := ser.Serialize(v)
		if err != nil {
			return err
		}
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:n])
		h.Write(b)
		return nil
	}
	for e, err := range entries(m) {
		if err != nil {
			return res, fmt.Errorf("digest: %w", err)
		}
		if err := write(e.Key); err != nil {
			return res, fmt.Errorf("digest key: %w", err)
		}
		if err := write(e.Val); err != nil {
			return res, fmt.Errorf("digest value: %w", err)
		}
	}
	copy(res[:], h.Sum(nil))
	return res, nil
}
