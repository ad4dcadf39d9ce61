package styx

import (
	"errors"
	"iter"
)

// Entry is a key and value in a SortedMap.
type Entry struct {
	Key Value
	Val Value
}

// SortedMap is an immutable map ordered by Value.Compare. Every mutation
// returns a new map sharing untouched structure with the receiver.
type SortedMap interface {
	IsEmpty() bool
	// HasSingle reports whether the map holds exactly one entry.
	HasSingle() (bool, error)
	// HasMany reports whether the map holds more than one entry.
	HasMany() (bool, error)
	// Get returns the value stored under key, or nil.
	Get(key Value) (Value, error)
	// Put returns a map with key set to val. A nil val removes key; removing
	// an absent key returns the receiver.
	Put(key, val Value) (SortedMap, error)
	// Single returns the only entry, or nil unless the map has exactly one.
	Single() (*Entry, error)
	// Find returns the entry strictly after (forward) or strictly before
	// key. A nil key finds the first (forward) or last entry.
	Find(key Value, forward bool) (*Entry, error)
	// Entries yields entries in ascending key order. The sequence may be
	// ranged over more than once.
	Entries() iter.Seq2[Entry, error]
	// Iter calls f on each entry in order, stopping at the first error.
	Iter(f func(key, val Value) error) error
}

// ErrStopIteration may be returned by an Iter callback to end iteration
// early without Iter reporting an error.
var ErrStopIteration = errors.New("stop iteration")

func iterEntries(seq iter.Seq2[Entry, error], f func(key, val Value) error) error {
	for e, err := range seq {
		if err != nil {
			return err
		}
		if err := f(e.Key, e.Val); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Len counts the entries in m. A nil map is empty.
func Len(m SortedMap) (int, error) {
	n := 0
	for _, err := range entries(m) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Collect returns the entries of m in order.
func Collect(m SortedMap) ([]Entry, error) {
	var res []Entry
	for e, err := range entries(m) {
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}
