package styx

import (
	"bytes"
	"fmt"
	"iter"
	"strings"
)

// Kind ranks values of different types in the total order.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindNumber
	KindText
	KindBinary
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// A Value is an immutable, totally ordered datum. Values of different kinds
// order by Kind; values of the same kind order naturally.
type Value interface {
	Kind() Kind
	// Compare returns -1 if this value sorts before other, 1 if after,
	// and 0 if equal.
	Compare(other Value) int
}

type (
	Bool   bool
	Number float64
	Text   string
	Binary []byte
	List   []Value
)

// Map is a value backed by a SortedMap, such as an InMemory tree or a tree
// stored in a mapped region. A nil SortedMap is the empty map.
type Map struct {
	SortedMap
}

func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (Text) Kind() Kind   { return KindText }
func (Binary) Kind() Kind { return KindBinary }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func compareKinds(a, b Value) (int, bool) {
	ka, kb := a.Kind(), b.Kind()
	switch {
	case ka < kb:
		return -1, false
	case ka > kb:
		return 1, false
	}
	return 0, true
}

func (v Bool) Compare(other Value) int {
	if c, same := compareKinds(v, other); !same {
		return c
	}
	o := other.(Bool)
	switch {
	case v == o:
		return 0
	case !bool(v):
		return -1
	}
	return 1
}

// Compare orders NaN before every other number.
func (v Number) Compare(other Value) int {
	if c, same := compareKinds(v, other); !same {
		return c
	}
	o := other.(Number)
	vnan, onan := v != v, o != o
	switch {
	case vnan && onan:
		return 0
	case vnan:
		return -1
	case onan:
		return 1
	case v < o:
		return -1
	case v > o:
		return 1
	}
	return 0
}

func (v Text) Compare(other Value) int {
	if c, same := compareKinds(v, other); !same {
		return c
	}
	return strings.Compare(string(v), string(other.(Text)))
}

func (v Binary) Compare(other Value) int {
	if c, same := compareKinds(v, other); !same {
		return c
	}
	return bytes.Compare(v, other.(Binary))
}

func (v List) Compare(other Value) int {
	if c, same := compareKinds(v, other); !same {
		return c
	}
	o := other.(List)
	for i := 0; i < len(v) && i < len(o); i++ {
		if c := compareNullable(v[i], o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(v) < len(o):
		return -1
	case len(v) > len(o):
		return 1
	}
	return 0
}

// Compare walks both maps in key order, comparing keys then values. It
// panics if either map cannot be read from its backing store, since the
// ordering contract has no error path.
func (v Map) Compare(other Value) int {
	if c, same := compareKinds(v, other); !same {
		return c
	}
	next, stop := iter.Pull2(entries(v.SortedMap))
	defer stop()
	onext, ostop := iter.Pull2(entries(other.(Map).SortedMap))
	defer ostop()
	for {
		e, err, ok := next()
		if ok && err != nil {
			panic(fmt.Errorf("compare map: %w", err))
		}
		oe, oerr, ook := onext()
		if ook && oerr != nil {
			panic(fmt.Errorf("compare map: %w", oerr))
		}
		switch {
		case !ok && !ook:
			return 0
		case !ok:
			return -1
		case !ook:
			return 1
		}
		if c := e.Key.Compare(oe.Key); c != 0 {
			return c
		}
		if c := compareNullable(e.Val, oe.Val); c != 0 {
			return c
		}
	}
}

func entries(m SortedMap) iter.Seq2[Entry, error] {
	if m == nil {
		return func(func(Entry, error) bool) {}
	}
	return m.Entries()
}

func compareNullable(a, b Value) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(b)
}

// Equal reports whether a and b are both absent or compare equal.
func Equal(a, b Value) bool {
	return compareNullable(a, b) == 0
}

// MapOf builds an in-memory Map from alternating keys and values.
func MapOf(kv ...Value) (Map, error) {
	if len(kv)%2 != 0 {
		return Map{}, fmt.Errorf("MapOf: odd number of arguments (%d)", len(kv))
	}
	var m SortedMap = NewInMemory()
	for i := 0; i < len(kv); i += 2 {
		var err error
		m, err = m.Put(kv[i], kv[i+1])
		if err != nil {
			return Map{}, err
		}
	}
	return Map{m}, nil
}
