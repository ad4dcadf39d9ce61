package styx

import (
	"fmt"
	"iter"

	"github.com/jrhy/styx/internal/avl"
)

type memNode struct {
	avl.Fields[*memNode, Value, Value]
}

type memOps struct{}

func (memOps) Empty() *memNode         { return nil }
func (memOps) IsEmpty(n *memNode) bool { return n == nil }
func (memOps) Compare(a, b Value) int  { return a.Compare(b) }
func (memOps) Load(n *memNode) (*avl.Fields[*memNode, Value, Value], error) {
	return &n.Fields, nil
}

func (memOps) New(f *avl.Fields[*memNode, Value, Value]) (*memNode, error) {
	return &memNode{*f}, nil
}

var memAlgo = avl.Tree[*memNode, Value, Value]{Ops: memOps{}}

// InMemory is a persistent AVL tree held entirely in memory. The zero value
// is an empty map. Copies are cheap and never observe each other's changes.
type InMemory struct {
	root *memNode
}

var _ SortedMap = InMemory{}

// NewInMemory returns an empty in-memory map.
func NewInMemory() InMemory {
	return InMemory{}
}

func (m InMemory) IsEmpty() bool {
	return m.root == nil
}

func (m InMemory) HasSingle() (bool, error) {
	return m.root != nil && m.root.Left == nil && m.root.Right == nil, nil
}

func (m InMemory) HasMany() (bool, error) {
	return m.root != nil && (m.root.Left != nil || m.root.Right != nil), nil
}

func (m InMemory) Get(key Value) (Value, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	f, _ := memAlgo.Get(m.root, key)
	if f == nil {
		return nil, nil
	}
	return f.Val, nil
}

func (m InMemory) Put(key, val Value) (SortedMap, error) {
	if key == nil {
		return m, ErrNilKey
	}
	if val == nil {
		root, found, err := memAlgo.Delete(m.root, key)
		if err != nil {
			return m, fmt.Errorf("delete: %w", err)
		}
		if !found {
			return m, nil
		}
		return InMemory{root}, nil
	}
	root, err := memAlgo.Insert(m.root, key, val)
	if err != nil {
		return m, fmt.Errorf("insert: %w", err)
	}
	return InMemory{root}, nil
}

func (m InMemory) Single() (*Entry, error) {
	if single, _ := m.HasSingle(); !single {
		return nil, nil
	}
	return &Entry{m.root.Key, m.root.Val}, nil
}

func (m InMemory) Find(key Value, forward bool) (*Entry, error) {
	var k *Value
	if key != nil {
		k = &key
	}
	f, _ := memAlgo.Find(m.root, k, forward)
	if f == nil {
		return nil, nil
	}
	return &Entry{f.Key, f.Val}, nil
}

func (m InMemory) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for f, err := range memAlgo.All(m.root) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(Entry{f.Key, f.Val}, nil) {
				return
			}
		}
	}
}

func (m InMemory) Iter(f func(key, val Value) error) error {
	return iterEntries(m.Entries(), f)
}

// check validates the AVL invariants and returns the entry count.
func (m InMemory) check() (int, error) {
	return memAlgo.Check(m.root)
}

func (m InMemory) height() int32 {
	h, _ := memAlgo.Height(m.root)
	return h
}
