package mapped

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/jrhy/styx"
	"github.com/jrhy/styx/internal/avl"
)

// recordSize is the size of a stored node: height, left, right, key word,
// value word, each a little-endian uint64.
const recordSize = 40

// maxHeight is far beyond any tree a region can hold; a taller recorded
// height means the record is not a node.
const maxHeight = 96

type fields = avl.Fields[*node, styx.Value, styx.Value]

// A node is either resident (built by Put, fields known, address assigned
// on Store) or known only by address, its fields loaded on first use. Only
// the latter are cached, so a tree read back by address is read from the
// region.
type node struct {
	store *Store
	addr  atomic.Uint64

	once   sync.Once
	fields *fields
	err    error

	storeMu sync.Mutex
}

func (n *node) load() (*fields, error) {
	n.once.Do(func() {
		n.fields, n.err = n.store.readNode(n.addr.Load())
	})
	return n.fields, n.err
}

// save writes n and its unsaved descendants, children first, and returns
// n's address.
func (n *node) save() (uint64, error) {
	if n == nil {
		return 0, nil
	}
	if addr := n.addr.Load(); addr != 0 {
		return addr, nil
	}
	n.storeMu.Lock()
	defer n.storeMu.Unlock()
	if addr := n.addr.Load(); addr != 0 {
		return addr, nil
	}
	s := n.store
	f := n.fields
	left, err := f.Left.save()
	if err != nil {
		return 0, err
	}
	right, err := f.Right.save()
	if err != nil {
		return 0, err
	}
	key, err := s.encode(f.Key)
	if err != nil {
		return 0, fmt.Errorf("encode key: %w", err)
	}
	val, err := s.encode(f.Val)
	if err != nil {
		return 0, fmt.Errorf("encode value: %w", err)
	}
	addr, err := s.Alloc(recordSize)
	if err != nil {
		return 0, err
	}
	var rec [recordSize]byte
	binary.LittleEndian.PutUint64(rec[0:], uint64(f.Height))
	binary.LittleEndian.PutUint64(rec[8:], left)
	binary.LittleEndian.PutUint64(rec[16:], right)
	binary.LittleEndian.PutUint64(rec[24:], key)
	binary.LittleEndian.PutUint64(rec[32:], val)
	s.writeAt(addr, rec[:])
	n.addr.Store(addr)
	return addr, nil
}

func (s *Store) readNode(addr uint64) (*fields, error) {
	rec, err := s.readAt(addr, recordSize)
	if err != nil {
		return nil, err
	}
	height := binary.LittleEndian.Uint64(rec[0:])
	if height == 0 || height > maxHeight {
		return nil, fmt.Errorf("%w: node at %d has height %d", styx.ErrCorrupt, addr, height)
	}
	left := binary.LittleEndian.Uint64(rec[8:])
	right := binary.LittleEndian.Uint64(rec[16:])
	if left >= addr || right >= addr {
		// children are always written before their parent
		return nil, fmt.Errorf("%w: node at %d links forward", styx.ErrCorrupt, addr)
	}
	key, err := s.decode(binary.LittleEndian.Uint64(rec[24:]))
	if err != nil {
		return nil, fmt.Errorf("key of node at %d: %w", addr, err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: node at %d has no key", styx.ErrCorrupt, addr)
	}
	val, err := s.decode(binary.LittleEndian.Uint64(rec[32:]))
	if err != nil {
		return nil, fmt.Errorf("value of node at %d: %w", addr, err)
	}
	return &fields{
		Key:    key,
		Val:    val,
		Left:   s.nodeAt(left),
		Right:  s.nodeAt(right),
		Height: int32(height),
	}, nil
}

// nodeAt returns the node stored at addr without reading it.
func (s *Store) nodeAt(addr uint64) *node {
	if addr == 0 {
		return nil
	}
	if n, ok := s.nodes.Get(cacheKey{s, addr}); ok {
		return n.(*node)
	}
	n := &node{store: s}
	n.addr.Store(addr)
	s.nodes.Add(cacheKey{s, addr}, n)
	return n
}

type nodeOps struct {
	store *Store
}

func (nodeOps) Empty() *node                  { return nil }
func (nodeOps) IsEmpty(n *node) bool          { return n == nil }
func (nodeOps) Compare(a, b styx.Value) int   { return a.Compare(b) }
func (nodeOps) Load(n *node) (*fields, error) { return n.load() }

func (o nodeOps) New(f *fields) (*node, error) {
	n := &node{store: o.store, fields: f}
	n.once.Do(func() {})
	return n, nil
}

// Tree is a persistent AVL tree whose nodes live in a Store. Trees built by
// Put live in memory until Store writes them to the region.
type Tree struct {
	store *Store
	root  *node
}

var _ styx.SortedMap = Tree{}

// NewTree returns an empty tree in s.
func (s *Store) NewTree() Tree {
	return Tree{store: s}
}

// TreeAt returns the tree whose root node is at addr. Address 0 is the
// empty tree.
func (s *Store) TreeAt(addr uint64) (Tree, error) {
	if addr != 0 && (addr < HeaderSize || addr%8 != 0 || addr >= uint64(len(s.data))) {
		return Tree{}, fmt.Errorf("%w: tree at %d", styx.ErrCorrupt, addr)
	}
	return Tree{store: s, root: s.nodeAt(addr)}, nil
}

func (t Tree) algo() avl.Tree[*node, styx.Value, styx.Value] {
	return avl.Tree[*node, styx.Value, styx.Value]{Ops: nodeOps{t.store}}
}

// Store writes every unsaved node of t to the region and returns the root
// address. Calling it again, or on a tree loaded from the region, just
// returns the address.
func (t Tree) Store() (uint64, error) {
	addr, err := t.root.save()
	if err != nil {
		return 0, fmt.Errorf("store tree: %w", err)
	}
	return addr, nil
}

// Check validates the tree's balance and ordering and returns its size.
func (t Tree) Check() (int, error) {
	return t.algo().Check(t.root)
}

func (t Tree) Height() (int32, error) {
	return t.algo().Height(t.root)
}

func (t Tree) IsEmpty() bool {
	return t.root == nil
}

func (t Tree) HasSingle() (bool, error) {
	if t.root == nil {
		return false, nil
	}
	f, err := t.root.load()
	if err != nil {
		return false, err
	}
	return f.Left == nil && f.Right == nil, nil
}

func (t Tree) HasMany() (bool, error) {
	if t.root == nil {
		return false, nil
	}
	single, err := t.HasSingle()
	return !single, err
}

func (t Tree) Get(key styx.Value) (styx.Value, error) {
	if key == nil {
		return nil, styx.ErrNilKey
	}
	f, err := t.algo().Get(t.root, key)
	if err != nil || f == nil {
		return nil, err
	}
	return f.Val, nil
}

func (t Tree) Put(key, val styx.Value) (styx.SortedMap, error) {
	if key == nil {
		return t, styx.ErrNilKey
	}
	if val == nil {
		root, found, err := t.algo().Delete(t.root, key)
		if err != nil {
			return t, fmt.Errorf("delete: %w", err)
		}
		if !found {
			return t, nil
		}
		return Tree{t.store, root}, nil
	}
	root, err := t.algo().Insert(t.root, key, val)
	if err != nil {
		return t, fmt.Errorf("insert: %w", err)
	}
	return Tree{t.store, root}, nil
}

func (t Tree) Single() (*styx.Entry, error) {
	single, err := t.HasSingle()
	if err != nil || !single {
		return nil, err
	}
	f, _ := t.root.load()
	return &styx.Entry{Key: f.Key, Val: f.Val}, nil
}

func (t Tree) Find(key styx.Value, forward bool) (*styx.Entry, error) {
	var k *styx.Value
	if key != nil {
		k = &key
	}
	f, err := t.algo().Find(t.root, k, forward)
	if err != nil || f == nil {
		return nil, err
	}
	return &styx.Entry{Key: f.Key, Val: f.Val}, nil
}

func (t Tree) Entries() iter.Seq2[styx.Entry, error] {
	return func(yield func(styx.Entry, error) bool) {
		for f, err := range t.algo().All(t.root) {
			if err != nil {
				yield(styx.Entry{}, err)
				return
			}
			if !yield(styx.Entry{Key: f.Key, Val: f.Val}, nil) {
				return
			}
		}
	}
}

func (t Tree) Iter(f func(key, val styx.Value) error) error {
	for e, err := range t.Entries() {
		if err != nil {
			return err
		}
		if err := f(e.Key, e.Val); err != nil {
			if errors.Is(err, styx.ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}
