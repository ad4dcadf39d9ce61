// Package avl implements a persistent (copy-on-write) AVL tree algorithm
// over an abstract node representation, so the same rotations can run over
// in-memory pointers and over nodes that live at addresses in a mapped
// region.
package avl

import (
	"errors"
	"fmt"
	"iter"
)

// Fields are the contents of one non-empty node.
type Fields[N, K, V any] struct {
	Key    K
	Val    V
	Left   N
	Right  N
	Height int32
}

// Ops adapts a node representation to the algorithm. Nodes are immutable
// once New returns them.
type Ops[N, K, V any] interface {
	// Empty returns the handle of the empty tree.
	Empty() N
	IsEmpty(N) bool
	// Load returns the fields of a non-empty node.
	Load(N) (*Fields[N, K, V], error)
	// New makes a node from fully computed fields.
	New(*Fields[N, K, V]) (N, error)
	// Compare orders keys: negative if a < b, 0 if equal, positive if a > b.
	Compare(a, b K) int
}

// Tree runs the algorithm with the given Ops. The zero Tree is not usable.
type Tree[N, K, V any] struct {
	Ops Ops[N, K, V]
}

// ErrUnbalanced is returned by Check when a node violates the height invariant.
var ErrUnbalanced = errors.New("unbalanced")

// ErrUnordered is returned by Check when keys are not strictly ascending.
var ErrUnordered = errors.New("keys out of order")

func (t Tree[N, K, V]) Height(n N) (int32, error) {
	if t.Ops.IsEmpty(n) {
		return 0, nil
	}
	f, err := t.Ops.Load(n)
	if err != nil {
		return 0, err
	}
	return f.Height, nil
}

func (t Tree[N, K, V]) build(key K, val V, left, right N) (N, error) {
	hl, err := t.Height(left)
	if err != nil {
		return t.Ops.Empty(), err
	}
	hr, err := t.Height(right)
	if err != nil {
		return t.Ops.Empty(), err
	}
	return t.Ops.New(&Fields[N, K, V]{
		Key:    key,
		Val:    val,
		Left:   left,
		Right:  right,
		Height: 1 + max(hl, hr),
	})
}

// Get returns the fields of the node holding key, or nil.
func (t Tree[N, K, V]) Get(n N, key K) (*Fields[N, K, V], error) {
	for !t.Ops.IsEmpty(n) {
		f, err := t.Ops.Load(n)
		if err != nil {
			return nil, err
		}
		c := t.Ops.Compare(key, f.Key)
		switch {
		case c == 0:
			return f, nil
		case c < 0:
			n = f.Left
		default:
			n = f.Right
		}
	}
	return nil, nil
}

// Insert returns a new root holding key=val. n is left untouched.
func (t Tree[N, K, V]) Insert(n N, key K, val V) (N, error) {
	if t.Ops.IsEmpty(n) {
		return t.build(key, val, n, n)
	}
	f, err := t.Ops.Load(n)
	if err != nil {
		return n, err
	}
	c := t.Ops.Compare(key, f.Key)
	switch {
	case c == 0:
		return t.Ops.New(&Fields[N, K, V]{
			Key:    f.Key,
			Val:    val,
			Left:   f.Left,
			Right:  f.Right,
			Height: f.Height,
		})
	case c < 0:
		left, err := t.Insert(f.Left, key, val)
		if err != nil {
			return n, err
		}
		return t.rebalance(f.Key, f.Val, left, f.Right)
	default:
		right, err := t.Insert(f.Right, key, val)
		if err != nil {
			return n, err
		}
		return t.rebalance(f.Key, f.Val, f.Left, right)
	}
}

// Delete returns a new root without key. found is false, and the returned
// root is n itself, when key is absent.
func (t Tree[N, K, V]) Delete(n N, key K) (root N, found bool, err error) {
	if t.Ops.IsEmpty(n) {
		return n, false, nil
	}
	f, err := t.Ops.Load(n)
	if err != nil {
		return n, false, err
	}
	c := t.Ops.Compare(key, f.Key)
	switch {
	case c == 0:
		root, err = t.merge(f.Left, f.Right)
		if err != nil {
			return n, false, err
		}
		return root, true, nil
	case c < 0:
		left, found, err := t.Delete(f.Left, key)
		if err != nil || !found {
			return n, false, err
		}
		root, err = t.rebalance(f.Key, f.Val, left, f.Right)
		return root, true, err
	default:
		right, found, err := t.Delete(f.Right, key)
		if err != nil || !found {
			return n, false, err
		}
		root, err = t.rebalance(f.Key, f.Val, f.Left, right)
		return root, true, err
	}
}

// merge joins two subtrees whose keys are all ordered left < right, lifting
// the minimum of right to be the new parent.
func (t Tree[N, K, V]) merge(left, right N) (N, error) {
	if t.Ops.IsEmpty(right) {
		return left, nil
	}
	if t.Ops.IsEmpty(left) {
		return right, nil
	}
	succ, err := t.Find(right, nil, true)
	if err != nil {
		return left, err
	}
	right, _, err = t.Delete(right, succ.Key)
	if err != nil {
		return left, err
	}
	return t.rebalance(succ.Key, succ.Val, left, right)
}

func (t Tree[N, K, V]) rebalance(key K, val V, left, right N) (N, error) {
	hl, err := t.Height(left)
	if err != nil {
		return left, err
	}
	hr, err := t.Height(right)
	if err != nil {
		return left, err
	}
	switch balance := hr - hl; {
	case balance > 1:
		rf, err := t.Ops.Load(right)
		if err != nil {
			return left, err
		}
		rl, err := t.Height(rf.Left)
		if err != nil {
			return left, err
		}
		rr, err := t.Height(rf.Right)
		if err != nil {
			return left, err
		}
		if rl > rr {
			right, err = t.rotateRight(rf.Key, rf.Val, rf.Left, rf.Right)
			if err != nil {
				return left, err
			}
		}
		return t.rotateLeft(key, val, left, right)
	case balance < -1:
		lf, err := t.Ops.Load(left)
		if err != nil {
			return left, err
		}
		ll, err := t.Height(lf.Left)
		if err != nil {
			return left, err
		}
		lr, err := t.Height(lf.Right)
		if err != nil {
			return left, err
		}
		if lr > ll {
			left, err = t.rotateLeft(lf.Key, lf.Val, lf.Left, lf.Right)
			if err != nil {
				return left, err
			}
		}
		return t.rotateRight(key, val, left, right)
	default:
		return t.build(key, val, left, right)
	}
}

// rotateLeft builds the parent (key, val, left, right) with right promoted.
func (t Tree[N, K, V]) rotateLeft(key K, val V, left, right N) (N, error) {
	rf, err := t.Ops.Load(right)
	if err != nil {
		return left, err
	}
	lower, err := t.build(key, val, left, rf.Left)
	if err != nil {
		return left, err
	}
	return t.build(rf.Key, rf.Val, lower, rf.Right)
}

// rotateRight builds the parent (key, val, left, right) with left promoted.
func (t Tree[N, K, V]) rotateRight(key K, val V, left, right N) (N, error) {
	lf, err := t.Ops.Load(left)
	if err != nil {
		return left, err
	}
	lower, err := t.build(key, val, lf.Right, right)
	if err != nil {
		return left, err
	}
	return t.build(lf.Key, lf.Val, lf.Left, lower)
}

// Find returns the entry strictly after (forward) or strictly before key.
// A nil key returns the minimum (forward) or maximum entry. The result is
// nil when there is no such entry.
func (t Tree[N, K, V]) Find(n N, key *K, forward bool) (*Fields[N, K, V], error) {
	var best *Fields[N, K, V]
	for !t.Ops.IsEmpty(n) {
		f, err := t.Ops.Load(n)
		if err != nil {
			return nil, err
		}
		var toward bool
		if key == nil {
			toward = true
		} else if forward {
			toward = t.Ops.Compare(*key, f.Key) < 0
		} else {
			toward = t.Ops.Compare(*key, f.Key) > 0
		}
		if toward {
			best = f
			if forward {
				n = f.Left
			} else {
				n = f.Right
			}
		} else if forward {
			n = f.Right
		} else {
			n = f.Left
		}
	}
	return best, nil
}

// All yields every node in ascending key order. Each call to the returned
// sequence restarts from the root. A load failure is yielded once as the
// error, ending the sequence.
func (t Tree[N, K, V]) All(root N) iter.Seq2[*Fields[N, K, V], error] {
	return func(yield func(*Fields[N, K, V], error) bool) {
		var stack []*Fields[N, K, V]
		n := root
		for {
			for !t.Ops.IsEmpty(n) {
				f, err := t.Ops.Load(n)
				if err != nil {
					yield(nil, err)
					return
				}
				stack = append(stack, f)
				n = f.Left
			}
			if len(stack) == 0 {
				return
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(f, nil) {
				return
			}
			n = f.Right
		}
	}
}

// Check validates heights, balance and ordering of the whole tree and
// returns the number of entries.
func (t Tree[N, K, V]) Check(root N) (int, error) {
	count, _, err := t.check(root, nil, nil)
	return count, err
}

func (t Tree[N, K, V]) check(n N, lo, hi *K) (count int, height int32, err error) {
	if t.Ops.IsEmpty(n) {
		return 0, 0, nil
	}
	f, err := t.Ops.Load(n)
	if err != nil {
		return 0, 0, err
	}
	if lo != nil && t.Ops.Compare(*lo, f.Key) >= 0 ||
		hi != nil && t.Ops.Compare(f.Key, *hi) >= 0 {
		return 0, 0, fmt.Errorf("%w at key %v", ErrUnordered, f.Key)
	}
	lc, lh, err := t.check(f.Left, lo, &f.Key)
	if err != nil {
		return 0, 0, err
	}
	rc, rh, err := t.check(f.Right, &f.Key, hi)
	if err != nil {
		return 0, 0, err
	}
	if d := rh - lh; d > 1 || d < -1 {
		return 0, 0, fmt.Errorf("%w at key %v: left %d right %d", ErrUnbalanced, f.Key, lh, rh)
	}
	if want := 1 + max(lh, rh); f.Height != want {
		return 0, 0, fmt.Errorf("%w at key %v: recorded height %d, actual %d", ErrUnbalanced, f.Key, f.Height, want)
	}
	return lc + rc + 1, f.Height, nil
}
