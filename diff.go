package styx

import (
	"fmt"
	"iter"
)

// Diff walks newMap and oldMap together in key order and calls f for each
// key whose value differs: added (only in newMap), removed (only in
// oldMap), or both (changed). Returning false from f stops the walk.
// Either map may be nil.
func Diff(
	newMap, oldMap SortedMap,
	f func(added, removed bool, key, addedValue, removedValue Value) (bool, error),
) error {
	nnext, nstop := iter.Pull2(entries(newMap))
	defer nstop()
	onext, ostop := iter.Pull2(entries(oldMap))
	defer ostop()

	pull := func(next func() (Entry, error, bool)) (*Entry, error) {
		e, err, ok := next()
		if !ok {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		return &e, nil
	}
	n, err := pull(nnext)
	if err != nil {
		return err
	}
	o, err := pull(onext)
	if err != nil {
		return err
	}
	for n != nil || o != nil {
		var keepGoing bool
		switch c := cmpEntries(n, o); {
		case c < 0:
			keepGoing, err = f(true, false, n.Key, n.Val, nil)
			if err == nil {
				n, err = pull(nnext)
			}
		case c > 0:
			keepGoing, err = f(false, true, o.Key, nil, o.Val)
			if err == nil {
				o, err = pull(onext)
			}
		default:
			keepGoing = true
			if n.Val.Compare(o.Val) != 0 {
				keepGoing, err = f(true, true, n.Key, n.Val, o.Val)
			}
			if err == nil {
				n, err = pull(nnext)
			}
			if err == nil {
				o, err = pull(onext)
			}
		}
		if err != nil {
			return fmt.Errorf("diff: %w", err)
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// cmpEntries orders a missing entry after every present one.
func cmpEntries(n, o *Entry) int {
	switch {
	case o == nil:
		return -1
	case n == nil:
		return 1
	}
	return n.Key.Compare(o.Key)
}
