/*
Package styx provides a versioned, concurrently shared cell holding one
arbitrarily large immutable tree value.

# Values

A Value is a Bool, Number, Text, Binary, List or Map. Values of all kinds
share one total order (Bool < Number < Text < Binary < List < Map), so any
Value can be a key. A Map is backed by a SortedMap, a persistent AVL tree:
Put never modifies the receiver, it returns a new tree that shares every
untouched subtree with the old one. That makes taking a snapshot free, and
lets many goroutines read the same tree without locks.

Trees live in one of two places:

- InMemory, a pointer-linked tree that is garbage collected like any other
Go value;

- mapped.Tree, a tree whose nodes live at byte addresses in an
append-only memory-mapped region, loaded lazily and cached.

# Sharing

A SharedValue is a cell whose contents can be replaced. Readers Get the
current value; writers build a new value from it and TestSet, which only
succeeds if nobody else wrote in between. The version each participant
last saw is kept in its Session. Monitor blocks until someone else writes.

	s := styx.NewSession()
	for {
		v, err := cell.Get(ctx, s)
		if err != nil {
			return err
		}
		m := styx.Map{styx.NewInMemory()}
		if cur, ok := v.(styx.Map); ok {
			m = cur
		}
		next, err := m.Put(styx.Text("hits"), styx.Number(n+1))
		...
		if ok, err := cell.TestSet(ctx, s, styx.Map{next}); err != nil || ok {
			return err
		}
	}

Backends: mapped.Cell (goroutines of one process sharing a region),
persist/file.Cell (processes sharing a file guarded by a lock file) and
persist/s3.Cell (the same file format in an S3 object).
*/
package styx
