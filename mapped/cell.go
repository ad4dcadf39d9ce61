package mapped

import (
	"context"
	"fmt"

	"github.com/jrhy/styx"
)

const backendName = "mapped"

// Cell is the styx.SharedValue held in a store's root word. Its version is
// the root word itself, and sessions key their baseline by the store, so all
// cells over one store are interchangeable.
type Cell struct {
	store *Store
}

var _ styx.SharedValue = (*Cell)(nil)

func NewCell(s *Store) *Cell {
	return &Cell{store: s}
}

func (c *Cell) Store() *Store {
	return c.store
}

func (c *Cell) Get(ctx context.Context, sess *styx.Session) (styx.Value, error) {
	root := c.store.Root()
	sess.Observe(c.store, root)
	v, err := c.store.decode(root)
	if err != nil {
		return nil, fmt.Errorf("decode root: %w", err)
	}
	return v, nil
}

func (c *Cell) Set(ctx context.Context, sess *styx.Session, v styx.Value) error {
	w, err := c.store.encode(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	c.store.SetRoot(w)
	sess.Observe(c.store, w)
	c.store.metrics.ObserveSet(backendName)
	c.store.log.Debugf("set root %#x", w)
	return nil
}

// TestSet writes v to the arena before comparing roots. On conflict those
// bytes are abandoned.
func (c *Cell) TestSet(ctx context.Context, sess *styx.Session, v styx.Value) (bool, error) {
	w, err := c.store.encode(v)
	if err != nil {
		return false, fmt.Errorf("encode: %w", err)
	}
	ok := c.store.TestAndSetRoot(w, sess.Baseline(c.store))
	c.store.metrics.ObserveTestSet(backendName, ok)
	if !ok {
		return false, nil
	}
	sess.Observe(c.store, w)
	c.store.log.Debugf("test-set root %#x", w)
	return true, nil
}

func (c *Cell) Monitor(ctx context.Context, sess *styx.Session) error {
	baseline := sess.Baseline(c.store)
	if err := c.store.MonitorRoot(ctx, baseline); err != nil {
		return err
	}
	if c.store.Root() != baseline {
		c.store.metrics.ObserveMonitorWake(backendName)
	}
	return nil
}
