package styx

import "context"

// SharedValue is a mutable cell holding one Value, shared between
// goroutines (mapped backend) or processes (file and S3 backends).
//
// A writer typically loops:
//
//	for {
//		v, err := cell.Get(ctx, s)
//		...
//		ok, err := cell.TestSet(ctx, s, next(v))
//		if err != nil || ok {
//			break
//		}
//	}
type SharedValue interface {
	// Get returns the current value, or nil if none was ever set, and
	// records its version as the session's baseline.
	Get(ctx context.Context, s *Session) (Value, error)
	// Set installs v unconditionally.
	Set(ctx context.Context, s *Session, v Value) error
	// TestSet installs v only if nobody has written since the session's
	// baseline. A false result leaves the cell unchanged.
	TestSet(ctx context.Context, s *Session, v Value) (bool, error)
	// Monitor blocks until the cell's version differs from the session's
	// baseline, or ctx is done.
	Monitor(ctx context.Context, s *Session) error
}
