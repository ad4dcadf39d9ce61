package styx

import "sync"

// Session remembers, per shared cell, the version last observed through it.
// TestSet and Monitor compare against that baseline. The zero value is
// ready to use, and a Session may be shared by goroutines that want to race
// as one participant.
type Session struct {
	mu        sync.Mutex
	baselines map[any]uint64
}

func NewSession() *Session {
	return &Session{}
}

// Baseline returns the version last observed for cell, or 0.
func (s *Session) Baseline(cell any) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselines[cell]
}

// Observe records v as the version last seen for cell.
func (s *Session) Observe(cell any, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselines == nil {
		s.baselines = make(map[any]uint64)
	}
	s.baselines[cell] = v
}
