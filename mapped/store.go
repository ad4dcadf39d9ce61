// Package mapped stores persistent trees in a fixed-size, append-only
// region such as a memory-mapped file.
//
// The region starts with a 32-byte header: a 16-byte magic, the root word
// and the allocator cursor, both little-endian uint64. Everything after the
// header is arena, handed out by bumping the cursor and never freed. Node
// records and blobs are immutable once written, so the only mutable state
// is the header, and the only shared decision is which word is the root.
package mapped

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jrhy/styx"
	"go.uber.org/zap"
)

const (
	magic        = "STYX-DB-0001____"
	rootOffset   = 16
	cursorOffset = 24
	// HeaderSize is the offset of the first arena byte.
	HeaderSize = 32

	maxAddress = 1<<56 - 1
)

// Store is a region holding trees and one root word. A Store is safe for
// concurrent use.
type Store struct {
	region Region
	data   []byte

	rootMu  sync.Mutex
	changed chan struct{}

	allocMu sync.Mutex

	ser     styx.Serializer
	log     *zap.SugaredLogger
	tick    time.Duration
	metrics *styx.Metrics
	nodes   NodeCache
}

// Stats describes the allocation state of a store.
type Stats struct {
	Size   int
	Cursor uint64
	Root   uint64
}

// Open attaches a Store to region. An all-zero header is initialized; any
// other header must carry the magic, or styx.ErrNotDatabase is returned and
// the region is left untouched.
func Open(region Region, opts ...Option) (*Store, error) {
	s := &Store{
		region:  region,
		data:    region.Bytes(),
		changed: make(chan struct{}),
		ser:     styx.ProtoSerializer{},
		log:     zap.NewNop().Sugar(),
		tick:    DefaultMonitorTick,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.nodes == nil {
		s.nodes = NewNodeCache(DefaultNodeCacheSize)
	}
	if len(s.data) < HeaderSize || len(s.data) > maxAddress {
		return nil, fmt.Errorf("%w: region of %d bytes", styx.ErrNotDatabase, len(s.data))
	}
	header := s.data[:HeaderSize]
	if bytes.Equal(header, make([]byte, HeaderSize)) {
		copy(header, magic)
		binary.LittleEndian.PutUint64(header[rootOffset:], 0)
		binary.LittleEndian.PutUint64(header[cursorOffset:], HeaderSize)
		s.log.Debugf("initialized region of %d bytes", len(s.data))
		return s, nil
	}
	if string(header[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", styx.ErrNotDatabase, header[:len(magic)])
	}
	cursor := s.cursor()
	if cursor < HeaderSize || cursor > uint64(len(s.data)) || cursor%8 != 0 {
		return nil, fmt.Errorf("%w: cursor %d in region of %d bytes", styx.ErrCorrupt, cursor, len(s.data))
	}
	return s, nil
}

func (s *Store) cursor() uint64 {
	return binary.LittleEndian.Uint64(s.data[cursorOffset:])
}

// Alloc reserves size bytes, rounded up to a multiple of 8, and returns
// their address. If the region cannot hold them, it returns styx.ErrNoSpace
// and the cursor does not move.
func (s *Store) Alloc(size int) (uint64, error) {
	if size < 0 {
		return 0, fmt.Errorf("alloc: negative size %d", size)
	}
	rounded := uint64(size+7) &^ 7
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	addr := s.cursor()
	if rounded > uint64(len(s.data))-addr {
		return 0, fmt.Errorf("%w: %d bytes at %d, region is %d", styx.ErrNoSpace, size, addr, len(s.data))
	}
	binary.LittleEndian.PutUint64(s.data[cursorOffset:], addr+rounded)
	s.metrics.ObserveAlloc(int(rounded))
	return addr, nil
}

// readAt returns n bytes at addr, aliasing the region.
func (s *Store) readAt(addr uint64, n int) ([]byte, error) {
	if addr < HeaderSize || addr > uint64(len(s.data)) || uint64(n) > uint64(len(s.data))-addr {
		return nil, fmt.Errorf("%w: read of %d bytes at %d", styx.ErrCorrupt, n, addr)
	}
	return s.data[addr : addr+uint64(n)], nil
}

func (s *Store) writeAt(addr uint64, b []byte) {
	copy(s.data[addr:], b)
}

// Root returns the current root word.
func (s *Store) Root() uint64 {
	s.rootMu.Lock()
	defer s.rootMu.Unlock()
	return s.root()
}

func (s *Store) root() uint64 {
	return binary.LittleEndian.Uint64(s.data[rootOffset:])
}

// SetRoot installs w unconditionally and wakes monitors.
func (s *Store) SetRoot(w uint64) {
	s.rootMu.Lock()
	defer s.rootMu.Unlock()
	s.setRoot(w)
}

func (s *Store) setRoot(w uint64) {
	binary.LittleEndian.PutUint64(s.data[rootOffset:], w)
	close(s.changed)
	s.changed = make(chan struct{})
}

// TestAndSetRoot installs w only if the root is still expected.
func (s *Store) TestAndSetRoot(w, expected uint64) bool {
	s.rootMu.Lock()
	defer s.rootMu.Unlock()
	if cur := s.root(); cur != expected {
		s.log.Debugf("root conflict: expected %#x, found %#x", expected, cur)
		return false
	}
	s.setRoot(w)
	return true
}

// MonitorRoot blocks until the root differs from expected or ctx is done.
// Writers in this process wake it immediately; writers in other processes
// sharing the file are noticed within the monitor tick.
func (s *Store) MonitorRoot(ctx context.Context, expected uint64) error {
	timer := time.NewTimer(s.tick)
	defer timer.Stop()
	for {
		s.rootMu.Lock()
		cur, changed := s.root(), s.changed
		s.rootMu.Unlock()
		if cur != expected {
			return nil
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.tick)
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-timer.C:
		}
	}
}

func (s *Store) Stats() Stats {
	s.rootMu.Lock()
	root := s.root()
	s.rootMu.Unlock()
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	return Stats{Size: len(s.data), Cursor: s.cursor(), Root: root}
}

func (s *Store) Sync() error {
	return s.region.Sync()
}

// Close releases the region. Trees and values read from the store must not
// be used afterwards.
func (s *Store) Close() error {
	return s.region.Close()
}
