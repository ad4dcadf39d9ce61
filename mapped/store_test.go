package mapped

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jrhy/styx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newStore(t testing.TB, size int, opts ...Option) *Store {
	s, err := OpenMemory(size, opts...)
	require.NoError(t, err)
	return s
}

func TestOpenInitializes(t *testing.T) {
	region := &memRegion{make([]byte, 1024)}
	s, err := Open(region)
	require.NoError(t, err)
	assert.Equal(t, magic, string(region.data[:16]))
	assert.Equal(t, Stats{Size: 1024, Cursor: HeaderSize, Root: 0}, s.Stats())

	// reopening keeps the header
	addr, err := s.Alloc(10)
	require.NoError(t, err)
	s.SetRoot(42)
	s2, err := Open(region)
	require.NoError(t, err)
	assert.Equal(t, Stats{Size: 1024, Cursor: addr + 16, Root: 42}, s2.Stats())
}

func TestOpenRejectsForeignData(t *testing.T) {
	data := make([]byte, 1024)
	copy(data, "NOT-A-STYX-DB...")
	before := append([]byte(nil), data...)
	_, err := Open(&memRegion{data})
	require.Error(t, err)
	assert.True(t, errors.Is(err, styx.ErrNotDatabase))
	assert.Equal(t, before, data)

	_, err = OpenMemory(HeaderSize - 1)
	assert.True(t, errors.Is(err, styx.ErrNotDatabase))
}

func TestOpenRejectsBadCursor(t *testing.T) {
	region := &memRegion{make([]byte, 1024)}
	_, err := Open(region)
	require.NoError(t, err)
	region.data[cursorOffset] = 3
	_, err = Open(region)
	assert.True(t, errors.Is(err, styx.ErrCorrupt))
}

func TestAlloc(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := styx.NewMetrics(reg)
	s := newStore(t, 128, WithMetrics(metrics))

	a, err := s.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(HeaderSize), a)
	b, err := s.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(HeaderSize+8), b)
	c, err := s.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(HeaderSize+16), c)

	_, err = s.Alloc(128)
	assert.True(t, errors.Is(err, styx.ErrNoSpace))
	assert.Equal(t, uint64(HeaderSize+16), s.Stats().Cursor, "failed alloc must not move the cursor")

	last, err := s.Alloc(128 - HeaderSize - 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(HeaderSize+16), last)
	_, err = s.Alloc(1)
	assert.True(t, errors.Is(err, styx.ErrNoSpace))
	assert.Equal(t, float64(128-HeaderSize), testutil.ToFloat64(metrics.AllocatedBytes))
}

func TestConcurrentAllocDoesNotOverlap(t *testing.T) {
	s := newStore(t, 1<<16)
	const workers, each = 8, 100
	addrs := make(chan uint64, workers*each)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				a, err := s.Alloc(24)
				if assert.NoError(t, err) {
					addrs <- a
				}
			}
		}()
	}
	wg.Wait()
	close(addrs)
	seen := map[uint64]bool{}
	for a := range addrs {
		assert.False(t, seen[a], "address %d handed out twice", a)
		assert.Zero(t, a%8)
		seen[a] = true
	}
	assert.Len(t, seen, workers*each)
}

func TestTestAndSetRoot(t *testing.T) {
	s := newStore(t, 1024)
	assert.False(t, s.TestAndSetRoot(5, 1))
	assert.Equal(t, uint64(0), s.Root())
	assert.True(t, s.TestAndSetRoot(5, 0))
	assert.Equal(t, uint64(5), s.Root())
}

func TestMonitorRoot(t *testing.T) {
	s := newStore(t, 1024, WithMonitorTick(time.Hour))

	t.Run("already different", func(t *testing.T) {
		s.SetRoot(1)
		require.NoError(t, s.MonitorRoot(ctx, 0))
	})

	t.Run("woken by writer", func(t *testing.T) {
		go func() {
			time.Sleep(200 * time.Millisecond)
			s.SetRoot(2)
		}()
		start := time.Now()
		require.NoError(t, s.MonitorRoot(ctx, 1))
		assert.Less(t, time.Since(start), time.Minute)
		assert.Equal(t, uint64(2), s.Root())
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		require.NoError(t, s.MonitorRoot(cctx, 2))
		assert.Equal(t, uint64(2), s.Root())
	})
}

func TestMonitorTickSeesForeignWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	watcher, err := OpenFile(path, 4096, WithMonitorTick(10*time.Millisecond))
	require.NoError(t, err)
	defer watcher.Close()
	// a second mapping stands in for another process
	writer, err := OpenFile(path, 4096)
	require.NoError(t, err)
	defer writer.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		writer.SetRoot(9)
	}()
	require.NoError(t, watcher.MonitorRoot(ctx, 0))
	assert.Equal(t, uint64(9), watcher.Root())
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := OpenFile(path, 1<<16)
	require.NoError(t, err)
	c := NewCell(s)
	sess := styx.NewSession()
	m, err := styx.MapOf(styx.Text("greeting"), styx.Text("hello, world"), styx.Number(1.5), styx.List{styx.Bool(true)})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, sess, m))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	// a smaller size never shrinks the region
	s, err = OpenFile(path, 1024)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1<<16, s.Stats().Size)
	v, err := NewCell(s).Get(ctx, styx.NewSession())
	require.NoError(t, err)
	assert.True(t, styx.Equal(m, v))
}

func TestNonPositiveMonitorTick(t *testing.T) {
	s := newStore(t, 1024, WithMonitorTick(0))
	assert.Equal(t, DefaultMonitorTick, s.tick)
}
