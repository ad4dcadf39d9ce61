package file

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrhy/styx"
	"github.com/jrhy/styx/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func list(ns ...float64) styx.List {
	l := make(styx.List, len(ns))
	for i, n := range ns {
		l[i] = styx.Number(n)
	}
	return l
}

func header(tabs, spaces int) string {
	return strings.Repeat("\t", tabs) + strings.Repeat(" ", spaces) + "\n"
}

func TestSetWritesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	c := New(path)
	s := styx.NewSession()

	require.NoError(t, c.Set(ctx, s, list(1, 2, 3, 4)))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, header(1, 30)+"[1,2,3,4]", string(content))
	assert.Equal(t, uint64(1), s.Baseline(c.key()))
	_, err = os.Stat(c.LockPath())
	assert.True(t, errors.Is(err, fs.ErrNotExist), "lock should be removed")
}

func TestTestSetFromVersion15(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	require.NoError(t, os.WriteFile(path, []byte(header(4, 27)+"[1,2,3,4]"), 0o644))
	c := New(path)
	s := styx.NewSession()

	v, err := c.Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, styx.Equal(list(1, 2, 3, 4), v))
	assert.Equal(t, uint64(15), s.Baseline(c.key()))

	ok, err := c.TestSet(ctx, s, list(5, 6, 7, 8))
	require.NoError(t, err)
	require.True(t, ok)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat(" ", 4)+"\t"+strings.Repeat(" ", 26)+"\n[5,6,7,8]", string(content))
	assert.Equal(t, uint64(16), s.Baseline(c.key()))
}

func TestPreexistingLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	c := New(path)
	s := styx.NewSession()
	require.NoError(t, c.Set(ctx, s, list(1)))
	require.NoError(t, os.WriteFile(c.LockPath(), []byte("someone else\n"), 0o644))

	err := c.Set(ctx, s, list(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrExist))

	_, err = c.TestSet(ctx, s, list(3))
	assert.True(t, errors.Is(err, fs.ErrExist))

	lock, err := os.ReadFile(c.LockPath())
	require.NoError(t, err)
	assert.Equal(t, "someone else\n", string(lock))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, header(1, 30)+"[1]", string(content))
}

func TestGetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	c := New(path)
	s := styx.NewSession()
	v, err := c.Get(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, v)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	ok, err := c.TestSet(ctx, s, styx.Text("first"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnversionedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":[1,2]}`), 0o644))
	c := New(path)
	s := styx.NewSession()

	v, err := c.Get(ctx, s)
	require.NoError(t, err)
	m, ok := v.(styx.Map)
	require.True(t, ok)
	a, err := m.Get(styx.Text("a"))
	require.NoError(t, err)
	assert.True(t, styx.Equal(list(1, 2), a))
	assert.Equal(t, uint64(0), s.Baseline(c.key()))

	ok, err = c.TestSet(ctx, s, styx.Bool(true))
	require.NoError(t, err)
	require.True(t, ok)
	version, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), version)
}

func TestMalformedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	require.NoError(t, os.WriteFile(path, []byte(header(1, 30)+"[1,2"), 0o644))
	_, err := New(path).Get(ctx, styx.NewSession())
	require.Error(t, err)
	assert.True(t, errors.Is(err, styx.ErrMalformed))
	var pathErr *fs.PathError
	assert.False(t, errors.As(err, &pathErr))
}

func TestUnsupportedValueTouchesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	c := New(path)
	err := c.Set(ctx, styx.NewSession(), styx.Number(math.Inf(1)))
	assert.True(t, errors.Is(err, styx.ErrUnsupportedValue))
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, err = os.Stat(c.LockPath())
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestVersionWraps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	require.NoError(t, os.WriteFile(path, append(persist.EncodeHeader(persist.MaxVersion), "1"...), 0o644))
	c := New(path)
	s := styx.NewSession()
	_, err := c.Get(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(persist.MaxVersion), s.Baseline(c.key()))

	ok, err := c.TestSet(ctx, s, styx.Number(2))
	require.NoError(t, err)
	require.True(t, ok)
	version, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), version)
}

func TestConflictLeavesFileUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	c := New(path)
	s1, s2 := styx.NewSession(), styx.NewSession()
	require.NoError(t, c.Set(ctx, s1, styx.Text("start")))
	_, err := c.Get(ctx, s2)
	require.NoError(t, err)

	ok, err := c.TestSet(ctx, s1, styx.Text("one"))
	require.NoError(t, err)
	require.True(t, ok)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ok, err = c.TestSet(ctx, s2, styx.Text("two"))
	require.NoError(t, err)
	assert.False(t, ok)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	v, err := c.Get(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, styx.Text("one"), v)
	ok, err = c.TestSet(ctx, s2, styx.Text("two"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExactlyOneWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	require.NoError(t, New(path).Set(ctx, styx.NewSession(), styx.Number(0)))

	const writers = 8
	cells := make([]*Cell, writers)
	sessions := make([]*styx.Session, writers)
	for i := range cells {
		cells[i] = New(path)
		sessions[i] = styx.NewSession()
		_, err := cells[i].Get(ctx, sessions[i])
		require.NoError(t, err)
	}
	var wg sync.WaitGroup
	results := make([]bool, writers)
	errs := make([]error, writers)
	for i := range cells {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cells[i].TestSet(ctx, sessions[i], styx.Number(i+1))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range results {
		if errs[i] != nil {
			assert.True(t, errors.Is(errs[i], fs.ErrExist), "unexpected error: %v", errs[i])
			continue
		}
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	version, err := New(path).Version()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), version)
}

func TestMonitor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	watcher, writer := New(path), New(path)
	ws, ss := styx.NewSession(), styx.NewSession()
	_, err := watcher.Get(ctx, ws)
	require.NoError(t, err)

	t.Run("synchronous writer", func(t *testing.T) {
		require.NoError(t, writer.Set(ctx, ss, styx.Number(1)))
		require.NoError(t, watcher.Monitor(ctx, ws))
		v, err := watcher.Get(ctx, ws)
		require.NoError(t, err)
		assert.Equal(t, styx.Number(1), v)
	})

	t.Run("delayed writer", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			time.Sleep(200 * time.Millisecond)
			done <- writer.Set(ctx, ss, styx.Number(2))
		}()
		start := time.Now()
		require.NoError(t, watcher.Monitor(ctx, ws))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
		require.NoError(t, <-done)
		v, err := watcher.Get(ctx, ws)
		require.NoError(t, err)
		assert.Equal(t, styx.Number(2), v)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		require.NoError(t, watcher.Monitor(cctx, ws))
		assert.Error(t, cctx.Err())
	})
}

func TestNonPositivePollInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	for _, d := range []time.Duration{0, -time.Second} {
		c := New(path, WithPollInterval(d))
		assert.Equal(t, DefaultPollInterval, c.poll)
		s := styx.NewSession()
		_, err := c.Get(ctx, s)
		require.NoError(t, err)
		cctx, cancel := context.WithTimeout(ctx, 3*DefaultPollInterval)
		require.NoError(t, c.Monitor(cctx, s))
		cancel()
	}
}
