// Package file implements styx.SharedValue as a single file that any
// number of processes may share.
//
// The file holds a version header and the value's text encoding (see
// package persist). Writers exclude each other by creating <path>.lock
// exclusively; readers take no lock. Each write goes to a temporary sibling
// that is renamed over the file, so readers always see a whole header and
// payload of one generation.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrhy/styx"
	"github.com/jrhy/styx/persist"
	"go.uber.org/zap"
)

const backendName = "file"

// DefaultPollInterval is how often Monitor re-reads the version.
const DefaultPollInterval = 20 * time.Millisecond

// sessionKey identifies a file in a styx.Session.
type sessionKey string

// Cell is a styx.SharedValue stored in the file at Path.
type Cell struct {
	path    string
	ser     styx.Serializer
	poll    time.Duration
	log     *zap.SugaredLogger
	metrics *styx.Metrics
}

var _ styx.SharedValue = (*Cell)(nil)

// Option configures a Cell.
type Option func(*Cell)

func WithSerializer(ser styx.Serializer) Option {
	return func(c *Cell) { c.ser = ser }
}

// WithPollInterval sets how often Monitor polls. Non-positive intervals
// are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cell) {
		if d > 0 {
			c.poll = d
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Cell) { c.log = log }
}

func WithMetrics(m *styx.Metrics) Option {
	return func(c *Cell) { c.metrics = m }
}

// New returns a Cell for the file at path. Nothing is created until the
// first write.
//
//	c := file.New("/var/db/counter")
//	v, err := c.Get(ctx, session)
func New(path string, opts ...Option) *Cell {
	c := &Cell{
		path: path,
		ser:  styx.TextSerializer{},
		poll: DefaultPollInterval,
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cell) Path() string {
	return c.path
}

// LockPath is the file whose existence means a writer is active.
func (c *Cell) LockPath() string {
	return c.path + ".lock"
}

func (c *Cell) key() sessionKey {
	if abs, err := filepath.Abs(c.path); err == nil {
		return sessionKey(abs)
	}
	return sessionKey(filepath.Clean(c.path))
}

// Get returns the value in the file, or nil if the file does not exist.
func (c *Cell) Get(ctx context.Context, sess *styx.Session) (styx.Value, error) {
	content, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		sess.Observe(c.key(), 0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}
	version, payload := persist.Split(content)
	if version == 0 {
		c.log.Warnf("%s has no version header", c.path)
	}
	var v styx.Value
	if len(bytes.TrimSpace(payload)) > 0 {
		v, err = c.ser.Deserialize(payload)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", c.path, err)
		}
	}
	sess.Observe(c.key(), uint64(version))
	return v, nil
}

// Version reads just the version header of the file. A missing file or a
// malformed header is version 0.
func (c *Cell) Version() (uint32, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", c.path, err)
	}
	defer f.Close()
	var h [persist.HeaderSize]byte
	if _, err := io.ReadFull(f, h[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", c.path, err)
	}
	v, _ := persist.DecodeHeader(h[:])
	return v, nil
}

func (c *Cell) Set(ctx context.Context, sess *styx.Session, v styx.Value) error {
	_, err := c.write(ctx, sess, v, false)
	return err
}

// TestSet writes v only if the file's version is still the one sess last
// observed. It returns false, without taking the lock, when the version
// has already moved on.
func (c *Cell) TestSet(ctx context.Context, sess *styx.Session, v styx.Value) (bool, error) {
	return c.write(ctx, sess, v, true)
}

func (c *Cell) write(ctx context.Context, sess *styx.Session, v styx.Value, test bool) (bool, error) {
	payload, err := c.ser.Serialize(v)
	if err != nil {
		return false, fmt.Errorf("serialize: %w", err)
	}
	baseline := sess.Baseline(c.key())
	if test {
		onDisk, err := c.Version()
		if err != nil {
			return false, err
		}
		if uint64(onDisk) != baseline {
			c.conflict(onDisk, baseline)
			return false, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock, err := c.lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	onDisk, err := c.Version()
	if err != nil {
		return false, err
	}
	if test && uint64(onDisk) != baseline {
		c.conflict(onDisk, baseline)
		return false, nil
	}
	next := persist.NextVersion(onDisk)
	if err := c.replace(append(persist.EncodeHeader(next), payload...)); err != nil {
		return false, err
	}
	sess.Observe(c.key(), uint64(next))
	if test {
		c.metrics.ObserveTestSet(backendName, true)
	} else {
		c.metrics.ObserveSet(backendName)
	}
	c.log.Debugf("wrote %s version %d", c.path, next)
	return true, nil
}

func (c *Cell) conflict(onDisk uint32, baseline uint64) {
	c.metrics.ObserveTestSet(backendName, false)
	c.log.Debugf("%s: version %d, expected %d", c.path, onDisk, baseline)
}

// lock creates the lock file, failing if it exists. The returned func
// removes it, unless another writer has replaced it in the meantime.
func (c *Cell) lock() (func(), error) {
	lockPath := c.LockPath()
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	token := uuid.NewString()
	_, werr := fmt.Fprintf(f, "%s %d\n", token, os.Getpid())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("write %s: %w", lockPath, werr)
	}
	c.log.Debugf("locked %s (%s)", lockPath, token)
	return func() {
		content, err := os.ReadFile(lockPath)
		if err != nil {
			c.log.Errorf("unlock: %v", err)
			return
		}
		if !strings.HasPrefix(string(content), token) {
			c.log.Errorf("unlock %s: lock was taken over", lockPath)
			return
		}
		if err := os.Remove(lockPath); err != nil {
			c.log.Errorf("unlock: %v", err)
		}
	}, nil
}

// replace atomically swaps the file's content.
func (c *Cell) replace(content []byte) error {
	dir, base := filepath.Split(c.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", c.path, err)
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s %s: %w", op, tmpPath, err)
	}
	if _, err := tmp.Write(content); err != nil {
		return fail("write", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", c.path, err)
	}
	return nil
}

// Monitor polls the file until its version differs from the one sess last
// observed, or ctx is done.
func (c *Cell) Monitor(ctx context.Context, sess *styx.Session) error {
	baseline := sess.Baseline(c.key())
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		v, err := c.Version()
		if err != nil {
			return err
		}
		if uint64(v) != baseline {
			c.metrics.ObserveMonitorWake(backendName)
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
