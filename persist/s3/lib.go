// Package s3 implements styx.SharedValue as one S3 object holding the same
// versioned format as package file.
//
// S3 has no exclusive create, so the <key>.lock marker object is advisory:
// it keeps cooperating writers from overlapping in the common case, and the
// version re-check under the marker catches most of the rest. It does not
// give the guarantees of the file backend.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/jrhy/styx"
	"github.com/jrhy/styx/persist"
	"go.uber.org/zap"
)

const backendName = "s3"

// DefaultPollInterval is how often Monitor re-reads the object.
const DefaultPollInterval = 100 * time.Millisecond

type S3Interface interface {
	DeleteObjectWithContext(ctx aws.Context, input *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

type sessionKey struct {
	bucket, key string
}

// Cell is a styx.SharedValue stored in one object.
type Cell struct {
	s3      S3Interface
	bucket  string
	key     string
	ser     styx.Serializer
	poll    time.Duration
	log     *zap.SugaredLogger
	metrics *styx.Metrics

	mu     sync.Mutex
	values *simplelru.LRU
}

var _ styx.SharedValue = (*Cell)(nil)

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

// New returns a Cell for the object at bucket/key.
func New(client S3Interface, bucket, key string, opts ...Option) *Cell {
	values, err := simplelru.NewLRU(16, nil)
	if err != nil {
		panic(err)
	}
	c := &Cell{
		s3:     client,
		bucket: bucket,
		key:    key,
		ser:    styx.TextSerializer{},
		poll:   DefaultPollInterval,
		log:    zap.NewNop().Sugar(),
		values: values,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cell) sessionKey() sessionKey {
	return sessionKey{c.bucket, c.key}
}

func (c *Cell) lockKey() string {
	return c.key + ".lock"
}

func (c *Cell) url(key string) string {
	return "s3://" + c.bucket + "/" + key
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

// read returns the object's content and ETag; found is false if the object
// does not exist.
func (c *Cell) read(ctx context.Context) (content []byte, etag string, found bool, err error) {
	out, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &c.key,
	})
	if isNotFound(err) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("get %s: %w", c.url(c.key), err)
	}
	defer out.Body.Close()
	content, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, "", false, fmt.Errorf("read %s: %w", c.url(c.key), err)
	}
	return content, aws.StringValue(out.ETag), true, nil
}

// Version returns the object's version, 0 if it is missing or unversioned.
func (c *Cell) Version(ctx context.Context) (uint32, error) {
	content, _, _, err := c.read(ctx)
	if err != nil {
		return 0, err
	}
	v, _ := persist.Split(content)
	return v, nil
}

func (c *Cell) Get(ctx context.Context, sess *styx.Session) (styx.Value, error) {
	content, etag, found, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		sess.Observe(c.sessionKey(), 0)
		return nil, nil
	}
	version, payload := persist.Split(content)
	if version == 0 {
		c.log.Warnf("%s has no version header", c.url(c.key))
	}
	v, err := c.decode(etag, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.url(c.key), err)
	}
	sess.Observe(c.sessionKey(), uint64(version))
	return v, nil
}

// decode deserializes payload, reusing the value decoded for the same ETag.
func (c *Cell) decode(etag string, payload []byte) (styx.Value, error) {
	if etag != "" {
		c.mu.Lock()
		v, ok := c.values.Get(etag)
		c.mu.Unlock()
		if ok {
			return v.(styx.Value), nil
		}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	v, err := c.ser.Deserialize(payload)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		c.mu.Lock()
		c.values.Add(etag, v)
		c.mu.Unlock()
	}
	return v, nil
}

func (c *Cell) Set(ctx context.Context, sess *styx.Session, v styx.Value) error {
	_, err := c.write(ctx, sess, v, false)
	return err
}

func (c *Cell) TestSet(ctx context.Context, sess *styx.Session, v styx.Value) (bool, error) {
	return c.write(ctx, sess, v, true)
}

func (c *Cell) write(ctx context.Context, sess *styx.Session, v styx.Value, test bool) (bool, error) {
	payload, err := c.ser.Serialize(v)
	if err != nil {
		return false, fmt.Errorf("serialize: %w", err)
	}
	baseline := sess.Baseline(c.sessionKey())
	if test {
		current, err := c.Version(ctx)
		if err != nil {
			return false, err
		}
		if uint64(current) != baseline {
			c.conflict(current, baseline)
			return false, nil
		}
	}
	unlock, err := c.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := c.Version(ctx)
	if err != nil {
		return false, err
	}
	if test && uint64(current) != baseline {
		c.conflict(current, baseline)
		return false, nil
	}
	next := persist.NextVersion(current)
	_, err = c.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &c.key,
		Body:   bytes.NewReader(append(persist.EncodeHeader(next), payload...)),
	})
	if err != nil {
		return false, fmt.Errorf("put %s: %w", c.url(c.key), err)
	}
	sess.Observe(c.sessionKey(), uint64(next))
	if test {
		c.metrics.ObserveTestSet(backendName, true)
	} else {
		c.metrics.ObserveSet(backendName)
	}
	c.log.Debugf("wrote %s version %d", c.url(c.key), next)
	return true, nil
}

func (c *Cell) conflict(current uint32, baseline uint64) {
	c.metrics.ObserveTestSet(backendName, false)
	c.log.Debugf("%s: version %d, expected %d", c.url(c.key), current, baseline)
}

// lock puts the marker object unless one is already there, in which case
// the error wraps fs.ErrExist like a held lock file.
func (c *Cell) lock(ctx context.Context) (func(), error) {
	lockKey := c.lockKey()
	_, err := c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &lockKey,
	})
	if err == nil {
		return nil, fmt.Errorf("lock %s: %w", c.url(lockKey), fs.ErrExist)
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("head %s: %w", c.url(lockKey), err)
	}
	token := uuid.NewString()
	_, err = c.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &lockKey,
		Body:   bytes.NewReader([]byte(token + "\n")),
	})
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", c.url(lockKey), err)
	}
	c.log.Debugf("locked %s (%s)", c.url(lockKey), token)
	return func() {
		// the write may have been cancelled; the marker must still go
		_, err := c.s3.DeleteObjectWithContext(context.Background(), &s3.DeleteObjectInput{
			Bucket: &c.bucket,
			Key:    &lockKey,
		})
		if err != nil {
			c.log.Errorf("unlock %s: %v", c.url(lockKey), err)
		}
	}, nil
}

func (c *Cell) Monitor(ctx context.Context, sess *styx.Session) error {
	baseline := sess.Baseline(c.sessionKey())
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		v, err := c.Version(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
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
