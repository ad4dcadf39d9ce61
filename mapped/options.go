package mapped

import (
	"time"

	"github.com/jrhy/styx"
	"go.uber.org/zap"
)

// DefaultMonitorTick bounds how long MonitorRoot sleeps between re-checks
// when no in-process writer wakes it.
const DefaultMonitorTick = 50 * time.Millisecond

// Option configures a Store.
type Option func(*Store)

// WithSerializer sets how values that do not fit in a word are written to
// the region. The default is styx.ProtoSerializer. A region must always be
// opened with the serializer it was written with.
func WithSerializer(ser styx.Serializer) Option {
	return func(s *Store) { s.ser = ser }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithMonitorTick sets how often Monitor re-reads the root. Non-positive
// ticks are ignored.
func WithMonitorTick(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithMetrics(m *styx.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithNodeCache shares a node cache between stores.
func WithNodeCache(c NodeCache) Option {
	return func(s *Store) { s.nodes = c }
}
