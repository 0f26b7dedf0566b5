package kafka_middleware

import (
	"context"
	"sync/atomic"
	"time"

	"swimbook/pkg/kafka"
	"swimbook/pkg/logger"
)

// PublishMetrics counts booking event publishes through a producer.
type PublishMetrics struct {
	published     atomic.Int64
	failed        atomic.Int64
	durationTotal atomic.Int64 // nanoseconds
}

// PublishStats is a point-in-time copy of PublishMetrics.
type PublishStats struct {
	Published   int64
	Failed      int64
	AvgDuration time.Duration
}

func NewPublishMetrics() *PublishMetrics {
	return &PublishMetrics{}
}

// Snapshot returns the current counters. The average covers failed publishes too.
func (m *PublishMetrics) Snapshot() PublishStats {
	published := m.published.Load()
	failed := m.failed.Load()
	stats := PublishStats{Published: published, Failed: failed}
	if attempts := published + failed; attempts > 0 {
		stats.AvgDuration = time.Duration(m.durationTotal.Load() / attempts)
	}
	return stats
}

// Reset zeroes all counters.
func (m *PublishMetrics) Reset() {
	m.published.Store(0)
	m.failed.Store(0)
	m.durationTotal.Store(0)
}

// Log writes the current counters as one structured line.
func (m *PublishMetrics) Log(log *logger.Logger) {
	stats := m.Snapshot()
	log.Info("Kafka publish metrics",
		"published", stats.Published,
		"failed", stats.Failed,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
	)
}

// MetricsProducerMiddleware tracks publish outcomes and latency in m.
func MetricsProducerMiddleware(m *PublishMetrics) kafka.ProducerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next func(ctx context.Context, msg kafka.Message) error) error {
		start := time.Now()

		err := next(ctx, msg)

		m.durationTotal.Add(int64(time.Since(start)))
		if err != nil {
			m.failed.Add(1)
		} else {
			m.published.Add(1)
		}
		return err
	}
}
