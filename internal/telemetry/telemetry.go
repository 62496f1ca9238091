// Package telemetry ships operational events (rebuilds, syncs, matches) to a
// Kafka topic for offline analysis. Publishing is asynchronous and lossy:
// callers never block on it.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
)

// Event names.
const (
	IndexBuildStarted     = "index-build-started"
	IndexBuildPopulated   = "index-build-populated"
	IndexBuildCompleted   = "index-build-completed"
	IndexBuildCancelled   = "index-build-cancelled"
	IndexBuildFailed      = "index-build-failed"
	IndexCompared         = "index-compare-differences"
	PrisonerSynced        = "prisoner-synced"
	PrisonerRemoved       = "prisoner-removed"
	PrisonerNotFound      = "prisoner-not-found"
	NotificationFailed    = "notification-publish-failed"
	MatchResult           = "match-result"
	RebuildMessageDropped = "rebuild-message-dead-lettered"
)

// Event is the payload written to the telemetry topic.
type Event struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Reporter records operational events.
type Reporter interface {
	Track(ctx context.Context, name string, properties map[string]string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(context.Context, string, map[string]string) {}

type publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers events and publishes them from a single goroutine.
// Events arriving while the buffer is full, or after Close, are dropped.
type Collector struct {
	producer publisher
	mu       sync.RWMutex
	closed   bool
	eventCh  chan Event
	metrics  *metrics.Metrics
	logger   *slog.Logger
	done     chan struct{}
	now      func() time.Time
}

func NewCollector(producer publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan Event, bufferSize),
		metrics:  m,
		logger:   slog.Default().With("component", "telemetry"),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the publish loop. It runs until ctx is cancelled or Close
// is called, flushing whatever is still buffered.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("telemetry collector started", "buffer_size", cap(c.eventCh))
}

func (c *Collector) Track(ctx context.Context, name string, properties map[string]string) {
	if c.metrics != nil {
		c.metrics.TelemetryEventsTotal.WithLabelValues(name).Inc()
	}
	event := Event{
		Name:       name,
		Properties: properties,
		RequestID:  logger.RequestID(ctx),
		Timestamp:  c.now().UTC(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped("closed")
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.dropped("buffer_full")
		c.logger.Warn("telemetry event dropped (buffer full)", "event", name)
	}
}

// Close stops accepting events and waits for the buffer to drain. It is
// safe to call more than once.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) dropped(reason string) {
	if c.metrics != nil {
		c.metrics.TelemetryDropped.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) publish(ctx context.Context, event Event) {
	if err := c.producer.Publish(ctx, kafka.Event{Key: event.Name, Value: event}); err != nil {
		c.logger.Error("failed to publish telemetry event", "event", event.Name, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}
