// Package nats implements the rebuild work queue on NATS JetStream. The queue
// exposes the pending, in-flight and dead-letter counts that gate completion
// of an index rebuild.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Delivery is one message handed to a consumer handler.
type Delivery struct {
	Data         []byte
	NumDelivered uint64
}

// Handler processes a delivery. A nil error acks the message.
type Handler func(ctx context.Context, d Delivery) error

// DeadLetterFunc is told about every message moved to the dead-letter stream.
type DeadLetterFunc func(ctx context.Context, d Delivery, cause error)

// Counts is a snapshot of the queue.
type Counts struct {
	Pending    int64
	InFlight   int64
	DeadLetter int64
}

// Drained reports whether nothing is waiting, running or parked.
func (c Counts) Drained() bool {
	return c.Pending == 0 && c.InFlight == 0 && c.DeadLetter == 0
}

// WorkQueue is a durable JetStream work queue with a dead-letter stream.
type WorkQueue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	cfg      config.NATSConfig
	stream   jetstream.Stream
	dlq      jetstream.Stream
	consumer jetstream.Consumer
	logger   *slog.Logger
}

// Connect dials NATS and makes sure both streams and the durable consumer
// exist.
func Connect(ctx context.Context, cfg config.NATSConfig) (*WorkQueue, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("prisoner-offender-search"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}
	q := &WorkQueue{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: slog.Default().With("component", "rebuild-queue", "stream", cfg.Stream),
	}
	if err := q.ensure(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *WorkQueue) ensure(ctx context.Context) error {
	var err error
	q.stream, err = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", q.cfg.Stream, err)
	}
	q.dlq, err = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     q.cfg.DeadLetterStream,
		Subjects: []string{q.cfg.DeadLetterSubj},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensuring dead-letter stream %s: %w", q.cfg.DeadLetterStream, err)
	}
	ackWait := q.cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	q.consumer, err = q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       q.cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: q.cfg.Subject,
		MaxDeliver:    q.cfg.MaxDeliver,
		AckWait:       ackWait,
	})
	if err != nil {
		return fmt.Errorf("ensuring consumer %s: %w", q.cfg.Consumer, err)
	}
	return nil
}

// Enqueue publishes payload as JSON onto the work subject.
func (q *WorkQueue) Enqueue(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling work item: %w", err)
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, data); err != nil {
		return fmt.Errorf("publishing work item: %w", err)
	}
	return nil
}

// Counts reads pending and in-flight from the durable consumer and the
// message count of the dead-letter stream.
func (q *WorkQueue) Counts(ctx context.Context) (Counts, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("reading consumer info: %w", err)
	}
	dlqInfo, err := q.dlq.Info(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("reading dead-letter stream info: %w", err)
	}
	return Counts{
		Pending:    int64(info.NumPending),
		InFlight:   int64(info.NumAckPending),
		DeadLetter: int64(dlqInfo.State.Msgs),
	}, nil
}

// PurgeDeadLetters empties the dead-letter stream.
func (q *WorkQueue) PurgeDeadLetters(ctx context.Context) error {
	if err := q.dlq.Purge(ctx); err != nil {
		return fmt.Errorf("purging dead-letter stream: %w", err)
	}
	return nil
}

// Purge drops every queued work item.
func (q *WorkQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purging work stream: %w", err)
	}
	return nil
}

// Consume runs handler for every delivery until ctx is done. Failed
// deliveries are redelivered with backoff until MaxDeliver is reached, then
// copied to the dead-letter stream and terminated.
func (q *WorkQueue) Consume(ctx context.Context, handler Handler, onDeadLetter DeadLetterFunc) error {
	cc, err := q.consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, msg, handler, onDeadLetter)
	})
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	q.logger.Info("rebuild consumer started", "consumer", q.cfg.Consumer)
	<-ctx.Done()
	cc.Stop()
	q.logger.Info("rebuild consumer stopped")
	return nil
}

func (q *WorkQueue) handle(ctx context.Context, msg jetstream.Msg, handler Handler, onDeadLetter DeadLetterFunc) {
	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}
	d := Delivery{Data: msg.Data(), NumDelivered: delivered}
	herr := handler(ctx, d)

	switch decide(herr, delivered, q.cfg.MaxDeliver) {
	case actionAck:
		if err := msg.Ack(); err != nil {
			q.logger.Error("ack failed", "error", err)
		}
	case actionRetry:
		q.logger.Warn("work item failed, will redeliver", "delivered", delivered, "error", herr)
		if err := msg.NakWithDelay(backoff(delivered)); err != nil {
			q.logger.Error("nak failed", "error", err)
		}
	case actionDeadLetter:
		q.logger.Error("work item exhausted deliveries, dead-lettering", "delivered", delivered, "error", herr)
		if _, err := q.js.Publish(ctx, q.cfg.DeadLetterSubj, msg.Data()); err != nil {
			q.logger.Error("dead-letter publish failed", "error", err)
			_ = msg.Nak()
			return
		}
		if err := msg.Term(); err != nil {
			q.logger.Error("term failed", "error", err)
		}
		if onDeadLetter != nil {
			onDeadLetter(ctx, d, herr)
		}
	}
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionDeadLetter
)

func decide(err error, delivered uint64, maxDeliver int) action {
	if err == nil {
		return actionAck
	}
	if maxDeliver > 0 && delivered >= uint64(maxDeliver) {
		return actionDeadLetter
	}
	return actionRetry
}

func backoff(delivered uint64) time.Duration {
	d := time.Duration(delivered) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Ping reports whether the NATS connection is up.
func (q *WorkQueue) Ping(ctx context.Context) error {
	if !q.nc.IsConnected() {
		return fmt.Errorf("nats connection status %s", q.nc.Status())
	}
	return nil
}

// Close drains the connection.
func (q *WorkQueue) Close() error {
	return q.nc.Drain()
}
