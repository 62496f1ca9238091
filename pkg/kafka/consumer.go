// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON; the consumer
// delivers messages at least once to a MessageHandler, retrying failures and
// parking poison messages on a dead-letter topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// Message is the handler-facing view of a Kafka record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, msg Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	handler    MessageHandler
	deadLetter *Producer
	retry      resilience.RetryConfig
}

// NewConsumer creates a Consumer for the given topic and handler. Messages
// that still fail after cfg.HandlerAttempts are written to deadLetter (when
// non-nil) and committed.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, deadLetter *Producer) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler, deadLetter, resilience.RetryConfig{MaxAttempts: cfg.HandlerAttempts})
}

func newConsumer(r messageReader, topic string, handler MessageHandler, deadLetter *Producer, retry resilience.RetryConfig) *Consumer {
	return &Consumer{
		reader:     r,
		logger:     slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler:    handler,
		deadLetter: deadLetter,
		retry:      retry,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.reader.Close()
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, raw kafka.Message) {
	msg := fromKafka(raw)
	c.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"value_size", len(msg.Value),
	)
	err := resilience.Retry(ctx, "handle-"+raw.Topic, c.retry, func() error {
		return c.handler(ctx, msg)
	})
	if err != nil {
		if ctx.Err() != nil {
			// leave uncommitted so the group redelivers after restart
			return
		}
		c.logger.Error("failed to process message, dead-lettering",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		if !c.sendToDeadLetter(ctx, msg, err) {
			return
		}
	}
	if err := c.reader.CommitMessages(ctx, raw); err != nil {
		c.logger.Error("failed to commit message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg Message, cause error) bool {
	if c.deadLetter == nil {
		return true
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-original-topic"] = msg.Topic
	headers["x-original-offset"] = strconv.FormatInt(msg.Offset, 10)
	headers["x-error"] = cause.Error()
	headers["x-failed-at"] = time.Now().UTC().Format(time.RFC3339)
	if err := c.deadLetter.PublishRaw(ctx, string(msg.Key), msg.Value, headers); err != nil {
		c.logger.Error("failed to dead-letter message, leaving uncommitted",
			"offset", msg.Offset,
			"error", err,
		)
		return false
	}
	return true
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(m kafka.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
	}
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
