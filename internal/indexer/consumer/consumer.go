// Package consumer turns offender domain events from Kafka into prisoner
// syncs. Each event names a prisoner directly or through a booking id; a
// deletion event removes the prisoner instead.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/changedetect"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/resilience"
)

// EventOffenderDeleted removes the prisoner from the index.
const EventOffenderDeleted = "OFFENDER-DELETED"

// DomainEvent is the inbound message.
type DomainEvent struct {
	EventType         string `json:"eventType"`
	OffenderIDDisplay string `json:"offenderIdDisplay,omitempty"`
	BookingID         int64  `json:"bookingId,omitempty"`
	EventDatetime     string `json:"eventDatetime,omitempty"`
	EventID           string `json:"eventId,omitempty"`
}

// Syncer applies changes. *changedetect.Engine satisfies it.
type Syncer interface {
	Sync(ctx context.Context, prisonerNumber, eventID string) (changedetect.Outcome, error)
	Remove(ctx context.Context, prisonerNumber string) error
}

// BookingResolver maps a booking id to a prisoner number. *sor.Client
// satisfies it.
type BookingResolver interface {
	FetchNumberForBooking(ctx context.Context, bookingID int64) (string, error)
}

// IndexConsumer wraps a Kafka consumer to drive prisoner syncs.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that syncs the prisoner each
// event refers to. Undecodable events are dead-lettered without retry.
func HandleMessage(syncer Syncer, bookings BookingResolver) kafka.MessageHandler {
	base := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[DomainEvent](msg.Value)
		if err != nil {
			base.Error("failed to decode domain event",
				"error", err,
				"key", string(msg.Key),
			)
			return resilience.Permanent(err)
		}
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}
		ctx = logger.WithRequestID(ctx, event.EventID)
		log := logger.FromContextWith(ctx, base)

		number, err := resolve(ctx, event, bookings)
		if errors.Is(err, apperrors.ErrPrisonerNotFound) {
			log.Info("event refers to unknown booking, skipping",
				"event_type", event.EventType,
				"booking_id", event.BookingID,
			)
			return nil
		}
		if err != nil {
			return err
		}

		log.Debug("processing domain event",
			"event_type", event.EventType,
			"prisoner_number", number,
		)
		if event.EventType == EventOffenderDeleted {
			return syncer.Remove(ctx, number)
		}
		outcome, err := syncer.Sync(ctx, number, event.EventID)
		if err != nil {
			return fmt.Errorf("syncing %s for %s: %w", number, event.EventType, err)
		}
		log.Info("prisoner synced",
			"event_type", event.EventType,
			"prisoner_number", number,
			"outcome", outcome,
		)
		return nil
	}
}

func resolve(ctx context.Context, event DomainEvent, bookings BookingResolver) (string, error) {
	if event.OffenderIDDisplay != "" {
		return event.OffenderIDDisplay, nil
	}
	if event.BookingID == 0 {
		return "", resilience.Permanent(fmt.Errorf("event %s %s names no prisoner or booking", event.EventType, event.EventID))
	}
	number, err := bookings.FetchNumberForBooking(ctx, event.BookingID)
	if err != nil {
		return "", fmt.Errorf("resolving booking %d: %w", event.BookingID, err)
	}
	return number, nil
}
