// Package notify publishes prisoner domain events to the outbound Kafka
// topic. A publish either reaches Kafka or returns an error wrapping
// ErrPublishFailed; there is no local buffering.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
)

// EventType is the eventType of an outbound notification.
type EventType string

const (
	Created       EventType = "prisoner-offender-search.prisoner.created"
	Updated       EventType = "prisoner-offender-search.prisoner.updated"
	Received      EventType = "prisoner-offender-search.prisoner.received"
	Released      EventType = "prisoner-offender-search.prisoner.released"
	AlertsUpdated EventType = "prisoner-offender-search.prisoner.alerts-updated"
	Removed       EventType = "prisoner-offender-search.prisoner.removed"
)

var descriptions = map[EventType]string{
	Created:       "A prisoner record has been created",
	Updated:       "A prisoner record has been updated",
	Received:      "A prisoner has been received into a prison",
	Released:      "A prisoner has been released from a prison",
	AlertsUpdated: "A prisoner had their alerts updated",
	Removed:       "A prisoner record has been removed",
}

// Reason qualifies a received or released event.
type Reason string

const (
	ReasonNewAdmission           Reason = "NEW_ADMISSION"
	ReasonReadmission            Reason = "READMISSION"
	ReasonTransferred            Reason = "TRANSFERRED"
	ReasonReturnFromCourt        Reason = "RETURN_FROM_COURT"
	ReasonTemporaryAbsenceReturn Reason = "TEMPORARY_ABSENCE_RETURN"

	ReasonReleased                Reason = "RELEASED"
	ReasonSentToCourt             Reason = "SENT_TO_COURT"
	ReasonTemporaryAbsenceRelease Reason = "TEMPORARY_ABSENCE_RELEASE"
	ReasonReleasedToHospital      Reason = "RELEASED_TO_HOSPITAL"
)

const envelopeVersion = 1

// Event is one notification before it is wrapped in the envelope.
type Event struct {
	Type           EventType
	PrisonerNumber string
	Info           map[string]any
}

// Envelope is the wire form of a notification.
type Envelope struct {
	EventType             EventType       `json:"eventType"`
	Version               int             `json:"version"`
	Description           string          `json:"description"`
	OccurredAt            string          `json:"occurredAt"`
	AdditionalInformation map[string]any  `json:"additionalInformation"`
	PersonReference       PersonReference `json:"personReference"`
}

type PersonReference struct {
	Identifiers []Identifier `json:"identifiers"`
}

type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewCreated builds a created event.
func NewCreated(number string) Event {
	return Event{Type: Created, PrisonerNumber: number, Info: map[string]any{"nomsNumber": number}}
}

// NewUpdated builds an updated event listing the changed categories.
func NewUpdated(number string, categories []string) Event {
	return Event{Type: Updated, PrisonerNumber: number, Info: map[string]any{
		"nomsNumber":        number,
		"categoriesChanged": categories,
	}}
}

// NewReceived builds a received event for prisonID.
func NewReceived(number string, reason Reason, prisonID string) Event {
	return Event{Type: Received, PrisonerNumber: number, Info: map[string]any{
		"nomsNumber": number,
		"reason":     string(reason),
		"prisonId":   prisonID,
	}}
}

// NewReleased builds a released event from prisonID.
func NewReleased(number string, reason Reason, prisonID string) Event {
	return Event{Type: Released, PrisonerNumber: number, Info: map[string]any{
		"nomsNumber": number,
		"reason":     string(reason),
		"prisonId":   prisonID,
	}}
}

// NewAlertsUpdated builds an alerts-updated event. Both code lists are
// always present, possibly empty.
func NewAlertsUpdated(number string, added, removed []string) Event {
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	return Event{Type: AlertsUpdated, PrisonerNumber: number, Info: map[string]any{
		"nomsNumber":    number,
		"alertsAdded":   added,
		"alertsRemoved": removed,
	}}
}

// NewRemoved builds a removed event.
func NewRemoved(number string) Event {
	return Event{Type: Removed, PrisonerNumber: number, Info: map[string]any{"nomsNumber": number}}
}

// Publisher emits notifications.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type producer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaPublisher writes envelopes to Kafka keyed by prisoner number.
type KafkaPublisher struct {
	producer producer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewKafkaPublisher wraps p. m may be nil.
func NewKafkaPublisher(p producer, m *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		producer: p,
		metrics:  m,
		logger:   slog.Default().With("component", "notify"),
		now:      time.Now,
	}
}

// Publish sends events in order and stops at the first failure.
func (k *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	for _, ev := range events {
		env := k.envelope(ev)
		err := k.producer.Publish(ctx, kafka.Event{
			Key:     ev.PrisonerNumber,
			Value:   env,
			Headers: map[string]string{"eventType": string(ev.Type)},
		})
		if err != nil {
			k.count(ev.Type, "error")
			return fmt.Errorf("%w: %s for %s: %v", apperrors.ErrPublishFailed, ev.Type, ev.PrisonerNumber, err)
		}
		k.count(ev.Type, "published")
		k.logger.Info("notification published", "event_type", ev.Type, "prisoner_number", ev.PrisonerNumber)
	}
	return nil
}

func (k *KafkaPublisher) envelope(ev Event) Envelope {
	info := ev.Info
	if info == nil {
		info = map[string]any{}
	}
	return Envelope{
		EventType:             ev.Type,
		Version:               envelopeVersion,
		Description:           descriptions[ev.Type],
		OccurredAt:            k.now().UTC().Format(time.RFC3339),
		AdditionalInformation: info,
		PersonReference: PersonReference{
			Identifiers: []Identifier{{Type: "NOMS", Value: ev.PrisonerNumber}},
		},
	}
}

func (k *KafkaPublisher) count(t EventType, status string) {
	if k.metrics != nil {
		k.metrics.NotificationsTotal.WithLabelValues(string(t), status).Inc()
	}
}
