// Package changedetect keeps the index in step with the prison system and
// emits a notification only when a record's change hash moves.
//
// A sync fetches the full record, diffs it against the indexed copy, commits
// the new hash and publishes inside one transaction, then writes every live
// generation. A failed publish rolls the hash back so a redelivery retries
// both together.
package changedetect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/diff"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/hash"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/lifecycle"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/notify"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
)

// RecordSource fetches full prisoner records. *sor.Client satisfies it.
type RecordSource interface {
	FetchFullRecord(ctx context.Context, prisonerNumber string) (*prisoner.Prisoner, error)
}

// StatusReader returns the current index status. *lifecycle.Manager
// satisfies it.
type StatusReader interface {
	Status(ctx context.Context) (lifecycle.Status, error)
	Prefix() string
}

// Outcome is what a sync did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeRemoved   Outcome = "removed"
	OutcomeError     Outcome = "error"
)

type Config struct {
	Source    RecordSource
	Store     store.DocumentStore
	Hashes    hash.Store
	Publisher notify.Publisher
	Status    StatusReader
	Metrics   *metrics.Metrics
	Reporter  telemetry.Reporter
}

// Engine runs syncs. It holds no per-prisoner state; concurrent syncs of
// the same prisoner are arbitrated by the hash store.
type Engine struct {
	source    RecordSource
	store     store.DocumentStore
	hashes    hash.Store
	publisher notify.Publisher
	status    StatusReader
	metrics   *metrics.Metrics
	reporter  telemetry.Reporter
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(c Config) *Engine {
	reporter := c.Reporter
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	return &Engine{
		source:    c.Source,
		store:     c.Store,
		hashes:    c.Hashes,
		publisher: c.Publisher,
		status:    c.Status,
		metrics:   c.Metrics,
		reporter:  reporter,
		logger:    slog.Default().With("component", "change-detect"),
		now:       time.Now,
	}
}

// Sync brings one prisoner up to date. A prisoner unknown to the prison
// system is a no-op.
func (e *Engine) Sync(ctx context.Context, prisonerNumber, eventID string) (Outcome, error) {
	ctx = logger.WithPrisonerNumber(ctx, prisonerNumber)
	log := logger.FromContextWith(ctx, e.logger)

	outcome, err := e.sync(ctx, prisonerNumber, eventID)
	if err != nil {
		log.Error("sync failed", "error", err)
		e.count(OutcomeError)
		return OutcomeError, err
	}
	log.Debug("sync finished", "outcome", outcome)
	e.count(outcome)
	return outcome, nil
}

func (e *Engine) sync(ctx context.Context, number, eventID string) (Outcome, error) {
	st, err := e.status.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("reading index status: %w", err)
	}
	prefix := e.status.Prefix()

	after, err := e.source.FetchFullRecord(ctx, number)
	if errors.Is(err, apperrors.ErrPrisonerNotFound) {
		e.reporter.Track(ctx, telemetry.PrisonerNotFound, map[string]string{"prisonerNumber": number})
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", number, err)
	}

	before, err := e.existing(ctx, st.CurrentIndex(prefix), number)
	if err != nil {
		return "", err
	}
	changes := diff.Compare(before, after)
	sum, err := diff.Hash(after)
	if err != nil {
		return "", err
	}

	var outcome hash.Outcome
	err = e.hashes.InTx(ctx, func(ctx context.Context, w hash.Writer) error {
		var uerr error
		outcome, uerr = w.Upsert(ctx, hash.Entry{
			PrisonerNumber: number,
			Hash:           sum,
			UpdatedAt:      e.now().UTC(),
			EventID:        eventID,
		})
		if uerr != nil || !outcome.Changed() {
			return uerr
		}
		return e.publisher.Publish(ctx, e.events(outcome, before, after, changes)...)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrPublishFailed) {
			e.reporter.Track(ctx, telemetry.NotificationFailed, map[string]string{"prisonerNumber": number})
		}
		return "", err
	}

	// The index is written after the commit so that a redelivery following
	// a failed publish still diffs against the previous document.
	for _, index := range st.WriteIndexes(prefix) {
		if err := e.store.Index(ctx, index, number, after); err != nil {
			return "", fmt.Errorf("indexing %s into %s: %w", number, index, err)
		}
	}

	switch outcome {
	case hash.Created:
		e.track(ctx, number, OutcomeCreated, nil)
		return OutcomeCreated, nil
	case hash.Updated:
		e.track(ctx, number, OutcomeUpdated, changes)
		return OutcomeUpdated, nil
	default:
		return OutcomeUnchanged, nil
	}
}

// events lists the notifications for a committed hash change. A record with
// no indexed predecessor is treated as created even when a stale hash row
// exists, because there is nothing to diff against.
func (e *Engine) events(outcome hash.Outcome, before, after *prisoner.Prisoner, changes diff.Result) []notify.Event {
	number := after.PrisonerNumber
	if outcome == hash.Created || before == nil {
		return []notify.Event{notify.NewCreated(number)}
	}
	cats := changes.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	events := []notify.Event{notify.NewUpdated(number, names)}
	events = append(events, movementEvents(before, after, changes)...)
	events = append(events, alertEvents(before, after, changes)...)
	return events
}

// Remove deletes the prisoner from every live index, drops the hash row
// and emits removed when a row existed.
func (e *Engine) Remove(ctx context.Context, prisonerNumber string) error {
	ctx = logger.WithPrisonerNumber(ctx, prisonerNumber)
	st, err := e.status.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading index status: %w", err)
	}
	for _, index := range st.WriteIndexes(e.status.Prefix()) {
		if err := e.store.Delete(ctx, index, prisonerNumber); err != nil {
			e.count(OutcomeError)
			return fmt.Errorf("deleting %s from %s: %w", prisonerNumber, index, err)
		}
	}
	err = e.hashes.InTx(ctx, func(ctx context.Context, w hash.Writer) error {
		existed, err := w.Delete(ctx, prisonerNumber)
		if err != nil || !existed {
			return err
		}
		return e.publisher.Publish(ctx, notify.NewRemoved(prisonerNumber))
	})
	if err != nil {
		e.count(OutcomeError)
		return err
	}
	e.count(OutcomeRemoved)
	e.reporter.Track(ctx, telemetry.PrisonerRemoved, map[string]string{"prisonerNumber": prisonerNumber})
	logger.FromContextWith(ctx, e.logger).Info("prisoner removed")
	return nil
}

// Reindex copies the prison system's record into index without touching
// hashes or notifications. It is the rebuild path. A prisoner that no
// longer exists is skipped.
func (e *Engine) Reindex(ctx context.Context, prisonerNumber, index string) error {
	rec, err := e.source.FetchFullRecord(ctx, prisonerNumber)
	if errors.Is(err, apperrors.ErrPrisonerNotFound) {
		logger.FromContextWith(ctx, e.logger).Debug("skipping prisoner missing from prison system", "prisoner_number", prisonerNumber)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching %s: %w", prisonerNumber, err)
	}
	if err := e.store.Index(ctx, index, prisonerNumber, rec); err != nil {
		return fmt.Errorf("indexing %s into %s: %w", prisonerNumber, index, err)
	}
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.WithLabelValues(index).Inc()
	}
	return nil
}

func (e *Engine) existing(ctx context.Context, index, number string) (*prisoner.Prisoner, error) {
	raw, err := e.store.Get(ctx, index, number)
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", number, index, err)
	}
	if raw == nil {
		return nil, nil
	}
	var p prisoner.Prisoner
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding indexed %s: %w", number, err)
	}
	return &p, nil
}

func (e *Engine) track(ctx context.Context, number string, outcome Outcome, changes diff.Result) {
	props := map[string]string{"prisonerNumber": number, "outcome": string(outcome)}
	for _, c := range changes.Categories() {
		props[string(c)] = "true"
	}
	e.reporter.Track(ctx, telemetry.PrisonerSynced, props)
}

func (e *Engine) count(o Outcome) {
	if e.metrics != nil {
		e.metrics.SyncsTotal.WithLabelValues(string(o)).Inc()
	}
}
