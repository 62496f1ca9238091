// Package rebuild consumes the rebuild work queue and copies each queued
// prisoner into the generation being built.
package rebuild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/lifecycle"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
	pkgnats "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/nats"
)

// Reindexer writes one prisoner into an index. *changedetect.Engine
// satisfies it.
type Reindexer interface {
	Reindex(ctx context.Context, prisonerNumber, index string) error
}

// Lifecycle is the slice of *lifecycle.Manager the worker needs.
type Lifecycle interface {
	Status(ctx context.Context) (lifecycle.Status, error)
	Prefix() string
	MarkError(ctx context.Context, cause error) error
}

// Source runs the consume loop. *pkgnats.WorkQueue satisfies it.
type Source interface {
	Consume(ctx context.Context, handler pkgnats.Handler, onDeadLetter pkgnats.DeadLetterFunc) error
}

type Worker struct {
	source    Source
	reindexer Reindexer
	lifecycle Lifecycle
	reporter  telemetry.Reporter
	logger    *slog.Logger
}

func NewWorker(source Source, reindexer Reindexer, lc Lifecycle, reporter telemetry.Reporter) *Worker {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	return &Worker{
		source:    source,
		reindexer: reindexer,
		lifecycle: lc,
		reporter:  reporter,
		logger:    slog.Default().With("component", "rebuild-worker"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("rebuild worker starting")
	return w.source.Consume(ctx, w.Handle, w.DeadLettered)
}

// Handle processes one delivery. Items arriving when no rebuild is running
// belong to a cancelled build and are discarded.
func (w *Worker) Handle(ctx context.Context, d pkgnats.Delivery) error {
	var item lifecycle.WorkItem
	if err := json.Unmarshal(d.Data, &item); err != nil || item.PrisonerNumber == "" {
		w.logger.Error("discarding malformed work item", "error", err, "data", string(d.Data))
		return nil
	}
	st, err := w.lifecycle.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading index status: %w", err)
	}
	building, ok := st.Building()
	if !ok {
		w.logger.Debug("no rebuild in progress, dropping work item", "prisoner_number", item.PrisonerNumber)
		return nil
	}
	return w.reindexer.Reindex(ctx, item.PrisonerNumber, lifecycle.IndexName(w.lifecycle.Prefix(), building))
}

// DeadLettered fails the rebuild: a build missing a prisoner must not be
// swapped in.
func (w *Worker) DeadLettered(ctx context.Context, d pkgnats.Delivery, cause error) {
	w.reporter.Track(ctx, telemetry.RebuildMessageDropped, map[string]string{
		"item":  string(d.Data),
		"error": cause.Error(),
	})
	if err := w.lifecycle.MarkError(ctx, fmt.Errorf("work item %s dead-lettered: %w", d.Data, cause)); err != nil {
		w.logger.Error("marking rebuild failed", "error", err)
	}
}
