package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
	pkgnats "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/nats"
)

// WorkItem is one prisoner queued for the rebuild.
type WorkItem struct {
	PrisonerNumber string `json:"prisonerNumber"`
}

// Queue is the rebuild work queue. *pkgnats.WorkQueue satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, payload any) error
	Counts(ctx context.Context) (pkgnats.Counts, error)
	Purge(ctx context.Context) error
	PurgeDeadLetters(ctx context.Context) error
}

// NumberSource pages through every prisoner number in the prison system.
type NumberSource interface {
	ListAllExternalNumbers(ctx context.Context, offset, limit int) ([]string, error)
}

// Manager drives index rebuilds and reconciliation.
type Manager struct {
	status   StatusStore
	store    store.DocumentStore
	queue    Queue
	source   NumberSource
	prefix   string
	cfg      config.IndexConfig
	pageSize int
	metrics  *metrics.Metrics
	reporter telemetry.Reporter
	logger   *slog.Logger
	now      func() time.Time

	// background populates started by Build; Close cancels and waits.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Status      StatusStore
	Store       store.DocumentStore
	Queue       Queue
	Source      NumberSource
	IndexPrefix string
	Index       config.IndexConfig
	// SourcePageSize is how many numbers are requested per page.
	SourcePageSize int
	Metrics        *metrics.Metrics
	Reporter       telemetry.Reporter
}

func NewManager(c ManagerConfig) *Manager {
	reporter := c.Reporter
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	pageSize := c.SourcePageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Manager{
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
		status:   c.Status,
		store:    c.Store,
		queue:    c.Queue,
		source:   c.Source,
		prefix:   c.IndexPrefix,
		cfg:      c.Index,
		pageSize: pageSize,
		metrics:  c.Metrics,
		reporter: reporter,
		logger:   slog.Default().With("component", "index-lifecycle"),
		now:      time.Now,
	}
}

// Status reads the status row.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	return m.status.Get(ctx)
}

// Prefix is the index name prefix.
func (m *Manager) Prefix() string { return m.prefix }

// Start begins a rebuild of the non-current generation. It returns false
// when a rebuild is already running or the last one failed. The building
// index is recreated empty and stale queue contents are purged.
func (m *Manager) Start(ctx context.Context) (bool, error) {
	return m.start(ctx, false)
}

func (m *Manager) start(ctx context.Context, populating bool) (bool, error) {
	ok, err := m.status.MarkStarted(ctx, m.now().UTC(), populating)
	if err != nil {
		return false, err
	}
	m.transition("start", ok)
	if !ok {
		m.logger.Warn("index build not started", "reason", "already building or in error")
		return false, nil
	}

	st, err := m.status.Get(ctx)
	if err != nil {
		return true, m.fail(ctx, fmt.Errorf("reading status after start: %w", err))
	}
	building := IndexName(m.prefix, st.Current.Other())
	if err := m.recreate(ctx, building); err != nil {
		return true, m.fail(ctx, err)
	}
	if err := m.queue.Purge(ctx); err != nil {
		return true, m.fail(ctx, fmt.Errorf("purging rebuild queue: %w", err))
	}
	if err := m.queue.PurgeDeadLetters(ctx); err != nil {
		return true, m.fail(ctx, fmt.Errorf("purging rebuild dead letters: %w", err))
	}

	m.logger.Info("index build started", "building", building, "current", st.CurrentIndex(m.prefix))
	m.reporter.Track(ctx, telemetry.IndexBuildStarted, map[string]string{"index": building})
	return true, nil
}

func (m *Manager) recreate(ctx context.Context, index string) error {
	if err := m.store.DeleteIndex(ctx, index); err != nil {
		return fmt.Errorf("deleting %s: %w", index, err)
	}
	if err := m.store.CreateIndex(ctx, index); err != nil {
		return fmt.Errorf("creating %s: %w", index, err)
	}
	return nil
}

// Populate queues every prisoner number for the rebuild worker and returns
// how many were queued. The status row is marked populating until the last
// page is queued, so an empty queue between pages cannot complete the
// rebuild. Any failure marks the rebuild as errored.
func (m *Manager) Populate(ctx context.Context) (int, error) {
	ok, err := m.status.MarkPopulating(ctx, true)
	if err != nil {
		return 0, err
	}
	if !ok {
		st, err := m.status.Get(ctx)
		if err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("populate requires a rebuild in progress, state is %s", st.State())
	}

	queued := 0
	for offset := 0; ; {
		page, err := m.source.ListAllExternalNumbers(ctx, offset, m.pageSize)
		if err != nil {
			return queued, m.fail(ctx, fmt.Errorf("listing prisoner numbers at offset %d: %w", offset, err))
		}
		for _, number := range page {
			if err := m.queue.Enqueue(ctx, WorkItem{PrisonerNumber: number}); err != nil {
				return queued, m.fail(ctx, fmt.Errorf("queueing %s: %w", number, err))
			}
			queued++
		}
		if len(page) < m.pageSize {
			break
		}
		offset += len(page)
		st, err := m.status.Get(ctx)
		if err != nil {
			return queued, m.fail(ctx, fmt.Errorf("reading status while populating: %w", err))
		}
		if !st.InProgress {
			m.logger.Warn("index build populate abandoned", "state", st.State(), "queued", queued)
			return queued, nil
		}
	}

	ok, err = m.status.MarkPopulating(ctx, false)
	if err != nil {
		return queued, m.fail(ctx, fmt.Errorf("clearing populating flag: %w", err))
	}
	if !ok {
		m.logger.Warn("index build populated after rebuild ended", "queued", queued)
		return queued, nil
	}

	m.logger.Info("index build populated", "queued", queued)
	m.reporter.Track(ctx, telemetry.IndexBuildPopulated, map[string]string{"queued": strconv.Itoa(queued)})
	return queued, nil
}

// Build starts a rebuild and populates the queue in the background. The
// background work outlives ctx's cancellation but keeps its values; it
// stops when the Manager is closed, leaving the rebuild in error.
func (m *Manager) Build(ctx context.Context) (bool, error) {
	ok, err := m.start(ctx, true)
	if err != nil || !ok {
		return ok, err
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.bgCtx, cancel)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer stop()
		defer cancel()
		if _, err := m.Populate(bg); err != nil {
			m.logger.Error("index build populate failed", "error", err)
		}
	}()
	return true, nil
}

// Close stops any background populate and waits for it to return.
func (m *Manager) Close() {
	m.bgCancel()
	m.bg.Wait()
}

// Complete swaps generations once the rebuild queue is fully drained. It
// returns false when no rebuild is running or work is still outstanding.
func (m *Manager) Complete(ctx context.Context) (bool, error) {
	st, err := m.status.Get(ctx)
	if err != nil {
		return false, err
	}
	if st.State() != Rebuilding {
		m.transition("complete", false)
		m.logger.Warn("index build not completed", "state", st.State())
		return false, nil
	}
	if st.Populating {
		m.transition("complete", false)
		m.logger.Warn("index build not completed, queue still being populated")
		return false, nil
	}

	counts, err := m.queue.Counts(ctx)
	if err != nil {
		return false, fmt.Errorf("reading rebuild queue counts: %w", err)
	}
	m.recordQueue(counts)
	if !counts.Drained() {
		m.transition("complete", false)
		m.logger.Warn("index build not completed, queue not drained",
			"pending", counts.Pending, "in_flight", counts.InFlight, "dead_letter", counts.DeadLetter)
		return false, nil
	}

	ok, err := m.status.MarkCompleted(ctx, m.now().UTC())
	if err != nil {
		return false, err
	}
	m.transition("complete", ok)
	if ok {
		m.logger.Info("index build completed", "now_current", IndexName(m.prefix, st.Current.Other()))
		m.reporter.Track(ctx, telemetry.IndexBuildCompleted, map[string]string{"index": IndexName(m.prefix, st.Current.Other())})
	}
	return ok, nil
}

// Cancel abandons any rebuild and clears the error flag. Outstanding work
// is purged; the current generation is untouched.
func (m *Manager) Cancel(ctx context.Context) error {
	if err := m.status.MarkCancelled(ctx, m.now().UTC()); err != nil {
		return err
	}
	m.transition("cancel", true)
	if err := m.queue.Purge(ctx); err != nil {
		m.logger.Warn("purging rebuild queue on cancel failed", "error", err)
	}
	m.logger.Info("index build cancelled")
	m.reporter.Track(ctx, telemetry.IndexBuildCancelled, nil)
	return nil
}

// MarkError flags the running rebuild as failed.
func (m *Manager) MarkError(ctx context.Context, cause error) error {
	ok, err := m.status.MarkError(ctx, m.now().UTC())
	if err != nil {
		return err
	}
	m.transition("error", ok)
	if ok {
		m.logger.Error("index build failed", "error", cause)
		m.reporter.Track(ctx, telemetry.IndexBuildFailed, map[string]string{"error": cause.Error()})
	}
	return nil
}

// RefreshQueueMetrics publishes the current queue counts as gauges.
func (m *Manager) RefreshQueueMetrics(ctx context.Context) (pkgnats.Counts, error) {
	counts, err := m.queue.Counts(ctx)
	if err != nil {
		return counts, err
	}
	m.recordQueue(counts)
	return counts, nil
}

func (m *Manager) fail(ctx context.Context, cause error) error {
	// recorded even when ctx is the reason for the failure
	if err := m.MarkError(context.WithoutCancel(ctx), cause); err != nil {
		m.logger.Error("marking index build as failed", "error", err)
	}
	return cause
}

func (m *Manager) transition(name string, applied bool) {
	if m.metrics == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "rejected"
	}
	m.metrics.LifecycleTotal.WithLabelValues(name, result).Inc()
}

func (m *Manager) recordQueue(c pkgnats.Counts) {
	if m.metrics == nil {
		return
	}
	m.metrics.RebuildQueue.WithLabelValues("pending").Set(float64(c.Pending))
	m.metrics.RebuildQueue.WithLabelValues("in_flight").Set(float64(c.InFlight))
	m.metrics.RebuildQueue.WithLabelValues("dead_letter").Set(float64(c.DeadLetter))
}
