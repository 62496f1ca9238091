package lifecycle

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
	pkgnats "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/nats"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/postgres"
)

type fakeQueue struct {
	mu       sync.Mutex
	items    []WorkItem
	counts   pkgnats.Counts
	purged   int
	dlPurged int
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, payload.(WorkItem))
	return nil
}

func (q *fakeQueue) Counts(context.Context) (pkgnats.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts, nil
}

func (q *fakeQueue) Purge(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purged++
	return nil
}

func (q *fakeQueue) PurgeDeadLetters(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlPurged++
	return nil
}

type fakeSource struct {
	numbers []string
	err     error
}

func (s fakeSource) ListAllExternalNumbers(_ context.Context, offset, limit int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.numbers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.numbers) {
		end = len(s.numbers)
	}
	return s.numbers[offset:end], nil
}

type fixture struct {
	mgr     *Manager
	status  *MemoryStatusStore
	store   *store.Memory
	queue   *fakeQueue
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, source fakeSource) *fixture {
	t.Helper()
	f := &fixture{
		status:  NewMemoryStatusStore(Status{Current: GenerationA}),
		store:   store.NewMemory(),
		queue:   &fakeQueue{},
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	require.NoError(t, f.store.CreateIndex(context.Background(), "prisoner-search-a"))
	f.mgr = NewManager(ManagerConfig{
		Status:         f.status,
		Store:          f.store,
		Queue:          f.queue,
		Source:         source,
		IndexPrefix:    "prisoner-search",
		Index:          config.IndexConfig{ScrollPageSize: 2, CompareReportLimit: 10},
		SourcePageSize: 2,
		Metrics:        f.metrics,
	})
	return f
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, fakeSource{})
	ctx := context.Background()

	first, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	second, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, Rebuilding, st.State())
	assert.NotNil(t, st.StartIndexTime)
	assert.Nil(t, st.EndIndexTime)
	assert.Equal(t, 1, f.queue.dlPurged)
	assert.Zero(t, f.store.Count("prisoner-search-b"), "building index is recreated empty")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LifecycleTotal.WithLabelValues("start", "rejected")))
}

func TestCompleteWithPendingWork(t *testing.T) {
	f := newFixture(t, fakeSource{})
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	f.queue.counts = pkgnats.Counts{Pending: 1}
	ok, err := f.mgr.Complete(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, GenerationA, st.Current)
	assert.Equal(t, Rebuilding, st.State())

	f.queue.counts = pkgnats.Counts{DeadLetter: 1}
	ok, err = f.mgr.Complete(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteWhenDrainedSwaps(t *testing.T) {
	f := newFixture(t, fakeSource{})
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	ok, err := f.mgr.Complete(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, GenerationB, st.Current)
	assert.Equal(t, Idle, st.State())
	assert.NotNil(t, st.EndIndexTime)
	assert.Equal(t, "prisoner-search-b", st.CurrentIndex("prisoner-search"))
}

func TestCompleteWithoutRebuild(t *testing.T) {
	f := newFixture(t, fakeSource{})
	ok, err := f.mgr.Complete(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelClearsErrorWithoutSwapping(t *testing.T) {
	f := newFixture(t, fakeSource{})
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.mgr.MarkError(ctx, errors.New("dead letter")))

	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, Error, st.State())
	ok, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "cannot start while in error")

	require.NoError(t, f.mgr.Cancel(ctx))
	st, _ = f.mgr.Status(ctx)
	assert.Equal(t, Idle, st.State())
	assert.Equal(t, GenerationA, st.Current)

	ok, err = f.mgr.Start(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPopulateQueuesEveryNumber(t *testing.T) {
	f := newFixture(t, fakeSource{numbers: []string{"A1111AA", "B2222BB", "C3333CC", "D4444DD", "E5555EE"}})
	ctx := context.Background()

	_, err := f.mgr.Populate(ctx)
	assert.Error(t, err, "populate needs a rebuild")

	_, err = f.mgr.Start(ctx)
	require.NoError(t, err)
	n, err := f.mgr.Populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, f.queue.items, 5)
	assert.Equal(t, "E5555EE", f.queue.items[4].PrisonerNumber)
}

// pausedSource serves pages immediately except the one at pauseAt, which
// waits for release or ctx.
type pausedSource struct {
	numbers []string
	pauseAt int
	reached chan struct{}
	release chan struct{}
}

func newPausedSource(numbers []string, pauseAt int) *pausedSource {
	return &pausedSource{numbers: numbers, pauseAt: pauseAt, reached: make(chan struct{}), release: make(chan struct{})}
}

func (s *pausedSource) ListAllExternalNumbers(ctx context.Context, offset, limit int) ([]string, error) {
	if offset == s.pauseAt {
		close(s.reached)
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fakeSource{numbers: s.numbers}.ListAllExternalNumbers(ctx, offset, limit)
}

func newFixtureWithSource(t *testing.T, source NumberSource) *fixture {
	t.Helper()
	f := newFixture(t, fakeSource{})
	f.mgr.source = source
	return f
}

func TestCompleteRefusedWhilePopulating(t *testing.T) {
	source := newPausedSource([]string{"A1111AA", "B2222BB", "C3333CC", "D4444DD", "E5555EE"}, 2)
	f := newFixtureWithSource(t, source)
	ctx := context.Background()

	ok, err := f.mgr.Build(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	<-source.reached

	// the worker has emptied the queue between pages
	ok, err = f.mgr.Complete(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, GenerationA, st.Current)
	assert.True(t, st.Populating)

	close(source.release)
	require.Eventually(t, func() bool {
		st, _ := f.mgr.Status(ctx)
		return !st.Populating
	}, 2*time.Second, 5*time.Millisecond)
	f.mgr.Close()

	f.queue.mu.Lock()
	assert.Len(t, f.queue.items, 5)
	f.queue.mu.Unlock()

	ok, err = f.mgr.Complete(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	st, _ = f.mgr.Status(ctx)
	assert.Equal(t, GenerationB, st.Current)
}

func TestMarkCompletedRequiresPopulateFinished(t *testing.T) {
	s := NewMemoryStatusStore(Status{})
	ctx := context.Background()
	ok, err := s.MarkStarted(ctx, time.Now(), true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.MarkCompleted(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkPopulating(ctx, false)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkCompleted(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkPopulating(ctx, true)
	require.NoError(t, err)
	assert.False(t, ok, "populating needs a rebuild in progress")
}

func TestCloseStopsBackgroundPopulate(t *testing.T) {
	source := newPausedSource([]string{"A1111AA", "B2222BB", "C3333CC"}, 2)
	f := newFixtureWithSource(t, source)
	ctx := context.Background()

	ok, err := f.mgr.Build(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	<-source.reached

	f.mgr.Close()
	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, Error, st.State())
	assert.False(t, st.Populating)
}

func TestPopulateStopsAfterCancel(t *testing.T) {
	source := newPausedSource([]string{"A1111AA", "B2222BB", "C3333CC", "D4444DD", "E5555EE"}, 2)
	f := newFixtureWithSource(t, source)
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	done := make(chan int)
	go func() {
		n, _ := f.mgr.Populate(ctx)
		done <- n
	}()
	<-source.reached
	require.NoError(t, f.mgr.Cancel(ctx))
	close(source.release)

	assert.Equal(t, 4, <-done, "the page in flight is queued, later pages are not")
	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, Idle, st.State())
	assert.False(t, st.Populating)
}

func TestPopulateFailureMarksError(t *testing.T) {
	f := newFixture(t, fakeSource{err: errors.New("prison api down")})
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	_, err = f.mgr.Populate(ctx)
	require.Error(t, err)
	st, _ := f.mgr.Status(ctx)
	assert.Equal(t, Error, st.State())
}

func TestConcurrentStartsApplyOnce(t *testing.T) {
	f := newFixture(t, fakeSource{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.status.MarkStarted(context.Background(), time.Now(), false)
			if err == nil && ok {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}

func TestCompareIndex(t *testing.T) {
	f := newFixture(t, fakeSource{numbers: []string{"Z", "A", "B"}})
	ctx := context.Background()
	for _, id := range []string{"A", "C", "Z"} {
		require.NoError(t, f.store.Index(ctx, "prisoner-search-a", id, map[string]string{"prisonerNumber": id}))
	}

	cmp, err := f.mgr.CompareIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, cmp.OnlyInIndex)
	assert.Equal(t, []string{"B"}, cmp.OnlyInSource)
	assert.Equal(t, 3, cmp.IndexCount)
	assert.Equal(t, 3, cmp.SourceCount)
	assert.Equal(t, "prisoner-search-a", cmp.Index)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IndexDifferences.WithLabelValues("only_in_index")))
}

func TestCompareIndexSourceFailure(t *testing.T) {
	f := newFixture(t, fakeSource{err: errors.New("boom")})
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		require.NoError(t, f.store.Index(context.Background(), "prisoner-search-a", id, struct{}{}))
	}
	_, err := f.mgr.CompareIndex(context.Background())
	assert.Error(t, err)
}

func TestDiffSortedCapsReports(t *testing.T) {
	ids := make(chan string, 10)
	for _, id := range []string{"A", "B", "C", "D"} {
		ids <- id
	}
	close(ids)
	cmp := diffSorted([]string{"E", "F", "G"}, ids, 2)
	assert.Equal(t, []string{"A", "B"}, cmp.OnlyInIndex)
	assert.Equal(t, 4, cmp.OnlyInIndexCount)
	assert.Equal(t, []string{"E", "F"}, cmp.OnlyInSource)
	assert.Equal(t, 3, cmp.OnlyInSourceCount)
}

func TestDiffSortedCollapsesDuplicateSourceNumbers(t *testing.T) {
	ids := make(chan string, 2)
	ids <- "A"
	ids <- "C"
	close(ids)
	cmp := diffSorted([]string{"A", "A", "B", "B", "C"}, ids, 10)
	assert.Equal(t, []string{"B"}, cmp.OnlyInSource)
	assert.Empty(t, cmp.OnlyInIndex)
	assert.Equal(t, 3, cmp.SourceCount)
}

func TestWriteIndexes(t *testing.T) {
	idle := Status{Current: GenerationB}
	assert.Equal(t, []string{"p-b"}, idle.WriteIndexes("p"))

	building := Status{Current: GenerationB, InProgress: true}
	assert.Equal(t, []string{"p-b", "p-a"}, building.WriteIndexes("p"))

	failed := Status{Current: GenerationB, InError: true}
	assert.Equal(t, []string{"p-b"}, failed.WriteIndexes("p"))
}

func TestPostgresStatusStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStatusStore(postgres.NewFromDB(db))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_index, in_progress")).
		WillReturnRows(sqlmock.NewRows([]string{"current_index", "in_progress", "in_error", "populating", "start_index_time", "end_index_time", "version"}).
			AddRow("B", true, false, true, at, nil, 7))
	mock.ExpectExec(regexp.QuoteMeta("AND in_progress = false AND in_error = false")).
		WithArgs(at, true).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET populating = $1")).
		WithArgs(false).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("AND in_error = false AND populating = false")).
		WithArgs(at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET in_progress = false, in_error = false, populating = false")).
		WithArgs(at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET in_progress = false, in_error = true")).
		WithArgs(at).WillReturnResult(sqlmock.NewResult(0, 0))

	st, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, GenerationB, st.Current)
	assert.Equal(t, Rebuilding, st.State())
	assert.Equal(t, int64(7), st.Version)
	assert.True(t, st.Populating)
	assert.Nil(t, st.EndIndexTime)

	ok, err := s.MarkStarted(ctx, at, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkPopulating(ctx, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkCompleted(ctx, at)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.MarkCancelled(ctx, at))

	ok, err = s.MarkError(ctx, at)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
