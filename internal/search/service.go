// Package search builds and runs the ranked and sorted prisoner searches:
// global, keyword, detailed-field, physical-description and
// in-establishment. Every search reads exactly the index it is handed;
// choosing the current generation is the caller's job.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
)

// Search types, used as metric labels and log fields.
const (
	TypeGlobal          = "global"
	TypeKeyword         = "keyword"
	TypeDetail          = "detail"
	TypePhysical        = "physical"
	TypeInEstablishment = "in_establishment"
)

// Result is one page of prisoners.
type Result struct {
	Content       []prisoner.Prisoner `json:"content"`
	TotalElements int64               `json:"totalElements"`
	Page          int                 `json:"page"`
	Size          int                 `json:"size"`
}

func emptyResult(p Pagination) *Result {
	return &Result{Content: []prisoner.Prisoner{}, Page: p.Page, Size: p.Size}
}

// Pagination is the zero-based page and size requested by a caller.
type Pagination struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// Service runs searches against a document store.
type Service struct {
	store   store.DocumentStore
	cfg     config.SearchConfig
	cache   *Cache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching for global search.
func WithCache(c *Cache) Option { return func(s *Service) { s.cache = c } }

// WithMetrics records search counters and latency.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func NewService(ds store.DocumentStore, cfg config.SearchConfig, opts ...Option) *Service {
	s := &Service{
		store:  ds,
		cfg:    cfg,
		logger: slog.Default().With("component", "search"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// page clamps the requested paging to the configured bounds.
func (s *Service) page(p Pagination) Pagination {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = s.cfg.DefaultPageSize
	}
	if p.Size > s.cfg.MaxPageSize {
		p.Size = s.cfg.MaxPageSize
	}
	return p
}

// run executes q and maps the hits. Store failures are logged and yield an
// empty page.
func (s *Service) run(ctx context.Context, searchType, index string, q query.Query, p Pagination, sort ...query.SortField) *Result {
	start := time.Now()
	req := query.Request{Query: q, From: p.Page * p.Size, Size: p.Size, Sort: sort}

	hits, err := s.store.Search(ctx, index, req.Body())
	s.observe(searchType, start)
	if err != nil {
		s.logger.Error("search failed", "type", searchType, "index", index, "error", err)
		s.count(searchType, "error", 0)
		return emptyResult(p)
	}

	res := &Result{Content: make([]prisoner.Prisoner, 0, len(hits.Hits)), TotalElements: hits.Total, Page: p.Page, Size: p.Size}
	for _, h := range hits.Hits {
		var rec prisoner.Prisoner
		if err := json.Unmarshal(h.Source, &rec); err != nil {
			s.logger.Warn("skipping undecodable hit", "type", searchType, "id", h.ID, "error", err)
			continue
		}
		res.Content = append(res.Content, rec)
	}
	if len(res.Content) == 0 {
		s.count(searchType, "empty", 0)
	} else {
		s.count(searchType, "hits", len(res.Content))
	}
	return res
}

func (s *Service) observe(searchType string, start time.Time) {
	if s.metrics != nil {
		s.metrics.SearchLatency.WithLabelValues(searchType).Observe(time.Since(start).Seconds())
	}
}

func (s *Service) count(searchType, resultType string, n int) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(searchType, resultType).Inc()
	s.metrics.SearchResultsCount.WithLabelValues(searchType).Observe(float64(n))
}
