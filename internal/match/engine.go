// Package match resolves partially supplied identifying data to prisoner
// records by running a fixed cascade of strategies against the current
// index, stopping at the first that finds anyone.
package match

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
)

// Engine runs the match cascade.
type Engine struct {
	store   store.DocumentStore
	limit   int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine returns an engine returning at most limit candidates. m may be
// nil.
func NewEngine(ds store.DocumentStore, limit int, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   ds,
		limit:   limit,
		metrics: m,
		logger:  slog.Default().With("component", "match"),
	}
}

// Match runs the cascade against index. A document store failure ends the
// cascade with an empty result so a weaker strategy never reports a match
// a stronger one might have found.
func (e *Engine) Match(ctx context.Context, index string, req Request) (*Result, error) {
	c := req.normalise()
	if c.supplied() == 0 {
		return nil, apperrors.Invalid("match requires at least one of name, date of birth or identifier")
	}
	log := logger.FromContextWith(ctx, e.logger)

	for _, s := range cascade {
		if !s.applies(c) {
			continue
		}
		body := query.Request{Query: s.build(c), Size: e.limit, Sort: []query.SortField{query.Score}}.Body()
		hits, err := e.store.Search(ctx, index, body)
		if err != nil {
			log.Error("match strategy failed", "strategy", s.name, "index", index, "error", err)
			e.record(Nothing)
			return noMatch(), nil
		}
		if len(hits.Hits) == 0 {
			log.Debug("match strategy found nothing", "strategy", s.name)
			continue
		}
		res := &Result{Matches: make([]Candidate, 0, len(hits.Hits)), MatchedBy: s.tier}
		for _, h := range hits.Hits {
			var p prisoner.Prisoner
			if err := json.Unmarshal(h.Source, &p); err != nil {
				log.Warn("skipping undecodable hit", "id", h.ID, "error", err)
				continue
			}
			res.Matches = append(res.Matches, Candidate{Prisoner: p})
		}
		if len(res.Matches) == 0 {
			continue
		}
		log.Info("match found", "strategy", s.name, "matched_by", s.tier, "count", len(res.Matches))
		e.record(s.tier)
		return res, nil
	}
	e.record(Nothing)
	return noMatch(), nil
}

func (e *Engine) record(t Tier) {
	if e.metrics != nil {
		e.metrics.MatchesTotal.WithLabelValues(string(t)).Inc()
	}
}
