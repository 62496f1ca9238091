// Package api is the HTTP surface of the search service. Handlers decode a
// request, read the index status once, and hand the current index name to
// the search, match and lifecycle components.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/lifecycle"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/match"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/search"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Maintainer is the index lifecycle. *lifecycle.Manager satisfies it.
type Maintainer interface {
	Status(ctx context.Context) (lifecycle.Status, error)
	Prefix() string
	Build(ctx context.Context) (bool, error)
	Complete(ctx context.Context) (bool, error)
	Cancel(ctx context.Context) error
	CompareIndex(ctx context.Context) (*lifecycle.Comparison, error)
}

type Handler struct {
	search   *search.Service
	matcher  *match.Engine
	index    Maintainer
	cache    *search.Cache
	reporter telemetry.Reporter
	logger   *slog.Logger
}

// New wires a Handler. cache and reporter may be nil.
func New(svc *search.Service, matcher *match.Engine, index Maintainer, cache *search.Cache, reporter telemetry.Reporter) *Handler {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	return &Handler{
		search:   svc,
		matcher:  matcher,
		index:    index,
		cache:    cache,
		reporter: reporter,
		logger:   slog.Default().With("component", "api"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /match-prisoners", h.MatchPrisoners)
	mux.HandleFunc("POST /global-search", h.GlobalSearch)
	mux.HandleFunc("POST /keyword", h.KeywordSearch)
	mux.HandleFunc("POST /prisoner-detail", h.DetailSearch)
	mux.HandleFunc("POST /physical-detail", h.PhysicalSearch)
	mux.HandleFunc("GET /prison/{prisonId}/prisoners", h.PrisonSearch)

	mux.HandleFunc("PUT /maintain-index/build", h.BuildIndex)
	mux.HandleFunc("PUT /maintain-index/mark-complete", h.CompleteIndex)
	mux.HandleFunc("PUT /maintain-index/cancel", h.CancelIndex)
	mux.HandleFunc("GET /maintain-index/status", h.IndexStatus)
	mux.HandleFunc("GET /maintain-index/compare", h.CompareIndex)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
}

// currentIndex reads the status row for this request.
func (h *Handler) currentIndex(ctx context.Context) (string, error) {
	st, err := h.index.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: reading index status: %v", apperrors.ErrUnavailable, err)
	}
	return st.CurrentIndex(h.index.Prefix()), nil
}

func (h *Handler) MatchPrisoners(w http.ResponseWriter, r *http.Request) {
	var req match.Request
	if !h.decode(w, r, &req) {
		return
	}
	index, err := h.currentIndex(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.matcher.Match(r.Context(), index, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reporter.Track(r.Context(), telemetry.MatchResult, map[string]string{
		"matchedBy": string(res.MatchedBy),
		"matches":   strconv.Itoa(len(res.Matches)),
	})
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GlobalSearch(w http.ResponseWriter, r *http.Request) {
	var req search.GlobalRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runSearch(w, r, func(ctx context.Context, index string) (*search.Result, error) {
		return h.search.Global(ctx, index, req)
	})
}

func (h *Handler) KeywordSearch(w http.ResponseWriter, r *http.Request) {
	var req search.KeywordRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runSearch(w, r, func(ctx context.Context, index string) (*search.Result, error) {
		return h.search.Keyword(ctx, index, req)
	})
}

func (h *Handler) DetailSearch(w http.ResponseWriter, r *http.Request) {
	var req search.DetailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runSearch(w, r, func(ctx context.Context, index string) (*search.Result, error) {
		return h.search.Detail(ctx, index, req)
	})
}

func (h *Handler) PhysicalSearch(w http.ResponseWriter, r *http.Request) {
	var req search.PhysicalRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runSearch(w, r, func(ctx context.Context, index string) (*search.Result, error) {
		return h.search.Physical(ctx, index, req)
	})
}

// PrisonSearch serves GET /prison/{prisonId}/prisoners with term, alerts,
// cellLocationPrefix, page and size query parameters.
func (h *Handler) PrisonSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := search.EstablishmentRequest{
		PrisonID:           r.PathValue("prisonId"),
		Term:               q.Get("term"),
		CellLocationPrefix: q.Get("cellLocationPrefix"),
	}
	for _, v := range q["alerts"] {
		for _, code := range strings.Split(v, ",") {
			if code = strings.TrimSpace(code); code != "" {
				req.AlertCodes = append(req.AlertCodes, code)
			}
		}
	}
	var err error
	if req.Page, err = intParam(q.Get("page")); err != nil {
		h.fail(w, r, apperrors.Invalid("page must be a non-negative integer"))
		return
	}
	if req.Size, err = intParam(q.Get("size")); err != nil {
		h.fail(w, r, apperrors.Invalid("size must be a non-negative integer"))
		return
	}
	h.runSearch(w, r, func(ctx context.Context, index string) (*search.Result, error) {
		return h.search.InEstablishment(ctx, index, req)
	})
}

func (h *Handler) runSearch(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, index string) (*search.Result, error)) {
	index, err := h.currentIndex(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := fn(r.Context(), index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) BuildIndex(w http.ResponseWriter, r *http.Request) {
	ok, err := h.index.Build(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.transitionResponse(w, r, ok, "index build already in progress or in error")
}

// CompleteIndex swaps generations and drops cached pages of the old one.
func (h *Handler) CompleteIndex(w http.ResponseWriter, r *http.Request) {
	ok, err := h.index.Complete(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ok && h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Warn("cache invalidation after index swap failed", "error", err)
		}
	}
	h.transitionResponse(w, r, ok, "no index build in progress or rebuild queue not drained")
}

func (h *Handler) CancelIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.index.Cancel(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.transitionResponse(w, r, true, "")
}

func (h *Handler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.index.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse(st, h.index.Prefix()))
}

func (h *Handler) CompareIndex(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.index.CompareIndex(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cmp)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) transitionResponse(w http.ResponseWriter, r *http.Request, ok bool, conflict string) {
	st, err := h.index.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.writeJSON(w, http.StatusConflict, map[string]any{
			"error":  conflict,
			"status": statusResponse(st, h.index.Prefix()),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse(st, h.index.Prefix()))
}

type indexStatus struct {
	lifecycle.Status
	State        lifecycle.State `json:"state"`
	CurrentIndex string          `json:"currentIndexName"`
}

func statusResponse(st lifecycle.Status, prefix string) indexStatus {
	return indexStatus{Status: st, State: st.State(), CurrentIndex: st.CurrentIndex(prefix)}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.fail(w, r, apperrors.Invalid("malformed request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContextWith(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": apperrors.Message(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
