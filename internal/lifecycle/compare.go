package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/telemetry"
)

// Comparison reports prisoner numbers present on only one side. The lists
// are capped; the counts are not.
type Comparison struct {
	Index             string   `json:"index"`
	OnlyInIndex       []string `json:"onlyInIndex"`
	OnlyInSource      []string `json:"onlyInSource"`
	OnlyInIndexCount  int      `json:"onlyInIndexCount"`
	OnlyInSourceCount int      `json:"onlyInSourceCount"`
	IndexCount        int      `json:"indexCount"`
	SourceCount       int      `json:"sourceCount"`
}

// CompareIndex reconciles the current generation against the prison
// system. Index ids are streamed through a bounded channel while the source
// numbers are fetched, then merged in sorted order.
func (m *Manager) CompareIndex(ctx context.Context) (*Comparison, error) {
	st, err := m.status.Get(ctx)
	if err != nil {
		return nil, err
	}
	index := st.CurrentIndex(m.prefix)
	pageSize := m.cfg.ScrollPageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	g, gctx := errgroup.WithContext(ctx)
	ids := make(chan string, pageSize)
	g.Go(func() error {
		defer close(ids)
		return m.streamIndexIDs(gctx, index, pageSize, ids)
	})

	var cmp *Comparison
	g.Go(func() error {
		source, err := m.allSourceNumbers(gctx)
		if err != nil {
			return err
		}
		cmp = diffSorted(source, ids, m.cfg.CompareReportLimit)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("comparing %s: %w", index, err)
	}
	cmp.Index = index

	if m.metrics != nil {
		m.metrics.IndexDifferences.WithLabelValues("only_in_index").Set(float64(cmp.OnlyInIndexCount))
		m.metrics.IndexDifferences.WithLabelValues("only_in_source").Set(float64(cmp.OnlyInSourceCount))
	}
	m.logger.Info("index compared",
		"index", index,
		"only_in_index", cmp.OnlyInIndexCount,
		"only_in_source", cmp.OnlyInSourceCount,
	)
	m.reporter.Track(ctx, telemetry.IndexCompared, map[string]string{
		"index":        index,
		"onlyInIndex":  strconv.Itoa(cmp.OnlyInIndexCount),
		"onlyInSource": strconv.Itoa(cmp.OnlyInSourceCount),
	})
	return cmp, nil
}

func (m *Manager) streamIndexIDs(ctx context.Context, index string, pageSize int, out chan<- string) error {
	cur, err := m.store.Scroll(ctx, index, pageSize)
	if err != nil {
		return err
	}
	defer func() {
		if err := cur.Close(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("closing scroll failed", "index", index, "error", err)
		}
	}()
	for cur.Next(ctx) {
		select {
		case out <- cur.ID():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return cur.Err()
}

func (m *Manager) allSourceNumbers(ctx context.Context) ([]string, error) {
	var all []string
	for offset := 0; ; {
		page, err := m.source.ListAllExternalNumbers(ctx, offset, m.pageSize)
		if err != nil {
			return nil, fmt.Errorf("listing prisoner numbers at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < m.pageSize {
			break
		}
		offset += len(page)
	}
	sort.Strings(all)
	return all, nil
}

// diffSorted merges sorted source numbers with the ascending index stream.
// Duplicate source numbers, which offset paging over a changing source can
// return, count once. Each report list holds at most limit entries; limit
// <= 0 means unlimited.
func diffSorted(source []string, index <-chan string, limit int) *Comparison {
	source = slices.Compact(slices.Clone(source))
	cmp := &Comparison{OnlyInIndex: []string{}, OnlyInSource: []string{}, SourceCount: len(source)}
	addIndex := func(id string) {
		cmp.OnlyInIndexCount++
		if limit <= 0 || len(cmp.OnlyInIndex) < limit {
			cmp.OnlyInIndex = append(cmp.OnlyInIndex, id)
		}
	}
	addSource := func(id string) {
		cmp.OnlyInSourceCount++
		if limit <= 0 || len(cmp.OnlyInSource) < limit {
			cmp.OnlyInSource = append(cmp.OnlyInSource, id)
		}
	}

	i := 0
	for id := range index {
		cmp.IndexCount++
		for i < len(source) && source[i] < id {
			addSource(source[i])
			i++
		}
		if i < len(source) && source[i] == id {
			i++
			continue
		}
		addIndex(id)
	}
	for ; i < len(source); i++ {
		addSource(source[i])
	}
	return cmp
}
