package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
)

// Scroll opens a scroll over every prisoner number in index, sorted
// ascending. Only ids are fetched.
func (c *Client) Scroll(ctx context.Context, index string, pageSize int) (store.IDCursor, error) {
	body := map[string]any{
		"size":    pageSize,
		"_source": false,
		"query":   map[string]any{"match_all": map[string]any{}},
		"sort":    []any{map[string]any{"prisonerNumber": "asc"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("opensearch: encode scroll: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithScroll(scrollKeepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("opensearch: scroll request: %w", err)
	}
	cur := &cursor{client: c, index: index}
	if err := cur.load(res); err != nil {
		return nil, err
	}
	return cur, nil
}

type cursor struct {
	client   *Client
	index    string
	scrollID string
	page     []string
	pos      int
	done     bool
	err      error
}

func (c *cursor) load(res *esapi.Response) error {
	defer res.Body.Close()
	if err := responseError("scroll", c.index, res); err != nil {
		return err
	}
	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return fmt.Errorf("opensearch: decode scroll page: %w", err)
	}
	if sr.ScrollID != "" {
		c.scrollID = sr.ScrollID
	}
	c.page = c.page[:0]
	for _, h := range sr.Hits.Hits {
		c.page = append(c.page, h.ID)
	}
	c.pos = -1
	c.done = len(c.page) == 0
	return nil
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || c.done {
		return false
	}
	if c.pos+1 < len(c.page) {
		c.pos++
		return true
	}
	es := c.client.es
	res, err := es.Scroll(
		es.Scroll.WithContext(ctx),
		es.Scroll.WithScrollID(c.scrollID),
		es.Scroll.WithScroll(scrollKeepAlive),
	)
	if err != nil {
		c.err = fmt.Errorf("opensearch: scroll next: %w", err)
		return false
	}
	if err := c.load(res); err != nil {
		c.err = err
		return false
	}
	if c.done {
		return false
	}
	c.pos = 0
	return true
}

func (c *cursor) ID() string {
	if c.pos < 0 || c.pos >= len(c.page) {
		return ""
	}
	return c.page[c.pos]
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(ctx context.Context) error {
	if c.scrollID == "" {
		return nil
	}
	es := c.client.es
	res, err := es.ClearScroll(
		es.ClearScroll.WithContext(ctx),
		es.ClearScroll.WithScrollID(c.scrollID),
	)
	if err != nil {
		return fmt.Errorf("opensearch: clear scroll: %w", err)
	}
	defer res.Body.Close()
	c.scrollID = ""
	return nil
}
