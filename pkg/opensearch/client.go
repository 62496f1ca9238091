// Package opensearch implements store.DocumentStore over the
// go-elasticsearch v8 client. The same REST surface is served by both
// Elasticsearch and OpenSearch clusters.
package opensearch

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
)

//go:embed mapping.json
var mapping []byte

const scrollKeepAlive = time.Minute

// Client wraps the Elasticsearch client with document-store operations.
type Client struct {
	es      *elasticsearch.Client
	refresh string
	logger  *slog.Logger
}

var _ store.DocumentStore = (*Client)(nil)

// New creates a client for the configured cluster.
func New(cfg config.OpenSearchConfig) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch: create client: %w", err)
	}
	return &Client{
		es:      es,
		refresh: cfg.Refresh,
		logger:  slog.Default().With("component", "opensearch"),
	}, nil
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) Search(ctx context.Context, index string, body map[string]any) (*store.Hits, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("opensearch: encode query: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("opensearch: search request: %w", err)
	}
	defer res.Body.Close()
	if err := responseError("search", index, res); err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("opensearch: decode search response: %w", err)
	}
	hits := &store.Hits{Total: sr.Hits.Total.Value, Hits: make([]store.Hit, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		hit := store.Hit{ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits.Hits = append(hits.Hits, hit)
	}
	return hits, nil
}

type getResponse struct {
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
	Error  json.RawMessage `json:"error"`
}

// Get returns nil without error when the document is absent. A 404 carrying
// an error object means the index itself is missing.
func (c *Client) Get(ctx context.Context, index, id string) (json.RawMessage, error) {
	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("opensearch: get request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return nil, responseError("get", index, res)
	}

	var gr getResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("opensearch: decode get response: %w", err)
	}
	if len(gr.Error) > 0 {
		return nil, fmt.Errorf("opensearch: get %s/%s: %w", index, id, store.ErrIndexNotFound)
	}
	if !gr.Found {
		return nil, nil
	}
	return gr.Source, nil
}

func (c *Client) Index(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("opensearch: marshal %s: %w", id, err)
	}
	opts := []func(*esapi.IndexRequest){
		c.es.Index.WithDocumentID(id),
		c.es.Index.WithContext(ctx),
	}
	if c.refresh != "" {
		opts = append(opts, c.es.Index.WithRefresh(c.refresh))
	}
	res, err := c.es.Index(index, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("opensearch: index request: %w", err)
	}
	defer res.Body.Close()
	return responseError("index", index, res)
}

func (c *Client) Delete(ctx context.Context, index, id string) error {
	opts := []func(*esapi.DeleteRequest){c.es.Delete.WithContext(ctx)}
	if c.refresh != "" {
		opts = append(opts, c.es.Delete.WithRefresh(c.refresh))
	}
	res, err := c.es.Delete(index, id, opts...)
	if err != nil {
		return fmt.Errorf("opensearch: delete request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	return responseError("delete", index, res)
}

func (c *Client) CreateIndex(ctx context.Context, index string) error {
	res, err := c.es.Indices.Create(
		index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("opensearch: create index request: %w", err)
	}
	defer res.Body.Close()
	if err := responseError("create index", index, res); err != nil {
		return err
	}
	c.logger.Info("index created", "index", index)
	return nil
}

func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	res, err := c.es.Indices.Delete(
		[]string{index},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("opensearch: delete index request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := responseError("delete index", index, res); err != nil {
		return err
	}
	c.logger.Info("index deleted", "index", index)
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("opensearch: ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch: ping [%s]", res.Status())
	}
	return nil
}

func responseError(op, index string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("opensearch: %s %s [%s]: %w", op, index, res.Status(), store.ErrIndexNotFound)
	}
	return fmt.Errorf("opensearch: %s %s [%s]: %s", op, index, res.Status(), body)
}
