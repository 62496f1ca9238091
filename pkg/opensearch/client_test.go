package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{r.Method, r.URL.Path, r.URL.RawQuery, string(b)})
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(config.OpenSearchConfig{Addresses: []string{srv.URL}, Refresh: "wait_for"})
	require.NoError(t, err)
	return c, &calls
}

func TestSearchDecodesHits(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"hits":{"total":{"value":2},"hits":[
			{"_id":"A1234BC","_score":1.5,"_source":{"prisonerNumber":"A1234BC"}},
			{"_id":"B1234BC","_score":null,"_source":{"prisonerNumber":"B1234BC"}}]}}`)
	})

	hits, err := c.Search(context.Background(), "prisoner-search-a", map[string]any{"size": 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Total)
	require.Len(t, hits.Hits, 2)
	assert.Equal(t, 1.5, hits.Hits[0].Score)
	assert.Zero(t, hits.Hits[1].Score)
	assert.JSONEq(t, `{"prisonerNumber":"B1234BC"}`, string(hits.Hits[1].Source))

	require.Len(t, *calls, 1)
	assert.Equal(t, "/prisoner-search-a/_search", (*calls)[0].path)
	assert.JSONEq(t, `{"size":10}`, (*calls)[0].body)
}

func TestSearchErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"parsing_exception"}}`)
	})
	_, err := c.Search(context.Background(), "idx", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing_exception")
}

func TestGetMissingDocumentAndIndex(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		if strings.HasPrefix(r.URL.Path, "/missing") {
			_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception"},"status":404}`)
			return
		}
		_, _ = io.WriteString(w, `{"_index":"idx","_id":"A","found":false}`)
	})

	doc, err := c.Get(context.Background(), "idx", "A")
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = c.Get(context.Background(), "missing", "A")
	assert.ErrorIs(t, err, store.ErrIndexNotFound)
}

func TestGetFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"_id":"A","found":true,"_source":{"prisonerNumber":"A"}}`)
	})
	doc, err := c.Get(context.Background(), "idx", "A")
	require.NoError(t, err)
	assert.JSONEq(t, `{"prisonerNumber":"A"}`, string(doc))
}

func TestIndexAndDelete(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"result":"not_found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})

	require.NoError(t, c.Index(context.Background(), "idx", "A1234BC", map[string]string{"prisonerNumber": "A1234BC"}))
	require.NoError(t, c.Delete(context.Background(), "idx", "A1234BC"))

	require.Len(t, *calls, 2)
	assert.Equal(t, "/idx/_doc/A1234BC", (*calls)[0].path)
	assert.Contains(t, (*calls)[0].query, "refresh=wait_for")
	assert.Equal(t, http.MethodDelete, (*calls)[1].method)
}

func TestCreateIndexSendsMapping(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	})
	require.NoError(t, c.CreateIndex(context.Background(), "prisoner-search-b"))

	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodPut, (*calls)[0].method)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].body), &body))
	assert.Contains(t, body, "mappings")
}

func TestDeleteIndexIgnoresMissing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception"}}`)
	})
	assert.NoError(t, c.DeleteIndex(context.Background(), "prisoner-search-b"))
}

func TestScrollWalksPages(t *testing.T) {
	pages := []string{
		`{"_scroll_id":"s1","hits":{"total":{"value":3},"hits":[{"_id":"A"},{"_id":"B"}]}}`,
		`{"_scroll_id":"s2","hits":{"total":{"value":3},"hits":[{"_id":"C"}]}}`,
		`{"_scroll_id":"s3","hits":{"total":{"value":3},"hits":[]}}`,
	}
	var mu sync.Mutex
	n := 0
	cleared := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodDelete {
			cleared = true
			_, _ = io.WriteString(w, `{"succeeded":true}`)
			return
		}
		_, _ = io.WriteString(w, pages[n])
		n++
	})

	ctx := context.Background()
	cur, err := c.Scroll(ctx, "idx", 2)
	require.NoError(t, err)
	var ids []string
	for cur.Next(ctx) {
		ids = append(ids, cur.ID())
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))

	assert.Equal(t, []string{"A", "B", "C"}, ids)
	assert.True(t, cleared)
}
