package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/lifecycle"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/match"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/search"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/store"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
)

type fakeMaintainer struct {
	st          lifecycle.Status
	statusCalls int
	startOK     bool
	completeOK  bool
	cancelled   bool
}

func (f *fakeMaintainer) Status(context.Context) (lifecycle.Status, error) {
	f.statusCalls++
	return f.st, nil
}
func (f *fakeMaintainer) Prefix() string { return "prisoner-search" }
func (f *fakeMaintainer) Build(context.Context) (bool, error) {
	if f.startOK {
		f.st.InProgress = true
	}
	return f.startOK, nil
}
func (f *fakeMaintainer) Complete(context.Context) (bool, error) {
	if f.completeOK {
		f.st.InProgress = false
		f.st.Current = f.st.Current.Other()
	}
	return f.completeOK, nil
}
func (f *fakeMaintainer) Cancel(context.Context) error {
	f.cancelled = true
	f.st.InProgress, f.st.InError = false, false
	return nil
}
func (f *fakeMaintainer) CompareIndex(context.Context) (*lifecycle.Comparison, error) {
	return &lifecycle.Comparison{Index: "prisoner-search-a", OnlyInIndex: []string{"C"}, OnlyInSource: []string{"B"}}, nil
}

type fixture struct {
	mux   *http.ServeMux
	mem   *store.Memory
	maint *fakeMaintainer
	index []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:   store.NewMemory(),
		maint: &fakeMaintainer{st: lifecycle.Status{Current: lifecycle.GenerationB}},
	}
	f.mem.OnSearch = func(index string, _ map[string]any) (*store.Hits, error) {
		f.index = append(f.index, index)
		return &store.Hits{Total: 1, Hits: []store.Hit{{
			ID:     "A1234BC",
			Source: json.RawMessage(`{"prisonerNumber":"A1234BC","firstName":"JOHN","lastName":"SMITH","prisonId":"MDI"}`),
		}}}, nil
	}
	svc := search.NewService(f.mem, config.SearchConfig{DefaultPageSize: 10, MaxPageSize: 100})
	h := New(svc, match.NewEngine(f.mem, 10, nil), f.maint, nil, nil)
	f.mux = http.NewServeMux()
	h.Routes(f.mux)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestGlobalSearchUsesCurrentIndex(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/global-search", `{"lastName":"smith","page":0,"size":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(1), res.TotalElements)
	assert.Equal(t, 5, res.Size)
	assert.Equal(t, "A1234BC", res.Content[0].PrisonerNumber)
	assert.Equal(t, []string{"prisoner-search-b"}, f.index)
	assert.Equal(t, 1, f.maint.statusCalls)
}

func TestValidationErrorsAre400(t *testing.T) {
	f := newFixture(t)
	tests := []struct{ path, body string }{
		{"/global-search", `{}`},
		{"/keyword", `{"andWords":"smith"}`},
		{"/prisoner-detail", `{"firstName":"john"}`},
		{"/physical-detail", `{"prisonIds":["MDI"],"minHeight":190,"maxHeight":150}`},
		{"/match-prisoners", `{}`},
		{"/global-search", `not json`},
	}
	for _, tt := range tests {
		rec := f.do(http.MethodPost, tt.path, tt.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.path+" "+tt.body)
	}
	assert.Empty(t, f.index)
}

func TestMatchPrisoners(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/match-prisoners", `{"nomsNumber":"A1234BC"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res match.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, match.HMPPSKey, res.MatchedBy)
	require.Len(t, res.Matches, 1)
}

func TestPrisonSearchReadsQueryParameters(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/prison/MDI/prisoners?term=smith&alerts=XA,HA&size=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := json.Marshal(f.mem.Queries()[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"XA"`)
	assert.Contains(t, string(body), `"MDI"`)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/prison/MDI/prisoners?page=-1", "").Code)
}

func TestIndexMaintenance(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPut, "/maintain-index/build", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.maint.startOK = true
	rec = f.do(http.MethodPut, "/maintain-index/build", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"REBUILDING"`)

	rec = f.do(http.MethodPut, "/maintain-index/mark-complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.maint.completeOK = true
	rec = f.do(http.MethodPut, "/maintain-index/mark-complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"currentIndexName":"prisoner-search-a"`)

	rec = f.do(http.MethodPut, "/maintain-index/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.maint.cancelled)

	rec = f.do(http.MethodGet, "/maintain-index/compare", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"index":"prisoner-search-a","onlyInIndex":["C"],"onlyInSource":["B"],"onlyInIndexCount":0,"onlyInSourceCount":0,"indexCount":0,"sourceCount":0}`, rec.Body.String())
}

func TestCacheStatsDisabled(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/cache/stats", "")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
}
