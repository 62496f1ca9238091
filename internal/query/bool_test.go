package query

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, q Query) string {
	t.Helper()
	b, err := json.Marshal(q.Source())
	require.NoError(t, err)
	return string(b)
}

func TestCombinatorsAreNoOpsOnAbsentInput(t *testing.T) {
	var nilDate *civil.Date
	var nilString *string
	b := Bool().
		MustIfPresent("firstName", "").
		MustIfPresent("lastName", "   ").
		MustIfPresent("dateOfBirth", nilDate).
		MustIfPresent("dateOfBirth", civil.Date{}).
		MustIfPresent("croNumber", nilString).
		FilterIfPresent("prisonId", []string{}).
		FilterIfPresent("prisonId", []string{" ", ""}).
		ShouldMultiMatch("", "a", "b").
		MustMultiMatchExact(nil, "pncNumber").
		MustMatchAnyOf("alerts.alertCode", nil).
		FilterRange("heightCentimetres", nil, nil)

	assert.False(t, b.HasClauses())
	assert.JSONEq(t, `{"bool":{}}`, render(t, b))
}

func TestMustIfPresent(t *testing.T) {
	dob := civil.Date{Year: 1965, Month: 7, Day: 19}
	b := Bool().MustIfPresent("lastName", "smith").MustIfPresent("dateOfBirth", &dob)

	assert.JSONEq(t, `{"bool":{"must":[
		{"match":{"lastName":{"query":"smith"}}},
		{"match":{"dateOfBirth":{"query":"1965-07-19"}}}
	]}}`, render(t, b))
}

func TestFilterIfPresentExpandsLists(t *testing.T) {
	single := Bool().FilterIfPresent("prisonId", []string{"MDI"})
	assert.JSONEq(t, `{"bool":{"filter":[{"match":{"prisonId":{"query":"MDI"}}}]}}`, render(t, single))

	many := Bool().FilterIfPresent("prisonId", []string{"MDI", "", "LEI"})
	assert.JSONEq(t, `{"bool":{"filter":[{"bool":{
		"should":[{"match":{"prisonId":{"query":"MDI"}}},{"match":{"prisonId":{"query":"LEI"}}}],
		"minimum_should_match":1}}]}}`, render(t, many))
}

func TestMustMultiMatchExactUsesKeywordAnalyzer(t *testing.T) {
	b := Bool().MustMultiMatchExact("15/1234S", "pncNumber", "pncNumberCanonicalShort")
	assert.JSONEq(t, `{"bool":{"must":[{"multi_match":{
		"query":"15/1234S","fields":["pncNumber","pncNumberCanonicalShort"],"analyzer":"keyword"}}]}}`, render(t, b))
}

func TestMustMatchAnyOf(t *testing.T) {
	b := Bool().MustMatchAnyOf("alerts.alertCode", []string{"XA", "HA"})
	assert.JSONEq(t, `{"bool":{"must":[{"bool":{
		"should":[{"match":{"alerts.alertCode":{"query":"XA"}}},{"match":{"alerts.alertCode":{"query":"HA"}}}],
		"minimum_should_match":1}}]}}`, render(t, b))
}

func TestFilterRange(t *testing.T) {
	min, max := 150, 190
	b := Bool().FilterRange("heightCentimetres", &min, &max).FilterRange("weightKilograms", nil, &max)
	assert.JSONEq(t, `{"bool":{"filter":[
		{"range":{"heightCentimetres":{"gte":150,"lte":190}}},
		{"range":{"weightKilograms":{"lte":190}}}
	]}}`, render(t, b))
}

func TestNestedAndRequestBody(t *testing.T) {
	alias := Nested("aliases", Bool().MustIfPresent("aliases.lastName", "smith")).ScoreMode(ScoreModeMax)
	req := Request{
		Query: Bool().Should(alias).MinimumShouldMatch(1),
		From:  20,
		Size:  10,
		Sort:  []SortField{Score, {Field: "prisonerNumber"}},
	}
	b, err := json.Marshal(req.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query":{"bool":{"should":[{"nested":{"path":"aliases","score_mode":"max",
			"query":{"bool":{"must":[{"match":{"aliases.lastName":{"query":"smith"}}}]}}}}],
			"minimum_should_match":1}},
		"from":20,"size":10,"track_total_hits":true,
		"sort":[{"_score":{"order":"desc"}},{"prisonerNumber":{"order":"asc"}}]
	}`, string(b))
}

func TestRequestDefaultsToMatchAll(t *testing.T) {
	b, err := json.Marshal(Request{Size: 5}.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match_all":{}},"from":0,"size":5,"track_total_hits":true}`, string(b))
}

func TestMultiMatchFuzziness(t *testing.T) {
	src := MultiMatch("smyth", "lastName").Fuzziness("AUTO").Source()
	assert.Equal(t, map[string]any{"multi_match": map[string]any{
		"query":     "smyth",
		"fields":    []string{"lastName"},
		"fuzziness": "AUTO",
	}}, src)
}
