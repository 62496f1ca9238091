// Package query is a small builder for the document store's boolean query
// DSL. Every builder renders to the JSON shape OpenSearch expects via
// Source.
package query

// Query is anything that renders to a query DSL object.
type Query interface {
	Source() map[string]any
}

// Raw is a pre-built query object.
type Raw map[string]any

func (r Raw) Source() map[string]any { return r }

// MatchAll matches every document.
func MatchAll() Query { return Raw{"match_all": map[string]any{}} }

type MatchQuery struct {
	field     string
	value     any
	operator  string
	analyzer  string
	fuzziness string
	boost     float64
}

func Match(field string, value any) *MatchQuery {
	return &MatchQuery{field: field, value: value}
}

func (q *MatchQuery) Operator(op string) *MatchQuery { q.operator = op; return q }
func (q *MatchQuery) Analyzer(a string) *MatchQuery  { q.analyzer = a; return q }
func (q *MatchQuery) Fuzziness(f string) *MatchQuery { q.fuzziness = f; return q }
func (q *MatchQuery) Boost(b float64) *MatchQuery    { q.boost = b; return q }

func (q *MatchQuery) Source() map[string]any {
	body := map[string]any{"query": q.value}
	if q.operator != "" {
		body["operator"] = q.operator
	}
	if q.analyzer != "" {
		body["analyzer"] = q.analyzer
	}
	if q.fuzziness != "" {
		body["fuzziness"] = q.fuzziness
	}
	if q.boost != 0 {
		body["boost"] = q.boost
	}
	return map[string]any{"match": map[string]any{q.field: body}}
}

type TermQuery struct {
	field string
	value any
	boost float64
}

func Term(field string, value any) *TermQuery { return &TermQuery{field: field, value: value} }

func (q *TermQuery) Boost(b float64) *TermQuery { q.boost = b; return q }

func (q *TermQuery) Source() map[string]any {
	body := map[string]any{"value": q.value}
	if q.boost != 0 {
		body["boost"] = q.boost
	}
	return map[string]any{"term": map[string]any{q.field: body}}
}

// Terms matches any of values exactly.
func Terms(field string, values ...string) Query {
	return Raw{"terms": map[string]any{field: values}}
}

// Multi-match types.
const (
	BestFields   = "best_fields"
	CrossFields  = "cross_fields"
	Phrase       = "phrase"
	PhrasePrefix = "phrase_prefix"
)

type MultiMatchQuery struct {
	value     any
	fields    []string
	typ       string
	operator  string
	analyzer  string
	fuzziness string
	lenient   bool
	boost     float64
}

func MultiMatch(value any, fields ...string) *MultiMatchQuery {
	return &MultiMatchQuery{value: value, fields: fields}
}

func (q *MultiMatchQuery) Type(t string) *MultiMatchQuery      { q.typ = t; return q }
func (q *MultiMatchQuery) Operator(op string) *MultiMatchQuery { q.operator = op; return q }
func (q *MultiMatchQuery) Analyzer(a string) *MultiMatchQuery  { q.analyzer = a; return q }
func (q *MultiMatchQuery) Fuzziness(f string) *MultiMatchQuery { q.fuzziness = f; return q }
func (q *MultiMatchQuery) Lenient() *MultiMatchQuery           { q.lenient = true; return q }
func (q *MultiMatchQuery) Boost(b float64) *MultiMatchQuery    { q.boost = b; return q }

func (q *MultiMatchQuery) Source() map[string]any {
	body := map[string]any{"query": q.value, "fields": q.fields}
	if q.typ != "" {
		body["type"] = q.typ
	}
	if q.operator != "" {
		body["operator"] = q.operator
	}
	if q.analyzer != "" {
		body["analyzer"] = q.analyzer
	}
	if q.fuzziness != "" {
		body["fuzziness"] = q.fuzziness
	}
	if q.lenient {
		body["lenient"] = true
	}
	if q.boost != 0 {
		body["boost"] = q.boost
	}
	return map[string]any{"multi_match": body}
}

type MatchPhraseQuery struct {
	field string
	value string
	boost float64
}

func MatchPhrase(field, value string) *MatchPhraseQuery {
	return &MatchPhraseQuery{field: field, value: value}
}

func (q *MatchPhraseQuery) Boost(b float64) *MatchPhraseQuery { q.boost = b; return q }

func (q *MatchPhraseQuery) Source() map[string]any {
	body := map[string]any{"query": q.value}
	if q.boost != 0 {
		body["boost"] = q.boost
	}
	return map[string]any{"match_phrase": map[string]any{q.field: body}}
}

// PatternQuery covers prefix and wildcard queries.
type PatternQuery struct {
	kind            string
	field           string
	value           string
	caseInsensitive bool
	boost           float64
}

func Prefix(field, value string) *PatternQuery {
	return &PatternQuery{kind: "prefix", field: field, value: value}
}

func Wildcard(field, pattern string) *PatternQuery {
	return &PatternQuery{kind: "wildcard", field: field, value: pattern}
}

func (q *PatternQuery) CaseInsensitive() *PatternQuery { q.caseInsensitive = true; return q }
func (q *PatternQuery) Boost(b float64) *PatternQuery  { q.boost = b; return q }

func (q *PatternQuery) Source() map[string]any {
	body := map[string]any{"value": q.value}
	if q.caseInsensitive {
		body["case_insensitive"] = true
	}
	if q.boost != 0 {
		body["boost"] = q.boost
	}
	return map[string]any{q.kind: map[string]any{q.field: body}}
}

type RangeQuery struct {
	field    string
	gte, lte any
}

func Range(field string) *RangeQuery { return &RangeQuery{field: field} }

func (q *RangeQuery) Gte(v any) *RangeQuery { q.gte = v; return q }
func (q *RangeQuery) Lte(v any) *RangeQuery { q.lte = v; return q }

func (q *RangeQuery) Source() map[string]any {
	body := map[string]any{}
	if q.gte != nil {
		body["gte"] = q.gte
	}
	if q.lte != nil {
		body["lte"] = q.lte
	}
	return map[string]any{"range": map[string]any{q.field: body}}
}

// Score modes for nested queries.
const (
	ScoreModeMax = "max"
	ScoreModeAvg = "avg"
)

type NestedQuery struct {
	path      string
	query     Query
	scoreMode string
}

func Nested(path string, q Query) *NestedQuery {
	return &NestedQuery{path: path, query: q}
}

func (q *NestedQuery) ScoreMode(m string) *NestedQuery { q.scoreMode = m; return q }

func (q *NestedQuery) Source() map[string]any {
	body := map[string]any{"path": q.path, "query": q.query.Source()}
	if q.scoreMode != "" {
		body["score_mode"] = q.scoreMode
	}
	return map[string]any{"nested": body}
}
