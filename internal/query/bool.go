package query

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
)

// BoolQuery is the mutable compound query every search is built from.
type BoolQuery struct {
	must               []Query
	should             []Query
	filter             []Query
	mustNot            []Query
	minimumShouldMatch int
	boost              float64
}

func Bool() *BoolQuery { return &BoolQuery{} }

func (b *BoolQuery) Must(q ...Query) *BoolQuery    { b.must = append(b.must, q...); return b }
func (b *BoolQuery) Should(q ...Query) *BoolQuery  { b.should = append(b.should, q...); return b }
func (b *BoolQuery) Filter(q ...Query) *BoolQuery  { b.filter = append(b.filter, q...); return b }
func (b *BoolQuery) MustNot(q ...Query) *BoolQuery { b.mustNot = append(b.mustNot, q...); return b }
func (b *BoolQuery) Boost(v float64) *BoolQuery    { b.boost = v; return b }

func (b *BoolQuery) MinimumShouldMatch(n int) *BoolQuery {
	b.minimumShouldMatch = n
	return b
}

// HasClauses reports whether anything has been added. An empty bool query
// matches every document, so callers use this to refuse vacuous queries.
func (b *BoolQuery) HasClauses() bool {
	return len(b.must)+len(b.should)+len(b.filter)+len(b.mustNot) > 0
}

// HasScoringClauses reports whether a must or should clause exists.
func (b *BoolQuery) HasScoringClauses() bool {
	return len(b.must)+len(b.should) > 0
}

func (b *BoolQuery) Source() map[string]any {
	body := map[string]any{}
	add := func(key string, qs []Query) {
		if len(qs) == 0 {
			return
		}
		rendered := make([]any, len(qs))
		for i, q := range qs {
			rendered[i] = q.Source()
		}
		body[key] = rendered
	}
	add("must", b.must)
	add("should", b.should)
	add("filter", b.filter)
	add("must_not", b.mustNot)
	if b.minimumShouldMatch > 0 {
		body["minimum_should_match"] = b.minimumShouldMatch
	}
	if b.boost != 0 {
		body["boost"] = b.boost
	}
	return map[string]any{"bool": body}
}

// MustIfPresent adds an exact match on field when value is present.
func (b *BoolQuery) MustIfPresent(field string, value any) *BoolQuery {
	if v, ok := presentValue(value); ok {
		b.Must(Match(field, v))
	}
	return b
}

// ShouldIfPresent adds a scoring-only match on field when value is present.
func (b *BoolQuery) ShouldIfPresent(field string, value any) *BoolQuery {
	if v, ok := presentValue(value); ok {
		b.Should(Match(field, v))
	}
	return b
}

// MustNotIfPresent excludes documents matching value on field.
func (b *BoolQuery) MustNotIfPresent(field string, value any) *BoolQuery {
	if v, ok := presentValue(value); ok {
		b.MustNot(Match(field, v))
	}
	return b
}

// FilterIfPresent adds a non-scoring filter. A list of values becomes an OR
// of matches; blank entries are ignored.
func (b *BoolQuery) FilterIfPresent(field string, value any) *BoolQuery {
	if values, ok := value.([]string); ok {
		values = nonBlank(values)
		switch len(values) {
		case 0:
		case 1:
			b.Filter(Match(field, values[0]))
		default:
			b.Filter(anyOf(field, values))
		}
		return b
	}
	if v, ok := presentValue(value); ok {
		b.Filter(Match(field, v))
	}
	return b
}

// ShouldMultiMatch adds a scoring multi-field match when value is present.
func (b *BoolQuery) ShouldMultiMatch(value any, fields ...string) *BoolQuery {
	if v, ok := presentValue(value); ok {
		b.Should(MultiMatch(v, fields...))
	}
	return b
}

// MustMultiMatchExact requires value on at least one of fields using the
// keyword analyzer, so identifiers are compared whole and never tokenised
// into partial matches.
func (b *BoolQuery) MustMultiMatchExact(value any, fields ...string) *BoolQuery {
	if v, ok := presentValue(value); ok {
		b.Must(MultiMatch(v, fields...).Analyzer("keyword"))
	}
	return b
}

// MustMatchAnyOf requires at least one of values to match field.
func (b *BoolQuery) MustMatchAnyOf(field string, values []string) *BoolQuery {
	values = nonBlank(values)
	if len(values) > 0 {
		b.Must(anyOf(field, values))
	}
	return b
}

// FilterRange adds a range filter when either bound is set.
func (b *BoolQuery) FilterRange(field string, min, max *int) *BoolQuery {
	if min == nil && max == nil {
		return b
	}
	r := Range(field)
	if min != nil {
		r.Gte(*min)
	}
	if max != nil {
		r.Lte(*max)
	}
	b.Filter(r)
	return b
}

func anyOf(field string, values []string) Query {
	group := Bool().MinimumShouldMatch(1)
	for _, v := range values {
		group.Should(Match(field, v))
	}
	return group
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// presentValue normalises value for a query and reports whether it carries
// anything worth matching on.
func presentValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, false
		}
		return v, true
	case *string:
		if v == nil {
			return nil, false
		}
		return presentValue(*v)
	case []string:
		v = nonBlank(v)
		if len(v) == 0 {
			return nil, false
		}
		return strings.Join(v, " "), true
	case civil.Date:
		if v.IsZero() {
			return nil, false
		}
		return v.String(), true
	case *civil.Date:
		if v == nil {
			return nil, false
		}
		return presentValue(*v)
	case *int:
		if v == nil {
			return nil, false
		}
		return *v, true
	case int, int64, bool, float64:
		return v, true
	case fmt.Stringer:
		return presentValue(v.String())
	default:
		return v, true
	}
}
