package search

import (
	"context"
	"strings"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/identifier"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
)

// Boost weights for detailed-field search.
const (
	boostExact         = 10
	boostWildcard      = 5
	boostAliasExact    = 4
	boostAliasWildcard = 2
)

// DetailRequest matches individual fields exactly or by wildcard pattern
// (containing * or ?).
type DetailRequest struct {
	FirstName      string   `json:"firstName,omitempty"`
	LastName       string   `json:"lastName,omitempty"`
	PrisonerNumber string   `json:"nomsNumber,omitempty"`
	PNCNumber      string   `json:"pncNumber,omitempty"`
	CRONumber      string   `json:"croNumber,omitempty"`
	PrisonIDs      []string `json:"prisonIds"`
	IncludeAliases bool     `json:"includeAliases,omitempty"`
	Pagination
}

func (r DetailRequest) validate() error {
	for _, id := range r.PrisonIDs {
		if !blank(id) {
			return nil
		}
	}
	return apperrors.Invalid("detail search requires at least one prison id")
}

// Detail runs a detailed-field search against index. A request with no
// criteria matches everyone in the filtered establishments.
func (s *Service) Detail(ctx context.Context, index string, req DetailRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Pagination = s.page(req.Pagination)
	return s.run(ctx, TypeDetail, index, DetailQuery(req), req.Pagination, query.Score, query.SortField{Field: "prisonerNumber"}), nil
}

// DetailQuery builds the boolean query for req.
func DetailQuery(req DetailRequest) *query.BoolQuery {
	q := query.Bool()

	if v := strings.TrimSpace(req.PrisonerNumber); v != "" {
		q.Must(fieldClause("prisonerNumber", strings.ToUpper(v), false, false))
	}
	if v := strings.TrimSpace(req.PNCNumber); v != "" {
		if isPattern(v) {
			q.Must(query.Wildcard("pncNumber", strings.ToUpper(v)).CaseInsensitive())
		} else {
			q.MustMultiMatchExact(canonicalIdentifier(v), "pncNumberCanonicalShort", "pncNumberCanonicalLong")
		}
	}
	if v := strings.TrimSpace(req.CRONumber); v != "" {
		q.Must(fieldClause("croNumber", identifier.CanonicalCRO(v), false, false))
	}
	if v := strings.TrimSpace(req.FirstName); v != "" {
		q.Must(fieldClause("firstName", v, true, req.IncludeAliases))
	}
	if v := strings.TrimSpace(req.LastName); v != "" {
		q.Must(fieldClause("lastName", v, true, req.IncludeAliases))
	}

	q.FilterIfPresent("prisonId", req.PrisonIDs)
	return q
}

// fieldClause matches value against field, exactly or as a wildcard, and
// optionally against the same alias field at a lower weight. Name fields are
// patterned against their keyword sub-field.
func fieldClause(field, value string, name, aliases bool) query.Query {
	clause := query.Bool().MinimumShouldMatch(1)
	clause.Should(patternOrExact(field, value, name, boostExact, boostWildcard))
	if aliases {
		alias := patternOrExact("aliases."+field, value, name, boostAliasExact, boostAliasWildcard)
		clause.Should(query.Nested("aliases", alias).ScoreMode(query.ScoreModeMax))
	}
	return clause
}

func patternOrExact(field, value string, name bool, exact, wildcard float64) query.Query {
	if isPattern(value) {
		target := field
		if name {
			target += ".keyword"
		}
		return query.Wildcard(target, value).CaseInsensitive().Boost(wildcard)
	}
	if name {
		return query.Match(field, value).Operator("and").Boost(exact)
	}
	return query.Term(field, value).Boost(exact)
}

func isPattern(v string) bool {
	return strings.ContainsAny(v, "*?")
}
