package search

import (
	"context"
	"strings"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/identifier"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
)

// establishmentSort orders in-establishment results alphabetically so a
// known person is easy to find.
var establishmentSort = []query.SortField{
	{Field: "lastName.keyword"},
	{Field: "firstName.keyword"},
	{Field: "prisonerNumber"},
}

// EstablishmentRequest finds people inside one establishment.
type EstablishmentRequest struct {
	PrisonID           string   `json:"prisonId"`
	Term               string   `json:"term,omitempty"`
	AlertCodes         []string `json:"alertCodes,omitempty"`
	CellLocationPrefix string   `json:"cellLocationPrefix,omitempty"`
	Pagination
}

// InEstablishment runs an in-establishment search against index.
func (s *Service) InEstablishment(ctx context.Context, index string, req EstablishmentRequest) (*Result, error) {
	if blank(req.PrisonID) {
		return nil, apperrors.Invalid("in-establishment search requires a prison id")
	}
	req.Pagination = s.page(req.Pagination)
	return s.run(ctx, TypeInEstablishment, index, EstablishmentQuery(req), req.Pagination, establishmentSort...), nil
}

// EstablishmentQuery builds the boolean query for req. A term containing a
// prisoner number short-circuits to an exact match on that number and the
// other words are ignored.
func EstablishmentQuery(req EstablishmentRequest) *query.BoolQuery {
	q := query.Bool().Filter(query.Term("prisonId", strings.ToUpper(strings.TrimSpace(req.PrisonID))))
	if prefix := strings.TrimSpace(req.CellLocationPrefix); prefix != "" {
		q.Filter(query.Prefix("cellLocation", strings.ToUpper(prefix)))
	}
	if codes := upperAll(req.AlertCodes); len(codes) > 0 {
		alerts := query.Bool().
			Filter(query.Terms("alerts.alertCode", codes...)).
			Filter(query.Term("alerts.active", true))
		q.Filter(query.Nested("alerts", alerts))
	}

	term := strings.TrimSpace(req.Term)
	if term == "" {
		return q
	}
	for _, w := range strings.Fields(term) {
		if identifier.IsPrisonerNumber(w) {
			return q.Must(query.Term("prisonerNumber", strings.ToUpper(w)))
		}
	}

	words := strings.Fields(strings.ToLower(term))
	prefixes := query.Bool()
	for _, w := range words {
		prefixes.Must(query.Bool().
			Should(query.Prefix("firstName", w), query.Prefix("lastName", w)).
			MinimumShouldMatch(1))
	}
	pattern := "*" + strings.Join(words, "*") + "*"

	q.Must(query.Bool().
		Should(
			query.MultiMatch(term, "firstName", "lastName").Type(query.CrossFields).Operator("and").Boost(10),
			prefixes.Boost(5),
			query.Wildcard("lastName.keyword", pattern).CaseInsensitive(),
			query.Wildcard("firstName.keyword", pattern).CaseInsensitive(),
		).
		MinimumShouldMatch(1))
	return q
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, strings.ToUpper(v))
		}
	}
	return out
}
