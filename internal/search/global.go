package search

import (
	"context"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/identifier"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
)

// Location values accepted by global search.
const (
	LocationIn  = "IN"
	LocationOut = "OUT"
	LocationAll = "ALL"
)

// identifierFields are searched together when a global search carries an
// identifier.
var identifierFields = []string{
	"prisonerNumber", "pncNumber", "pncNumberCanonicalShort",
	"pncNumberCanonicalLong", "croNumber", "bookNumber",
}

// GlobalRequest searches across every establishment.
type GlobalRequest struct {
	PrisonerIdentifier string      `json:"prisonerIdentifier,omitempty"`
	FirstName          string      `json:"firstName,omitempty"`
	LastName           string      `json:"lastName,omitempty"`
	Gender             string      `json:"gender,omitempty"`
	Location           string      `json:"location,omitempty"`
	DateOfBirth        *civil.Date `json:"dateOfBirth,omitempty"`
	IncludeAliases     bool        `json:"includeAliases,omitempty"`
	Pagination
}

func (r GlobalRequest) validate() error {
	if blank(r.PrisonerIdentifier) && blank(r.FirstName) && blank(r.LastName) {
		return apperrors.Invalid("global search requires an identifier or a name")
	}
	return nil
}

// Global runs a global search against index. An identifier, when supplied,
// takes precedence over names.
func (s *Service) Global(ctx context.Context, index string, req GlobalRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Pagination = s.page(req.Pagination)
	if s.cache == nil {
		return s.global(ctx, index, req), nil
	}
	res, _, err := s.cache.GetOrCompute(ctx, index, TypeGlobal, req, func() (*Result, error) {
		return s.global(ctx, index, req), nil
	})
	if err != nil {
		return s.global(ctx, index, req), nil
	}
	return res, nil
}

func (s *Service) global(ctx context.Context, index string, req GlobalRequest) *Result {
	return s.run(ctx, TypeGlobal, index, GlobalQuery(req), req.Pagination, query.Score, query.SortField{Field: "prisonerNumber"})
}

// GlobalQuery builds the boolean query for req.
func GlobalQuery(req GlobalRequest) *query.BoolQuery {
	q := query.Bool()
	if id := strings.TrimSpace(req.PrisonerIdentifier); id != "" {
		q.MustMultiMatchExact(canonicalIdentifier(id), identifierFields...)
	} else {
		names := nameClauses("", req.FirstName, req.LastName, req.DateOfBirth, req.Gender)
		if req.IncludeAliases {
			aliases := nameClauses("aliases.", req.FirstName, req.LastName, req.DateOfBirth, req.Gender)
			q.Must(query.Bool().
				Should(names, query.Nested("aliases", aliases).ScoreMode(query.ScoreModeMax)).
				MinimumShouldMatch(1))
		} else {
			q.Must(names)
		}
	}

	switch strings.ToUpper(req.Location) {
	case LocationIn:
		q.MustNot(query.Match("prisonId", prisoner.PrisonOut))
	case LocationOut:
		q.Filter(query.Match("prisonId", prisoner.PrisonOut))
	}
	return q
}

func nameClauses(prefix, first, last string, dob *civil.Date, gender string) *query.BoolQuery {
	return query.Bool().
		MustIfPresent(prefix+"firstName", strings.TrimSpace(first)).
		MustIfPresent(prefix+"lastName", strings.TrimSpace(last)).
		MustIfPresent(prefix+"dateOfBirth", dob).
		MustIfPresent(prefix+"gender", strings.TrimSpace(gender))
}

// canonicalIdentifier uppercases id and, when it is shaped like a PNC,
// rewrites it to the canonical short form.
func canonicalIdentifier(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if identifier.IsPNC(id) {
		return identifier.CanonicalPNCShort(id)
	}
	return id
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
