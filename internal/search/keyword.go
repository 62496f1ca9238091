package search

import (
	"context"
	"strings"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/identifier"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
)

// keywordFields are the boosted fields a keyword token is matched against.
// Identifier and name hits outrank free text.
var keywordFields = []string{
	"prisonerNumber^10",
	"pncNumberCanonicalShort^10",
	"pncNumberCanonicalLong^10",
	"croNumber^10",
	"bookNumber^8",
	"bookingId^8",
	"lastName^5",
	"firstName^5",
	"middleNames^2",
	"prisonName",
	"locationDescription",
	"mostSeriousOffence",
	"cellLocation",
	"status",
	"legalStatus",
	"nationality",
	"religion",
}

var keywordAliasFields = []string{
	"aliases.lastName^2",
	"aliases.firstName^2",
	"aliases.middleNames",
}

// KeywordRequest is a free-text search restricted to a set of
// establishments.
type KeywordRequest struct {
	AndWords    string   `json:"andWords,omitempty"`
	OrWords     string   `json:"orWords,omitempty"`
	NotWords    string   `json:"notWords,omitempty"`
	ExactPhrase string   `json:"exactPhrase,omitempty"`
	PrisonIDs   []string `json:"prisonIds"`
	FuzzyMatch  bool     `json:"fuzzyMatch,omitempty"`
	Pagination
}

func (r KeywordRequest) validate() error {
	for _, id := range r.PrisonIDs {
		if !blank(id) {
			return nil
		}
	}
	return apperrors.Invalid("keyword search requires at least one prison id")
}

// Keyword runs a keyword search against index.
func (s *Service) Keyword(ctx context.Context, index string, req KeywordRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Pagination = s.page(req.Pagination)
	return s.run(ctx, TypeKeyword, index, KeywordQuery(req), req.Pagination, query.Score, query.SortField{Field: "prisonerNumber"}), nil
}

// KeywordQuery builds the boolean query for req.
func KeywordQuery(req KeywordRequest) *query.BoolQuery {
	q := query.Bool()

	if and := tokens(req.AndWords); len(and) > 0 {
		q.Must(keywordClause(strings.Join(and, " "), "and", query.CrossFields, req.FuzzyMatch))
	}
	if or := tokens(req.OrWords); len(or) > 0 {
		q.Must(keywordClause(strings.Join(or, " "), "or", query.BestFields, req.FuzzyMatch))
	}
	if phrase := strings.TrimSpace(req.ExactPhrase); phrase != "" {
		q.Must(query.MultiMatch(normaliseToken(phrase), keywordFields...).Type(query.Phrase).Lenient())
	}
	for _, t := range tokens(req.NotWords) {
		q.MustNot(query.MultiMatch(t, keywordFields...).Lenient())
	}

	q.FilterIfPresent("prisonId", req.PrisonIDs)
	return q
}

func keywordClause(text, operator, typ string, fuzzy bool) query.Query {
	primary := query.MultiMatch(text, keywordFields...).Type(typ).Operator(operator).Lenient()
	alias := query.MultiMatch(text, keywordAliasFields...).Type(typ).Operator(operator).Lenient()
	clause := query.Bool().
		Should(primary, query.Nested("aliases", alias).ScoreMode(query.ScoreModeMax)).
		MinimumShouldMatch(1)
	if fuzzy {
		clause.Should(query.MultiMatch(text, "firstName", "lastName").
			Operator(operator).Fuzziness("AUTO").Lenient().Boost(0.5))
	}
	return clause
}

// tokens splits text on whitespace and normalises each token's case.
func tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, normaliseToken(f))
	}
	return out
}

// normaliseToken uppercases identifier-shaped tokens, which are indexed as
// case-sensitive keywords, and lowercases everything else.
func normaliseToken(t string) string {
	if identifier.IsIdentifier(t) {
		if identifier.IsPNC(t) {
			return identifier.CanonicalPNCShort(t)
		}
		return strings.ToUpper(t)
	}
	return strings.ToLower(t)
}
