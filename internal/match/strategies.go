package match

import (
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
)

var pncFields = []string{"pncNumberCanonicalShort", "pncNumberCanonicalLong"}

// strategy is one step of the cascade. applies guards build so that no
// strategy ever runs with its key inputs missing, which would otherwise
// degrade into a match-everything query.
type strategy struct {
	tier    Tier
	name    string
	applies func(criteria) bool
	build   func(criteria) query.Query
}

// cascade is ordered from strongest to weakest evidence.
var cascade = []strategy{
	{
		tier: AllSupplied, name: "all_supplied",
		applies: func(c criteria) bool { return c.supplied() >= 2 },
		build: func(c criteria) query.Query {
			return identifierClauses(c).
				MustIfPresent("firstName", c.firstName).
				MustIfPresent("lastName", c.lastName).
				MustIfPresent("dateOfBirth", c.dob)
		},
	},
	{
		tier: AllSuppliedAlias, name: "all_supplied_alias",
		applies: func(c criteria) bool { return c.supplied() >= 2 && c.hasPersonalDetails() },
		build: func(c criteria) query.Query {
			alias := query.Bool().
				MustIfPresent("aliases.firstName", c.firstName).
				MustIfPresent("aliases.lastName", c.lastName).
				MustIfPresent("aliases.dateOfBirth", c.dob)
			return identifierClauses(c).Must(query.Nested("aliases", alias).ScoreMode(query.ScoreModeMax))
		},
	},
	{
		tier: HMPPSKey, name: "noms_number",
		applies: func(c criteria) bool { return c.noms != "" },
		build: func(c criteria) query.Query {
			return query.Bool().Must(query.Term("prisonerNumber", c.noms))
		},
	},
	{
		tier: ExternalKey, name: "cro_number",
		applies: func(c criteria) bool { return c.cro != "" },
		build: func(c criteria) query.Query {
			return boosters(query.Bool().Must(query.Term("croNumber", c.cro)), c)
		},
	},
	{
		tier: ExternalKey, name: "pnc_number",
		applies: func(c criteria) bool { return c.pnc != "" },
		build: func(c criteria) query.Query {
			return boosters(query.Bool().MustMultiMatchExact(c.pnc, pncFields...), c)
		},
	},
	{
		tier: Name, name: "name",
		applies: func(c criteria) bool { return c.firstName != "" && c.lastName != "" },
		build: func(c criteria) query.Query {
			primary := query.Bool().
				MustIfPresent("firstName", c.firstName).
				MustIfPresent("lastName", c.lastName).
				MustIfPresent("dateOfBirth", c.dob)
			alias := query.Bool().
				MustIfPresent("aliases.firstName", c.firstName).
				MustIfPresent("aliases.lastName", c.lastName).
				MustIfPresent("aliases.dateOfBirth", c.dob)
			return query.Bool().
				Should(primary, query.Nested("aliases", alias).ScoreMode(query.ScoreModeMax)).
				MinimumShouldMatch(1)
		},
	},
	{
		tier: PartialName, name: "partial_name",
		applies: func(c criteria) bool { return c.lastName != "" && c.dob != nil },
		build: func(c criteria) query.Query {
			return query.Bool().
				MustIfPresent("lastName", c.lastName).
				MustIfPresent("dateOfBirth", c.dob)
		},
	},
	{
		tier: PartialNameDOBLenient, name: "partial_name_dob_lenient",
		applies: func(c criteria) bool { return c.firstName != "" && c.lastName != "" && c.dob != nil },
		build: func(c criteria) query.Query {
			dates := LenientDates(*c.dob)
			values := make([]string, len(dates))
			for i, d := range dates {
				values[i] = d.String()
			}
			firstName := query.Bool().
				Should(
					query.Match("firstName", c.firstName),
					query.Nested("aliases", query.Match("aliases.firstName", c.firstName)).ScoreMode(query.ScoreModeMax),
				).
				MinimumShouldMatch(1)
			return query.Bool().
				Must(firstName).
				MustIfPresent("lastName", c.lastName).
				MustMatchAnyOf("dateOfBirth", values)
		},
	},
}

// identifierClauses requires every supplied identifier to match exactly.
func identifierClauses(c criteria) *query.BoolQuery {
	q := query.Bool()
	if c.noms != "" {
		q.Must(query.Term("prisonerNumber", c.noms))
	}
	if c.cro != "" {
		q.Must(query.Term("croNumber", c.cro))
	}
	q.MustMultiMatchExact(c.pnc, pncFields...)
	return q
}

// boosters adds name and date of birth as score-only clauses.
func boosters(q *query.BoolQuery, c criteria) *query.BoolQuery {
	return q.
		ShouldIfPresent("firstName", c.firstName).
		ShouldIfPresent("lastName", c.lastName).
		ShouldIfPresent("dateOfBirth", c.dob)
}
