package match

import (
	"strings"

	"cloud.google.com/go/civil"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/identifier"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
)

// Tier names which strategy produced a match. The values are part of the
// API contract.
type Tier string

const (
	AllSupplied           Tier = "ALL_SUPPLIED"
	AllSuppliedAlias      Tier = "ALL_SUPPLIED_ALIAS"
	HMPPSKey              Tier = "HMPPS_KEY"
	ExternalKey           Tier = "EXTERNAL_KEY"
	Name                  Tier = "NAME"
	PartialName           Tier = "PARTIAL_NAME"
	PartialNameDOBLenient Tier = "PARTIAL_NAME_DOB_LENIENT"
	Nothing               Tier = "NOTHING"
)

// Request carries whatever identifying data the caller has. Every field is
// optional.
type Request struct {
	FirstName   string      `json:"firstName,omitempty"`
	LastName    string      `json:"lastName,omitempty"`
	DateOfBirth *civil.Date `json:"dateOfBirth,omitempty"`
	NomsNumber  string      `json:"nomsNumber,omitempty"`
	PNCNumber   string      `json:"pncNumber,omitempty"`
	CRONumber   string      `json:"croNumber,omitempty"`
}

// criteria is a Request with blanks removed and identifiers canonicalised.
type criteria struct {
	firstName string
	lastName  string
	dob       *civil.Date
	noms      string
	pnc       string
	cro       string
}

func (r Request) normalise() criteria {
	c := criteria{
		firstName: strings.TrimSpace(r.FirstName),
		lastName:  strings.TrimSpace(r.LastName),
		noms:      strings.ToUpper(strings.TrimSpace(r.NomsNumber)),
		cro:       identifier.CanonicalCRO(r.CRONumber),
	}
	if r.DateOfBirth != nil && r.DateOfBirth.IsValid() {
		d := *r.DateOfBirth
		c.dob = &d
	}
	if pnc := strings.ToUpper(strings.TrimSpace(r.PNCNumber)); pnc != "" {
		c.pnc = identifier.CanonicalPNCShort(pnc)
	}
	return c
}

// supplied counts the criteria present.
func (c criteria) supplied() int {
	n := 0
	for _, s := range []string{c.firstName, c.lastName, c.noms, c.pnc, c.cro} {
		if s != "" {
			n++
		}
	}
	if c.dob != nil {
		n++
	}
	return n
}

func (c criteria) hasPersonalDetails() bool {
	return c.firstName != "" || c.lastName != "" || c.dob != nil
}

// Candidate is one matched prisoner.
type Candidate struct {
	Prisoner prisoner.Prisoner `json:"prisoner"`
}

// Result is the outcome of a match. MatchedBy is Nothing exactly when
// Matches is empty.
type Result struct {
	Matches   []Candidate `json:"matches"`
	MatchedBy Tier        `json:"matchedBy"`
}

// Found reports whether any strategy matched.
func (r *Result) Found() bool { return r.MatchedBy != Nothing }

func noMatch() *Result {
	return &Result{Matches: []Candidate{}, MatchedBy: Nothing}
}
