package search

import (
	"context"
	"strings"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/query"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
)

// PhysicalRequest searches by physical description. Numeric bounds are
// inclusive. When Lenient is set descriptive attributes only boost the score
// instead of filtering.
type PhysicalRequest struct {
	PrisonIDs          []string                  `json:"prisonIds"`
	CellLocationPrefix string                    `json:"cellLocationPrefix,omitempty"`
	Gender             string                    `json:"gender,omitempty"`
	Ethnicity          string                    `json:"ethnicity,omitempty"`
	MinHeight          *int                      `json:"minHeight,omitempty"`
	MaxHeight          *int                      `json:"maxHeight,omitempty"`
	MinWeight          *int                      `json:"minWeight,omitempty"`
	MaxWeight          *int                      `json:"maxWeight,omitempty"`
	MinShoeSize        *int                      `json:"minShoeSize,omitempty"`
	MaxShoeSize        *int                      `json:"maxShoeSize,omitempty"`
	HairColour         string                    `json:"hairColour,omitempty"`
	RightEyeColour     string                    `json:"rightEyeColour,omitempty"`
	LeftEyeColour      string                    `json:"leftEyeColour,omitempty"`
	FacialHair         string                    `json:"facialHair,omitempty"`
	ShapeOfFace        string                    `json:"shapeOfFace,omitempty"`
	Build              string                    `json:"build,omitempty"`
	Tattoos            []prisoner.BodyPartDetail `json:"tattoos,omitempty"`
	Scars              []prisoner.BodyPartDetail `json:"scars,omitempty"`
	Marks              []prisoner.BodyPartDetail `json:"marks,omitempty"`
	Lenient            bool                      `json:"lenient,omitempty"`
	Pagination
}

func (r PhysicalRequest) validate() error {
	prisons := 0
	for _, id := range r.PrisonIDs {
		if !blank(id) {
			prisons++
		}
	}
	if prisons == 0 {
		return apperrors.Invalid("physical search requires at least one prison id")
	}
	if !blank(r.CellLocationPrefix) && prisons != 1 {
		return apperrors.Invalid("cellLocationPrefix requires exactly one prison id, got %d", prisons)
	}
	ranges := []struct {
		name     string
		min, max *int
	}{
		{"height", r.MinHeight, r.MaxHeight},
		{"weight", r.MinWeight, r.MaxWeight},
		{"shoe size", r.MinShoeSize, r.MaxShoeSize},
	}
	for _, rg := range ranges {
		if (rg.min != nil && *rg.min < 0) || (rg.max != nil && *rg.max < 0) {
			return apperrors.Invalid("%s bounds must not be negative", rg.name)
		}
		if rg.min != nil && rg.max != nil && *rg.min > *rg.max {
			return apperrors.Invalid("minimum %s %d is greater than maximum %d", rg.name, *rg.min, *rg.max)
		}
	}
	return nil
}

// Physical runs a physical-description search against index.
func (s *Service) Physical(ctx context.Context, index string, req PhysicalRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Pagination = s.page(req.Pagination)
	return s.run(ctx, TypePhysical, index, PhysicalQuery(req), req.Pagination, query.Score, query.SortField{Field: "prisonerNumber"}), nil
}

// PhysicalQuery builds the boolean query for req.
func PhysicalQuery(req PhysicalRequest) *query.BoolQuery {
	q := query.Bool()
	q.FilterIfPresent("prisonId", req.PrisonIDs)
	if prefix := strings.TrimSpace(req.CellLocationPrefix); prefix != "" {
		q.Filter(query.Prefix("cellLocation", strings.ToUpper(prefix)))
	}

	q.FilterRange("heightCentimetres", req.MinHeight, req.MaxHeight)
	q.FilterRange("weightKilograms", req.MinWeight, req.MaxWeight)
	q.FilterRange("shoeSize", req.MinShoeSize, req.MaxShoeSize)

	descriptive := map[string]string{
		"gender":         req.Gender,
		"ethnicity":      req.Ethnicity,
		"hairColour":     req.HairColour,
		"rightEyeColour": req.RightEyeColour,
		"leftEyeColour":  req.LeftEyeColour,
		"facialHair":     req.FacialHair,
		"shapeOfFace":    req.ShapeOfFace,
		"build":          req.Build,
	}
	for _, field := range descriptiveOrder {
		v := strings.TrimSpace(descriptive[field])
		if v == "" {
			continue
		}
		phrase := query.MatchPhrase(field, v)
		if req.Lenient {
			q.Should(phrase)
		} else {
			q.Filter(phrase)
		}
	}

	for _, group := range []struct {
		path  string
		parts []prisoner.BodyPartDetail
	}{{"tattoos", req.Tattoos}, {"scars", req.Scars}, {"marks", req.Marks}} {
		for _, part := range group.parts {
			clause := query.Bool().
				MustIfPresent(group.path+".bodyPart", part.BodyPart).
				MustIfPresent(group.path+".comment", part.Comment)
			if !clause.HasClauses() {
				continue
			}
			nested := query.Nested(group.path, clause).ScoreMode(query.ScoreModeMax)
			if req.Lenient {
				q.Should(nested)
			} else {
				q.Must(nested)
			}
		}
	}
	return q
}

// descriptiveOrder fixes clause order so query bodies are deterministic.
var descriptiveOrder = []string{
	"gender", "ethnicity", "hairColour", "rightEyeColour",
	"leftEyeColour", "facialHair", "shapeOfFace", "build",
}
