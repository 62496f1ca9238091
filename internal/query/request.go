package query

// SortField orders results by a field.
type SortField struct {
	Field string
	Desc  bool
}

// Score sorts by relevance score, highest first.
var Score = SortField{Field: "_score", Desc: true}

// Request is a complete search body.
type Request struct {
	Query    Query
	From     int
	Size     int
	Sort     []SortField
	MinScore float64
}

// Body renders the request as the JSON body of a search call.
func (r Request) Body() map[string]any {
	q := r.Query
	if q == nil {
		q = MatchAll()
	}
	body := map[string]any{
		"query":            q.Source(),
		"from":             r.From,
		"size":             r.Size,
		"track_total_hits": true,
	}
	if len(r.Sort) > 0 {
		sorts := make([]any, len(r.Sort))
		for i, s := range r.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			sorts[i] = map[string]any{s.Field: map[string]any{"order": order}}
		}
		body["sort"] = sorts
	}
	if r.MinScore > 0 {
		body["min_score"] = r.MinScore
	}
	return body
}
