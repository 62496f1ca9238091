// Package diff compares two prisoner records field by field. Only fields
// carrying a `diff` struct tag are compared; the tag names the category the
// field belongs to.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
)

// Category groups related fields.
type Category string

const (
	Identifiers       Category = "IDENTIFIERS"
	PersonalDetails   Category = "PERSONAL_DETAILS"
	Alerts            Category = "ALERTS"
	Status            Category = "STATUS"
	Location          Category = "LOCATION"
	Sentence          Category = "SENTENCE"
	RestrictedPatient Category = "RESTRICTED_PATIENT"
	IncentiveLevel    Category = "INCENTIVE_LEVEL"
	PhysicalDetails   Category = "PHYSICAL_DETAILS"
)

// Change is one field whose value differs.
type Change struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// Result maps each changed category to its changed fields.
type Result map[Category][]Change

// Empty reports whether nothing changed.
func (r Result) Empty() bool { return len(r) == 0 }

// Categories returns the changed categories in sorted order.
func (r Result) Categories() []Category {
	out := make([]Category, 0, len(r))
	for c := range r {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether c changed.
func (r Result) Has(c Category) bool {
	_, ok := r[c]
	return ok
}

type field struct {
	index    int
	name     string
	category Category
}

// fields is computed once from the struct tags.
var fields = func() []field {
	t := reflect.TypeOf(prisoner.Prisoner{})
	out := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		cat, ok := sf.Tag.Lookup("diff")
		if !ok {
			continue
		}
		name := strings.Split(sf.Tag.Get("json"), ",")[0]
		if name == "" {
			name = sf.Name
		}
		out = append(out, field{index: i, name: name, category: Category(cat)})
	}
	return out
}()

// Compare returns the changes between before and after. A nil before is
// compared as an empty record. Nil and empty slices are treated as equal.
func Compare(before, after *prisoner.Prisoner) Result {
	if before == nil {
		before = &prisoner.Prisoner{}
	}
	if after == nil {
		after = &prisoner.Prisoner{}
	}
	bv := reflect.ValueOf(before).Elem()
	av := reflect.ValueOf(after).Elem()

	res := Result{}
	for _, f := range fields {
		old := bv.Field(f.index)
		cur := av.Field(f.index)
		if equal(old, cur) {
			continue
		}
		res[f.category] = append(res[f.category], Change{
			Field:    f.name,
			OldValue: old.Interface(),
			NewValue: cur.Interface(),
		})
	}
	return res
}

func equal(a, b reflect.Value) bool {
	if a.Kind() == reflect.Slice && a.Len() == 0 && b.Len() == 0 {
		return true
	}
	if a.Kind() == reflect.Pointer && (a.IsNil() || b.IsNil()) {
		return a.IsNil() == b.IsNil()
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

// Hash digests the change-relevant fields of p as hex SHA-256. Two records
// hash equal exactly when Compare finds no changes between them.
func Hash(p *prisoner.Prisoner) (string, error) {
	v := reflect.ValueOf(p).Elem()
	relevant := make(map[string]any, len(fields))
	for _, f := range fields {
		fv := v.Field(f.index)
		if fv.Kind() == reflect.Slice && fv.Len() == 0 {
			continue
		}
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			continue
		}
		if fv.IsZero() {
			continue
		}
		relevant[f.name] = fv.Interface()
	}
	// encoding/json writes map keys in sorted order.
	data, err := json.Marshal(relevant)
	if err != nil {
		return "", fmt.Errorf("hashing prisoner %s: %w", p.PrisonerNumber, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
