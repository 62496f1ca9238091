// Package identifier canonicalises the national identifiers carried on a
// prisoner record so that formatting variants compare equal.
//
// A PNC (police national computer) number has the shape
// <year>/<serial><check letter>, for example 2015/001234S. The year may be
// written with two or four digits and the serial may carry leading zeros.
// Two-digit years resolve to the current century unless that would put the
// year in the future, in which case the previous century is used.
package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	pncPattern      = regexp.MustCompile(`^(\d{2}|\d{4})/(\d+)([A-Za-z])$`)
	croPattern      = regexp.MustCompile(`^(?i:\d{1,6}/\d{2}[A-Z]|SF\d{2}/\d{1,6}[A-Z])$`)
	prisonerPattern = regexp.MustCompile(`^[A-Za-z]\d{4}[A-Za-z]{2}$`)
)

// clock is swapped in tests to pin the century pivot.
var clock = time.Now

// PNC is a parsed PNC number.
type PNC struct {
	Year   int // four-digit year
	Serial string
	Check  string
}

// Short renders YY/serial+letter.
func (p PNC) Short() string {
	return fmt.Sprintf("%02d/%s%s", p.Year%100, p.Serial, p.Check)
}

// Long renders YYYY/serial+letter.
func (p PNC) Long() string {
	return fmt.Sprintf("%04d/%s%s", p.Year, p.Serial, p.Check)
}

// ParsePNC parses raw, reporting false when it is not PNC shaped.
func ParsePNC(raw string) (PNC, bool) {
	m := pncPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return PNC{}, false
	}
	year, _ := strconv.Atoi(m[1])
	if len(m[1]) == 2 {
		year = expandYear(year, clock())
	}
	serial := strings.TrimLeft(m[2], "0")
	if serial == "" {
		serial = "0"
	}
	return PNC{Year: year, Serial: serial, Check: strings.ToUpper(m[3])}, true
}

func expandYear(yy int, now time.Time) int {
	century := now.Year() / 100 * 100
	if century+yy > now.Year() {
		return century - 100 + yy
	}
	return century + yy
}

// IsPNC reports whether raw is PNC shaped.
func IsPNC(raw string) bool {
	return pncPattern.MatchString(strings.TrimSpace(raw))
}

// CanonicalPNC returns the short canonical form of a PNC number, or raw
// unchanged when it is not PNC shaped.
func CanonicalPNC(raw string) string {
	p, ok := ParsePNC(raw)
	if !ok {
		return raw
	}
	return p.Short()
}

// CanonicalPNCShort is CanonicalPNC.
func CanonicalPNCShort(raw string) string { return CanonicalPNC(raw) }

// CanonicalPNCLong returns the four-digit-year canonical form, or raw
// unchanged when it is not PNC shaped.
func CanonicalPNCLong(raw string) string {
	p, ok := ParsePNC(raw)
	if !ok {
		return raw
	}
	return p.Long()
}

// CanonicalCRO upper-cases a CRO (criminal records office) number.
func CanonicalCRO(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsCRO reports whether raw is CRO shaped.
func IsCRO(raw string) bool {
	return croPattern.MatchString(strings.TrimSpace(raw))
}

// IsPrisonerNumber reports whether raw looks like a prisoner number, a
// letter, four digits and two letters (A1234BC).
func IsPrisonerNumber(raw string) bool {
	return prisonerPattern.MatchString(strings.TrimSpace(raw))
}

// IsIdentifier reports whether a free-text token should be treated as an
// identifier rather than a name.
func IsIdentifier(token string) bool {
	return IsPrisonerNumber(token) || IsPNC(token) || IsCRO(token)
}
