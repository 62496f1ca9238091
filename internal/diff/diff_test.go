package diff

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
)

func sample() *prisoner.Prisoner {
	dob := civil.Date{Year: 1965, Month: 7, Day: 19}
	return &prisoner.Prisoner{
		PrisonerNumber: "A1234BC",
		FirstName:      "JOHN",
		LastName:       "SMITH",
		DateOfBirth:    &dob,
		PrisonID:       "MDI",
		Status:         prisoner.StatusActiveIn,
		InOutStatus:    prisoner.InOutIn,
		Alerts:         []prisoner.Alert{{AlertType: "X", AlertCode: "XA", Active: true}},
	}
}

func TestCompareIdentical(t *testing.T) {
	assert.True(t, Compare(sample(), sample()).Empty())
}

func TestCompareGroupsByCategory(t *testing.T) {
	before := sample()
	after := sample()
	after.PrisonID = "LEI"
	after.CellLocation = "A-1-001"
	after.LastName = "SMYTH"
	after.Alerts = append(after.Alerts, prisoner.Alert{AlertType: "H", AlertCode: "HA", Active: true})

	res := Compare(before, after)
	assert.Equal(t, []Category{Alerts, Location, PersonalDetails}, res.Categories())
	require.Len(t, res[Location], 2)
	assert.Equal(t, Change{Field: "prisonId", OldValue: "MDI", NewValue: "LEI"}, res[Location][0])
	assert.Equal(t, "cellLocation", res[Location][1].Field)
	assert.True(t, res.Has(PersonalDetails))
	assert.False(t, res.Has(Sentence))
}

func TestCompareIgnoresUntaggedFields(t *testing.T) {
	before := sample()
	after := sample()
	after.PNCNumberCanonicalLong = "2015/1234S"
	assert.True(t, Compare(before, after).Empty())
}

func TestCompareNilAndEmptySlicesAreEqual(t *testing.T) {
	before := sample()
	after := sample()
	before.Aliases = nil
	after.Aliases = []prisoner.Alias{}
	assert.True(t, Compare(before, after).Empty())
}

func TestCompareAgainstNothing(t *testing.T) {
	res := Compare(nil, sample())
	assert.True(t, res.Has(Identifiers))
	assert.True(t, res.Has(PersonalDetails))
}

func TestHashTracksChangeRelevantFields(t *testing.T) {
	a, err := Hash(sample())
	require.NoError(t, err)
	assert.Len(t, a, 64)

	same, err := Hash(sample())
	require.NoError(t, err)
	assert.Equal(t, a, same)

	untagged := sample()
	untagged.PNCNumberCanonicalShort = "15/1234S"
	h, err := Hash(untagged)
	require.NoError(t, err)
	assert.Equal(t, a, h)

	moved := sample()
	moved.PrisonID = "LEI"
	h, err = Hash(moved)
	require.NoError(t, err)
	assert.NotEqual(t, a, h)

	emptied := sample()
	emptied.Aliases = []prisoner.Alias{}
	h, err = Hash(emptied)
	require.NoError(t, err)
	assert.Equal(t, a, h)
}
