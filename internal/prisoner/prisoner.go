// Package prisoner defines the denormalised record held in the search index.
//
// Fields tagged with `diff:"<CATEGORY>"` are change relevant: they take part
// in field-level diffs and in the change hash. Untagged fields (derived or
// purely descriptive) never trigger a notification on their own.
package prisoner

import (
	"cloud.google.com/go/civil"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/identifier"
)

// Status values and the pseudo-prison used for people outside any
// establishment.
const (
	StatusActiveIn    = "ACTIVE IN"
	StatusActiveOut   = "ACTIVE OUT"
	StatusInactiveIn  = "INACTIVE IN"
	StatusInactiveOut = "INACTIVE OUT"
	InOutIn           = "IN"
	InOutOut          = "OUT"
	InOutTransfer     = "TRN"
	PrisonOut         = "OUT"
	PrisonTransfer    = "TRN"
)

// Prisoner is one offender's indexed snapshot.
type Prisoner struct {
	PrisonerNumber          string `json:"prisonerNumber" diff:"IDENTIFIERS"`
	PNCNumber               string `json:"pncNumber,omitempty" diff:"IDENTIFIERS"`
	PNCNumberCanonicalShort string `json:"pncNumberCanonicalShort,omitempty"`
	PNCNumberCanonicalLong  string `json:"pncNumberCanonicalLong,omitempty"`
	CRONumber               string `json:"croNumber,omitempty" diff:"IDENTIFIERS"`
	BookingID               string `json:"bookingId,omitempty" diff:"IDENTIFIERS"`
	BookNumber              string `json:"bookNumber,omitempty" diff:"IDENTIFIERS"`

	Title         string      `json:"title,omitempty" diff:"PERSONAL_DETAILS"`
	FirstName     string      `json:"firstName" diff:"PERSONAL_DETAILS"`
	MiddleNames   string      `json:"middleNames,omitempty" diff:"PERSONAL_DETAILS"`
	LastName      string      `json:"lastName" diff:"PERSONAL_DETAILS"`
	DateOfBirth   *civil.Date `json:"dateOfBirth,omitempty" diff:"PERSONAL_DETAILS"`
	Gender        string      `json:"gender,omitempty" diff:"PERSONAL_DETAILS"`
	Ethnicity     string      `json:"ethnicity,omitempty" diff:"PERSONAL_DETAILS"`
	Nationality   string      `json:"nationality,omitempty" diff:"PERSONAL_DETAILS"`
	Religion      string      `json:"religion,omitempty" diff:"PERSONAL_DETAILS"`
	MaritalStatus string      `json:"maritalStatus,omitempty" diff:"PERSONAL_DETAILS"`
	Aliases       []Alias     `json:"aliases,omitempty" diff:"PERSONAL_DETAILS"`

	Status                 string `json:"status,omitempty" diff:"STATUS"`
	InOutStatus            string `json:"inOutStatus,omitempty" diff:"STATUS"`
	LastMovementTypeCode   string `json:"lastMovementTypeCode,omitempty" diff:"STATUS"`
	LastMovementReasonCode string `json:"lastMovementReasonCode,omitempty" diff:"STATUS"`
	LegalStatus            string `json:"legalStatus,omitempty" diff:"STATUS"`
	Category               string `json:"category,omitempty" diff:"STATUS"`
	ImprisonmentStatus     string `json:"imprisonmentStatus,omitempty" diff:"STATUS"`

	PrisonID            string `json:"prisonId,omitempty" diff:"LOCATION"`
	PrisonName          string `json:"prisonName,omitempty" diff:"LOCATION"`
	CellLocation        string `json:"cellLocation,omitempty" diff:"LOCATION"`
	LocationDescription string `json:"locationDescription,omitempty" diff:"LOCATION"`
	LastPrisonID        string `json:"lastPrisonId,omitempty" diff:"LOCATION"`

	SentenceStartDate          *civil.Date `json:"sentenceStartDate,omitempty" diff:"SENTENCE"`
	ReleaseDate                *civil.Date `json:"releaseDate,omitempty" diff:"SENTENCE"`
	ConfirmedReleaseDate       *civil.Date `json:"confirmedReleaseDate,omitempty" diff:"SENTENCE"`
	SentenceExpiryDate         *civil.Date `json:"sentenceExpiryDate,omitempty" diff:"SENTENCE"`
	LicenceExpiryDate          *civil.Date `json:"licenceExpiryDate,omitempty" diff:"SENTENCE"`
	ConditionalReleaseDate     *civil.Date `json:"conditionalReleaseDate,omitempty" diff:"SENTENCE"`
	HomeDetentionCurfewDate    *civil.Date `json:"homeDetentionCurfewEligibilityDate,omitempty" diff:"SENTENCE"`
	ParoleEligibilityDate      *civil.Date `json:"paroleEligibilityDate,omitempty" diff:"SENTENCE"`
	TopupSupervisionExpiryDate *civil.Date `json:"topupSupervisionExpiryDate,omitempty" diff:"SENTENCE"`
	MostSeriousOffence         string      `json:"mostSeriousOffence,omitempty" diff:"SENTENCE"`
	Recall                     bool        `json:"recall,omitempty" diff:"SENTENCE"`
	IndeterminateSentence      bool        `json:"indeterminateSentence,omitempty" diff:"SENTENCE"`

	Alerts []Alert `json:"alerts,omitempty" diff:"ALERTS"`

	RestrictedPatient             bool        `json:"restrictedPatient,omitempty" diff:"RESTRICTED_PATIENT"`
	SupportingPrisonID            string      `json:"supportingPrisonId,omitempty" diff:"RESTRICTED_PATIENT"`
	DischargedHospitalID          string      `json:"dischargedHospitalId,omitempty" diff:"RESTRICTED_PATIENT"`
	DischargedHospitalDescription string      `json:"dischargedHospitalDescription,omitempty" diff:"RESTRICTED_PATIENT"`
	DischargeDate                 *civil.Date `json:"dischargeDate,omitempty" diff:"RESTRICTED_PATIENT"`
	DischargeDetails              string      `json:"dischargeDetails,omitempty" diff:"RESTRICTED_PATIENT"`

	CurrentIncentive *Incentive `json:"currentIncentive,omitempty" diff:"INCENTIVE_LEVEL"`

	HeightCentimetres *int             `json:"heightCentimetres,omitempty" diff:"PHYSICAL_DETAILS"`
	WeightKilograms   *int             `json:"weightKilograms,omitempty" diff:"PHYSICAL_DETAILS"`
	ShoeSize          *int             `json:"shoeSize,omitempty" diff:"PHYSICAL_DETAILS"`
	HairColour        string           `json:"hairColour,omitempty" diff:"PHYSICAL_DETAILS"`
	RightEyeColour    string           `json:"rightEyeColour,omitempty" diff:"PHYSICAL_DETAILS"`
	LeftEyeColour     string           `json:"leftEyeColour,omitempty" diff:"PHYSICAL_DETAILS"`
	FacialHair        string           `json:"facialHair,omitempty" diff:"PHYSICAL_DETAILS"`
	ShapeOfFace       string           `json:"shapeOfFace,omitempty" diff:"PHYSICAL_DETAILS"`
	Build             string           `json:"build,omitempty" diff:"PHYSICAL_DETAILS"`
	Tattoos           []BodyPartDetail `json:"tattoos,omitempty" diff:"PHYSICAL_DETAILS"`
	Scars             []BodyPartDetail `json:"scars,omitempty" diff:"PHYSICAL_DETAILS"`
	Marks             []BodyPartDetail `json:"marks,omitempty" diff:"PHYSICAL_DETAILS"`
}

// Alias is an alternative identity recorded against the prisoner.
type Alias struct {
	Title       string      `json:"title,omitempty"`
	FirstName   string      `json:"firstName"`
	MiddleNames string      `json:"middleNames,omitempty"`
	LastName    string      `json:"lastName"`
	DateOfBirth *civil.Date `json:"dateOfBirth,omitempty"`
	Gender      string      `json:"gender,omitempty"`
	Ethnicity   string      `json:"ethnicity,omitempty"`
}

// Alert is a flag raised against the prisoner, e.g. XA (arsonist).
type Alert struct {
	AlertType string `json:"alertType"`
	AlertCode string `json:"alertCode"`
	Active    bool   `json:"active"`
	Expired   bool   `json:"expired"`
}

// Incentive is the current IEP level.
type Incentive struct {
	Level          string      `json:"level"`
	DateTime       string      `json:"dateTime,omitempty"`
	NextReviewDate *civil.Date `json:"nextReviewDate,omitempty"`
}

// BodyPartDetail describes a tattoo, scar or mark.
type BodyPartDetail struct {
	BodyPart string `json:"bodyPart"`
	Comment  string `json:"comment,omitempty"`
}

// Canonicalize fills the derived identifier fields from the raw ones.
func (p *Prisoner) Canonicalize() {
	if p.PNCNumber == "" {
		p.PNCNumberCanonicalShort = ""
		p.PNCNumberCanonicalLong = ""
	} else if _, ok := identifier.ParsePNC(p.PNCNumber); ok {
		p.PNCNumberCanonicalShort = identifier.CanonicalPNCShort(p.PNCNumber)
		p.PNCNumberCanonicalLong = identifier.CanonicalPNCLong(p.PNCNumber)
	} else {
		p.PNCNumberCanonicalShort = p.PNCNumber
		p.PNCNumberCanonicalLong = p.PNCNumber
	}
	if p.CRONumber != "" {
		p.CRONumber = identifier.CanonicalCRO(p.CRONumber)
	}
}

// ActiveAlertCodes returns the codes of active, unexpired alerts.
func (p *Prisoner) ActiveAlertCodes() []string {
	codes := make([]string, 0, len(p.Alerts))
	for _, a := range p.Alerts {
		if a.Active && !a.Expired {
			codes = append(codes, a.AlertCode)
		}
	}
	return codes
}

// IsIn reports whether the prisoner is currently inside an establishment.
func (p *Prisoner) IsIn() bool {
	return p.InOutStatus == InOutIn
}
