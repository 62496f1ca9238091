package changedetect

import (
	"sort"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/diff"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/notify"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
)

// Movement type and reason codes used by the prison system.
const (
	movementAdmission = "ADM"
	movementRelease   = "REL"
	movementCourt     = "CRT"
	movementTemporary = "TAP"
	movementTransfer  = "TRN"
	reasonHospital    = "HP"
)

// movementEvents classifies a change of location or status into received or
// released notifications. A direct transfer between two prisons yields both.
func movementEvents(before, after *prisoner.Prisoner, changes diff.Result) []notify.Event {
	if before == nil || !(changes.Has(diff.Location) || changes.Has(diff.Status)) {
		return nil
	}
	number := after.PrisonerNumber
	wasIn, isIn := before.IsIn(), after.IsIn()

	switch {
	case !wasIn && isIn:
		return []notify.Event{notify.NewReceived(number, receptionReason(before, after), after.PrisonID)}
	case wasIn && !isIn:
		return []notify.Event{notify.NewReleased(number, releaseReason(after), before.PrisonID)}
	case wasIn && isIn && before.PrisonID != after.PrisonID:
		return []notify.Event{
			notify.NewReleased(number, notify.ReasonTransferred, before.PrisonID),
			notify.NewReceived(number, notify.ReasonTransferred, after.PrisonID),
		}
	}
	return nil
}

func receptionReason(before, after *prisoner.Prisoner) notify.Reason {
	switch after.LastMovementTypeCode {
	case movementCourt:
		return notify.ReasonReturnFromCourt
	case movementTemporary:
		return notify.ReasonTemporaryAbsenceReturn
	}
	switch {
	case before.PrisonID == prisoner.PrisonTransfer || before.InOutStatus == prisoner.InOutTransfer:
		return notify.ReasonTransferred
	case before.BookingID != after.BookingID:
		return notify.ReasonNewAdmission
	default:
		return notify.ReasonReadmission
	}
}

func releaseReason(after *prisoner.Prisoner) notify.Reason {
	if after.PrisonID == prisoner.PrisonTransfer || after.InOutStatus == prisoner.InOutTransfer {
		return notify.ReasonTransferred
	}
	switch after.LastMovementTypeCode {
	case movementCourt:
		return notify.ReasonSentToCourt
	case movementTemporary:
		return notify.ReasonTemporaryAbsenceRelease
	case movementTransfer:
		return notify.ReasonTransferred
	}
	if after.LastMovementReasonCode == reasonHospital || after.RestrictedPatient {
		return notify.ReasonReleasedToHospital
	}
	return notify.ReasonReleased
}

// alertEvents reports active alert codes added and removed.
func alertEvents(before, after *prisoner.Prisoner, changes diff.Result) []notify.Event {
	if before == nil || !changes.Has(diff.Alerts) {
		return nil
	}
	added, removed := setDifference(before.ActiveAlertCodes(), after.ActiveAlertCodes())
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return []notify.Event{notify.NewAlertsUpdated(after.PrisonerNumber, added, removed)}
}

func setDifference(before, after []string) (added, removed []string) {
	old := make(map[string]bool, len(before))
	for _, c := range before {
		old[c] = true
	}
	cur := make(map[string]bool, len(after))
	for _, c := range after {
		cur[c] = true
		if !old[c] {
			added = append(added, c)
		}
	}
	for c := range old {
		if !cur[c] {
			removed = append(removed, c)
		}
	}
	added = dedupe(added)
	sort.Strings(removed)
	return added, removed
}

func dedupe(codes []string) []string {
	sort.Strings(codes)
	out := codes[:0]
	for i, c := range codes {
		if i == 0 || codes[i-1] != c {
			out = append(out, c)
		}
	}
	return out
}
