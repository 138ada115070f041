package order

import (
	"github.com/rxflow/rxflow/internal/apperr"
)

// transitions is the legal status graph. A status absent from the map is
// terminal.
var transitions = map[Status][]Status{
	StatusPendingVerification:  {StatusAwaitingVerification},
	StatusAwaitingVerification: {StatusAwaitingPayment, StatusRejected},
	StatusAwaitingPayment:      {StatusPreparing},
	StatusPreparing:            {StatusOutForDelivery},
	StatusOutForDelivery:       {StatusDelivered},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates the from -> to edge plus the per-transition guards
// against the order's current data. It does not mutate anything; the actual
// write goes through the repository CAS so concurrent writers lose cleanly.
func CheckTransition(o *Order, to Status) error {
	if !CanTransition(o.Status, to) {
		return apperr.Conflict("cannot transition order from %s to %s", o.Status, to)
	}

	switch to {
	case StatusAwaitingVerification:
		// OCR must have finished, unless the patient explicitly skipped.
		if !o.OCRTerminal() && (o.Verification == nil || !o.Verification.Skipped) {
			return apperr.Conflict("OCR extraction still %s; confirm or skip first", o.OCR.Status)
		}
	case StatusAwaitingPayment:
		if o.Cost == nil || !o.Cost.IsPositive() {
			return apperr.Validation("cost", "a positive cost is required for approval")
		}
		if err := ValidateDetails(o.Medication); err != nil {
			return err
		}
	case StatusRejected:
		if o.Review == nil || o.Review.Reason == nil || !RejectionReasons[*o.Review.Reason] {
			return apperr.Validation("reason", "rejection requires a reason from the allowed set")
		}
	}

	return nil
}

// ValidateDetails checks that medication details are complete enough to price
// and dispense against.
func ValidateDetails(d *MedicationDetails) error {
	if d == nil {
		return apperr.Validation("medication_details", "medication details are required")
	}
	if d.Name == "" {
		return apperr.Validation("medication_details.name", "medication name is required")
	}
	if d.Dosage == "" {
		return apperr.Validation("medication_details.dosage", "dosage is required")
	}
	if d.Quantity <= 0 {
		return apperr.Validation("medication_details.quantity", "quantity must be positive")
	}
	if d.RefillsAuthorized != nil && *d.RefillsAuthorized < 0 {
		return apperr.Validation("medication_details.refills_authorized", "refills cannot be negative")
	}
	return nil
}
