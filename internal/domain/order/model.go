package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a prescription order.
type Status string

const (
	StatusPendingVerification  Status = "pending_verification"
	StatusAwaitingVerification Status = "awaiting_verification"
	StatusAwaitingPayment      Status = "awaiting_payment"
	StatusPreparing            Status = "preparing"
	StatusOutForDelivery       Status = "out_for_delivery"
	StatusDelivered            Status = "delivered"
	StatusRejected             Status = "rejected"
)

// OCRStatus is the sub-state of the OCR extraction job attached to an order.
type OCRStatus string

const (
	OCRPending    OCRStatus = "pending"
	OCRProcessing OCRStatus = "processing"
	OCRCompleted  OCRStatus = "completed"
	OCRFailed     OCRStatus = "failed"
)

// Priority drives the pharmacist queue urgency filter.
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// Pharmacist decisions. Approved and rejected are terminal; edited records a
// details revision without deciding the order.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// RejectionReasons is the closed set of reasons a pharmacist may cite.
var RejectionReasons = map[string]bool{
	"illegible":                    true,
	"invalid_prescription":         true,
	"out_of_stock":                 true,
	"controlled_substance_refused": true,
	"expired_prescription":         true,
	"patient_request":              true,
	"other":                        true,
}

// Delivery events accepted from the delivery collaborator.
const (
	DeliveryEventPickedUp  = "picked_up"
	DeliveryEventDelivered = "delivered"
)

// MedicationDetails is the structured prescription content, either guessed
// from OCR output or entered/corrected by a human.
type MedicationDetails struct {
	Name              string  `json:"name"`
	Dosage            string  `json:"dosage"`
	Quantity          int     `json:"quantity,omitempty"`
	Instructions      *string `json:"instructions,omitempty"`
	RefillsAuthorized *int    `json:"refills_authorized,omitempty"`
	RefillsRemaining  *int    `json:"refills_remaining,omitempty"`
}

// OCRResult is the state of the extraction job for an order.
type OCRResult struct {
	Status        OCRStatus  `json:"status"`
	ExtractedText *string    `json:"extracted_text,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Error         *string    `json:"error,omitempty"`
}

// Verification records the patient-side review of extracted details.
type Verification struct {
	VerifiedBy uuid.UUID `json:"verified_by"`
	Notes      *string   `json:"notes,omitempty"`
	Skipped    bool      `json:"skipped"`
	VerifiedAt time.Time `json:"verified_at"`
}

// PharmacistReview records the terminal pharmacist decision on an order.
type PharmacistReview struct {
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Decision   string    `json:"decision"`
	Reason     *string   `json:"reason,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Order maps to the orders table.
type Order struct {
	ID           uuid.UUID          `json:"id"`
	Status       Status             `json:"status"`
	PatientID    uuid.UUID          `json:"patient_id"`
	PatientName  string             `json:"patient_name"`
	Priority     string             `json:"priority"`
	ImageRef     *string            `json:"image_ref,omitempty"`
	OCR          OCRResult          `json:"ocr"`
	Medication   *MedicationDetails `json:"medication_details,omitempty"`
	Verification *Verification      `json:"verification,omitempty"`
	Review       *PharmacistReview  `json:"pharmacist_review,omitempty"`
	Cost         *decimal.Decimal   `json:"cost,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Decided reports whether a terminal pharmacist decision has been recorded.
func (o *Order) Decided() bool {
	return o.Review != nil && (o.Review.Decision == DecisionApproved || o.Review.Decision == DecisionRejected)
}

// OCRTerminal reports whether the extraction job has finished one way or the other.
func (o *Order) OCRTerminal() bool {
	return o.OCR.Status == OCRCompleted || o.OCR.Status == OCRFailed
}

// AuditEntry maps to the append-only order_audit table.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
