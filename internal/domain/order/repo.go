package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SearchParams filters the pharmacist review queue.
type SearchParams struct {
	Status      Status
	Medication  string // substring match on medication name
	Urgency     string // exact match on priority
	Patient     string // substring match on patient name
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SortBy      string // whitelisted column
	SortOrder   string // asc|desc
}

// Repository persists orders and their append-only audit trail. Mutations that
// race concurrent requests are expressed as compare-and-swap operations:
// RowsAffected == 0 surfaces as a ConflictError so exactly one writer wins.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Order, int, error)

	// SetImageRef attaches an uploaded image while the order is still in
	// pending_verification.
	SetImageRef(ctx context.Context, id uuid.UUID, imageRef string) error

	// SetMedicationDetails overwrites the structured details (and optionally
	// verification state) without touching status.
	SetMedicationDetails(ctx context.Context, id uuid.UUID, d *MedicationDetails) error
	SetVerification(ctx context.Context, id uuid.UUID, v *Verification) error

	// CompareAndSwapStatus moves id from -> to; ConflictError when the order
	// is no longer in from.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	// BeginOCR claims the extraction job: ocr_status pending|failed ->
	// processing. ConflictError when another request already holds it or the
	// job is completed.
	BeginOCR(ctx context.Context, id uuid.UUID) error

	// CompleteOCR writes the terminal extraction result.
	CompleteOCR(ctx context.Context, id uuid.UUID, result OCRResult, guess *MedicationDetails) error

	// FailStaleOCR fails jobs stuck in processing longer than staleAfter and
	// returns how many were reaped.
	FailStaleOCR(ctx context.Context, staleAfter time.Duration) (int, error)

	// RecordDecision writes the single terminal pharmacist decision. The
	// write is guarded on no prior decision and status awaiting_verification;
	// ConflictError otherwise. cost and details apply only to approvals.
	RecordDecision(ctx context.Context, id uuid.UUID, review PharmacistReview, cost *decimal.Decimal, details *MedicationDetails) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, orderID uuid.UUID) ([]*AuditEntry, error)

	// InTx runs fn atomically: every repository call made with the context
	// passed to fn commits or rolls back as one unit.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
