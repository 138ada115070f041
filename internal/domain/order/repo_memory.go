package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxflow/rxflow/internal/apperr"
)

// MemoryRepo is a thread-safe in-memory Repository with the same CAS
// semantics as the Postgres implementation. It backs tests and local
// development without a database.
type MemoryRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*Order
	audit  []AuditEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{orders: make(map[uuid.UUID]*Order)}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	if o.Medication != nil {
		m := *o.Medication
		cp.Medication = &m
	}
	if o.Verification != nil {
		v := *o.Verification
		cp.Verification = &v
	}
	if o.Review != nil {
		r := *o.Review
		cp.Review = &r
	}
	if o.Cost != nil {
		c := *o.Cost
		cp.Cost = &c
	}
	return &cp
}

func (r *MemoryRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id.String())
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepo) Search(_ context.Context, params SearchParams, limit, offset int) ([]*Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Order
	for _, o := range r.orders {
		if params.Status != "" && o.Status != params.Status {
			continue
		}
		if params.Medication != "" {
			if o.Medication == nil || !strings.Contains(strings.ToLower(o.Medication.Name), strings.ToLower(params.Medication)) {
				continue
			}
		}
		if params.Urgency != "" && o.Priority != params.Urgency {
			continue
		}
		if params.Patient != "" && !strings.Contains(strings.ToLower(o.PatientName), strings.ToLower(params.Patient)) {
			continue
		}
		if params.CreatedFrom != nil && o.CreatedAt.Before(*params.CreatedFrom) {
			continue
		}
		if params.CreatedTo != nil && o.CreatedAt.After(*params.CreatedTo) {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}

	asc := strings.EqualFold(params.SortOrder, "asc")
	sort.Slice(matched, func(i, j int) bool {
		less := orderLess(matched[i], matched[j], params.SortBy)
		if asc {
			return less
		}
		return !less
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func orderLess(a, b *Order, sortBy string) bool {
	switch sortBy {
	case "patient_name":
		return a.PatientName < b.PatientName
	case "priority":
		return a.Priority < b.Priority
	case "updated_at":
		return a.UpdatedAt.Before(b.UpdatedAt)
	case "medication":
		an, bn := "", ""
		if a.Medication != nil {
			an = a.Medication.Name
		}
		if b.Medication != nil {
			bn = b.Medication.Name
		}
		return an < bn
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func (r *MemoryRepo) SetImageRef(_ context.Context, id uuid.UUID, imageRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != StatusPendingVerification {
		return apperr.Conflict("order %s is no longer accepting prescription images", id)
	}
	o.ImageRef = &imageRef
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) SetMedicationDetails(_ context.Context, id uuid.UUID, d *MedicationDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperr.NotFound("order", id.String())
	}
	cp := *d
	o.Medication = &cp
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) SetVerification(_ context.Context, id uuid.UUID, v *Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperr.NotFound("order", id.String())
	}
	cp := *v
	o.Verification = &cp
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) CompareAndSwapStatus(_ context.Context, id uuid.UUID, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return apperr.Conflict("order %s is not in status %s", id, from)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) BeginOCR(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || (o.OCR.Status != OCRPending && o.OCR.Status != OCRFailed) {
		return apperr.Conflict("OCR extraction for order %s is already running or completed", id)
	}
	o.OCR.Status = OCRProcessing
	o.OCR.Error = nil
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) CompleteOCR(_ context.Context, id uuid.UUID, result OCRResult, guess *MedicationDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.OCR.Status != OCRProcessing {
		return apperr.Conflict("OCR job for order %s is no longer processing", id)
	}
	o.OCR = result
	if guess != nil {
		cp := *guess
		o.Medication = &cp
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) FailStaleOCR(_ context.Context, staleAfter time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	count := 0
	for _, o := range r.orders {
		if o.OCR.Status == OCRProcessing && o.UpdatedAt.Before(cutoff) {
			msg := "extraction timed out"
			o.OCR.Status = OCRFailed
			o.OCR.Error = &msg
			o.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepo) RecordDecision(_ context.Context, id uuid.UUID, review PharmacistReview, cost *decimal.Decimal, details *MedicationDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Review != nil || o.Status != StatusAwaitingVerification {
		return apperr.Conflict("order %s already has a decision or is not awaiting review", id)
	}
	cp := review
	o.Review = &cp
	if cost != nil {
		c := *cost
		o.Cost = &c
	}
	if details != nil {
		d := *details
		o.Medication = &d
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// InTx runs fn directly. Every MemoryRepo operation is atomic under the
// mutex, and the compare-and-swap guards make multi-step flows safe without
// a surrounding transaction.
func (r *MemoryRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *MemoryRepo) AppendAudit(_ context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()
	r.audit = append(r.audit, *entry)
	return nil
}

func (r *MemoryRepo) ListAudit(_ context.Context, orderID uuid.UUID) ([]*AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []*AuditEntry
	for i := range r.audit {
		if r.audit[i].OrderID == orderID {
			e := r.audit[i]
			entries = append(entries, &e)
		}
	}
	return entries, nil
}
