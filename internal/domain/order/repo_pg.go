package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// InTx opens a transaction and stores it on the context so that conn routes
// every repository call inside fn through it.
func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, status, patient_id, patient_name, priority, image_ref,
	ocr_status, ocr_text, ocr_confidence, ocr_processed_at, ocr_error,
	med_name, med_dosage, med_quantity, med_instructions,
	med_refills_authorized, med_refills_remaining,
	verified_by, verification_notes, verification_skipped, verified_at,
	reviewer_id, review_decision, review_reason, review_notes, reviewed_at,
	cost::text, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o           Order
		medName     *string
		medDosage   *string
		medQty      *int
		medInstr    *string
		refillsAuth *int
		refillsRem  *int
		verifiedBy  *uuid.UUID
		verifNotes  *string
		verifSkip   *bool
		verifiedAt  *time.Time
		reviewerID  *uuid.UUID
		decision    *string
		reason      *string
		revNotes    *string
		reviewedAt  *time.Time
		costStr     *string
	)

	err := row.Scan(&o.ID, &o.Status, &o.PatientID, &o.PatientName, &o.Priority, &o.ImageRef,
		&o.OCR.Status, &o.OCR.ExtractedText, &o.OCR.Confidence, &o.OCR.ProcessedAt, &o.OCR.Error,
		&medName, &medDosage, &medQty, &medInstr,
		&refillsAuth, &refillsRem,
		&verifiedBy, &verifNotes, &verifSkip, &verifiedAt,
		&reviewerID, &decision, &reason, &revNotes, &reviewedAt,
		&costStr, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if medName != nil {
		qty := 0
		if medQty != nil {
			qty = *medQty
		}
		o.Medication = &MedicationDetails{
			Name:              *medName,
			Dosage:            deref(medDosage),
			Quantity:          qty,
			Instructions:      medInstr,
			RefillsAuthorized: refillsAuth,
			RefillsRemaining:  refillsRem,
		}
	}
	if verifiedBy != nil && verifiedAt != nil {
		skipped := verifSkip != nil && *verifSkip
		o.Verification = &Verification{
			VerifiedBy: *verifiedBy,
			Notes:      verifNotes,
			Skipped:    skipped,
			VerifiedAt: *verifiedAt,
		}
	}
	if reviewerID != nil && decision != nil && reviewedAt != nil {
		o.Review = &PharmacistReview{
			ReviewerID: *reviewerID,
			Decision:   *decision,
			Reason:     reason,
			Notes:      revNotes,
			ReviewedAt: *reviewedAt,
		}
	}
	if costStr != nil {
		c, err := decimal.NewFromString(*costStr)
		if err != nil {
			return nil, fmt.Errorf("parse cost %q: %w", *costStr, err)
		}
		o.Cost = &c
	}

	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func costArg(c *decimal.Decimal) *string {
	if c == nil {
		return nil
	}
	s := c.String()
	return &s
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO orders (id, status, patient_id, patient_name, priority, image_ref, ocr_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Status, o.PatientID, o.PatientName, o.Priority, o.ImageRef, o.OCR.Status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// sortColumns whitelists sortable columns for the review queue. Anything else
// falls back to created_at.
var sortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"patient_name": "patient_name",
	"priority":     "priority",
	"medication":   "med_name",
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Order, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Status != "" {
		where = append(where, "status = "+arg(params.Status))
	}
	if params.Medication != "" {
		where = append(where, "med_name ILIKE "+arg("%"+params.Medication+"%"))
	}
	if params.Urgency != "" {
		where = append(where, "priority = "+arg(params.Urgency))
	}
	if params.Patient != "" {
		where = append(where, "patient_name ILIKE "+arg("%"+params.Patient+"%"))
	}
	if params.CreatedFrom != nil {
		where = append(where, "created_at >= "+arg(*params.CreatedFrom))
	}
	if params.CreatedTo != nil {
		where = append(where, "created_at <= "+arg(*params.CreatedTo))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	col, ok := sortColumns[params.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(params.SortOrder, "asc") {
		dir = "ASC"
	}

	query := `SELECT ` + orderCols + ` FROM orders` + whereSQL +
		fmt.Sprintf(" ORDER BY %s %s LIMIT %s OFFSET %s", col, dir, arg(limit), arg(offset))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search orders: %w", err)
	}
	defer rows.Close()

	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) SetImageRef(ctx context.Context, id uuid.UUID, imageRef string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE orders SET image_ref = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, imageRef, StatusPendingVerification)
	if err != nil {
		return fmt.Errorf("set image ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("order %s is no longer accepting prescription images", id)
	}
	return nil
}

func (r *repoPG) SetMedicationDetails(ctx context.Context, id uuid.UUID, d *MedicationDetails) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE orders SET med_name = $2, med_dosage = $3, med_quantity = $4,
			med_instructions = $5, med_refills_authorized = $6, med_refills_remaining = $7,
			updated_at = NOW()
		WHERE id = $1`,
		id, d.Name, d.Dosage, d.Quantity, d.Instructions, d.RefillsAuthorized, d.RefillsRemaining)
	if err != nil {
		return fmt.Errorf("set medication details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order", id.String())
	}
	return nil
}

func (r *repoPG) SetVerification(ctx context.Context, id uuid.UUID, v *Verification) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE orders SET verified_by = $2, verification_notes = $3,
			verification_skipped = $4, verified_at = $5, updated_at = NOW()
		WHERE id = $1`,
		id, v.VerifiedBy, v.Notes, v.Skipped, v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("set verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order", id.String())
	}
	return nil
}

func (r *repoPG) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("swap status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("order %s is not in status %s", id, from)
	}
	return nil
}

func (r *repoPG) BeginOCR(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE orders SET ocr_status = $2, ocr_error = NULL, updated_at = NOW()
		WHERE id = $1 AND ocr_status IN ($3, $4)`,
		id, OCRProcessing, OCRPending, OCRFailed)
	if err != nil {
		return fmt.Errorf("begin ocr: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("OCR extraction for order %s is already running or completed", id)
	}
	return nil
}

func (r *repoPG) CompleteOCR(ctx context.Context, id uuid.UUID, result OCRResult, guess *MedicationDetails) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if guess != nil {
		// A guess without a quantity match stays NULL; quantity is only
		// ever stored as a positive count.
		var qty *int
		if guess.Quantity > 0 {
			qty = &guess.Quantity
		}
		tag, err = r.conn(ctx).Exec(ctx, `
			UPDATE orders SET ocr_status = $2, ocr_text = $3, ocr_confidence = $4,
				ocr_processed_at = $5, ocr_error = $6,
				med_name = $7, med_dosage = $8, med_quantity = $9, med_instructions = $10,
				updated_at = NOW()
			WHERE id = $1 AND ocr_status = $11`,
			id, result.Status, result.ExtractedText, result.Confidence,
			result.ProcessedAt, result.Error,
			guess.Name, guess.Dosage, qty, guess.Instructions,
			OCRProcessing)
	} else {
		tag, err = r.conn(ctx).Exec(ctx, `
			UPDATE orders SET ocr_status = $2, ocr_text = $3, ocr_confidence = $4,
				ocr_processed_at = $5, ocr_error = $6, updated_at = NOW()
			WHERE id = $1 AND ocr_status = $7`,
			id, result.Status, result.ExtractedText, result.Confidence,
			result.ProcessedAt, result.Error,
			OCRProcessing)
	}
	if err != nil {
		return fmt.Errorf("complete ocr: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The job was reaped or superseded while the provider call ran.
		return apperr.Conflict("OCR job for order %s is no longer processing", id)
	}
	return nil
}

func (r *repoPG) FailStaleOCR(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleAfter)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE orders SET ocr_status = $1, ocr_error = $2, updated_at = NOW()
		WHERE ocr_status = $3 AND updated_at < $4`,
		OCRFailed, "extraction timed out", OCRProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale ocr: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) RecordDecision(ctx context.Context, id uuid.UUID, review PharmacistReview, cost *decimal.Decimal, details *MedicationDetails) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if details != nil {
		tag, err = r.conn(ctx).Exec(ctx, `
			UPDATE orders SET reviewer_id = $2, review_decision = $3, review_reason = $4,
				review_notes = $5, reviewed_at = $6, cost = $7::numeric,
				med_name = $8, med_dosage = $9, med_quantity = $10, med_instructions = $11,
				updated_at = NOW()
			WHERE id = $1 AND review_decision IS NULL AND status = $12`,
			id, review.ReviewerID, review.Decision, review.Reason,
			review.Notes, review.ReviewedAt, costArg(cost),
			details.Name, details.Dosage, details.Quantity, details.Instructions,
			StatusAwaitingVerification)
	} else {
		tag, err = r.conn(ctx).Exec(ctx, `
			UPDATE orders SET reviewer_id = $2, review_decision = $3, review_reason = $4,
				review_notes = $5, reviewed_at = $6, cost = $7::numeric, updated_at = NOW()
			WHERE id = $1 AND review_decision IS NULL AND status = $8`,
			id, review.ReviewerID, review.Decision, review.Reason,
			review.Notes, review.ReviewedAt, costArg(cost),
			StatusAwaitingVerification)
	}
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("order %s already has a decision or is not awaiting review", id)
	}
	return nil
}

func (r *repoPG) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_audit (id, order_id, actor_id, action, notes)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.OrderID, entry.ActorID, entry.Action, entry.Notes)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (r *repoPG) ListAudit(ctx context.Context, orderID uuid.UUID) ([]*AuditEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, actor_id, action, notes, created_at
		FROM order_audit WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.ActorID, &e.Action, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
