// Package verification implements the patient-side gate between extraction
// and pharmacist review. The patient either confirms (optionally correcting)
// the extracted medication details or explicitly skips verification, which
// forwards the order to the review queue as-is.
package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/domain/order"
)

type Service struct {
	repo   order.Repository
	logger zerolog.Logger
}

func NewService(repo order.Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Confirm records the patient's sign-off on the medication details and moves
// the order into the review queue. Confirming again while the order is still
// awaiting review just updates the stored details.
func (s *Service) Confirm(ctx context.Context, orderID uuid.UUID, details order.MedicationDetails, verifiedBy uuid.UUID, notes *string) (*order.Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := inVerificationStage(o); err != nil {
		return nil, err
	}
	if err := order.ValidateDetails(&details); err != nil {
		return nil, err
	}

	v := &order.Verification{
		VerifiedBy: verifiedBy,
		Notes:      notes,
		Skipped:    false,
		VerifiedAt: time.Now().UTC(),
	}

	if o.Status == order.StatusPendingVerification {
		// Guard before writing: confirming while extraction is still
		// running is refused, the patient confirms a concrete result.
		check := *o
		check.Verification = v
		if err := order.CheckTransition(&check, order.StatusAwaitingVerification); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SetMedicationDetails(ctx, orderID, &details); err != nil {
		return nil, err
	}
	if err := s.repo.SetVerification(ctx, orderID, v); err != nil {
		return nil, err
	}

	if o.Status == order.StatusPendingVerification {
		if err := s.repo.CompareAndSwapStatus(ctx, orderID, order.StatusPendingVerification, order.StatusAwaitingVerification); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, orderID, verifiedBy.String(), "verification_confirmed", notes)
	return s.repo.GetByID(ctx, orderID)
}

// Skip forwards the order to the review queue without patient confirmation.
// A still-running or not-yet-started extraction is failed so no late result
// overwrites what the pharmacist will see.
func (s *Service) Skip(ctx context.Context, orderID uuid.UUID, verifiedBy uuid.UUID, notes *string) (*order.Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := inVerificationStage(o); err != nil {
		return nil, err
	}

	if !o.OCRTerminal() {
		if o.OCR.Status == order.OCRPending {
			if err := s.repo.BeginOCR(ctx, orderID); err != nil {
				return nil, err
			}
		}
		reason := "skipped by user"
		now := time.Now().UTC()
		failed := order.OCRResult{
			Status:      order.OCRFailed,
			ProcessedAt: &now,
			Error:       &reason,
		}
		if err := s.repo.CompleteOCR(ctx, orderID, failed, nil); err != nil {
			return nil, err
		}
	}

	v := &order.Verification{
		VerifiedBy: verifiedBy,
		Notes:      notes,
		Skipped:    true,
		VerifiedAt: time.Now().UTC(),
	}
	if err := s.repo.SetVerification(ctx, orderID, v); err != nil {
		return nil, err
	}

	if o.Status == order.StatusPendingVerification {
		if err := s.repo.CompareAndSwapStatus(ctx, orderID, order.StatusPendingVerification, order.StatusAwaitingVerification); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, orderID, verifiedBy.String(), "verification_skipped", notes)
	return s.repo.GetByID(ctx, orderID)
}

func inVerificationStage(o *order.Order) error {
	if o.Status != order.StatusPendingVerification && o.Status != order.StatusAwaitingVerification {
		return apperr.Conflict("order %s is %s and can no longer be verified", o.ID, o.Status)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, orderID uuid.UUID, actorID, action string, notes *string) {
	err := s.repo.AppendAudit(ctx, &order.AuditEntry{
		OrderID: orderID,
		ActorID: actorID,
		Action:  action,
		Notes:   notes,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Str("action", action).Msg("failed to append audit entry")
	}
}
