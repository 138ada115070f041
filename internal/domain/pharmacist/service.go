// Package pharmacist implements the review queue: listing orders awaiting a
// decision and recording the single terminal approve/reject outcome.
package pharmacist

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

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

// ListParams narrows the review queue. All filters are optional.
type ListParams struct {
	Medication  string
	Urgency     string
	Patient     string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SortBy      string
	SortOrder   string
}

// List returns the page of orders awaiting review plus the total match count.
func (s *Service) List(ctx context.Context, p ListParams, limit, offset int) ([]*order.Order, int, error) {
	if p.Urgency != "" && p.Urgency != order.PriorityNormal && p.Urgency != order.PriorityUrgent {
		return nil, 0, apperr.Validation("urgency", "urgency must be normal or urgent")
	}
	return s.repo.Search(ctx, order.SearchParams{
		Status:      order.StatusAwaitingVerification,
		Medication:  p.Medication,
		Urgency:     p.Urgency,
		Patient:     p.Patient,
		CreatedFrom: p.CreatedFrom,
		CreatedTo:   p.CreatedTo,
		SortBy:      p.SortBy,
		SortOrder:   p.SortOrder,
	}, limit, offset)
}

// Approve records the approval decision, prices the order and moves it to
// awaiting_payment. Exactly one decision wins; a concurrent approve or reject
// gets a ConflictError from the decision write.
func (s *Service) Approve(ctx context.Context, orderID, reviewerID uuid.UUID, cost decimal.Decimal, notes *string, editedDetails *order.MedicationDetails) (*order.Order, error) {
	if !cost.IsPositive() {
		return nil, apperr.Validation("cost", "a positive cost is required for approval")
	}
	if editedDetails != nil {
		if err := order.ValidateDetails(editedDetails); err != nil {
			return nil, err
		}
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if editedDetails == nil {
		// Approval requires complete details one way or the other.
		if err := order.ValidateDetails(o.Medication); err != nil {
			return nil, err
		}
	}

	review := order.PharmacistReview{
		ReviewerID: reviewerID,
		Decision:   order.DecisionApproved,
		Notes:      notes,
		ReviewedAt: time.Now().UTC(),
	}
	// The decision, the status move and the audit row commit as one unit.
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.RecordDecision(ctx, orderID, review, &cost, editedDetails); err != nil {
			return err
		}
		if err := s.repo.CompareAndSwapStatus(ctx, orderID, order.StatusAwaitingVerification, order.StatusAwaitingPayment); err != nil {
			return err
		}
		return s.repo.AppendAudit(ctx, &order.AuditEntry{
			OrderID: orderID,
			ActorID: reviewerID.String(),
			Action:  "order_approved",
			Notes:   notes,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", orderID.String()).Str("reviewer_id", reviewerID.String()).Str("cost", cost.String()).Msg("order approved")
	return s.repo.GetByID(ctx, orderID)
}

// Reject records the terminal rejection with a reason from the allowed set.
func (s *Service) Reject(ctx context.Context, orderID, reviewerID uuid.UUID, reason string, notes *string) (*order.Order, error) {
	if !order.RejectionReasons[reason] {
		return nil, apperr.Validation("reason", "rejection requires a reason from the allowed set")
	}

	if _, err := s.repo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}

	review := order.PharmacistReview{
		ReviewerID: reviewerID,
		Decision:   order.DecisionRejected,
		Reason:     &reason,
		Notes:      notes,
		ReviewedAt: time.Now().UTC(),
	}
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.RecordDecision(ctx, orderID, review, nil, nil); err != nil {
			return err
		}
		if err := s.repo.CompareAndSwapStatus(ctx, orderID, order.StatusAwaitingVerification, order.StatusRejected); err != nil {
			return err
		}
		return s.repo.AppendAudit(ctx, &order.AuditEntry{
			OrderID: orderID,
			ActorID: reviewerID.String(),
			Action:  "order_rejected",
			Notes:   notes,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", orderID.String()).Str("reason", reason).Msg("order rejected")
	return s.repo.GetByID(ctx, orderID)
}

// Edit overwrites the medication details without deciding. Allowed any number
// of times while the order still awaits a decision.
func (s *Service) Edit(ctx context.Context, orderID, reviewerID uuid.UUID, details order.MedicationDetails, notes *string) (*order.Order, error) {
	if err := order.ValidateDetails(&details); err != nil {
		return nil, err
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusAwaitingVerification || o.Decided() {
		return nil, apperr.Conflict("order %s is not awaiting review", orderID)
	}

	if err := s.repo.SetMedicationDetails(ctx, orderID, &details); err != nil {
		return nil, err
	}

	s.audit(ctx, orderID, reviewerID.String(), "details_edited", notes)
	return s.repo.GetByID(ctx, orderID)
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
