package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxflow/rxflow/internal/apperr"
)

// Service owns order creation, reads, and the payment/delivery bridge. OCR,
// verification, and pharmacist review live in their own packages on top of
// the same repository.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Repo exposes the repository for the sibling domain services built on it.
func (s *Service) Repo() Repository {
	return s.repo
}

// CreateRequest carries the fields a collaborator submits to open an order.
type CreateRequest struct {
	PatientID   uuid.UUID `json:"patient_id" form:"patient_id"`
	PatientName string    `json:"patient_name" form:"patient_name"`
	Priority    string    `json:"priority" form:"priority"`
	ImageRef    *string   `json:"image_ref,omitempty" form:"image_ref"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest, actorID string) (*Order, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id", "patient_id is required")
	}
	if req.PatientName == "" {
		return nil, apperr.Validation("patient_name", "patient_name is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if priority != PriorityNormal && priority != PriorityUrgent {
		return nil, apperr.Validation("priority", "priority must be normal or urgent")
	}

	o := &Order{
		ID:          uuid.New(),
		Status:      StatusPendingVerification,
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		Priority:    priority,
		ImageRef:    req.ImageRef,
		OCR:         OCRResult{Status: OCRPending},
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	s.audit(ctx, o.ID, actorID, "order_created", nil)
	s.logger.Info().Str("order_id", o.ID.String()).Str("patient_id", o.PatientID.String()).Msg("order created")

	return s.repo.GetByID(ctx, o.ID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID) ([]*AuditEntry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, id)
}

// AttachImage links an uploaded prescription image to an order that has not
// yet entered review.
func (s *Service) AttachImage(ctx context.Context, id uuid.UUID, imageRef, actorID string) (*Order, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetImageRef(ctx, id, imageRef); err != nil {
		return nil, err
	}
	notes := fmt.Sprintf("image %s", imageRef)
	s.audit(ctx, id, actorID, "image_attached", &notes)
	return s.repo.GetByID(ctx, id)
}

// MarkPaymentSucceeded is called by the payment collaborator once the patient
// has paid. awaiting_payment -> preparing.
func (s *Service) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, actorID string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(o, StatusPreparing); err != nil {
		return nil, err
	}
	if err := s.repo.CompareAndSwapStatus(ctx, id, StatusAwaitingPayment, StatusPreparing); err != nil {
		return nil, err
	}
	s.audit(ctx, id, actorID, "payment_succeeded", nil)
	s.logger.Info().Str("order_id", id.String()).Msg("payment succeeded, order preparing")
	return s.repo.GetByID(ctx, id)
}

// MarkDeliveryEvent applies a delivery collaborator event. picked_up moves
// preparing -> out_for_delivery; delivered moves out_for_delivery -> delivered.
func (s *Service) MarkDeliveryEvent(ctx context.Context, id uuid.UUID, event, actorID string) (*Order, error) {
	var from, to Status
	switch event {
	case DeliveryEventPickedUp:
		from, to = StatusPreparing, StatusOutForDelivery
	case DeliveryEventDelivered:
		from, to = StatusOutForDelivery, StatusDelivered
	default:
		return nil, apperr.Validation("event", fmt.Sprintf("unknown delivery event %q", event))
	}

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(o, to); err != nil {
		return nil, err
	}
	if err := s.repo.CompareAndSwapStatus(ctx, id, from, to); err != nil {
		return nil, err
	}
	s.audit(ctx, id, actorID, "delivery_"+event, nil)
	s.logger.Info().Str("order_id", id.String()).Str("event", event).Msg("delivery event applied")
	return s.repo.GetByID(ctx, id)
}

// audit appends an audit entry, logging rather than failing the request when
// the append itself errors. Mutations that must be atomic with their audit
// row go through Repository.InTx instead, as the pharmacist decision does.
func (s *Service) audit(ctx context.Context, orderID uuid.UUID, actorID, action string, notes *string) {
	err := s.repo.AppendAudit(ctx, &AuditEntry{
		OrderID: orderID,
		ActorID: actorID,
		Action:  action,
		Notes:   notes,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Str("action", action).Msg("failed to append audit entry")
	}
}
