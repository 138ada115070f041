package order

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxflow/rxflow/internal/apperr"
)

func newTestService(t *testing.T) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func createTestOrder(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateRequest{
		PatientID:   uuid.New(),
		PatientName: "Jane Doe",
		Priority:    PriorityNormal,
	}, "patient-1")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// forceStatus walks the repo underneath the service for test setup.
func forceStatus(t *testing.T, repo *MemoryRepo, id uuid.UUID, status Status) {
	t.Helper()
	o, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if err := repo.CompareAndSwapStatus(context.Background(), id, o.Status, status); err != nil {
		t.Fatalf("force status: %v", err)
	}
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := newTestService(t)
	o := createTestOrder(t, svc)

	if o.Status != StatusPendingVerification {
		t.Errorf("expected status pending_verification, got %s", o.Status)
	}
	if o.OCR.Status != OCRPending {
		t.Errorf("expected ocr status pending, got %s", o.OCR.Status)
	}
	if o.Priority != PriorityNormal {
		t.Errorf("expected priority normal, got %s", o.Priority)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{PatientName: "X"}, "a")
	if !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError without patient_id, got %v", err)
	}

	_, err = svc.Create(ctx, CreateRequest{PatientID: uuid.New()}, "a")
	if !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError without patient_name, got %v", err)
	}

	_, err = svc.Create(ctx, CreateRequest{PatientID: uuid.New(), PatientName: "X", Priority: "asap"}, "a")
	if !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for bad priority, got %v", err)
	}
}

func TestCreate_AppendsAudit(t *testing.T) {
	svc, _ := newTestService(t)
	o := createTestOrder(t, svc)

	entries, err := svc.AuditTrail(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "order_created" {
		t.Errorf("expected single order_created entry, got %v", entries)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), uuid.New())
	if !apperr.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestMarkPaymentSucceeded(t *testing.T) {
	svc, repo := newTestService(t)
	o := createTestOrder(t, svc)
	ctx := context.Background()

	// Not yet awaiting payment.
	_, err := svc.MarkPaymentSucceeded(ctx, o.ID, "payments")
	if !apperr.IsConflict(err) {
		t.Fatalf("expected ConflictError before approval, got %v", err)
	}

	forceStatus(t, repo, o.ID, StatusAwaitingPayment)

	updated, err := svc.MarkPaymentSucceeded(ctx, o.ID, "payments")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusPreparing {
		t.Errorf("expected preparing, got %s", updated.Status)
	}

	// Idempotent retry is refused; the order has moved on.
	_, err = svc.MarkPaymentSucceeded(ctx, o.ID, "payments")
	if !apperr.IsConflict(err) {
		t.Errorf("expected ConflictError on second callback, got %v", err)
	}
}

func TestMarkDeliveryEvent_FullFlow(t *testing.T) {
	svc, repo := newTestService(t)
	o := createTestOrder(t, svc)
	ctx := context.Background()

	forceStatus(t, repo, o.ID, StatusPreparing)

	updated, err := svc.MarkDeliveryEvent(ctx, o.ID, DeliveryEventPickedUp, "courier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusOutForDelivery {
		t.Errorf("expected out_for_delivery, got %s", updated.Status)
	}

	updated, err = svc.MarkDeliveryEvent(ctx, o.ID, DeliveryEventDelivered, "courier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusDelivered {
		t.Errorf("expected delivered, got %s", updated.Status)
	}
}

func TestMarkDeliveryEvent_Validation(t *testing.T) {
	svc, repo := newTestService(t)
	o := createTestOrder(t, svc)
	ctx := context.Background()

	_, err := svc.MarkDeliveryEvent(ctx, o.ID, "teleported", "courier")
	if !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for unknown event, got %v", err)
	}

	// delivered before picked_up
	forceStatus(t, repo, o.ID, StatusPreparing)
	_, err = svc.MarkDeliveryEvent(ctx, o.ID, DeliveryEventDelivered, "courier")
	if !apperr.IsConflict(err) {
		t.Errorf("expected ConflictError for out-of-order event, got %v", err)
	}

	// Status untouched by the refused event.
	got, _ := svc.Get(ctx, o.ID)
	if got.Status != StatusPreparing {
		t.Errorf("expected status unchanged at preparing, got %s", got.Status)
	}
}

func TestAttachImage(t *testing.T) {
	svc, repo := newTestService(t)
	o := createTestOrder(t, svc)
	ctx := context.Background()

	updated, err := svc.AttachImage(ctx, o.ID, "img-1", "patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ImageRef == nil || *updated.ImageRef != "img-1" {
		t.Errorf("expected image_ref img-1, got %v", updated.ImageRef)
	}

	// Once the order leaves pending_verification the image is frozen.
	forceStatus(t, repo, o.ID, StatusAwaitingVerification)
	_, err = svc.AttachImage(ctx, o.ID, "img-2", "patient-1")
	if !apperr.IsConflict(err) {
		t.Errorf("expected ConflictError after leaving pending_verification, got %v", err)
	}
}

func TestMemoryRepo_RecordDecision_SingleWinner(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	o := &Order{
		PatientID:   uuid.New(),
		PatientName: "Jane",
		Priority:    PriorityNormal,
		Status:      StatusAwaitingVerification,
		OCR:         OCRResult{Status: OCRCompleted},
	}
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Create resets nothing about status in MemoryRepo; ensure setup held.
	if got, _ := repo.GetByID(ctx, o.ID); got.Status != StatusAwaitingVerification {
		t.Fatalf("setup: expected awaiting_verification, got %s", got.Status)
	}

	cost := decimal.NewFromInt(10)
	review := PharmacistReview{ReviewerID: uuid.New(), Decision: DecisionApproved}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- repo.RecordDecision(ctx, o.ID, review, &cost, nil)
		}()
	}

	var won, conflicted int
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			won++
		} else if apperr.IsConflict(err) {
			conflicted++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || conflicted != 1 {
		t.Errorf("expected exactly one winner, got %d winners / %d conflicts", won, conflicted)
	}
}
