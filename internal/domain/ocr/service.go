package ocr

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/domain/order"
	"github.com/rxflow/rxflow/internal/platform/imagestore"
)

// Service orchestrates the asynchronous extraction lifecycle for orders.
// Exactly one extraction runs per order at a time: the repository's BeginOCR
// compare-and-swap claims the job, the provider call completes out of band in
// a goroutine, and clients poll GetStatus.
type Service struct {
	repo     order.Repository
	images   imagestore.Store
	provider Provider
	logger   zerolog.Logger

	// jobTimeout bounds the background provider call independently of the
	// request that triggered it.
	jobTimeout time.Duration
}

func NewService(repo order.Repository, images imagestore.Store, provider Provider, jobTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		images:     images,
		provider:   provider,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// StartResult tells the handler whether extraction was started or the stored
// result was returned.
type StartResult struct {
	AlreadyCompleted bool
	OCR              order.OCRResult
}

// StartExtraction kicks off (or restarts, for failed jobs) extraction for an
// order. Re-querying a completed job returns the stored result without
// touching the provider. A job already in processing is refused.
func (s *Service) StartExtraction(ctx context.Context, orderID uuid.UUID) (*StartResult, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.OCR.Status == order.OCRCompleted {
		return &StartResult{AlreadyCompleted: true, OCR: o.OCR}, nil
	}

	if o.Status != order.StatusPendingVerification {
		return nil, apperr.Conflict("order %s has left verification; extraction is closed", orderID)
	}

	if o.ImageRef == nil || *o.ImageRef == "" {
		return nil, apperr.Validation("image", "No image URL found for this order")
	}
	meta, err := s.images.GetMetadata(ctx, *o.ImageRef)
	if err != nil {
		return nil, apperr.Validation("image", "No image URL found for this order")
	}
	if !imagestore.AllowedContentTypes[meta.ContentType] {
		return nil, apperr.Validation("image", "prescription image has an unsupported content type")
	}

	// Claim the job; concurrent triggers lose here.
	if err := s.repo.BeginOCR(ctx, orderID); err != nil {
		return nil, err
	}

	s.auditEntry(ctx, orderID, "system", "ocr_started", nil)
	go s.runExtraction(orderID, *o.ImageRef)

	return &StartResult{OCR: order.OCRResult{Status: order.OCRProcessing}}, nil
}

// runExtraction performs the provider call in the background and records the
// terminal result. It deliberately uses a fresh context: the triggering HTTP
// request has long since returned.
func (s *Service) runExtraction(orderID uuid.UUID, imageRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	rc, meta, err := s.images.Open(ctx, imageRef)
	if err != nil {
		s.failJob(ctx, orderID, "prescription image could not be read")
		return
	}
	defer rc.Close()

	extraction, err := s.provider.Extract(ctx, rc, meta.ContentType)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("ocr extraction failed")
		s.failJob(ctx, orderID, err.Error())
		return
	}

	now := time.Now().UTC()
	result := order.OCRResult{
		Status:        order.OCRCompleted,
		ExtractedText: &extraction.Text,
		Confidence:    &extraction.Confidence,
		ProcessedAt:   &now,
	}
	guess := GuessMedication(extraction.Text)

	if err := s.repo.CompleteOCR(ctx, orderID, result, guess); err != nil {
		// Lost to a manual entry or the stale reaper; drop the result.
		s.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("discarding ocr result")
		return
	}
	s.auditEntry(ctx, orderID, "system", "ocr_completed", nil)
	s.logger.Info().Str("order_id", orderID.String()).Float64("confidence", extraction.Confidence).Msg("ocr extraction completed")
}

func (s *Service) failJob(ctx context.Context, orderID uuid.UUID, reason string) {
	now := time.Now().UTC()
	result := order.OCRResult{
		Status:      order.OCRFailed,
		ProcessedAt: &now,
		Error:       &reason,
	}
	if err := s.repo.CompleteOCR(ctx, orderID, result, nil); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to record ocr failure")
		return
	}
	s.auditEntry(ctx, orderID, "system", "ocr_failed", &reason)
}

// GetStatus is a pure read of the extraction state.
func (s *Service) GetStatus(ctx context.Context, orderID uuid.UUID) (*order.OCRResult, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &o.OCR, nil
}

// EnterManualText bypasses the provider: a human transcribes the
// prescription and the job completes with the supplied text. Allowed while
// the order is still in pending_verification and the job has not completed.
// An in-flight provider call loses its CompleteOCR race and is discarded.
func (s *Service) EnterManualText(ctx context.Context, orderID uuid.UUID, text, actorID string) (*order.Order, error) {
	if text == "" {
		return nil, apperr.Validation("text", "manual text must not be empty")
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPendingVerification {
		return nil, apperr.Conflict("order %s has left verification; extraction is closed", orderID)
	}
	if o.OCR.Status == order.OCRCompleted {
		return nil, apperr.Conflict("OCR extraction for order %s already completed", orderID)
	}

	// Move pending/failed jobs into processing so CompleteOCR applies; a job
	// already processing is simply taken over.
	if o.OCR.Status != order.OCRProcessing {
		if err := s.repo.BeginOCR(ctx, orderID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	result := order.OCRResult{
		Status:        order.OCRCompleted,
		ExtractedText: &text,
		ProcessedAt:   &now,
	}
	if err := s.repo.CompleteOCR(ctx, orderID, result, GuessMedication(text)); err != nil {
		return nil, err
	}
	s.auditEntry(ctx, orderID, actorID, "ocr_manual_text", nil)

	return s.repo.GetByID(ctx, orderID)
}

// FailStale is invoked by the reaper job: extractions stuck in processing
// beyond staleAfter are failed so the manual fallback unlocks.
func (s *Service) FailStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	n, err := s.repo.FailStaleOCR(ctx, staleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn().Int("count", n).Msg("failed stale ocr jobs")
	}
	return n, nil
}

func (s *Service) auditEntry(ctx context.Context, orderID uuid.UUID, actorID, action string, notes *string) {
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
