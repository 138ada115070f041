package ocr

import (
	"context"
	"io"
)

// Extraction is the raw output of an OCR provider call.
type Extraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Provider is the capability surface rxflow needs from an OCR vendor.
// Extract performs a single prescription extraction; it is never retried
// automatically — a failed job stays failed until a human restarts it or
// falls back to manual entry. HealthCheck is cheap and safe to retry.
type Provider interface {
	Extract(ctx context.Context, image io.Reader, contentType string) (*Extraction, error)
	HealthCheck(ctx context.Context) error
}
