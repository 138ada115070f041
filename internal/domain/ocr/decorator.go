package ocr

import (
	"context"
	"io"
	"time"

	"github.com/rxflow/rxflow/internal/apperr"
)

// guardedProvider wraps a Provider with a per-call timeout and normalizes
// every failure into an UpstreamError. HealthCheck is retried a few times
// with a short backoff; Extract is not — extraction must stay single-shot so
// the caller's single-flight guarantee holds.
type guardedProvider struct {
	inner   Provider
	timeout time.Duration
}

// Guard wraps provider with timeout handling and error normalization.
func Guard(provider Provider, timeout time.Duration) Provider {
	return &guardedProvider{inner: provider, timeout: timeout}
}

func (g *guardedProvider) Extract(ctx context.Context, image io.Reader, contentType string) (*Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.inner.Extract(ctx, image, contentType)
	if err != nil {
		return nil, apperr.Upstream("ocr", err)
	}
	return result, nil
}

const healthCheckAttempts = 3

func (g *guardedProvider) HealthCheck(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < healthCheckAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return apperr.Upstream("ocr", ctx.Err())
			}
		}

		checkCtx, cancel := context.WithTimeout(ctx, g.timeout)
		lastErr = g.inner.HealthCheck(checkCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return apperr.Upstream("ocr", lastErr)
}
