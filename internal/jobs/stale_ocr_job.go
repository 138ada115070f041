// Package jobs provides the scheduled background tasks of the server,
// implemented on github.com/robfig/cron/v3. Currently a single job: the
// stale extraction reaper.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StaleOCRFailer is implemented by the ocr service.
type StaleOCRFailer interface {
	FailStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// StaleOCRJob fails extraction jobs stuck in processing longer than
// staleAfter, unlocking the manual-text fallback. Runs every minute.
type StaleOCRJob struct {
	svc        StaleOCRFailer
	staleAfter time.Duration
	cron       *cron.Cron
	logger     zerolog.Logger
}

func NewStaleOCRJob(svc StaleOCRFailer, staleAfter time.Duration, logger zerolog.Logger) *StaleOCRJob {
	return &StaleOCRJob{
		svc:        svc,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     logger.With().Str("component", "stale_ocr_job").Logger(),
	}
}

func (j *StaleOCRJob) Start() error {
	_, err := j.cron.AddFunc("* * * * *", j.run)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info().Dur("stale_after", j.staleAfter).Msg("stale ocr reaper started")
	return nil
}

func (j *StaleOCRJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := j.svc.FailStale(ctx, j.staleAfter)
	if err != nil {
		j.logger.Error().Err(err).Msg("stale ocr sweep failed")
		return
	}
	if n > 0 {
		j.logger.Info().Int("count", n).Msg("reaped stale ocr jobs")
	}
}

// Stop stops scheduling new runs and waits for an in-flight run to finish.
func (j *StaleOCRJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info().Msg("stale ocr reaper stopped")
}
