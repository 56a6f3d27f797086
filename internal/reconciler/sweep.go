package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper reconciles overdue subscriptions in batches.
type Sweeper interface {
	SweepPeriodEnds(ctx context.Context, limit int) (int, error)
}

// RunSweep runs a sweep immediately and then every interval until ctx is cancelled.
// A full batch is followed straight away by another one.
func RunSweep(ctx context.Context, logger zerolog.Logger, sweeper Sweeper, interval time.Duration, batch int) error {
	logger = logger.With().Str("worker", "sweep").Logger()
	logger.Info().Dur("interval", interval).Int("batch", batch).Msg("Starting period-end sweep")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sweepOnce(ctx, logger, sweeper, batch)
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down period-end sweep")
			return nil
		case <-ticker.C:
		}
	}
}

func sweepOnce(ctx context.Context, logger zerolog.Logger, sweeper Sweeper, batch int) {
	total := 0
	for ctx.Err() == nil {
		n, err := sweeper.SweepPeriodEnds(ctx, batch)
		if err != nil {
			logger.Error().Err(err).Msg("Sweep failed")
			return
		}
		total += n
		if n < batch {
			break
		}
	}
	if total > 0 {
		logger.Info().Int("reconciled", total).Msg("Sweep reconciled subscriptions")
	}
}
