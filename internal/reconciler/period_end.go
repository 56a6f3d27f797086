package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/rs/zerolog"
)

// Expirer applies the period-end downgrade for one subscription.
type Expirer interface {
	ExpireIfPeriodEnded(ctx context.Context, subscriptionID string) (bool, error)
}

// Options configures the period-end consumer.
type Options struct {
	Queue           string
	DeadLetterQueue string
	VisibilitySec   int
	PollTimeoutSec  int
	MaxMessages     int
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	// Now defaults to time.Now.
	Now             func() time.Time
}

// RunPeriodEnd consumes period-end jobs until ctx is cancelled. Jobs that keep
// failing after MaxRetries attempts are moved to the dead-letter queue.
func RunPeriodEnd(ctx context.Context, logger zerolog.Logger, q Queue, expirer Expirer, opts Options) error {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With().Str("worker", "period-end").Str("queue", opts.Queue).Logger()
	logger.Info().Msg("Starting period-end consumer")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down period-end consumer")
			return nil
		default:
		}

		msgs, err := q.ReadWithPoll(ctx, opts.Queue, opts.VisibilitySec, opts.MaxMessages, opts.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("Error reading period-end queue")
			sleep(ctx, time.Second)
			continue
		}

		for _, msg := range msgs {
			handleMessage(ctx, logger.With().Int64("msg_id", msg.ID).Logger(), q, expirer, opts, msg.ID, msg.Data)
		}
	}
}

func handleMessage(ctx context.Context, logger zerolog.Logger, q Queue, expirer Expirer, opts Options, msgID int64, data []byte) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil || job.SubscriptionID == "" {
		logger.Error().Err(err).Msg("Failed to unmarshal period-end job; deleting message")
		ack(ctx, logger, q, opts.Queue, msgID)
		return
	}
	logger = logger.With().Str("subscription_id", job.SubscriptionID).Logger()

	if remaining := job.PeriodEnd.Sub(opts.Now()); remaining > 0 {
		// Delivered early; requeue for the rest of the period.
		if err := q.SendDelayed(ctx, opts.Queue, data, remaining); err != nil {
			logger.Error().Err(err).Msg("Failed to requeue early period-end job")
			return
		}
		logger.Info().Dur("remaining", remaining).Msg("Period-end job arrived early; requeued")
		ack(ctx, logger, q, opts.Queue, msgID)
		return
	}

	backoff := opts.BackoffInitial
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		changed, err := expirer.ExpireIfPeriodEnded(ctx, job.SubscriptionID)
		if err == nil {
			logger.Info().Bool("changed", changed).Msg("Period-end job processed")
			ack(ctx, logger, q, opts.Queue, msgID)
			return
		}
		if errors.Is(err, model.ErrNotFound) {
			logger.Warn().Err(err).Msg("Subscription for period-end job not found; deleting message")
			ack(ctx, logger, q, opts.Queue, msgID)
			return
		}
		if ctx.Err() != nil {
			// Left in the queue; it becomes visible again after the visibility timeout.
			return
		}
		lastErr = err
		logger.Error().Err(err).Int("attempt", attempt).Msg("Period-end job failed, retrying")
		if !sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > opts.BackoffMax {
			backoff = opts.BackoffMax
		}
	}

	if err := q.Send(ctx, opts.DeadLetterQueue, data); err != nil {
		logger.Error().Err(err).Str("dlq", opts.DeadLetterQueue).Msg("Failed to send message to dead-letter queue")
		return
	}
	ack(ctx, logger, q, opts.Queue, msgID)
	logger.Warn().Int("attempts", opts.MaxRetries).Err(lastErr).Msg("Exhausted all period-end retries; moving job to DLQ")
}

func ack(ctx context.Context, logger zerolog.Logger, q Queue, queue string, msgID int64) {
	if err := q.Delete(ctx, queue, []int64{msgID}); err != nil {
		logger.Error().Err(err).Msg("Error deleting period-end message")
	}
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
