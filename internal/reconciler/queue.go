// Package reconciler downgrades accounts whose cancelled subscriptions have
// reached the end of their paid period.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/pgmq"
)

// Queue is the subset of the pgmq client the reconciler uses.
type Queue interface {
	Send(ctx context.Context, queue string, payload []byte) error
	SendDelayed(ctx context.Context, queue string, payload []byte, delay time.Duration) error
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*pgmq.Message, error)
	Delete(ctx context.Context, queue string, msgIDs []int64) error
}

// Job is the payload of a period-end message.
type Job struct {
	SubscriptionID string    `json:"subscription_id"`
	PeriodEnd      time.Time `json:"period_end"`
}

// QueueScheduler enqueues one delayed period-end job per cancelled subscription.
type QueueScheduler struct {
	queue Queue
	name  string
	now   func() time.Time
}

func NewQueueScheduler(queue Queue, name string) *QueueScheduler {
	return &QueueScheduler{queue: queue, name: name, now: time.Now}
}

// SchedulePeriodEnd makes the job visible at `at`; past times are delivered immediately.
func (s *QueueScheduler) SchedulePeriodEnd(ctx context.Context, subscriptionID string, at time.Time) error {
	payload, err := json.Marshal(Job{SubscriptionID: subscriptionID, PeriodEnd: at.UTC()})
	if err != nil {
		return fmt.Errorf("marshal period-end job: %w", err)
	}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	if err := s.queue.SendDelayed(ctx, s.name, payload, delay); err != nil {
		return fmt.Errorf("schedule period end for subscription %s: %w", subscriptionID, err)
	}
	return nil
}
