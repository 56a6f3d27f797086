package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository journals verified webhook deliveries so redeliveries are not dispatched twice.
type WebhookEventRepository interface {
	// BeginEvent records the delivery and returns its journal id and whether it was already processed.
	BeginEvent(ctx context.Context, evt *model.GatewayEvent) (int64, bool, error)
	// FinishEvent marks the delivery processed; processingErr is stored when dispatch failed.
	FinishEvent(ctx context.Context, id int64, processingErr error) error
}

type webhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) WebhookEventRepository {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) BeginEvent(ctx context.Context, evt *model.GatewayEvent) (int64, bool, error) {
	const q = `
		INSERT INTO webhook_events (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO UPDATE SET event_type = EXCLUDED.event_type
		RETURNING id, processed_at
	`
	var id int64
	var processedAt *time.Time
	if err := r.pool.QueryRow(ctx, q, evt.Provider, evt.ID, evt.RawType, evt.Payload).Scan(&id, &processedAt); err != nil {
		return 0, false, fmt.Errorf("journal webhook event %s: %w", evt.ID, err)
	}
	return id, processedAt != nil, nil
}

func (r *webhookEventRepo) FinishEvent(ctx context.Context, id int64, processingErr error) error {
	var msg *string
	if processingErr != nil {
		s := processingErr.Error()
		msg = &s
	}
	const q = `UPDATE webhook_events SET processed_at = NOW(), processing_error = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, msg); err != nil {
		return fmt.Errorf("finish webhook event %d: %w", id, err)
	}
	return nil
}
