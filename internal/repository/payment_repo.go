package repository

import (
	"context"
	"fmt"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepository is the append-only payment log.
type PaymentRepository interface {
	// InsertPayment stores p unless a record with the same gateway payment id exists. It reports whether a row was written.
	InsertPayment(ctx context.Context, p *model.PaymentRecord) (bool, error)
	ListPayments(ctx context.Context, subscriptionID string) ([]model.PaymentRecord, error)
}

type paymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{pool: pool}
}

func (r *paymentRepo) InsertPayment(ctx context.Context, p *model.PaymentRecord) (bool, error) {
	const q = `
		INSERT INTO payment_records (id, subscription_id, gateway_payment_id, amount_cents, currency, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (gateway_payment_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, q, p.ID, p.SubscriptionID, p.GatewayPaymentID, p.AmountCents, p.Currency, string(p.Source))
	if err != nil {
		return false, fmt.Errorf("insert payment %s: %w", p.GatewayPaymentID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ListPayments(ctx context.Context, subscriptionID string) ([]model.PaymentRecord, error) {
	const q = `
		SELECT id, subscription_id, gateway_payment_id, amount_cents, currency, source, created_at
		FROM payment_records
		WHERE subscription_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, q, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list payments for subscription %s: %w", subscriptionID, err)
	}
	defer rows.Close()

	var payments []model.PaymentRecord
	for rows.Next() {
		var p model.PaymentRecord
		var source string
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.GatewayPaymentID, &p.AmountCents, &p.Currency, &source, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Source = model.PaymentSource(source)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
