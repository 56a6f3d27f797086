package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository defines methods for accessing subscription data.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, s *model.Subscription) error
	GetSubscriptionByID(ctx context.Context, id string) (*model.Subscription, error)
	GetSubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error)
	// GetLatestSubscription returns the account's most recent subscription regardless of status.
	GetLatestSubscription(ctx context.Context, accountID string) (*model.Subscription, error)
	// GetActiveSubscription returns the account's most recent active subscription.
	GetActiveSubscription(ctx context.Context, accountID string) (*model.Subscription, error)
	// TransitionStatus moves the subscription from one status to another and reports whether the row still had from.
	TransitionStatus(ctx context.Context, id string, from, to model.SubscriptionStatus) (bool, error)
	UpdatePeriod(ctx context.Context, id string, start, end *time.Time) error
	MarkCancelAtPeriodEnd(ctx context.Context, id string) error
	// ListPeriodEnded returns subscriptions still backing a paid tier whose period has ended and that will not renew.
	ListPeriodEnded(ctx context.Context, now time.Time, limit int) ([]model.Subscription, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, account_id, plan_id, status, gateway_subscription_id, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	var status string
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.PlanID,
		&status,
		&s.GatewaySubscriptionID,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func (r *subscriptionRepo) fetchOne(ctx context.Context, what, q string, args ...any) (*model.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s: %w", what, err)
	}
	return s, nil
}

func (r *subscriptionRepo) CreateSubscription(ctx context.Context, s *model.Subscription) error {
	const q = `
		INSERT INTO subscriptions (id, account_id, plan_id, status, gateway_subscription_id, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, q, s.ID, s.AccountID, s.PlanID, string(s.Status), s.GatewaySubscriptionID, s.CurrentPeriodStart, s.CurrentPeriodEnd).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscription %s for account %s: %w", s.PlanID, s.AccountID, err)
	}
	return nil
}

func (r *subscriptionRepo) GetSubscriptionByID(ctx context.Context, id string) (*model.Subscription, error) {
	return r.fetchOne(ctx, "subscription "+id,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (r *subscriptionRepo) GetSubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error) {
	return r.fetchOne(ctx, "subscription for gateway id "+gatewaySubscriptionID,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id = $1`, gatewaySubscriptionID)
}

func (r *subscriptionRepo) GetLatestSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	return r.fetchOne(ctx, "latest subscription for account "+accountID,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1 ORDER BY created_at DESC LIMIT 1`, accountID)
}

func (r *subscriptionRepo) GetActiveSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	return r.fetchOne(ctx, "active subscription for account "+accountID,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1 AND status = 'active' ORDER BY created_at DESC LIMIT 1`, accountID)
}

func (r *subscriptionRepo) TransitionStatus(ctx context.Context, id string, from, to model.SubscriptionStatus) (bool, error) {
	const q = `UPDATE subscriptions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transition subscription %s from %s to %s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) UpdatePeriod(ctx context.Context, id string, start, end *time.Time) error {
	const q = `
		UPDATE subscriptions
		SET current_period_start = COALESCE($2, current_period_start),
		    current_period_end = COALESCE($3, current_period_end),
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, q, id, start, end); err != nil {
		return fmt.Errorf("update period for subscription %s: %w", id, err)
	}
	return nil
}

func (r *subscriptionRepo) MarkCancelAtPeriodEnd(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE subscriptions SET cancel_at_period_end = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark cancel at period end for subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepo) ListPeriodEnded(ctx context.Context, now time.Time, limit int) ([]model.Subscription, error) {
	const q = `
		SELECT s.id, s.account_id, s.plan_id, s.status, s.gateway_subscription_id, s.current_period_start,
		       s.current_period_end, s.cancel_at_period_end, s.created_at, s.updated_at
		FROM subscriptions s
		JOIN usage_records u ON u.subscription_ref = s.id
		WHERE s.current_period_end <= $1
		  AND (s.cancel_at_period_end OR s.status IN ('cancelled', 'expired'))
		ORDER BY s.current_period_end
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list period-ended subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period-ended subscription: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate period-ended subscriptions: %w", err)
	}
	return subs, nil
}
