package model

import "time"

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionCreated   SubscriptionStatus = "created"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionExpired
}

// BillingCycle is the payment period of a paid tier.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Subscription is one billing attempt or cycle for an account. Rows are never deleted.
type Subscription struct {
	ID                    string             `db:"id" json:"id"`
	AccountID             string             `db:"account_id" json:"account_id"`
	PlanID                string             `db:"plan_id" json:"plan_id"`
	Status                SubscriptionStatus `db:"status" json:"status"`
	GatewaySubscriptionID *string            `db:"gateway_subscription_id" json:"gateway_subscription_id,omitempty"`
	CurrentPeriodStart    *time.Time         `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd     bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// PaymentSource records which path inserted a PaymentRecord.
type PaymentSource string

const (
	PaymentSourceVerify  PaymentSource = "verify"
	PaymentSourceWebhook PaymentSource = "webhook"
)

// PaymentRecord is an append-only log entry for a settled payment attempt.
type PaymentRecord struct {
	ID               string        `db:"id" json:"id"`
	SubscriptionID   string        `db:"subscription_id" json:"subscription_id"`
	GatewayPaymentID string        `db:"gateway_payment_id" json:"gateway_payment_id"`
	AmountCents      int64         `db:"amount_cents" json:"amount_cents"`
	Currency         string        `db:"currency" json:"currency"`
	Source           PaymentSource `db:"source" json:"source"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}
