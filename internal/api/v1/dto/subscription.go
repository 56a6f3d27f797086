package dto

import "time"

// CreateSubscriptionRequest starts checkout for a paid plan.
type CreateSubscriptionRequest struct {
	PlanID       string `json:"plan_id" validate:"required,max=32"`
	BillingCycle string `json:"billing_cycle" validate:"required,max=32"`
}

type CreateSubscriptionResponse struct {
	SubscriptionID        string `json:"subscription_id"`
	GatewaySubscriptionID string `json:"gateway_subscription_id"`
}

// VerifyPaymentRequest is the client-side checkout confirmation.
type VerifyPaymentRequest struct {
	GatewayPaymentID      string `json:"gateway_payment_id" validate:"required"`
	GatewaySubscriptionID string `json:"gateway_subscription_id" validate:"required"`
	Signature             string `json:"signature" validate:"required,hexadecimal"`
}

type SubscriptionResponseDTO struct {
	SubscriptionID     string     `json:"subscription_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CreatedAt          time.Time  `json:"created_at"`
}

type PaymentDTO struct {
	GatewayPaymentID string    `json:"gateway_payment_id"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
}

type CurrentSubscriptionResponse struct {
	Subscription SubscriptionResponseDTO `json:"subscription"`
	Payments     []PaymentDTO            `json:"payments"`
}
