// Package gateway adapts the payment provider to the subscription state machine.
package gateway

import (
	"context"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
)

// CreateSubscriptionRequest asks the gateway for a new recurring subscription.
type CreateSubscriptionRequest struct {
	CustomerID     string
	PriceID        string
	AccountID      string
	SubscriptionID string
}

// SubscriptionHandle is the gateway-side view of a created subscription.
type SubscriptionHandle struct {
	GatewaySubscriptionID string
	Status                string
}

// PaymentGateway is the contract the billing services consume.
type PaymentGateway interface {
	// EnsureCustomer returns the gateway customer id for the account, creating one when absent.
	EnsureCustomer(ctx context.Context, account *model.Account) (string, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionHandle, error)
	CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error
	// VerifyPaymentSignature checks the checkout confirmation signature. It returns model.ErrInvalidSignature on mismatch.
	VerifyPaymentSignature(paymentID, gatewaySubscriptionID, signature string) error
	// ParseWebhook verifies the payload signature and normalises the event. It returns model.ErrInvalidSignature when the
	// signature does not verify and model.ErrInvalidInput when a signed body is not an event.
	ParseWebhook(payload []byte, signatureHeader string) (*model.GatewayEvent, error)
}
