package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

const ProviderStripe = "stripe"

// StripeConfig carries the secrets the Stripe gateway needs.
type StripeConfig struct {
	SecretKey            string
	WebhookSecret        string
	PaymentSigningSecret string
}

// StripeGateway implements PaymentGateway on top of stripe-go.
type StripeGateway struct {
	cfg    StripeConfig
	logger zerolog.Logger
}

// NewStripeGateway initializes the Stripe key and returns the gateway with a scoped logger.
func NewStripeGateway(cfg StripeConfig, logger zerolog.Logger) *StripeGateway {
	stripe.Key = cfg.SecretKey
	return &StripeGateway{cfg: cfg, logger: logger.With().Str("service", "StripeGateway").Logger()}
}

func (g *StripeGateway) EnsureCustomer(ctx context.Context, account *model.Account) (string, error) {
	if account.StripeCustomerID != nil && *account.StripeCustomerID != "" {
		return *account.StripeCustomerID, nil
	}
	params := &stripe.CustomerParams{
		Email:    stripe.String(account.Email),
		Metadata: map[string]string{"account_id": account.ID},
	}
	if account.DisplayName != nil {
		params.Name = stripe.String(*account.DisplayName)
	}
	params.Context = ctx
	cust, err := customerpkg.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("account_id", account.ID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("%w: create stripe customer: %v", model.ErrUpstreamFailure, err)
	}
	return cust.ID, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionHandle, error) {
	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(req.CustomerID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(req.PriceID)}},
		PaymentBehavior: stripe.String("default_incomplete"),
		Metadata: map[string]string{
			"account_id":      req.AccountID,
			"subscription_id": req.SubscriptionID,
		},
	}
	params.Context = ctx
	sub, err := subscriptionpkg.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("account_id", req.AccountID).Str("price_id", req.PriceID).Msg("Failed to create Stripe subscription")
		return nil, fmt.Errorf("%w: create stripe subscription: %v", model.ErrUpstreamFailure, err)
	}
	return &SubscriptionHandle{GatewaySubscriptionID: sub.ID, Status: string(sub.Status)}, nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := subscriptionpkg.Update(gatewaySubscriptionID, params); err != nil {
		g.logger.Error().Err(err).Str("gateway_subscription_id", gatewaySubscriptionID).Msg("Failed to schedule Stripe cancellation")
		return fmt.Errorf("%w: cancel stripe subscription: %v", model.ErrUpstreamFailure, err)
	}
	return nil
}

func (g *StripeGateway) VerifyPaymentSignature(paymentID, gatewaySubscriptionID, signature string) error {
	if !validPaymentSignature(g.cfg.PaymentSigningSecret, paymentID, gatewaySubscriptionID, signature) {
		return model.ErrInvalidSignature
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event onto the closed event set.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*model.GatewayEvent, error) {
	if err := webhook.ValidatePayload(payload, signatureHeader, g.cfg.WebhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidSignature, err)
	}
	// Signed but unparseable bodies are input errors, not signature failures.
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}

	evt := &model.GatewayEvent{
		ID:       event.ID,
		Provider: ProviderStripe,
		Kind:     model.EventUnknown,
		RawType:  string(event.Type),
		Payload:  payload,
	}
	if event.Data == nil {
		return evt, nil
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return g.unreadable(evt, err), nil
		}
		if ss.Status == stripe.SubscriptionStatusActive {
			evt.Kind = model.EventActivated
		}
		fillFromSubscription(evt, &ss)
	case "customer.subscription.paused", "customer.subscription.resumed", "customer.subscription.deleted":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return g.unreadable(evt, err), nil
		}
		switch event.Type {
		case "customer.subscription.paused":
			evt.Kind = model.EventPaused
		case "customer.subscription.resumed":
			evt.Kind = model.EventResumed
		default:
			evt.Kind = model.EventCancelled
		}
		fillFromSubscription(evt, &ss)
	case "subscription_schedule.completed":
		var sched stripe.SubscriptionSchedule
		if err := json.Unmarshal(event.Data.Raw, &sched); err != nil {
			return g.unreadable(evt, err), nil
		}
		evt.Kind = model.EventCompleted
		if sched.Subscription != nil {
			evt.GatewaySubscriptionID = sched.Subscription.ID
		}
	case "invoice.paid":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return g.unreadable(evt, err), nil
		}
		evt.Kind = model.EventCharged
		evt.GatewayPaymentID = invoice.ID
		evt.AmountCents = invoice.AmountPaid
		evt.Currency = string(invoice.Currency)
		if invoice.Lines != nil {
			for _, line := range invoice.Lines.Data {
				if line.Subscription != nil && line.Subscription.ID != "" {
					evt.GatewaySubscriptionID = line.Subscription.ID
					if line.Period != nil {
						evt.PeriodStart = unixTime(line.Period.Start)
						evt.PeriodEnd = unixTime(line.Period.End)
					}
					break
				}
			}
		}
	default:
		g.logger.Debug().Str("event_type", string(event.Type)).Msg("Stripe event outside the handled set")
	}
	return evt, nil
}

// unreadable leaves a signed event whose object does not decode as EventUnknown so it is still acknowledged.
func (g *StripeGateway) unreadable(evt *model.GatewayEvent, err error) *model.GatewayEvent {
	g.logger.Warn().Err(err).Str("event_id", evt.ID).Str("event_type", evt.RawType).Msg("Stripe event object did not decode, treating as unknown")
	evt.Kind = model.EventUnknown
	return evt
}

func fillFromSubscription(evt *model.GatewayEvent, ss *stripe.Subscription) {
	evt.GatewaySubscriptionID = ss.ID
	if ss.Items != nil && len(ss.Items.Data) > 0 {
		item := ss.Items.Data[0]
		evt.PeriodStart = unixTime(item.CurrentPeriodStart)
		evt.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
