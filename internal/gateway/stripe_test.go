package gateway

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway() *StripeGateway {
	return NewStripeGateway(StripeConfig{
		SecretKey:            "sk_test_123",
		WebhookSecret:        testWebhookSecret,
		PaymentSigningSecret: "signing-secret",
	}, zerolog.Nop())
}

func sign(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

const subscriptionEvent = `{
  "id": "evt_%s",
  "object": "event",
  "type": "%s",
  "api_version": "2025-03-31.basil",
  "data": {
    "object": {
      "id": "sub_123",
      "object": "subscription",
      "status": "%s",
      "items": {
        "object": "list",
        "data": [{"id": "si_1", "object": "subscription_item", "current_period_start": 1700000000, "current_period_end": 1702592000}]
      }
    }
  }
}`

func TestParseWebhookSubscriptionEvents(t *testing.T) {
	g := newTestGateway()
	tests := []struct {
		eventType string
		status    string
		want      model.GatewayEventKind
	}{
		{"customer.subscription.updated", "active", model.EventActivated},
		{"customer.subscription.created", "active", model.EventActivated},
		{"customer.subscription.updated", "past_due", model.EventUnknown},
		{"customer.subscription.paused", "paused", model.EventPaused},
		{"customer.subscription.resumed", "active", model.EventResumed},
		{"customer.subscription.deleted", "canceled", model.EventCancelled},
	}
	for i, tt := range tests {
		t.Run(tt.eventType+"/"+tt.status, func(t *testing.T) {
			payload := fmt.Sprintf(subscriptionEvent, string(rune('a'+i)), tt.eventType, tt.status)
			evt, err := g.ParseWebhook([]byte(payload), sign(t, payload))
			if err != nil {
				t.Fatalf("ParseWebhook returned error: %v", err)
			}
			if evt.Kind != tt.want {
				t.Fatalf("expected kind %s, got %s", tt.want, evt.Kind)
			}
			if evt.GatewaySubscriptionID != "sub_123" {
				t.Fatalf("expected subscription sub_123, got %q", evt.GatewaySubscriptionID)
			}
			if evt.PeriodEnd == nil || evt.PeriodEnd.Unix() != 1702592000 {
				t.Fatalf("unexpected period end %v", evt.PeriodEnd)
			}
			if evt.Provider != ProviderStripe || evt.RawType != tt.eventType {
				t.Fatalf("unexpected provider/type %s/%s", evt.Provider, evt.RawType)
			}
		})
	}
}

func TestParseWebhookInvoicePaid(t *testing.T) {
	g := newTestGateway()
	payload := `{
  "id": "evt_invoice",
  "object": "event",
  "type": "invoice.paid",
  "data": {
    "object": {
      "id": "in_789",
      "object": "invoice",
      "amount_paid": 1299,
      "currency": "usd",
      "lines": {
        "object": "list",
        "data": [{"id": "il_1", "object": "line_item", "subscription": "sub_123", "period": {"start": 1700000000, "end": 1702592000}}]
      }
    }
  }
}`
	evt, err := g.ParseWebhook([]byte(payload), sign(t, payload))
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if evt.Kind != model.EventCharged {
		t.Fatalf("expected charged, got %s", evt.Kind)
	}
	if evt.GatewayPaymentID != "in_789" || evt.AmountCents != 1299 || evt.Currency != "usd" {
		t.Fatalf("unexpected payment fields %+v", evt)
	}
	if evt.GatewaySubscriptionID != "sub_123" {
		t.Fatalf("expected subscription sub_123, got %q", evt.GatewaySubscriptionID)
	}
}

func TestParseWebhookUnknownEventIsAccepted(t *testing.T) {
	g := newTestGateway()
	payload := `{"id": "evt_x", "object": "event", "type": "charge.dispute.created", "data": {"object": {"id": "dp_1"}}}`
	evt, err := g.ParseWebhook([]byte(payload), sign(t, payload))
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if evt.Kind != model.EventUnknown {
		t.Fatalf("expected unknown kind, got %s", evt.Kind)
	}
}

func TestParseWebhookRejectsTamperedPayload(t *testing.T) {
	g := newTestGateway()
	payload := fmt.Sprintf(subscriptionEvent, "tamper", "customer.subscription.updated", "active")
	header := sign(t, payload)
	tampered := fmt.Sprintf(subscriptionEvent, "tamper", "customer.subscription.updated", "paused")

	if _, err := g.ParseWebhook([]byte(tampered), header); !errors.Is(err, model.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := g.ParseWebhook([]byte(payload), "t=1,v1=deadbeef"); !errors.Is(err, model.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for forged header, got %v", err)
	}
}

func TestParseWebhookSignedButMalformed(t *testing.T) {
	g := newTestGateway()

	badObject := `{"id": "evt_bad", "object": "event", "type": "invoice.paid", "data": {"object": {"id": "in_1", "object": "invoice", "amount_paid": "not-a-number"}}}`
	evt, err := g.ParseWebhook([]byte(badObject), sign(t, badObject))
	if err != nil {
		t.Fatalf("signed event with an undecodable object should parse, got %v", err)
	}
	if evt.Kind != model.EventUnknown || evt.ID != "evt_bad" || evt.RawType != "invoice.paid" {
		t.Fatalf("expected unknown evt_bad, got %+v", evt)
	}

	notJSON := "definitely not json"
	_, err = g.ParseWebhook([]byte(notJSON), sign(t, notJSON))
	if !errors.Is(err, model.ErrInvalidInput) || errors.Is(err, model.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidInput for a signed non-event body, got %v", err)
	}
}

func TestVerifyPaymentSignature(t *testing.T) {
	g := newTestGateway()
	sig := SignPayment("signing-secret", "pay_1", "sub_123")

	if err := g.VerifyPaymentSignature("pay_1", "sub_123", sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := g.VerifyPaymentSignature("pay_2", "sub_123", sig); !errors.Is(err, model.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for other payment, got %v", err)
	}
	if err := g.VerifyPaymentSignature("pay_1", "sub_123", ""); !errors.Is(err, model.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for empty signature, got %v", err)
	}
}
