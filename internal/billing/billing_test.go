package billing

import (
	"errors"
	"testing"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from    model.SubscriptionStatus
		kind    model.GatewayEventKind
		want    model.SubscriptionStatus
		changed bool
	}{
		{model.SubscriptionCreated, model.EventActivated, model.SubscriptionActive, true},
		{model.SubscriptionPaused, model.EventActivated, model.SubscriptionActive, true},
		{model.SubscriptionActive, model.EventActivated, model.SubscriptionActive, false},
		{model.SubscriptionActive, model.EventCharged, model.SubscriptionActive, false},
		{model.SubscriptionActive, model.EventCancelled, model.SubscriptionCancelled, true},
		{model.SubscriptionPaused, model.EventCancelled, model.SubscriptionCancelled, true},
		{model.SubscriptionCreated, model.EventCancelled, model.SubscriptionCreated, false},
		{model.SubscriptionActive, model.EventCompleted, model.SubscriptionExpired, true},
		{model.SubscriptionPaused, model.EventCompleted, model.SubscriptionPaused, false},
		{model.SubscriptionActive, model.EventPaused, model.SubscriptionPaused, true},
		{model.SubscriptionPaused, model.EventResumed, model.SubscriptionActive, true},
		{model.SubscriptionActive, model.EventResumed, model.SubscriptionActive, false},
		{model.SubscriptionActive, model.EventUnknown, model.SubscriptionActive, false},
	}
	for _, tt := range tests {
		got, changed := Transition(tt.from, tt.kind)
		if got != tt.want || changed != tt.changed {
			t.Errorf("Transition(%s, %s) = (%s, %v), want (%s, %v)", tt.from, tt.kind, got, changed, tt.want, tt.changed)
		}
	}
}

func TestTerminalStatesNeverMove(t *testing.T) {
	kinds := []model.GatewayEventKind{
		model.EventActivated, model.EventCharged, model.EventCancelled,
		model.EventCompleted, model.EventPaused, model.EventResumed, model.EventUnknown,
	}
	for _, from := range []model.SubscriptionStatus{model.SubscriptionCancelled, model.SubscriptionExpired} {
		for _, kind := range kinds {
			if got, changed := Transition(from, kind); changed || got != from {
				t.Errorf("terminal %s moved to %s on %s", from, got, kind)
			}
		}
	}
}

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog(map[string]string{"pro_monthly": "price_1", "business_yearly": "price_2"})

	p, err := c.Resolve("pro", "monthly")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.ID != "pro_monthly" || p.Tier != model.PlanPro || p.GatewayPriceID != "price_1" {
		t.Fatalf("unexpected plan %+v", p)
	}

	for _, in := range [][2]string{{"free", "monthly"}, {"pro", "weekly"}, {"pro", "yearly"}} {
		if _, err := c.Resolve(in[0], in[1]); !errors.Is(err, model.ErrInvalidPlan) {
			t.Errorf("Resolve(%s, %s): expected ErrInvalidPlan, got %v", in[0], in[1], err)
		}
	}

	if p, ok := c.Lookup("business_yearly"); !ok || p.Tier != model.PlanBusiness {
		t.Fatalf("Lookup failed: %+v %v", p, ok)
	}
}
