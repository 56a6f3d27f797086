package billing

import (
	"fmt"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
)

// Plan is a purchasable tier and billing cycle combination.
type Plan struct {
	ID             string
	Tier           model.PlanTier
	Cycle          model.BillingCycle
	GatewayPriceID string
}

// Catalog resolves plan ids such as "pro_monthly" to plans.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds the paid plan catalog. priceIDs maps plan ids to gateway price ids.
func NewCatalog(priceIDs map[string]string) Catalog {
	plans := make(map[string]Plan)
	for _, tier := range []model.PlanTier{model.PlanPro, model.PlanBusiness} {
		for _, cycle := range []model.BillingCycle{model.CycleMonthly, model.CycleYearly} {
			id := PlanID(tier, cycle)
			plans[id] = Plan{ID: id, Tier: tier, Cycle: cycle, GatewayPriceID: priceIDs[id]}
		}
	}
	return Catalog{plans: plans}
}

// PlanID composes the stored plan id from tier and cycle.
func PlanID(tier model.PlanTier, cycle model.BillingCycle) string {
	return fmt.Sprintf("%s_%s", tier, cycle)
}

// Resolve looks up tier and cycle. It fails with model.ErrInvalidPlan for
// unknown combinations and for plans without a configured gateway price.
func (c Catalog) Resolve(tier, cycle string) (Plan, error) {
	p, ok := c.plans[PlanID(model.PlanTier(tier), model.BillingCycle(cycle))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s/%s", model.ErrInvalidPlan, tier, cycle)
	}
	if p.GatewayPriceID == "" {
		return Plan{}, fmt.Errorf("%w: no gateway price configured for %s", model.ErrInvalidPlan, p.ID)
	}
	return p, nil
}

// Lookup returns the plan stored on a subscription row.
func (c Catalog) Lookup(planID string) (Plan, bool) {
	p, ok := c.plans[planID]
	return p, ok
}
