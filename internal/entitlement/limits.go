// Package entitlement holds the static plan limits and the pure checks the
// ledger runs before any chargeable action.
package entitlement

import (
	"fmt"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
)

// Unlimited marks a limit that is never reached.
const Unlimited int64 = -1

const (
	MB = int64(1) << 20
	GB = int64(1) << 30
)

// Limits is the allowance of a single plan tier.
type Limits struct {
	DownloadsPerMonth int64 `json:"downloads_per_month"`
	MaxFileSizeBytes  int64 `json:"max_file_size_bytes"`
	StorageBytes      int64 `json:"storage_bytes"`
}

// Table maps every tier to its limits. It is built once and never mutated.
type Table struct {
	limits map[model.PlanTier]Limits
}

// DefaultTable returns the production limits.
func DefaultTable() Table {
	return Table{limits: map[model.PlanTier]Limits{
		model.PlanFree:     {DownloadsPerMonth: 50, MaxFileSizeBytes: 10 * MB, StorageBytes: 0},
		model.PlanPro:      {DownloadsPerMonth: 500, MaxFileSizeBytes: 200 * MB, StorageBytes: 1 * GB},
		model.PlanBusiness: {DownloadsPerMonth: Unlimited, MaxFileSizeBytes: Unlimited, StorageBytes: Unlimited},
	}}
}

// NewTable builds a table from explicit limits; every known tier must be present.
func NewTable(limits map[model.PlanTier]Limits) (Table, error) {
	copied := make(map[model.PlanTier]Limits, len(limits))
	for _, tier := range []model.PlanTier{model.PlanFree, model.PlanPro, model.PlanBusiness} {
		l, ok := limits[tier]
		if !ok {
			return Table{}, fmt.Errorf("limits for tier %s missing", tier)
		}
		copied[tier] = l
	}
	return Table{limits: copied}, nil
}

// For returns the limits of tier. Unknown tiers get the free allowance.
func (t Table) For(tier model.PlanTier) Limits {
	if l, ok := t.limits[tier]; ok {
		return l
	}
	return t.limits[model.PlanFree]
}

func within(value, limit int64) bool {
	return limit == Unlimited || value <= limit
}
