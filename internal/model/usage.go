package model

import "time"

// PlanTier is the entitlement tier an account is billed at.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	switch t {
	case PlanFree, PlanPro, PlanBusiness:
		return true
	}
	return false
}

// UsageRecord holds an account's counters for the current counting period.
type UsageRecord struct {
	AccountID          string    `db:"account_id" json:"account_id"`
	DownloadsThisMonth int64     `db:"downloads_this_month" json:"downloads_this_month"`
	StorageUsedBytes   int64     `db:"storage_used_bytes" json:"storage_used_bytes"`
	PlanTier           PlanTier  `db:"plan_tier" json:"plan_tier"`
	LastResetAt        time.Time `db:"last_reset_at" json:"last_reset_at"`
	SubscriptionRef    *string   `db:"subscription_ref" json:"subscription_ref,omitempty"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// DownloadHistory records which tool produced a downloaded file. Only paid tiers get entries.
type DownloadHistory struct {
	ID            int64     `db:"id" json:"id"`
	AccountID     string    `db:"account_id" json:"account_id"`
	ToolName      string    `db:"tool_name" json:"tool_name"`
	FileName      string    `db:"file_name" json:"file_name"`
	FileSizeBytes int64     `db:"file_size_bytes" json:"file_size_bytes"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
