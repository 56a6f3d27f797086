package entitlement

import (
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
)

// ResetWindow is the rolling counting period, anchored to UsageRecord.LastResetAt.
const ResetWindow = 30 * 24 * time.Hour

// CanDownload reports whether one more download fits the monthly allowance.
func CanDownload(usage model.UsageRecord, limits Limits) bool {
	return limits.DownloadsPerMonth == Unlimited || usage.DownloadsThisMonth < limits.DownloadsPerMonth
}

// CanAcceptFileSize reports whether a file of size bytes may be processed.
func CanAcceptFileSize(size int64, limits Limits) bool {
	return within(size, limits.MaxFileSizeBytes)
}

// CanStore reports whether size more bytes fit the cloud storage allowance.
func CanStore(usage model.UsageRecord, size int64, limits Limits) bool {
	if limits.StorageBytes == Unlimited {
		return true
	}
	return limits.StorageBytes > 0 && usage.StorageUsedBytes+size <= limits.StorageBytes
}

// ResetDue reports whether the counting period of usage has elapsed at now.
func ResetDue(usage model.UsageRecord, now time.Time) bool {
	return now.Sub(usage.LastResetAt) >= ResetWindow
}

// ApplyResetIfDue returns usage with the monthly counter cleared and the
// period restarted at now when the window has elapsed. The second result
// reports whether a reset happened. Storage is cumulative and never reset.
func ApplyResetIfDue(usage model.UsageRecord, now time.Time) (model.UsageRecord, bool) {
	if !ResetDue(usage, now) {
		return usage, false
	}
	usage.DownloadsThisMonth = 0
	usage.LastResetAt = now
	return usage, true
}

// DownloadDenial returns the LimitExceededError for usage, or nil when a download is allowed.
func DownloadDenial(usage model.UsageRecord, limits Limits) error {
	if CanDownload(usage, limits) {
		return nil
	}
	return &model.LimitExceededError{Resource: model.ResourceDownloads, Tier: usage.PlanTier, Limit: limits.DownloadsPerMonth}
}

// StorageDenial returns the LimitExceededError for saving size more bytes, or nil when they fit.
func StorageDenial(usage model.UsageRecord, size int64, limits Limits) error {
	if CanStore(usage, size, limits) {
		return nil
	}
	return &model.LimitExceededError{Resource: model.ResourceStorage, Tier: usage.PlanTier, Limit: limits.StorageBytes}
}
