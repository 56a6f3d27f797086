package dto

import "time"

// LimitsDTO renders plan limits; -1 means unlimited.
type LimitsDTO struct {
	DownloadsPerMonth int64 `json:"downloads_per_month"`
	MaxFileSizeBytes  int64 `json:"max_file_size_bytes"`
	StorageBytes      int64 `json:"storage_bytes"`
}

// UsageResponseDTO is the current-usage view.
type UsageResponseDTO struct {
	DownloadsThisMonth int64     `json:"downloads_this_month"`
	StorageUsedBytes   int64     `json:"storage_used_bytes"`
	PlanTier           string    `json:"plan_tier"`
	LastResetAt        time.Time `json:"last_reset_at"`
	Limits             LimitsDTO `json:"limits"`
}

// TrackDownloadRequest records a completed client-side download.
type TrackDownloadRequest struct {
	FileSize int64  `json:"file_size" validate:"gte=0"`
	ToolName string `json:"tool_name,omitempty" validate:"omitempty,max=64"`
	FileName string `json:"file_name,omitempty" validate:"omitempty,max=255"`
}

type DownloadHistoryDTO struct {
	ID            int64     `json:"id"`
	ToolName      string    `json:"tool_name"`
	FileName      string    `json:"file_name"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}
