package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/entitlement"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/pubsub"
	"github.com/PRX2112/image-opration-tools-sub001/internal/repository"

	"github.com/rs/zerolog"
)

// DownloadInput describes a finished download to be counted.
type DownloadInput struct {
	FileSizeBytes int64
	ToolName      string
	FileName      string
	// Saved marks a file kept in cloud storage; its size must then fit the storage allowance.
	Saved bool
}

// LedgerService is the entitlement ledger: the only writer of usage counters.
type LedgerService interface {
	// GetUsage returns the account's usage, creating it on first access and applying a due reset.
	GetUsage(ctx context.Context, accountID string) (*model.UsageRecord, error)
	Limits(tier model.PlanTier) entitlement.Limits
	// CheckDownload fails with ErrLimitExceeded when the monthly allowance is used up.
	CheckDownload(ctx context.Context, accountID string) (*model.UsageRecord, error)
	// CheckFileSize fails with ErrLimitExceeded when size exceeds the tier's file limit.
	CheckFileSize(ctx context.Context, accountID string, size int64) (*model.UsageRecord, error)
	// CheckStorage fails with ErrLimitExceeded when size bytes do not fit the storage allowance.
	CheckStorage(ctx context.Context, accountID string, size int64) error
	// RecordDownload re-checks the allowance against the locked row and counts the download.
	RecordDownload(ctx context.Context, accountID string, in DownloadInput) (*model.UsageRecord, error)
	SetPlanTier(ctx context.Context, accountID string, tier model.PlanTier, subscriptionID *string) error
	// DowngradeIfCurrent moves the account to free when subscriptionID still backs its tier.
	DowngradeIfCurrent(ctx context.Context, accountID, subscriptionID string) (bool, error)
	History(ctx context.Context, accountID string, limit, offset int) ([]model.DownloadHistory, error)
}

type ledgerService struct {
	repo   repository.UsageRepository
	table  entitlement.Table
	events eventEmitter
	now    func() time.Time
	logger zerolog.Logger
}

// NewLedgerService creates a LedgerService with a scoped logger.
func NewLedgerService(repo repository.UsageRepository, table entitlement.Table, publisher pubsub.Publisher, topic string, logger zerolog.Logger) LedgerService {
	lg := logger.With().Str("service", "LedgerService").Logger()
	return &ledgerService{
		repo:   repo,
		table:  table,
		events: newEventEmitter(publisher, topic, lg),
		now:    time.Now,
		logger: lg,
	}
}

func (s *ledgerService) Limits(tier model.PlanTier) entitlement.Limits {
	return s.table.For(tier)
}

func (s *ledgerService) getOrCreate(ctx context.Context, accountID string, now time.Time) (*model.UsageRecord, error) {
	usage, err := s.repo.GetOrCreateUsage(ctx, accountID, now)
	if errors.Is(err, model.ErrNotFound) {
		// A missing row right after creation is a transient consistency fault; retry once.
		usage, err = s.repo.GetOrCreateUsage(ctx, accountID, now)
	}
	return usage, err
}

func (s *ledgerService) GetUsage(ctx context.Context, accountID string) (*model.UsageRecord, error) {
	now := s.now().UTC()
	usage, err := s.getOrCreate(ctx, accountID, now)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load usage")
		return nil, err
	}
	if _, due := entitlement.ApplyResetIfDue(*usage, now); !due {
		return usage, nil
	}
	reset, err := s.repo.ResetUsagePeriod(ctx, accountID, usage.LastResetAt, now)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to reset usage period")
		return nil, err
	}
	s.logger.Info().Str("account_id", accountID).Time("previous_reset_at", usage.LastResetAt).Msg("Usage period reset")
	return reset, nil
}

func (s *ledgerService) CheckDownload(ctx context.Context, accountID string) (*model.UsageRecord, error) {
	usage, err := s.GetUsage(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := entitlement.DownloadDenial(*usage, s.table.For(usage.PlanTier)); err != nil {
		return usage, err
	}
	return usage, nil
}

func (s *ledgerService) CheckFileSize(ctx context.Context, accountID string, size int64) (*model.UsageRecord, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative file size", model.ErrInvalidInput)
	}
	usage, err := s.GetUsage(ctx, accountID)
	if err != nil {
		return nil, err
	}
	limits := s.table.For(usage.PlanTier)
	if !entitlement.CanAcceptFileSize(size, limits) {
		return usage, &model.LimitExceededError{Resource: model.ResourceFileSize, Tier: usage.PlanTier, Limit: limits.MaxFileSizeBytes}
	}
	return usage, nil
}

func (s *ledgerService) CheckStorage(ctx context.Context, accountID string, size int64) error {
	usage, err := s.GetUsage(ctx, accountID)
	if err != nil {
		return err
	}
	return entitlement.StorageDenial(*usage, size, s.table.For(usage.PlanTier))
}

func (s *ledgerService) RecordDownload(ctx context.Context, accountID string, in DownloadInput) (*model.UsageRecord, error) {
	if in.FileSizeBytes < 0 {
		return nil, fmt.Errorf("%w: fileSize must be non-negative", model.ErrInvalidInput)
	}
	now := s.now().UTC()
	admit := func(rec *model.UsageRecord) (bool, error) {
		*rec, _ = entitlement.ApplyResetIfDue(*rec, now)
		limits := s.table.For(rec.PlanTier)
		if err := entitlement.DownloadDenial(*rec, limits); err != nil {
			return false, err
		}
		if in.Saved {
			if err := entitlement.StorageDenial(*rec, in.FileSizeBytes, limits); err != nil {
				return false, err
			}
		}
		return rec.PlanTier != model.PlanFree, nil
	}
	entry := model.DownloadHistory{AccountID: accountID, ToolName: in.ToolName, FileName: in.FileName, FileSizeBytes: in.FileSizeBytes}

	usage, err := s.repo.RecordDownload(ctx, accountID, in.FileSizeBytes, entry, admit)
	if errors.Is(err, model.ErrNotFound) {
		if _, err = s.getOrCreate(ctx, accountID, now); err == nil {
			usage, err = s.repo.RecordDownload(ctx, accountID, in.FileSizeBytes, entry, admit)
		}
	}
	if err != nil {
		if errors.Is(err, model.ErrLimitExceeded) {
			s.logger.Info().Err(err).Str("account_id", accountID).Msg("Download denied by plan limits")
		} else {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to record download")
		}
		return nil, err
	}

	s.events.emit(ctx, EventDownloadRecorded, accountID, map[string]any{
		"tool_name":            in.ToolName,
		"file_size_bytes":      in.FileSizeBytes,
		"downloads_this_month": usage.DownloadsThisMonth,
		"plan_tier":            usage.PlanTier,
	})
	return usage, nil
}

func (s *ledgerService) SetPlanTier(ctx context.Context, accountID string, tier model.PlanTier, subscriptionID *string) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: unknown plan tier %q", model.ErrInvalidInput, tier)
	}
	if err := s.repo.SetPlanTier(ctx, accountID, tier, subscriptionID); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("plan_tier", string(tier)).Msg("Failed to set plan tier")
		return err
	}
	s.events.emit(ctx, EventPlanChanged, accountID, map[string]any{"plan_tier": tier})
	return nil
}

func (s *ledgerService) DowngradeIfCurrent(ctx context.Context, accountID, subscriptionID string) (bool, error) {
	changed, err := s.repo.DowngradeIfCurrent(ctx, accountID, subscriptionID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("subscription_id", subscriptionID).Msg("Failed to downgrade account")
		return false, err
	}
	if changed {
		s.events.emit(ctx, EventPlanChanged, accountID, map[string]any{"plan_tier": model.PlanFree})
	}
	return changed, nil
}

func (s *ledgerService) History(ctx context.Context, accountID string, limit, offset int) ([]model.DownloadHistory, error) {
	entries, err := s.repo.ListDownloadHistory(ctx, accountID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to list download history")
		return nil, err
	}
	return entries, nil
}
