package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const foreignKeyViolation = "23503"

// AdmitFunc runs against the locked usage row before a download is counted.
// It may apply a period reset to rec in place. A non-nil error aborts the
// download; keepHistory asks for a DownloadHistory entry.
type AdmitFunc func(rec *model.UsageRecord) (keepHistory bool, err error)

// UsageRepository persists the entitlement ledger.
type UsageRepository interface {
	// GetOrCreateUsage returns the account's usage row, inserting a free-tier row if none exists.
	GetOrCreateUsage(ctx context.Context, accountID string, now time.Time) (*model.UsageRecord, error)
	// ResetUsagePeriod clears the monthly counter if the row still carries previousResetAt.
	ResetUsagePeriod(ctx context.Context, accountID string, previousResetAt, now time.Time) (*model.UsageRecord, error)
	// RecordDownload locks the row, runs admit and increments the counters in place.
	RecordDownload(ctx context.Context, accountID string, fileSize int64, entry model.DownloadHistory, admit AdmitFunc) (*model.UsageRecord, error)
	SetPlanTier(ctx context.Context, accountID string, tier model.PlanTier, subscriptionRef *string) error
	// DowngradeIfCurrent moves the account to free if subscriptionID is still its subscription_ref.
	DowngradeIfCurrent(ctx context.Context, accountID, subscriptionID string) (bool, error)
	ListDownloadHistory(ctx context.Context, accountID string, limit, offset int) ([]model.DownloadHistory, error)
}

type usageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

const usageColumns = `account_id, downloads_this_month, storage_used_bytes, plan_tier, last_reset_at, subscription_ref, updated_at`

func scanUsage(row pgx.Row) (*model.UsageRecord, error) {
	var u model.UsageRecord
	var tier string
	if err := row.Scan(&u.AccountID, &u.DownloadsThisMonth, &u.StorageUsedBytes, &tier, &u.LastResetAt, &u.SubscriptionRef, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.PlanTier = model.PlanTier(tier)
	return &u, nil
}

// GetOrCreateUsage relies on the primary key to arbitrate concurrent creators;
// the losing insert is discarded and the winner's row is re-read.
func (r *usageRepo) GetOrCreateUsage(ctx context.Context, accountID string, now time.Time) (*model.UsageRecord, error) {
	const insertQ = `
		INSERT INTO usage_records (account_id, downloads_this_month, storage_used_bytes, plan_tier, last_reset_at, updated_at)
		VALUES ($1, 0, 0, 'free', $2, $2)
		ON CONFLICT (account_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, insertQ, accountID, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return nil, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("creating usage for account %s: %w", accountID, err)
	}
	u, err := scanUsage(r.pool.QueryRow(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("usage for account %s: %w", accountID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching usage for account %s: %w", accountID, err)
	}
	return u, nil
}

func (r *usageRepo) ResetUsagePeriod(ctx context.Context, accountID string, previousResetAt, now time.Time) (*model.UsageRecord, error) {
	const q = `
		UPDATE usage_records
		SET downloads_this_month = 0, last_reset_at = $3, updated_at = $3
		WHERE account_id = $1 AND last_reset_at = $2
		RETURNING ` + usageColumns
	u, err := scanUsage(r.pool.QueryRow(ctx, q, accountID, previousResetAt, now))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resetting usage for account %s: %w", accountID, err)
	}
	// Another request reset the period first; return its result.
	u, err = scanUsage(r.pool.QueryRow(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("usage for account %s: %w", accountID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching usage for account %s: %w", accountID, err)
	}
	return u, nil
}

func (r *usageRepo) RecordDownload(ctx context.Context, accountID string, fileSize int64, entry model.DownloadHistory, admit AdmitFunc) (*model.UsageRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("starting transaction for download: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := scanUsage(tx.QueryRow(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE account_id = $1 FOR UPDATE`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("usage for account %s: %w", accountID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("locking usage for account %s: %w", accountID, err)
	}

	previousResetAt := current.LastResetAt
	keepHistory, err := admit(current)
	if err != nil {
		return nil, err
	}
	if !current.LastResetAt.Equal(previousResetAt) {
		const resetQ = `UPDATE usage_records SET downloads_this_month = 0, last_reset_at = $2, updated_at = $2 WHERE account_id = $1`
		if _, err := tx.Exec(ctx, resetQ, accountID, current.LastResetAt); err != nil {
			return nil, fmt.Errorf("resetting usage for account %s: %w", accountID, err)
		}
	}

	const incrementQ = `
		UPDATE usage_records
		SET downloads_this_month = downloads_this_month + 1,
		    storage_used_bytes = storage_used_bytes + $2,
		    updated_at = NOW()
		WHERE account_id = $1
		RETURNING ` + usageColumns
	updated, err := scanUsage(tx.QueryRow(ctx, incrementQ, accountID, fileSize))
	if err != nil {
		return nil, fmt.Errorf("incrementing usage for account %s: %w", accountID, err)
	}

	if keepHistory {
		const historyQ = `
			INSERT INTO download_history (account_id, tool_name, file_name, file_size_bytes, created_at)
			VALUES ($1, $2, $3, $4, NOW())
		`
		if _, err := tx.Exec(ctx, historyQ, accountID, entry.ToolName, entry.FileName, fileSize); err != nil {
			return nil, fmt.Errorf("recording download history for account %s: %w", accountID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing download for account %s: %w", accountID, err)
	}
	return updated, nil
}

func (r *usageRepo) SetPlanTier(ctx context.Context, accountID string, tier model.PlanTier, subscriptionRef *string) error {
	const q = `
		INSERT INTO usage_records (account_id, plan_tier, subscription_ref, last_reset_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET plan_tier = EXCLUDED.plan_tier,
		    subscription_ref = EXCLUDED.subscription_ref,
		    updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, q, accountID, string(tier), subscriptionRef); err != nil {
		return fmt.Errorf("setting plan tier %s for account %s: %w", tier, accountID, err)
	}
	return nil
}

func (r *usageRepo) DowngradeIfCurrent(ctx context.Context, accountID, subscriptionID string) (bool, error) {
	const q = `
		UPDATE usage_records
		SET plan_tier = 'free', subscription_ref = NULL, updated_at = NOW()
		WHERE account_id = $1 AND subscription_ref = $2
	`
	tag, err := r.pool.Exec(ctx, q, accountID, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("downgrading account %s: %w", accountID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *usageRepo) ListDownloadHistory(ctx context.Context, accountID string, limit, offset int) ([]model.DownloadHistory, error) {
	const q = `
		SELECT id, account_id, tool_name, file_name, file_size_bytes, created_at
		FROM download_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, q, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing download history for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var entries []model.DownloadHistory
	for rows.Next() {
		var h model.DownloadHistory
		if err := rows.Scan(&h.ID, &h.AccountID, &h.ToolName, &h.FileName, &h.FileSizeBytes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning download history: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating download history: %w", err)
	}
	return entries, nil
}
