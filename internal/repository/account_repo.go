package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type AccountRepository interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	UpdateStripeCustomerID(ctx context.Context, id, customerID string) error
}

type accountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) AccountRepository {
	return &accountRepo{pool: pool}
}

const accountColumns = `id, email, display_name, password_hash, stripe_customer_id, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.StripeCustomerID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepo) CreateAccount(ctx context.Context, a *model.Account) error {
	q := `INSERT INTO accounts (id, email, display_name, password_hash)
          VALUES ($1, $2, $3, $4) RETURNING created_at`
	err := r.pool.QueryRow(ctx, q, a.ID, a.Email, a.DisplayName, a.PasswordHash).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrEmailTaken
		}
		return fmt.Errorf("create account %s: %w", a.Email, err)
	}
	return nil
}

func (r *accountRepo) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("fetch account %s: %w", id, err)
	}
	return a, nil
}

func (r *accountRepo) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("fetch account by email: %w", err)
	}
	return a, nil
}

func (r *accountRepo) UpdateStripeCustomerID(ctx context.Context, id, customerID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET stripe_customer_id = $2 WHERE id = $1`, id, customerID)
	if err != nil {
		return fmt.Errorf("update stripe customer for account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
