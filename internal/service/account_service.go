package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/auth"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// Session is an issued access token.
type Session struct {
	Account   *model.Account
	Token     string
	ExpiresAt time.Time
}

// AccountService is the authentication provider.
type AccountService interface {
	Register(ctx context.Context, email, password string, displayName *string) (*Session, error)
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	Get(ctx context.Context, id string) (*model.Account, error)
}

type accountService struct {
	repo   repository.AccountRepository
	ledger LedgerService
	tokens *auth.TokenManager
	logger zerolog.Logger
}

// NewAccountService creates a new AccountService with a scoped logger.
func NewAccountService(repo repository.AccountRepository, ledger LedgerService, tokens *auth.TokenManager, logger zerolog.Logger) AccountService {
	return &accountService{
		repo:   repo,
		ledger: ledger,
		tokens: tokens,
		logger: logger.With().Str("service", "AccountService").Logger(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *accountService) Register(ctx context.Context, email, password string, displayName *string) (*Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", model.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", model.ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		if !errors.Is(err, model.ErrEmailTaken) {
			s.logger.Error().Err(err).Msg("Failed to create account")
		}
		return nil, err
	}

	// Usage row is created eagerly; a failure here is repaired on first read.
	if _, err := s.ledger.GetUsage(ctx, account.ID); err != nil {
		s.logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to initialise usage record")
	}

	s.logger.Info().Str("account_id", account.ID).Msg("Account registered")
	return s.issue(account)
}

func (s *accountService) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	account, err := s.repo.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", model.ErrUnauthenticated)
		}
		s.logger.Error().Err(err).Msg("Failed to look up account")
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", model.ErrUnauthenticated)
	}
	return s.issue(account)
}

func (s *accountService) issue(account *model.Account) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(account)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", account.ID).Msg("Failed to issue token")
		return nil, err
	}
	return &Session{Account: account, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *accountService) Get(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.repo.GetAccountByID(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error().Err(err).Str("account_id", id).Msg("Failed to fetch account")
		}
		return nil, err
	}
	return account, nil
}
