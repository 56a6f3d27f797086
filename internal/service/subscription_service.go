package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/billing"
	"github.com/PRX2112/image-opration-tools-sub001/internal/gateway"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/pubsub"
	"github.com/PRX2112/image-opration-tools-sub001/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PeriodEndScheduler arranges for a subscription to be re-examined once its period ends.
type PeriodEndScheduler interface {
	SchedulePeriodEnd(ctx context.Context, subscriptionID string, at time.Time) error
}

// CreateSubscriptionResult is returned to the client to continue checkout.
type CreateSubscriptionResult struct {
	Subscription          *model.Subscription
	GatewaySubscriptionID string
}

// VerifyPaymentInput is the client-side checkout confirmation.
type VerifyPaymentInput struct {
	GatewayPaymentID      string
	GatewaySubscriptionID string
	Signature             string
}

// CurrentSubscription is the latest subscription with its payments.
type CurrentSubscription struct {
	Subscription *model.Subscription
	Payments     []model.PaymentRecord
}

// SubscriptionService is the subscription state machine.
type SubscriptionService interface {
	Create(ctx context.Context, accountID, tier, cycle string) (*CreateSubscriptionResult, error)
	VerifyPayment(ctx context.Context, accountID string, in VerifyPaymentInput) (*model.Subscription, error)
	// HandleWebhookEvent applies a verified gateway event. Events it cannot use are acknowledged with a nil error.
	HandleWebhookEvent(ctx context.Context, evt *model.GatewayEvent) error
	Cancel(ctx context.Context, accountID string) (*model.Subscription, error)
	GetCurrent(ctx context.Context, accountID string) (*CurrentSubscription, error)
	// ExpireIfPeriodEnded expires a non-renewing subscription whose period is over and
	// downgrades its account when it still backs the account's tier.
	ExpireIfPeriodEnded(ctx context.Context, subscriptionID string) (bool, error)
	// SweepPeriodEnds runs ExpireIfPeriodEnded over up to limit overdue subscriptions.
	SweepPeriodEnds(ctx context.Context, limit int) (int, error)
}

type subscriptionService struct {
	subs      repository.SubscriptionRepository
	payments  repository.PaymentRepository
	journal   repository.WebhookEventRepository
	accounts  repository.AccountRepository
	ledger    LedgerService
	gateway   gateway.PaymentGateway
	catalog   billing.Catalog
	scheduler PeriodEndScheduler
	events    eventEmitter
	now       func() time.Time
	logger    zerolog.Logger
}

// SubscriptionDeps groups the collaborators of the subscription service.
type SubscriptionDeps struct {
	Subscriptions repository.SubscriptionRepository
	Payments      repository.PaymentRepository
	Journal       repository.WebhookEventRepository
	Accounts      repository.AccountRepository
	Ledger        LedgerService
	Gateway       gateway.PaymentGateway
	Catalog       billing.Catalog
	// Scheduler is optional; without it only the sweep downgrades cancelled accounts.
	Scheduler   PeriodEndScheduler
	Publisher   pubsub.Publisher
	EventsTopic string
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(deps SubscriptionDeps, logger zerolog.Logger) SubscriptionService {
	lg := logger.With().Str("service", "SubscriptionService").Logger()
	return &subscriptionService{
		subs:      deps.Subscriptions,
		payments:  deps.Payments,
		journal:   deps.Journal,
		accounts:  deps.Accounts,
		ledger:    deps.Ledger,
		gateway:   deps.Gateway,
		catalog:   deps.Catalog,
		scheduler: deps.Scheduler,
		events:    newEventEmitter(deps.Publisher, deps.EventsTopic, lg),
		now:       time.Now,
		logger:    lg,
	}
}

func (s *subscriptionService) Create(ctx context.Context, accountID, tier, cycle string) (*CreateSubscriptionResult, error) {
	plan, err := s.catalog.Resolve(tier, cycle)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load account for checkout")
		return nil, err
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, account)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to ensure gateway customer")
		return nil, err
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID != customerID {
		if err := s.accounts.UpdateStripeCustomerID(ctx, accountID, customerID); err != nil {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to store gateway customer id")
			return nil, err
		}
	}

	sub := &model.Subscription{
		ID:        uuid.NewString(),
		AccountID: accountID,
		PlanID:    plan.ID,
		Status:    model.SubscriptionCreated,
	}
	handle, err := s.gateway.CreateSubscription(ctx, gateway.CreateSubscriptionRequest{
		CustomerID:     customerID,
		PriceID:        plan.GatewayPriceID,
		AccountID:      accountID,
		SubscriptionID: sub.ID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("plan_id", plan.ID).Msg("Failed to create gateway subscription")
		return nil, err
	}
	sub.GatewaySubscriptionID = &handle.GatewaySubscriptionID

	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("gateway_subscription_id", handle.GatewaySubscriptionID).Msg("Failed to store subscription")
		return nil, err
	}

	s.logger.Info().Str("account_id", accountID).Str("subscription_id", sub.ID).Str("plan_id", plan.ID).Msg("Subscription created")
	return &CreateSubscriptionResult{Subscription: sub, GatewaySubscriptionID: handle.GatewaySubscriptionID}, nil
}

func (s *subscriptionService) VerifyPayment(ctx context.Context, accountID string, in VerifyPaymentInput) (*model.Subscription, error) {
	if strings.TrimSpace(in.GatewayPaymentID) == "" || strings.TrimSpace(in.GatewaySubscriptionID) == "" || strings.TrimSpace(in.Signature) == "" {
		return nil, fmt.Errorf("%w: payment id, subscription id and signature are required", model.ErrInvalidInput)
	}

	// 1. Signature first; nothing is read or written for a forged confirmation.
	if err := s.gateway.VerifyPaymentSignature(in.GatewayPaymentID, in.GatewaySubscriptionID, in.Signature); err != nil {
		s.logger.Warn().Err(err).Str("security_event", "invalid_signature").Str("account_id", accountID).
			Str("gateway_subscription_id", in.GatewaySubscriptionID).Msg("Rejected payment confirmation")
		return nil, err
	}

	// 2. The subscription must belong to the caller.
	sub, err := s.subs.GetSubscriptionByGatewayID(ctx, in.GatewaySubscriptionID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error().Err(err).Str("gateway_subscription_id", in.GatewaySubscriptionID).Msg("Failed to load subscription")
		}
		return nil, err
	}
	if sub.AccountID != accountID {
		return nil, fmt.Errorf("subscription %s: %w", in.GatewaySubscriptionID, model.ErrNotFound)
	}
	if sub.Status.Terminal() {
		return nil, fmt.Errorf("subscription %s is %s: %w", sub.ID, sub.Status, model.ErrSubscriptionClosed)
	}

	plan, ok := s.catalog.Lookup(sub.PlanID)
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s has unknown plan %s", model.ErrInvalidPlan, sub.ID, sub.PlanID)
	}

	// 3. created -> active. A webhook may already have activated it.
	if sub.Status == model.SubscriptionCreated {
		moved, err := s.subs.TransitionStatus(ctx, sub.ID, model.SubscriptionCreated, model.SubscriptionActive)
		if err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to activate subscription")
			return nil, err
		}
		if moved {
			s.statusChanged(ctx, sub, model.SubscriptionActive, "verify_payment")
			sub.Status = model.SubscriptionActive
		} else if sub, err = s.subs.GetSubscriptionByID(ctx, sub.ID); err != nil {
			return nil, err
		}
	}

	// 4. Payment log; a redelivered confirmation is a no-op.
	if _, err := s.payments.InsertPayment(ctx, &model.PaymentRecord{
		ID:               uuid.NewString(),
		SubscriptionID:   sub.ID,
		GatewayPaymentID: in.GatewayPaymentID,
		Source:           model.PaymentSourceVerify,
	}); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", sub.ID).Str("gateway_payment_id", in.GatewayPaymentID).Msg("Failed to record payment")
		return nil, err
	}

	// 5. Propagate the tier into the ledger.
	if err := s.ledger.SetPlanTier(ctx, accountID, plan.Tier, &sub.ID); err != nil {
		return nil, err
	}

	s.logger.Info().Str("account_id", accountID).Str("subscription_id", sub.ID).Str("plan_tier", string(plan.Tier)).Msg("Payment verified")
	return sub, nil
}

func (s *subscriptionService) HandleWebhookEvent(ctx context.Context, evt *model.GatewayEvent) error {
	log := s.logger.With().Str("event_id", evt.ID).Str("event_type", evt.RawType).Str("kind", string(evt.Kind)).Logger()

	journalID, processed, err := s.journal.BeginEvent(ctx, evt)
	if err != nil {
		log.Error().Err(err).Msg("Failed to journal webhook event")
		return err
	}
	if processed {
		log.Info().Msg("Webhook event already processed, skipping")
		return nil
	}

	dispatchErr := s.dispatch(ctx, evt)
	switch {
	case dispatchErr == nil:
	case errors.Is(dispatchErr, model.ErrInvalidInput):
		// Redelivering a malformed event cannot help; acknowledge it.
		log.Warn().Err(dispatchErr).Msg("Webhook event ignored")
	case errors.Is(dispatchErr, model.ErrNotFound):
		// The local subscription row may not be committed yet. Left unfinished so a redelivery retries.
		log.Warn().Err(dispatchErr).Msg("Webhook event for unknown subscription, awaiting redelivery")
		return dispatchErr
	default:
		// Left unfinished so a redelivery dispatches again.
		log.Error().Err(dispatchErr).Msg("Failed to apply webhook event")
		return dispatchErr
	}

	if err := s.journal.FinishEvent(ctx, journalID, dispatchErr); err != nil {
		log.Error().Err(err).Msg("Failed to finish webhook event")
		return err
	}
	return nil
}

func (s *subscriptionService) dispatch(ctx context.Context, evt *model.GatewayEvent) error {
	if evt.Kind == model.EventUnknown {
		s.logger.Info().Str("event_type", evt.RawType).Msg("Unhandled webhook event type")
		return nil
	}
	if evt.GatewaySubscriptionID == "" {
		return fmt.Errorf("%w: %s event without subscription id", model.ErrInvalidInput, evt.RawType)
	}

	sub, err := s.subs.GetSubscriptionByGatewayID(ctx, evt.GatewaySubscriptionID)
	if err != nil {
		return err
	}

	if billing.RecordsPayment(evt.Kind) {
		if evt.GatewayPaymentID == "" {
			return fmt.Errorf("%w: charge without payment id", model.ErrInvalidInput)
		}
		inserted, err := s.payments.InsertPayment(ctx, &model.PaymentRecord{
			ID:               uuid.NewString(),
			SubscriptionID:   sub.ID,
			GatewayPaymentID: evt.GatewayPaymentID,
			AmountCents:      evt.AmountCents,
			Currency:         evt.Currency,
			Source:           model.PaymentSourceWebhook,
		})
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.Debug().Str("gateway_payment_id", evt.GatewayPaymentID).Msg("Payment already recorded")
		}
	}

	if evt.PeriodStart != nil || evt.PeriodEnd != nil {
		if err := s.subs.UpdatePeriod(ctx, sub.ID, evt.PeriodStart, evt.PeriodEnd); err != nil {
			return err
		}
	}

	to, changed := billing.Transition(sub.Status, evt.Kind)
	if !changed {
		s.logger.Debug().Str("subscription_id", sub.ID).Str("status", string(sub.Status)).Str("kind", string(evt.Kind)).Msg("Webhook event causes no transition")
		return nil
	}
	moved, err := s.subs.TransitionStatus(ctx, sub.ID, sub.Status, to)
	if err != nil {
		return err
	}
	if !moved {
		// A concurrent writer changed the status first; the newer state wins.
		s.logger.Info().Str("subscription_id", sub.ID).Str("from", string(sub.Status)).Str("to", string(to)).Msg("Subscription status changed concurrently, transition skipped")
		return nil
	}
	s.statusChanged(ctx, sub, to, "webhook")
	return nil
}

func (s *subscriptionService) Cancel(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := s.subs.GetActiveSubscription(ctx, accountID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load active subscription")
		}
		return nil, err
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}
	if sub.GatewaySubscriptionID == nil {
		return nil, fmt.Errorf("%w: subscription %s has no gateway id", model.ErrUpstreamFailure, sub.ID)
	}

	if err := s.gateway.CancelAtPeriodEnd(ctx, *sub.GatewaySubscriptionID); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to cancel subscription at gateway")
		return nil, err
	}
	if err := s.subs.MarkCancelAtPeriodEnd(ctx, sub.ID); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to mark cancel at period end")
		return nil, err
	}
	sub.CancelAtPeriodEnd = true

	if s.scheduler != nil && sub.CurrentPeriodEnd != nil {
		// The sweep still covers the subscription if scheduling fails.
		if err := s.scheduler.SchedulePeriodEnd(ctx, sub.ID, *sub.CurrentPeriodEnd); err != nil {
			s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("Failed to schedule period-end downgrade")
		}
	}

	s.logger.Info().Str("account_id", accountID).Str("subscription_id", sub.ID).Msg("Subscription set to cancel at period end")
	return sub, nil
}

func (s *subscriptionService) GetCurrent(ctx context.Context, accountID string) (*CurrentSubscription, error) {
	sub, err := s.subs.GetLatestSubscription(ctx, accountID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to fetch subscription")
		}
		return nil, err
	}
	payments, err := s.payments.ListPayments(ctx, sub.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to list payments")
		return nil, err
	}
	return &CurrentSubscription{Subscription: sub, Payments: payments}, nil
}

func (s *subscriptionService) ExpireIfPeriodEnded(ctx context.Context, subscriptionID string) (bool, error) {
	sub, err := s.subs.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	if sub.CurrentPeriodEnd == nil || s.now().Before(*sub.CurrentPeriodEnd) {
		return false, nil
	}
	if !sub.Status.Terminal() && !sub.CancelAtPeriodEnd {
		// Renewing subscription.
		return false, nil
	}

	expired := false
	if sub.Status == model.SubscriptionActive {
		moved, err := s.subs.TransitionStatus(ctx, sub.ID, model.SubscriptionActive, model.SubscriptionExpired)
		if err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to expire subscription")
			return false, err
		}
		if moved {
			expired = true
			s.statusChanged(ctx, sub, model.SubscriptionExpired, "period_end")
		}
	}

	downgraded, err := s.ledger.DowngradeIfCurrent(ctx, sub.AccountID, sub.ID)
	if err != nil {
		return expired, err
	}
	if downgraded {
		s.logger.Info().Str("account_id", sub.AccountID).Str("subscription_id", sub.ID).Msg("Account downgraded to free at period end")
	}
	return expired || downgraded, nil
}

func (s *subscriptionService) SweepPeriodEnds(ctx context.Context, limit int) (int, error) {
	subs, err := s.subs.ListPeriodEnded(ctx, s.now().UTC(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list period-ended subscriptions")
		return 0, err
	}
	done := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		changed, err := s.ExpireIfPeriodEnded(ctx, sub.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to reconcile subscription")
			continue
		}
		if changed {
			done++
		}
	}
	return done, nil
}

func (s *subscriptionService) statusChanged(ctx context.Context, sub *model.Subscription, to model.SubscriptionStatus, cause string) {
	s.logger.Info().Str("subscription_id", sub.ID).Str("from", string(sub.Status)).Str("to", string(to)).Str("cause", cause).Msg("Subscription status changed")
	s.events.emit(ctx, EventSubscriptionChanged, sub.AccountID, map[string]any{
		"subscription_id": sub.ID,
		"from":            sub.Status,
		"to":              to,
		"cause":           cause,
	})
}
