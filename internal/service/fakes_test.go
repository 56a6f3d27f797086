package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/gateway"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/processor"
	"github.com/PRX2112/image-opration-tools-sub001/internal/repository"
)

type fakeUsageRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.UsageRecord
	history []model.DownloadHistory
	// missing lists accounts for which the row does not exist (no account FK).
	missing map[string]bool
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{rows: map[string]*model.UsageRecord{}, missing: map[string]bool{}}
}

func (r *fakeUsageRepo) put(rec model.UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.AccountID] = &rec
}

func (r *fakeUsageRepo) get(accountID string) model.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[accountID]
}

func (r *fakeUsageRepo) GetOrCreateUsage(_ context.Context, accountID string, now time.Time) (*model.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing[accountID] {
		return nil, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	rec, ok := r.rows[accountID]
	if !ok {
		rec = &model.UsageRecord{AccountID: accountID, PlanTier: model.PlanFree, LastResetAt: now, UpdatedAt: now}
		r.rows[accountID] = rec
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeUsageRepo) ResetUsagePeriod(_ context.Context, accountID string, previousResetAt, now time.Time) (*model.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[accountID]
	if !ok {
		return nil, model.ErrNotFound
	}
	if rec.LastResetAt.Equal(previousResetAt) {
		rec.DownloadsThisMonth = 0
		rec.LastResetAt = now
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeUsageRepo) RecordDownload(_ context.Context, accountID string, fileSize int64, entry model.DownloadHistory, admit repository.AdmitFunc) (*model.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[accountID]
	if !ok {
		return nil, fmt.Errorf("usage for account %s: %w", accountID, model.ErrNotFound)
	}
	locked := *rec
	keepHistory, err := admit(&locked)
	if err != nil {
		return nil, err
	}
	locked.DownloadsThisMonth++
	locked.StorageUsedBytes += fileSize
	*rec = locked
	if keepHistory {
		entry.ID = int64(len(r.history) + 1)
		r.history = append(r.history, entry)
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeUsageRepo) SetPlanTier(_ context.Context, accountID string, tier model.PlanTier, subscriptionRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[accountID]
	if !ok {
		rec = &model.UsageRecord{AccountID: accountID, LastResetAt: time.Now()}
		r.rows[accountID] = rec
	}
	rec.PlanTier = tier
	rec.SubscriptionRef = subscriptionRef
	return nil
}

func (r *fakeUsageRepo) DowngradeIfCurrent(_ context.Context, accountID, subscriptionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[accountID]
	if !ok || rec.SubscriptionRef == nil || *rec.SubscriptionRef != subscriptionID {
		return false, nil
	}
	rec.PlanTier = model.PlanFree
	rec.SubscriptionRef = nil
	return true, nil
}

func (r *fakeUsageRepo) ListDownloadHistory(_ context.Context, accountID string, limit, offset int) ([]model.DownloadHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DownloadHistory
	for _, h := range r.history {
		if h.AccountID == accountID {
			out = append(out, h)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription
	seq  int
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: map[string]*model.Subscription{}}
}

func (r *fakeSubscriptionRepo) CreateSubscription(_ context.Context, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	cp := *s
	cp.CreatedAt = time.Unix(int64(r.seq), 0)
	r.subs[s.ID] = &cp
	return nil
}

func (r *fakeSubscriptionRepo) status(id string) model.SubscriptionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id].Status
}

func (r *fakeSubscriptionRepo) GetSubscriptionByID(_ context.Context, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, model.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubscriptionRepo) GetSubscriptionByGatewayID(_ context.Context, gatewayID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.GatewaySubscriptionID != nil && *s.GatewaySubscriptionID == gatewayID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("subscription %s: %w", gatewayID, model.ErrNotFound)
}

func (r *fakeSubscriptionRepo) latest(accountID string, match func(*model.Subscription) bool) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*model.Subscription
	for _, s := range r.subs {
		if s.AccountID == accountID && match(s) {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("subscription for %s: %w", accountID, model.ErrNotFound)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	cp := *found[0]
	return &cp, nil
}

func (r *fakeSubscriptionRepo) GetLatestSubscription(_ context.Context, accountID string) (*model.Subscription, error) {
	return r.latest(accountID, func(*model.Subscription) bool { return true })
}

func (r *fakeSubscriptionRepo) GetActiveSubscription(_ context.Context, accountID string) (*model.Subscription, error) {
	return r.latest(accountID, func(s *model.Subscription) bool { return s.Status == model.SubscriptionActive })
}

func (r *fakeSubscriptionRepo) TransitionStatus(_ context.Context, id string, from, to model.SubscriptionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (r *fakeSubscriptionRepo) UpdatePeriod(_ context.Context, id string, start, end *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return model.ErrNotFound
	}
	if start != nil {
		s.CurrentPeriodStart = start
	}
	if end != nil {
		s.CurrentPeriodEnd = end
	}
	return nil
}

func (r *fakeSubscriptionRepo) MarkCancelAtPeriodEnd(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return model.ErrNotFound
	}
	s.CancelAtPeriodEnd = true
	return nil
}

func (r *fakeSubscriptionRepo) ListPeriodEnded(_ context.Context, now time.Time, limit int) ([]model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Subscription
	for _, s := range r.subs {
		if s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.After(now) && (s.CancelAtPeriodEnd || s.Status.Terminal()) {
			out = append(out, *s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments []model.PaymentRecord
}

func (r *fakePaymentRepo) InsertPayment(_ context.Context, p *model.PaymentRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.GatewayPaymentID == p.GatewayPaymentID {
			return false, nil
		}
	}
	r.payments = append(r.payments, *p)
	return true, nil
}

func (r *fakePaymentRepo) ListPayments(_ context.Context, subscriptionID string) ([]model.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.PaymentRecord
	for _, p := range r.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) count(gatewayPaymentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payments {
		if p.GatewayPaymentID == gatewayPaymentID {
			n++
		}
	}
	return n
}

type journalEntry struct {
	id        int64
	processed bool
	err       error
}

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]*journalEntry
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: map[string]*journalEntry{}}
}

func (j *fakeJournal) BeginEvent(_ context.Context, evt *model.GatewayEvent) (int64, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := evt.Provider + "/" + evt.ID
	e, ok := j.entries[key]
	if !ok {
		e = &journalEntry{id: int64(len(j.entries) + 1)}
		j.entries[key] = e
	}
	return e.id, e.processed, nil
}

func (j *fakeJournal) FinishEvent(_ context.Context, id int64, processingErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		if e.id == id {
			e.processed = true
			e.err = processingErr
		}
	}
	return nil
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
}

func newFakeAccountRepo(accounts ...*model.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[string]*model.Account{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) CreateAccount(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Email == a.Email {
			return fmt.Errorf("create account %s: %w", a.Email, model.ErrEmailTaken)
		}
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *fakeAccountRepo) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", email, model.ErrNotFound)
}

func (r *fakeAccountRepo) UpdateStripeCustomerID(_ context.Context, id, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return model.ErrNotFound
	}
	a.StripeCustomerID = &customerID
	return nil
}

type fakeGateway struct {
	mu            sync.Mutex
	validSig      string
	createErr     error
	cancelErr     error
	created       []gateway.CreateSubscriptionRequest
	cancelled     []string
	nextGatewayID string
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, a *model.Account) (string, error) {
	if a.StripeCustomerID != nil {
		return *a.StripeCustomerID, nil
	}
	return "cus_" + a.ID, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, req gateway.CreateSubscriptionRequest) (*gateway.SubscriptionHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	id := g.nextGatewayID
	if id == "" {
		id = fmt.Sprintf("sub_%d", len(g.created))
	}
	return &gateway.SubscriptionHandle{GatewaySubscriptionID: id, Status: "incomplete"}, nil
}

func (g *fakeGateway) CancelAtPeriodEnd(_ context.Context, gatewaySubscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, gatewaySubscriptionID)
	return nil
}

func (g *fakeGateway) VerifyPaymentSignature(_, _, signature string) error {
	if signature != g.validSig {
		return model.ErrInvalidSignature
	}
	return nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*model.GatewayEvent, error) {
	return nil, model.ErrInvalidSignature
}

type scheduledJob struct {
	subscriptionID string
	at             time.Time
}

type fakeScheduler struct {
	jobs []scheduledJob
	err  error
}

func (s *fakeScheduler) SchedulePeriodEnd(_ context.Context, subscriptionID string, at time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, scheduledJob{subscriptionID: subscriptionID, at: at})
	return nil
}

type fakeProcessor struct {
	out   *processor.Result
	err   error
	calls int
}

func (p *fakeProcessor) Process(_ context.Context, _ []byte, _ processor.Operation) (*processor.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.out, nil
}

type fakeStore struct {
	objects map[string][]byte
	err     error
	// afterPut runs once an object is stored, standing in for a concurrent request.
	afterPut func()
}

func (s *fakeStore) Put(_ context.Context, key, _ string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	if s.afterPut != nil {
		s.afterPut()
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key + "?sig=1", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.topics = append(p.topics, topic+":"+attrs["event_type"])
	return "msg-1", nil
}
