package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatflowers/creditledger/internal/app/service/quota"
	"github.com/fatflowers/creditledger/internal/app/service/renewal"
	"github.com/fatflowers/creditledger/internal/app/service/subscription"
	"github.com/fatflowers/creditledger/internal/app/service/txlog"
	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/logctx"
	"github.com/fatflowers/creditledger/pkg/tool"
	"github.com/fatflowers/creditledger/pkg/types"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type DeductRequest struct {
	Feature     string `json:"feature"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
}

type DeductResult struct {
	Allowed bool         `json:"allowed"`
	Cost    int64        `json:"cost"`
	Balance *BalanceView `json:"balance"`
}

type CreditRequest struct {
	Amount      int64                       `json:"amount"`
	Type        types.CreditTransactionType `json:"type"`
	Description string                      `json:"description"`
	RelatedID   string                      `json:"related_id,omitempty"`
}

// BalanceView is the balance as exposed to collaborators, together with the
// sync state so a degraded store can surface as a non-blocking indicator.
type BalanceView struct {
	Balance    *models.CreditBalance `json:"balance"`
	SyncStatus types.SyncStatus      `json:"sync_status"`
}

// CreditLedger owns the authoritative in-memory balance per user and every
// mutation of it. Insufficient credits is a normal false result, never an
// error; remote-store trouble is absorbed behind the persistence adapter.
type CreditLedger interface {
	CanAfford(ctx context.Context, id types.Identity, feature string, quantity int) (bool, error)
	Deduct(ctx context.Context, id types.Identity, req *DeductRequest) (*DeductResult, error)
	Credit(ctx context.Context, id types.Identity, req *CreditRequest) (*BalanceView, error)
	CurrentBalance(ctx context.Context, id types.Identity) (*BalanceView, error)
	RecentTransactions(ctx context.Context, id types.Identity, limit int) ([]*models.CreditTransaction, error)
	Refresh(ctx context.Context, id types.Identity) (*BalanceView, error)
}

var ErrInvalidAmount = errors.New("credit amount must be positive")

const reconcileAttempts = 3

type userState struct {
	balance *models.CreditBalance
	sub     *types.SubscriptionInfo
	// verified gates every remote read/write for this user.
	verified bool
}

type Service struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	policy  *quota.Policy
	subs    subscription.Provider
	adapter *Adapter
	txlog   *txlog.Service
	sched   *renewal.Scheduler

	mu    sync.Mutex
	users map[string]*userState
	// locks serializes mutations per user: two near-simultaneous deducts
	// must not both read the same pre-mutation pools.
	locks sync.Map
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, policy *quota.Policy, subs subscription.Provider, adapter *Adapter, txs *txlog.Service, sched *renewal.Scheduler) CreditLedger {
	return &Service{
		cfg:     cfg,
		log:     log,
		policy:  policy,
		subs:    subs,
		adapter: adapter,
		txlog:   txs,
		sched:   sched,
		users:   map[string]*userState{},
	}
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CanAfford reports whether the user can pay for the feature. No side
// effects beyond loading the ledger on first touch.
func (s *Service) CanAfford(ctx context.Context, id types.Identity, feature string, quantity int) (bool, error) {
	lk := s.lockFor(id.UserID)
	lk.Lock()
	defer lk.Unlock()

	st, err := s.ensureState(ctx, id)
	if err != nil {
		return false, err
	}
	if s.unlimited(st) {
		return true, nil
	}
	return st.balance.TotalCredits >= s.policy.Cost(feature, quantity), nil
}

// Deduct charges the feature's cost across the pools in policy order. An
// unaffordable call returns Allowed=false with no mutation.
func (s *Service) Deduct(ctx context.Context, id types.Identity, req *DeductRequest) (*DeductResult, error) {
	defer observeOp("deduct", time.Now())

	lk := s.lockFor(id.UserID)
	lk.Lock()
	defer lk.Unlock()

	st, err := s.ensureState(ctx, id)
	if err != nil {
		return nil, err
	}

	cost := s.policy.Cost(req.Feature, req.Quantity)
	if s.unlimited(st) {
		// Unlimited accounts bypass affordability and never mutate pools.
		return &DeductResult{Allowed: true, Cost: cost, Balance: s.view(st)}, nil
	}
	if st.balance.TotalCredits < cost {
		return &DeductResult{Allowed: false, Cost: cost, Balance: s.view(st)}, nil
	}

	before := st.balance.Clone()
	if err := applyDebit(st.balance, cost); err != nil {
		return nil, err
	}
	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("Used %d credits for %s", cost, req.Feature)
	}
	tx := s.newTransaction(id.UserID, types.CreditTransactionTypeUsage, -cost, desc, "")
	tx.Extra = datatypes.JSONMap{"feature": req.Feature, "quantity": req.Quantity}

	applied := s.persist(ctx, st, types.BalanceChangeReasonUsage, before, tx)
	if !applied {
		// A concurrent session spent the credits first; this deduction lost
		// the conditional write and is surfaced as insufficient funds.
		return &DeductResult{Allowed: false, Cost: cost, Balance: s.view(st)}, nil
	}
	// Recorded only now that the mutation survived, so the local tail
	// stays consistent with the balance it describes.
	s.txlog.Append(tx)
	return &DeductResult{Allowed: true, Cost: cost, Balance: s.view(st)}, nil
}

// Credit adds amount to the pool implied by the transaction type. Called by
// the payment collaborator on confirmed purchases, by operators for bonus
// grants, and by the renewal path.
func (s *Service) Credit(ctx context.Context, id types.Identity, req *CreditRequest) (*BalanceView, error) {
	defer observeOp("credit", time.Now())

	if req.Amount <= 0 && req.Type != types.CreditTransactionTypeSubscriptionRenewal {
		return nil, ErrInvalidAmount
	}

	lk := s.lockFor(id.UserID)
	lk.Lock()
	defer lk.Unlock()

	st, err := s.ensureState(ctx, id)
	if err != nil {
		return nil, err
	}

	before := st.balance.Clone()
	if err := applyCredit(st.balance, req.Amount, req.Type); err != nil {
		return nil, err
	}
	tx := s.newTransaction(id.UserID, req.Type, req.Amount, req.Description, req.RelatedID)
	if s.persist(ctx, st, reasonForType(req.Type), before, tx) {
		s.txlog.Append(tx)
	}
	return s.view(st), nil
}

func (s *Service) CurrentBalance(ctx context.Context, id types.Identity) (*BalanceView, error) {
	lk := s.lockFor(id.UserID)
	lk.Lock()
	defer lk.Unlock()

	st, err := s.ensureState(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(st), nil
}

func (s *Service) RecentTransactions(ctx context.Context, id types.Identity, limit int) ([]*models.CreditTransaction, error) {
	lk := s.lockFor(id.UserID)
	lk.Lock()
	defer lk.Unlock()

	if _, err := s.ensureState(ctx, id); err != nil {
		return nil, err
	}
	localOnly := !id.Verified || s.adapter.LocalOnly()
	return s.txlog.List(ctx, id.UserID, limit, localOnly), nil
}

// Refresh forces a reload from the remote store. The remote record is
// authoritative and overwrites local state; queued offline writes are
// replayed on top of it first.
func (s *Service) Refresh(ctx context.Context, id types.Identity) (*BalanceView, error) {
	defer observeOp("refresh", time.Now())

	lk := s.lockFor(id.UserID)
	lk.Lock()
	defer lk.Unlock()

	st, err := s.ensureState(ctx, id)
	if err != nil {
		return nil, err
	}
	if !id.Verified {
		return s.view(st), nil
	}

	if sub, err := s.subs.GetInfo(ctx, id.UserID); err == nil && sub != nil {
		st.sub = sub
	}

	if !s.adapter.Recover() {
		return s.view(st), nil
	}

	remote, err := s.adapter.Load(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Balance was born offline; persist it now with its history.
			pending := s.adapter.TakePending(id.UserID)
			s.adapter.Create(ctx, st.balance, pending...)
		}
		return s.view(st), nil
	}

	st.balance = remote
	if pending := s.dropProvisionalSeeds(id.UserID, s.adapter.TakePending(id.UserID)); len(pending) > 0 {
		s.replay(ctx, st, pending)
	}
	s.checkRenewal(ctx, st, id.Verified)
	return s.view(st), nil
}

// ensureState loads (or initializes) the per-user ledger state. Remote is
// consulted only for verified identities.
func (s *Service) ensureState(ctx context.Context, id types.Identity) (*userState, error) {
	if id.UserID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	s.mu.Lock()
	st, ok := s.users[id.UserID]
	s.mu.Unlock()
	if ok {
		st.verified = st.verified || id.Verified
		return st, nil
	}

	sub := subscription.DefaultInfo(time.Now())
	if id.Verified {
		if info, err := s.subs.GetInfo(ctx, id.UserID); err == nil && info != nil {
			sub = info
		}
	}

	st = &userState{sub: sub, verified: id.Verified}

	if id.Verified {
		bal, err := s.adapter.Load(ctx, id.UserID)
		switch {
		case err == nil:
			st.balance = bal
		case errors.Is(err, store.ErrNotFound):
			bal, welcome := s.newWelcomeBalance(id.UserID, sub)
			st.balance = bal
			s.txlog.Append(welcome)
			s.adapter.Create(ctx, bal, welcome)
			s.writeBalanceLog(ctx, types.BalanceChangeReasonWelcome, nil, bal)
		default:
			// Store unreachable: serve a local-only fresh ledger and queue
			// the seed transaction for replay.
			bal, welcome := s.newWelcomeBalance(id.UserID, sub)
			st.balance = bal
			s.txlog.Append(welcome)
			s.adapter.Queue(id.UserID, welcome)
		}
	} else {
		bal, welcome := s.newWelcomeBalance(id.UserID, sub)
		st.balance = bal
		s.txlog.Append(welcome)
	}

	s.mu.Lock()
	s.users[id.UserID] = st
	s.mu.Unlock()

	s.checkRenewal(ctx, st, id.Verified)
	return st, nil
}

func (s *Service) newWelcomeBalance(userID string, sub *types.SubscriptionInfo) (*models.CreditBalance, *models.CreditTransaction) {
	bonus := s.cfg.Credits.WelcomeBonus
	now := time.Now()
	bal := &models.CreditBalance{
		ID:           tool.GenerateUUIDV7(),
		UserID:       userID,
		BonusCredits: bonus,
		// Seeding lastReset to the current period keeps the first renewal
		// check from granting the allotment on signup.
		LastReset: sub.CurrentPeriodStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
	bal.RecomputeTotal()
	tx := s.newTransaction(userID, types.CreditTransactionTypeBonus, bonus, "Welcome bonus", welcomeRelatedID(userID))
	return bal, tx
}

// welcomeRelatedID tags the signup grant so a seed queued while the store
// was unreachable can be recognized later.
func welcomeRelatedID(userID string) string {
	return "welcome:" + userID
}

// dropProvisionalSeeds filters welcome grants out of the replay queue. They
// are only queued when the store was unreachable on first touch; once a
// remote record turns out to exist, the account was already funded at
// signup and replaying the seed would grant the bonus twice.
func (s *Service) dropProvisionalSeeds(userID string, pending []*models.CreditTransaction) []*models.CreditTransaction {
	kept := pending[:0]
	for _, tx := range pending {
		if tx.RelatedID != nil && *tx.RelatedID == welcomeRelatedID(userID) {
			s.txlog.Remove(userID, tx.ID)
			continue
		}
		kept = append(kept, tx)
	}
	return kept
}

// checkRenewal applies a due subscription-pool reset, at most once per
// billing period.
func (s *Service) checkRenewal(ctx context.Context, st *userState, verified bool) {
	r, ok := s.sched.Evaluate(st.balance, st.sub)
	if !ok {
		return
	}
	before := st.balance.Clone()
	if err := applyCredit(st.balance, r.Allotment, types.CreditTransactionTypeSubscriptionRenewal); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("renewal_apply_failed", "user_id", st.balance.UserID, "err", err)
		return
	}
	st.balance.LastReset = r.PeriodStart
	tx := s.newTransaction(st.balance.UserID, types.CreditTransactionTypeSubscriptionRenewal, r.Allotment,
		fmt.Sprintf("Subscription renewal (%s)", st.sub.PlanID),
		"renewal:"+r.PeriodStart.UTC().Format(time.RFC3339))
	if !verified {
		s.txlog.Append(tx)
		return
	}
	if s.persist(ctx, st, types.BalanceChangeReasonRenewal, before, tx) {
		s.txlog.Append(tx)
	}
}

// persist pushes the mutated balance through the adapter with a conditional
// write. On a version conflict the remote record wins: it is reloaded and
// the mutation is reapplied only if still affordable. Returns whether the
// mutation survived.
func (s *Service) persist(ctx context.Context, st *userState, reason types.BalanceChangeReason, before *models.CreditBalance, txs ...*models.CreditTransaction) bool {
	st.balance.UpdatedAt = time.Now()
	if !st.verified {
		return true
	}
	prev := st.balance.Version
	st.balance.Version = prev + 1
	err := s.adapter.Save(ctx, st.balance, prev, txs...)
	if err == nil {
		s.writeBalanceLog(ctx, reason, before, st.balance)
		return true
	}
	// store.ErrConflict is the only error the adapter surfaces
	survived := s.reconcile(ctx, st, txs)
	if survived {
		s.writeBalanceLog(ctx, reason, before, st.balance)
	}
	return survived
}

// reconcile handles a lost conditional write: reload the authoritative
// remote balance and replay the local transactions on top of it. A usage
// debit that no longer fits is rejected, which is exactly the concurrent
// double-spend the conditional write exists to stop.
func (s *Service) reconcile(ctx context.Context, st *userState, txs []*models.CreditTransaction) bool {
	pending := txs
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		remote, err := s.adapter.Load(ctx, st.balance.UserID)
		if err != nil {
			// Degraded mid-reconcile: keep local state, replay later.
			s.adapter.Queue(st.balance.UserID, pending...)
			return true
		}
		work := remote.Clone()
		kept := make([]*models.CreditTransaction, 0, len(pending))
		for _, tx := range pending {
			if err := applyTransaction(work, tx); err != nil {
				logctx.FromCtx(ctx, s.log).Warnw("concurrent_write_rejected",
					"user_id", tx.UserID, "tx_id", tx.ID, "amount", tx.Amount, "err", err)
				s.txlog.Remove(tx.UserID, tx.ID)
			} else {
				kept = append(kept, tx)
			}
		}
		if len(kept) == 0 {
			st.balance = remote
			return false
		}
		prev := work.Version
		work.Version = prev + 1
		work.UpdatedAt = time.Now()
		if err := s.adapter.Save(ctx, work, prev, kept...); err == nil {
			st.balance = work
			return len(kept) == len(pending)
		}
		pending = kept
	}
	// Conflict storm: hold the local view and let the next refresh settle it.
	s.adapter.Queue(st.balance.UserID, pending...)
	return true
}

// replay applies queued offline writes onto a freshly loaded remote balance.
func (s *Service) replay(ctx context.Context, st *userState, pending []*models.CreditTransaction) {
	before := st.balance.Clone()
	kept := make([]*models.CreditTransaction, 0, len(pending))
	for _, tx := range pending {
		if err := applyTransaction(st.balance, tx); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("offline_write_rejected", "user_id", tx.UserID, "tx_id", tx.ID, "err", err)
			s.txlog.Remove(tx.UserID, tx.ID)
		} else {
			kept = append(kept, tx)
		}
	}
	if len(kept) == 0 {
		return
	}
	s.persist(ctx, st, types.BalanceChangeReasonUsage, before, kept...)
}

func (s *Service) newTransaction(userID string, txType types.CreditTransactionType, amount int64, description, relatedID string) *models.CreditTransaction {
	tx := &models.CreditTransaction{
		ID:          tool.GenerateUUIDV7(),
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now(),
		Extra:       datatypes.JSONMap{},
	}
	if relatedID != "" {
		tx.RelatedID = lo.ToPtr(relatedID)
	}
	return tx
}

func (s *Service) unlimited(st *userState) bool {
	return st.balance.Unlimited() || (st.sub != nil && s.policy.IsUnlimited(st.sub.PlanID))
}

func (s *Service) view(st *userState) *BalanceView {
	status := s.adapter.Status()
	if !st.verified {
		status = types.SyncStatusLocalOnly
	}
	return &BalanceView{Balance: st.balance.Clone(), SyncStatus: status}
}

// writeBalanceLog persists an audit snapshot asynchronously; errors are
// logged but never returned.
func (s *Service) writeBalanceLog(ctx context.Context, reason types.BalanceChangeReason, before, after *models.CreditBalance) {
	if s.adapter.LocalOnly() {
		return
	}
	entry := &models.CreditBalanceLog{
		ID:     tool.GenerateUUIDV7(),
		UserID: after.UserID,
		Reason: reason,
		Before: datatypes.NewJSONType(before.Clone()),
		After:  datatypes.NewJSONType(after.Clone()),
		Extra:  datatypes.JSONMap{},
	}
	go func() {
		if err := s.adapter.SaveBalanceLog(context.Background(), entry); err != nil {
			logctx.FromCtx(ctx, s.log).Errorw("balance_log_save_failed", "user_id", entry.UserID, "err", err)
		}
	}()
}

func reasonForType(t types.CreditTransactionType) types.BalanceChangeReason {
	switch t {
	case types.CreditTransactionTypePurchase:
		return types.BalanceChangeReasonPurchase
	case types.CreditTransactionTypeRefund:
		return types.BalanceChangeReasonRefund
	case types.CreditTransactionTypeBonus:
		return types.BalanceChangeReasonBonus
	case types.CreditTransactionTypeSubscriptionRenewal:
		return types.BalanceChangeReasonRenewal
	default:
		return types.BalanceChangeReasonUsage
	}
}
