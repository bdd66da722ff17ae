package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fatflowers/creditledger/internal/app/service/quota"
	"github.com/fatflowers/creditledger/internal/app/service/renewal"
	"github.com/fatflowers/creditledger/internal/app/service/txlog"
	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory RemoteStore with programmable failures. Its
// SaveBalance enforces the same compare-and-swap as the real store.
type fakeStore struct {
	mu       sync.Mutex
	balances map[string]*models.CreditBalance
	txs      []*models.CreditTransaction
	subsRows map[string]*models.PlanSubscription
	logs     []*models.CreditBalanceLog

	failGet    error
	failSave   error
	failCreate error
	failAppend error

	getCalls  int
	saveCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: map[string]*models.CreditBalance{},
		subsRows: map[string]*models.PlanSubscription{},
	}
}

func (f *fakeStore) GetBalance(_ context.Context, userID string) (*models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet != nil {
		return nil, f.failGet
	}
	bal, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return bal.Clone(), nil
}

func (f *fakeStore) CreateBalance(_ context.Context, bal *models.CreditBalance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	if _, ok := f.balances[bal.UserID]; ok {
		return fmt.Errorf("%w: balance exists", store.ErrConflict)
	}
	f.balances[bal.UserID] = bal.Clone()
	return nil
}

func (f *fakeStore) SaveBalance(_ context.Context, bal *models.CreditBalance, prevVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSave != nil {
		return f.failSave
	}
	cur, ok := f.balances[bal.UserID]
	if !ok || cur.Version != prevVersion {
		return fmt.Errorf("%w: version %d", store.ErrConflict, prevVersion)
	}
	f.balances[bal.UserID] = bal.Clone()
	return nil
}

func (f *fakeStore) AppendTransaction(_ context.Context, tx *models.CreditTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend != nil {
		return f.failAppend
	}
	f.txs = append(f.txs, tx)
	return nil
}

func (f *fakeStore) ListTransactions(_ context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	var out []*models.CreditTransaction
	for i := len(f.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.txs[i].UserID == userID {
			out = append(out, f.txs[i])
		}
	}
	return out, nil
}

func (f *fakeStore) GetTransactionByRelatedID(_ context.Context, relatedID string) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.RelatedID != nil && *tx.RelatedID == relatedID {
			return tx, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetSubscription(_ context.Context, userID string) (*models.PlanSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subsRows[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) SaveBalanceLog(_ context.Context, log *models.CreditBalanceLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeStore) remoteBalance(userID string) *models.CreditBalance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID].Clone()
}

func (f *fakeStore) setRemoteBalance(bal *models.CreditBalance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[bal.UserID] = bal.Clone()
}

func (f *fakeStore) userTxs(userID string) []*models.CreditTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CreditTransaction
	for _, tx := range f.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

type fakeSubs struct {
	info *types.SubscriptionInfo
	err  error
}

func (f *fakeSubs) GetInfo(context.Context, string) (*types.SubscriptionInfo, error) {
	return f.info, f.err
}

var testPeriodStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Credits: config.CreditsConfig{
			FeatureCosts: map[string]int64{
				"content_generation":       1,
				"video_generation":         2,
				"youtube_channel_analysis": 4,
			},
			DefaultCost:  1,
			WelcomeBonus: 25,
		},
		Plans: []*types.Plan{
			{ID: types.PlanFree, Allotment: 25},
			{ID: types.PlanPro, Allotment: 1000},
			{ID: types.PlanBusiness, Allotment: 5000},
			{ID: types.PlanEnterprise, Allotment: types.UnlimitedCredits},
		},
		Sync: config.SyncConfig{
			Timeout:    200 * time.Millisecond,
			MaxRetries: 0,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
	}
}

func subInfo(plan types.PlanID) *types.SubscriptionInfo {
	return &types.SubscriptionInfo{
		PlanID:             plan,
		CurrentPeriodStart: testPeriodStart,
		CurrentPeriodEnd:   testPeriodStart.AddDate(0, 1, 0),
	}
}

func newTestLedger(t *testing.T, st *fakeStore, plan types.PlanID) CreditLedger {
	t.Helper()
	cfg := testConfig()
	log := zap.NewNop().Sugar()
	adapter := NewAdapter(st, cfg.Sync, log)
	return NewService(cfg, log, quota.NewPolicy(cfg), &fakeSubs{info: subInfo(plan)}, adapter, txlog.New(st, log), renewal.NewScheduler(cfg))
}

func verified(userID string) types.Identity {
	return types.Identity{UserID: userID, Verified: true}
}

func TestNewUser_WelcomeBonus(t *testing.T) {
	st := newFakeStore()
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	view, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.Balance.SubscriptionCredits)
	assert.Equal(t, int64(25), view.Balance.BonusCredits)
	assert.Equal(t, int64(0), view.Balance.PurchasedCredits)
	assert.Equal(t, int64(25), view.Balance.TotalCredits)
	assert.Equal(t, types.SyncStatusSynced, view.SyncStatus)

	// The balance and its welcome transaction land remotely, and the
	// renewal guard is seeded so signup grants no subscription credits.
	remote := st.remoteBalance("u1")
	require.NotNil(t, remote)
	assert.Equal(t, int64(25), remote.TotalCredits)
	assert.True(t, remote.LastReset.Equal(testPeriodStart))

	txs := st.userTxs("u1")
	require.Len(t, txs, 1)
	assert.Equal(t, types.CreditTransactionTypeBonus, txs[0].Type)
	assert.Equal(t, int64(25), txs[0].Amount)
}

func TestDeduct_PoolOrder(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:              "u1",
		SubscriptionCredits: 5,
		BonusCredits:        3,
		PurchasedCredits:    10,
		TotalCredits:        18,
		LastReset:           testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	// video_generation costs 2 per unit; quantity 3 charges 6.
	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "video_generation", Quantity: 3})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, int64(6), res.Cost)
	assert.Equal(t, int64(0), res.Balance.Balance.SubscriptionCredits)
	assert.Equal(t, int64(2), res.Balance.Balance.BonusCredits)
	assert.Equal(t, int64(10), res.Balance.Balance.PurchasedCredits)
	assert.Equal(t, int64(12), res.Balance.Balance.TotalCredits)

	remote := st.remoteBalance("u1")
	assert.Equal(t, int64(12), remote.TotalCredits)
	assert.Equal(t, int64(1), remote.Version)

	txs := st.userTxs("u1")
	require.Len(t, txs, 1)
	assert.Equal(t, types.CreditTransactionTypeUsage, txs[0].Type)
	assert.Equal(t, int64(-6), txs[0].Amount)
}

func TestDeduct_InsufficientCredits(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 3,
		TotalCredits: 3,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)

	res, err := lg.Deduct(context.Background(), verified("u1"), &DeductRequest{Feature: "youtube_channel_analysis"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.Cost)
	// Nothing moved, locally or remotely.
	assert.Equal(t, int64(3), res.Balance.Balance.TotalCredits)
	assert.Equal(t, 0, st.saveCalls)
	assert.Empty(t, st.userTxs("u1"))
}

func TestDeduct_UnlimitedBypassesPools(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:              "u1",
		SubscriptionCredits: types.UnlimitedCredits,
		TotalCredits:        types.UnlimitedCredits,
		LastReset:           testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanEnterprise)

	res, err := lg.Deduct(context.Background(), verified("u1"), &DeductRequest{Feature: "video_generation", Quantity: 50})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(100), res.Cost)
	assert.Equal(t, types.UnlimitedCredits, res.Balance.Balance.TotalCredits)
	// No mutation and no usage row for unlimited accounts.
	assert.Equal(t, 0, st.saveCalls)
	assert.Empty(t, st.userTxs("u1"))
}

func TestDeduct_UnknownFeatureDefaultCost(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 10,
		TotalCredits: 10,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)

	res, err := lg.Deduct(context.Background(), verified("u1"), &DeductRequest{Feature: "never_heard_of_it"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Cost)
	assert.Equal(t, int64(9), res.Balance.Balance.TotalCredits)
}

func TestCanAfford(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 3,
		TotalCredits: 3,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	ok, err := lg.CanAfford(ctx, verified("u1"), "video_generation", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lg.CanAfford(ctx, verified("u1"), "video_generation", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// Probing affordability never mutates anything.
	assert.Equal(t, 0, st.saveCalls)
}

func TestCredit_BonusRoundTrip(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 5,
		TotalCredits: 5,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	view, err := lg.Credit(ctx, verified("u1"), &CreditRequest{
		Amount:      40,
		Type:        types.CreditTransactionTypeBonus,
		Description: "Support compensation",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(45), view.Balance.BonusCredits)

	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "content_generation", Quantity: 45})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Balance.Balance.TotalCredits)
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	st := newFakeStore()
	lg := newTestLedger(t, st, types.PlanFree)

	_, err := lg.Credit(context.Background(), verified("u1"), &CreditRequest{
		Amount: 0,
		Type:   types.CreditTransactionTypeBonus,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRenewal_AppliedOncePerPeriod(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:              "u1",
		SubscriptionCredits: 7,
		BonusCredits:        2,
		TotalCredits:        9,
		LastReset:           testPeriodStart.AddDate(0, -1, 0),
	})
	lg := newTestLedger(t, st, types.PlanPro)
	ctx := context.Background()

	// First load applies the due renewal: the subscription pool is
	// replaced by the plan allotment, other pools untouched.
	view, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), view.Balance.SubscriptionCredits)
	assert.Equal(t, int64(2), view.Balance.BonusCredits)
	assert.True(t, view.Balance.LastReset.Equal(testPeriodStart))

	txs := st.userTxs("u1")
	require.Len(t, txs, 1)
	assert.Equal(t, types.CreditTransactionTypeSubscriptionRenewal, txs[0].Type)
	assert.Equal(t, int64(1000), txs[0].Amount)

	// Spend a little, then refresh twice: the same period never renews again.
	_, err = lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "content_generation", Quantity: 10})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		view, err = lg.Refresh(ctx, verified("u1"))
		require.NoError(t, err)
		assert.Equal(t, int64(990), view.Balance.SubscriptionCredits)
	}
}

func TestDeduct_ConflictRejectedWhenRemoteSpentFirst(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 10,
		TotalCredits: 10,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	// Warm the local cache at version 0.
	_, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)

	// Another device spends almost everything and bumps the version.
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 1,
		TotalCredits: 1,
		Version:      5,
		LastReset:    testPeriodStart,
	})

	// The local view still shows 10, but the conditional write loses and
	// the reloaded remote balance cannot afford the charge.
	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "video_generation"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(1), res.Balance.Balance.TotalCredits)
	assert.Equal(t, int64(1), st.remoteBalance("u1").TotalCredits)
}

func TestDeduct_ConflictReappliedWhenStillAffordable(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 10,
		TotalCredits: 10,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	_, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)

	// Concurrent spend leaves enough for this charge.
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 6,
		TotalCredits: 6,
		Version:      3,
		LastReset:    testPeriodStart,
	})

	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "video_generation"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	// Applied on top of the authoritative remote balance, not the stale one.
	assert.Equal(t, int64(4), res.Balance.Balance.TotalCredits)
	assert.Equal(t, int64(4), st.remoteBalance("u1").TotalCredits)
	assert.Equal(t, int64(4), st.remoteBalance("u1").Version)
}

func TestOffline_DegradeThenReplayOnRefresh(t *testing.T) {
	st := newFakeStore()
	st.failGet = store.ErrUnavailable
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	// Store unreachable: the user still gets a working local ledger.
	view, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(25), view.Balance.TotalCredits)
	assert.Equal(t, types.SyncStatusLocalOnly, view.SyncStatus)

	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "youtube_channel_analysis"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(21), res.Balance.Balance.TotalCredits)

	// Store comes back; refresh recovers and persists the offline history.
	st.mu.Lock()
	st.failGet = nil
	st.mu.Unlock()

	view, err = lg.Refresh(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, view.SyncStatus)
	assert.Equal(t, int64(21), view.Balance.TotalCredits)

	remote := st.remoteBalance("u1")
	require.NotNil(t, remote)
	assert.Equal(t, int64(21), remote.TotalCredits)
	assert.Len(t, st.userTxs("u1"), 2)
}

func TestRefresh_ExistingUserAfterOutageKeepsRemoteBalance(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:           "u1",
		PurchasedCredits: 5,
		TotalCredits:     5,
		Version:          2,
		LastReset:        testPeriodStart,
	})
	st.failGet = store.ErrUnavailable
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	// First touch during the outage cannot tell a missing record from an
	// unreadable one; it serves a provisional local ledger.
	view, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(25), view.Balance.TotalCredits)
	assert.Equal(t, types.SyncStatusLocalOnly, view.SyncStatus)

	st.mu.Lock()
	st.failGet = nil
	st.mu.Unlock()

	// Recovery finds the record: the provisional welcome grant is discarded
	// instead of being replayed on top of the authoritative balance.
	view, err = lg.Refresh(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, view.SyncStatus)
	assert.Equal(t, int64(5), view.Balance.TotalCredits)

	remote := st.remoteBalance("u1")
	assert.Equal(t, int64(5), remote.TotalCredits)
	assert.Equal(t, int64(2), remote.Version)
	assert.Empty(t, st.userTxs("u1"))

	// No second welcome row survives anywhere, degraded reads included.
	st.mu.Lock()
	st.failGet = store.ErrUnavailable
	st.mu.Unlock()
	rows, err := lg.RecentTransactions(ctx, verified("u1"), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRefresh_OutageSpendReplaysWithoutWelcomeSeed(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:           "u1",
		PurchasedCredits: 5,
		TotalCredits:     5,
		Version:          2,
		LastReset:        testPeriodStart,
	})
	st.failGet = store.ErrUnavailable
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	_, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)
	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "youtube_channel_analysis"})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	st.mu.Lock()
	st.failGet = nil
	st.mu.Unlock()

	// The offline spend replays onto the existing remote balance; the
	// provisional welcome grant does not.
	view, err := lg.Refresh(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Balance.TotalCredits)
	assert.Equal(t, int64(1), st.remoteBalance("u1").TotalCredits)

	txs := st.userTxs("u1")
	require.Len(t, txs, 1)
	assert.Equal(t, types.CreditTransactionTypeUsage, txs[0].Type)
	assert.Equal(t, int64(-4), txs[0].Amount)
}

func TestDeduct_RejectedConflictLeavesNoUsageRow(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 10,
		TotalCredits: 10,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	_, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)

	// Another device drains the balance and bumps the version.
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 1,
		TotalCredits: 1,
		Version:      5,
		LastReset:    testPeriodStart,
	})

	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "video_generation"})
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The rejected deduction never entered the local tail: a degraded read
	// shows no debit the balance did not take.
	st.mu.Lock()
	st.failGet = store.ErrUnavailable
	st.mu.Unlock()
	rows, err := lg.RecentTransactions(ctx, verified("u1"), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRefresh_DroppedOfflineDebitLeavesNoTrace(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:           "u1",
		PurchasedCredits: 10,
		TotalCredits:     10,
		Version:          1,
		LastReset:        testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	_, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)

	// The write path degrades; the spend lands locally and is queued.
	st.mu.Lock()
	st.failSave = store.ErrUnavailable
	st.mu.Unlock()
	res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "youtube_channel_analysis"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, int64(6), res.Balance.Balance.TotalCredits)

	// Meanwhile another device spends nearly everything remotely.
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 1,
		TotalCredits: 1,
		Version:      7,
		LastReset:    testPeriodStart,
	})
	st.mu.Lock()
	st.failSave = nil
	st.mu.Unlock()

	// Replay cannot afford the queued debit; it is dropped and the remote
	// balance stands.
	view, err := lg.Refresh(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Balance.TotalCredits)
	assert.Equal(t, int64(1), st.remoteBalance("u1").TotalCredits)

	// The dropped debit is evicted from the local tail as well.
	st.mu.Lock()
	st.failGet = store.ErrUnavailable
	st.mu.Unlock()
	rows, err := lg.RecentTransactions(ctx, verified("u1"), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPermissionDenied_NeverRecovers(t *testing.T) {
	st := newFakeStore()
	st.failGet = store.ErrPermissionDenied
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	view, err := lg.CurrentBalance(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusLocalOnly, view.SyncStatus)

	st.mu.Lock()
	st.failGet = nil
	calls := st.getCalls
	st.mu.Unlock()

	// Refresh must not retry the store once access was denied.
	view, err = lg.Refresh(ctx, verified("u1"))
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusLocalOnly, view.SyncStatus)
	st.mu.Lock()
	assert.Equal(t, calls, st.getCalls)
	st.mu.Unlock()
}

func TestUnverifiedIdentity_NeverTouchesStore(t *testing.T) {
	st := newFakeStore()
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()
	id := types.Identity{UserID: "anon", Verified: false}

	view, err := lg.CurrentBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(25), view.Balance.TotalCredits)
	assert.Equal(t, types.SyncStatusLocalOnly, view.SyncStatus)

	res, err := lg.Deduct(ctx, id, &DeductRequest{Feature: "content_generation"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	view, err = lg.Refresh(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(24), view.Balance.TotalCredits)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 0, st.getCalls)
	assert.Equal(t, 0, st.saveCalls)
	assert.Empty(t, st.balances)
}

func TestRecentTransactions(t *testing.T) {
	st := newFakeStore()
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	_, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "content_generation"})
	require.NoError(t, err)

	rows, err := lg.RecentTransactions(ctx, verified("u1"), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Most recent first: the usage debit, then the welcome bonus.
	assert.Equal(t, types.CreditTransactionTypeUsage, rows[0].Type)
	assert.Equal(t, types.CreditTransactionTypeBonus, rows[1].Type)
}

func TestLedger_NewUserLifecycle(t *testing.T) {
	st := newFakeStore()
	lg := newTestLedger(t, st, types.PlanPro)
	ctx := context.Background()
	id := verified("u1")

	// Signup: welcome bonus only, no subscription allotment yet.
	view, err := lg.CurrentBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(25), view.Balance.TotalCredits)
	assert.Equal(t, int64(25), view.Balance.BonusCredits)

	// One cheap generation.
	res, err := lg.Deduct(ctx, id, &DeductRequest{Feature: "content_generation"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, int64(24), res.Balance.Balance.TotalCredits)

	// A 100-credit pack purchase lands in the purchased pool.
	view, err = lg.Credit(ctx, id, &CreditRequest{
		Amount:      100,
		Type:        types.CreditTransactionTypePurchase,
		Description: "Purchased 100 credits",
		RelatedID:   "apple:1000000123456789",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), view.Balance.PurchasedCredits)
	assert.Equal(t, int64(124), view.Balance.TotalCredits)

	// Next billing period: the subscription pool resets to the allotment.
	view, err = lg.Credit(ctx, id, &CreditRequest{
		Amount: 1000,
		Type:   types.CreditTransactionTypeSubscriptionRenewal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), view.Balance.SubscriptionCredits)
	assert.Equal(t, int64(1124), view.Balance.TotalCredits)

	// The remote store saw every step.
	assert.Equal(t, int64(1124), st.remoteBalance("u1").TotalCredits)
	assert.Len(t, st.userTxs("u1"), 4)
}

func TestDeduct_ConcurrentSessionsNeverOverspend(t *testing.T) {
	st := newFakeStore()
	st.setRemoteBalance(&models.CreditBalance{
		UserID:       "u1",
		BonusCredits: 10,
		TotalCredits: 10,
		LastReset:    testPeriodStart,
	})
	lg := newTestLedger(t, st, types.PlanFree)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := lg.Deduct(ctx, verified("u1"), &DeductRequest{Feature: "content_generation"})
			if !assert.NoError(t, err) {
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
	assert.Equal(t, int64(0), st.remoteBalance("u1").TotalCredits)
}
