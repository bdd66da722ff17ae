package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/logctx"
	"github.com/fatflowers/creditledger/pkg/types"

	"go.uber.org/zap"
)

// Adapter mediates between the in-memory ledger and the remote store.
//
// It owns the sync state machine (synced -> syncing -> {synced|local_only}),
// bounds every remote attempt with a timeout and a retry budget, and absorbs
// every persistence failure except version conflicts, which the ledger must
// reconcile. Writes that could not reach the store are queued per user and
// replayed on the next successful refresh; they are never silently dropped.
type Adapter struct {
	store store.RemoteStore
	cfg   config.SyncConfig
	log   *zap.SugaredLogger

	mu      sync.Mutex
	status  types.SyncStatus
	denied  bool // permission failure is terminal for the session
	warned  bool
	pending map[string][]*models.CreditTransaction
}

func NewAdapter(st store.RemoteStore, cfg config.SyncConfig, log *zap.SugaredLogger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	return &Adapter{
		store:   st,
		cfg:     cfg,
		log:     log,
		status:  types.SyncStatusSynced,
		pending: map[string][]*models.CreditTransaction{},
	}
}

func (a *Adapter) Status() types.SyncStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) LocalOnly() bool {
	return a.Status() == types.SyncStatusLocalOnly
}

// Load reads the authoritative remote balance. store.ErrNotFound passes
// through so the ledger can initialize a first-time user; any other failure
// degrades to local-only and is reported to the caller, who falls back to
// local state.
func (a *Adapter) Load(ctx context.Context, userID string) (*models.CreditBalance, error) {
	if a.LocalOnly() {
		return nil, store.ErrUnavailable
	}
	a.setStatus(types.SyncStatusSyncing)
	var bal *models.CreditBalance
	err := a.withRetry(ctx, func(c context.Context) error {
		var err error
		bal, err = a.store.GetBalance(c, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.setStatus(types.SyncStatusSynced)
			return nil, err
		}
		a.degrade(ctx, err)
		return nil, err
	}
	a.setStatus(types.SyncStatusSynced)
	return bal, nil
}

// Create persists a freshly initialized balance and its seed transactions.
// Failures are absorbed: the local balance stays authoritative and the
// transactions are queued.
func (a *Adapter) Create(ctx context.Context, bal *models.CreditBalance, txs ...*models.CreditTransaction) {
	if a.LocalOnly() {
		a.queue(bal.UserID, txs)
		return
	}
	a.setStatus(types.SyncStatusSyncing)
	err := a.withRetry(ctx, func(c context.Context) error {
		return a.store.CreateBalance(c, bal)
	})
	if err != nil {
		a.degrade(ctx, err)
		a.queue(bal.UserID, txs)
		return
	}
	a.appendTransactions(ctx, bal.UserID, txs)
	a.setStatus(types.SyncStatusSynced)
}

// Save writes a mutated balance with a compare-and-swap on prevVersion and
// appends its transactions. The only error it surfaces is store.ErrConflict:
// the ledger must then reload and reconcile. Everything else is absorbed and
// the transactions are queued for replay.
func (a *Adapter) Save(ctx context.Context, bal *models.CreditBalance, prevVersion int64, txs ...*models.CreditTransaction) error {
	if a.LocalOnly() {
		a.queue(bal.UserID, txs)
		return nil
	}
	a.setStatus(types.SyncStatusSyncing)
	err := a.withRetry(ctx, func(c context.Context) error {
		return a.store.SaveBalance(c, bal, prevVersion)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			a.setStatus(types.SyncStatusSynced)
			return err
		}
		a.degrade(ctx, err)
		a.queue(bal.UserID, txs)
		return nil
	}
	a.appendTransactions(ctx, bal.UserID, txs)
	a.setStatus(types.SyncStatusSynced)
	return nil
}

// Queue records transactions for later replay without attempting a write.
func (a *Adapter) Queue(userID string, txs ...*models.CreditTransaction) {
	a.queue(userID, txs)
}

// SaveBalanceLog writes an audit snapshot. Best effort, single attempt.
func (a *Adapter) SaveBalanceLog(ctx context.Context, log *models.CreditBalanceLog) error {
	if a.LocalOnly() {
		return nil
	}
	attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.store.SaveBalanceLog(attemptCtx, log)
}

// TakePending drains the user's replay queue. The caller reapplies the
// transactions onto a fresh remote snapshot before writing.
func (a *Adapter) TakePending(userID string) []*models.CreditTransaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	txs := a.pending[userID]
	delete(a.pending, userID)
	return txs
}

// Recover re-enables remote sync after a transient outage. Permission
// failures are terminal for the session and cannot be recovered.
func (a *Adapter) Recover() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.denied {
		return false
	}
	if a.status == types.SyncStatusLocalOnly {
		a.status = types.SyncStatusSynced
	}
	return true
}

func (a *Adapter) appendTransactions(ctx context.Context, userID string, txs []*models.CreditTransaction) {
	for i, tx := range txs {
		err := a.withRetry(ctx, func(c context.Context) error {
			return a.store.AppendTransaction(c, tx)
		})
		if err != nil {
			// Balance write landed; keep the remaining audit rows for replay.
			logctx.FromCtx(ctx, a.log).Warnw("transaction_append_failed", "user_id", userID, "tx_id", tx.ID, "err", err)
			a.queue(userID, txs[i:])
			return
		}
	}
}

func (a *Adapter) queue(userID string, txs []*models.CreditTransaction) {
	if len(txs) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[userID] = append(a.pending[userID], txs...)
}

func (a *Adapter) setStatus(s types.SyncStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == types.SyncStatusLocalOnly {
		return
	}
	a.status = s
}

// degrade flips to local-only. The warning is logged once per session so a
// flaky store does not flood the logs.
func (a *Adapter) degrade(ctx context.Context, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = types.SyncStatusLocalOnly
	if errors.Is(err, store.ErrPermissionDenied) {
		a.denied = true
	}
	if !a.warned {
		a.warned = true
		logctx.FromCtx(ctx, a.log).Warnw("ledger_sync_degraded", "err", err, "permanent", a.denied)
		syncFallbackCounter.Inc()
	}
}

// withRetry runs op with a per-attempt timeout and bounded exponential
// backoff. Only transient store errors are retried.
func (a *Adapter) withRetry(ctx context.Context, op func(context.Context) error) error {
	delay := a.cfg.BaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		err = op(attemptCtx)
		cancel()
		if err == nil || !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		if attempt >= a.cfg.MaxRetries {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
		if delay > a.cfg.MaxDelay {
			delay = a.cfg.MaxDelay
		}
	}
}
