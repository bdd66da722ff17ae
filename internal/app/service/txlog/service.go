package txlog

import (
	"context"
	"sync"

	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/logctx"

	"go.uber.org/zap"
)

const (
	// DefaultListLimit bounds reads when the caller does not say otherwise.
	DefaultListLimit = 50
	// localKeep bounds the per-user in-memory tail kept for degraded reads.
	localKeep = 200
)

// Service is the append-only transaction log. Local append always succeeds
// so it never fails a ledger mutation; remote persistence of the rows rides
// on the persistence adapter's balance writes.
type Service struct {
	store store.RemoteStore
	log   *zap.SugaredLogger

	mu    sync.RWMutex
	local map[string][]*models.CreditTransaction // newest last
}

func New(st store.RemoteStore, log *zap.SugaredLogger) *Service {
	return &Service{store: st, log: log, local: map[string][]*models.CreditTransaction{}}
}

// Append records the transaction in the local tail. Never fails.
func (s *Service) Append(tx *models.CreditTransaction) {
	if tx == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := append(s.local[tx.UserID], tx)
	if len(tail) > localKeep {
		tail = tail[len(tail)-localKeep:]
	}
	s.local[tx.UserID] = tail
}

// Remove drops a transaction from the local tail. The ledger calls this
// when a mutation is rejected during reconciliation, so degraded reads
// never show a debit the balance did not take. No-op for unknown ids.
func (s *Service) Remove(userID, txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := s.local[userID]
	for i, tx := range tail {
		if tx.ID == txID {
			s.local[userID] = append(tail[:i:i], tail[i+1:]...)
			return
		}
	}
}

// List returns the user's transactions, most recent first, bounded by limit.
// When the remote store is reachable it is authoritative; otherwise the
// local tail serves the read.
func (s *Service) List(ctx context.Context, userID string, limit int, localOnly bool) []*models.CreditTransaction {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	if !localOnly {
		rows, err := s.store.ListTransactions(ctx, userID, limit)
		if err == nil {
			return rows
		}
		logctx.FromCtx(ctx, s.log).Warnw("transaction_list_remote_failed", "user_id", userID, "err", err)
	}
	return s.localTail(userID, limit)
}

func (s *Service) localTail(userID string, limit int) []*models.CreditTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tail := s.local[userID]
	n := len(tail)
	if limit > n {
		limit = n
	}
	out := make([]*models.CreditTransaction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, tail[i])
	}
	return out
}
