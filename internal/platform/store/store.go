package store

import (
	"context"
	"errors"

	"github.com/fatflowers/creditledger/internal/models"
)

var (
	// ErrNotFound means no record exists for the user yet.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict means a conditional write lost to a concurrent session.
	ErrConflict = errors.New("store: version conflict")
	// ErrPermissionDenied is definitive: the session is not authorized to
	// touch the remote store. The adapter degrades to local-only on it.
	ErrPermissionDenied = errors.New("store: permission denied")
	// ErrUnavailable is transient: network or timeout. Retried with backoff.
	ErrUnavailable = errors.New("store: unavailable")
)

// RemoteStore is the durable shared store for balances and transactions.
// It is the single mutable resource shared across devices, so balance writes
// are conditional: SaveBalance succeeds only when the stored version still
// matches prevVersion.
type RemoteStore interface {
	GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error)
	CreateBalance(ctx context.Context, bal *models.CreditBalance) error
	// SaveBalance writes bal (with bal.Version already incremented) if and
	// only if the stored row still holds prevVersion. Returns ErrConflict
	// otherwise.
	SaveBalance(ctx context.Context, bal *models.CreditBalance, prevVersion int64) error

	AppendTransaction(ctx context.Context, tx *models.CreditTransaction) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error)
	// GetTransactionByRelatedID looks up a transaction by its external
	// reference (payment id). Used for purchase idempotency.
	GetTransactionByRelatedID(ctx context.Context, relatedID string) (*models.CreditTransaction, error)

	GetSubscription(ctx context.Context, userID string) (*models.PlanSubscription, error)

	SaveBalanceLog(ctx context.Context, log *models.CreditBalanceLog) error
}
