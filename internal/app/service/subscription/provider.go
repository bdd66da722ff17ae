package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/logctx"
	"github.com/fatflowers/creditledger/pkg/types"

	"go.uber.org/zap"
)

// Provider supplies the subscription facts the ledger needs: plan id and the
// current billing period. Everything else about billing lives elsewhere.
type Provider interface {
	GetInfo(ctx context.Context, userID string) (*types.SubscriptionInfo, error)
}

// StoreProvider reads the subscription row from the remote store and falls
// back to the free plan with a calendar-month period when no row exists.
type StoreProvider struct {
	store store.RemoteStore
	log   *zap.SugaredLogger
}

func NewStoreProvider(st store.RemoteStore, log *zap.SugaredLogger) Provider {
	return &StoreProvider{store: st, log: log}
}

func (p *StoreProvider) GetInfo(ctx context.Context, userID string) (*types.SubscriptionInfo, error) {
	sub, err := p.store.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DefaultInfo(time.Now()), nil
		}
		logctx.FromCtx(ctx, p.log).Warnw("subscription_lookup_failed", "user_id", userID, "err", err)
		return nil, err
	}
	return sub.Info(), nil
}

// DefaultInfo is the free plan over the calendar month containing now (UTC).
func DefaultInfo(now time.Time) *types.SubscriptionInfo {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return &types.SubscriptionInfo{
		PlanID:             types.PlanFree,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
	}
}
