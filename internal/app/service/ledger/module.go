package ledger

import (
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module exposes the persistence adapter and the ledger via Fx.
var Module = fx.Options(
	fx.Provide(func(st store.RemoteStore, cfg *config.Config, log *zap.SugaredLogger) *Adapter {
		return NewAdapter(st, cfg.Sync, log)
	}),
	fx.Provide(NewService),
)
