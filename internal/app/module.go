package app

import (
	"time"

	"github.com/fatflowers/creditledger/internal/app/api/server"
	"github.com/fatflowers/creditledger/internal/app/service/audit"
	"github.com/fatflowers/creditledger/internal/app/service/ledger"
	"github.com/fatflowers/creditledger/internal/app/service/purchase"
	"github.com/fatflowers/creditledger/internal/app/service/quota"
	"github.com/fatflowers/creditledger/internal/app/service/renewal"
	"github.com/fatflowers/creditledger/internal/app/service/subscription"
	"github.com/fatflowers/creditledger/internal/app/service/txlog"
	"github.com/fatflowers/creditledger/internal/platform/db"
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	store.Module,
	server.Module,
	quota.Module,
	subscription.Module,
	renewal.Module,
	txlog.Module,
	ledger.Module,
	purchase.Module,
	audit.Module,
)
