package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/creditledger/internal/app/service/ledger"
	"github.com/fatflowers/creditledger/internal/platform/apple/apple_iap"
	"github.com/fatflowers/creditledger/internal/platform/store"
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/logctx"
	"github.com/fatflowers/creditledger/pkg/types"

	"github.com/awa/go-iap/appstore/api"
	"go.uber.org/zap"
)

var ErrDuplicateTransaction = errors.New("transaction already redeemed")

type RedeemRequest struct {
	TransactionID string `json:"transaction_id"`
}

type RedeemResult struct {
	Credits int64               `json:"credits"`
	Balance *ledger.BalanceView `json:"balance"`
}

// Service is the billing collaborator: it confirms an App Store purchase of
// a credit pack and credits the ledger's purchased pool. It owns no ledger
// logic; payment flows themselves (checkout, sessions) live outside this
// service entirely.
type Service struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	iap    *api.StoreClient
	ledger ledger.CreditLedger
	store  store.RemoteStore
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, lg ledger.CreditLedger, st store.RemoteStore) (*Service, error) {
	cli, err := apple_iap.GetAppleIAPClient(&apple_iap.GetAppleIAPClientOptions{
		KeyID:      cfg.AppleIAP.KeyID,
		KeyContent: cfg.AppleIAP.KeyContent,
		BundleID:   cfg.AppleIAP.BundleID,
		Issuer:     cfg.AppleIAP.Issuer,
		Sandbox:    !cfg.AppleIAP.IsProd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init Apple IAP client: %w", err)
	}
	return &Service{cfg: cfg, log: log, iap: cli, ledger: lg, store: st}, nil
}

// RedeemTransaction verifies the transaction against the App Store, maps
// the product to a credit pack, and credits the buyer once. The App Store
// transaction id is the idempotency key.
func (s *Service) RedeemTransaction(ctx context.Context, req *RedeemRequest) (*RedeemResult, error) {
	if req == nil || req.TransactionID == "" {
		return nil, fmt.Errorf("missing transaction id")
	}

	infoResp, err := s.iap.GetTransactionInfo(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction info: %w", err)
	}
	txInfo, err := s.iap.ParseSignedTransaction(infoResp.SignedTransactionInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed transaction: %w", err)
	}

	if s.cfg.AppleIAP.IsProd && txInfo.Environment != api.Production {
		return nil, fmt.Errorf("transaction is not in production environment")
	}
	if txInfo.Type != api.Consumable {
		return nil, fmt.Errorf("unsupported transaction type: %s", txInfo.Type)
	}

	pack := s.cfg.GetCreditPackByProviderItemID(txInfo.ProductID)
	if pack == nil {
		return nil, fmt.Errorf("credit pack not found for product: %s", txInfo.ProductID)
	}

	if txInfo.AppAccountToken == "" {
		return nil, fmt.Errorf("app account token is empty")
	}
	userID, err := apple_iap.UUIDToUserID(txInfo.AppAccountToken)
	if err != nil {
		return nil, fmt.Errorf("invalid app account token: %w", err)
	}

	relatedID := "apple:" + txInfo.TransactionID
	if existing, err := s.store.GetTransactionByRelatedID(ctx, relatedID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, txInfo.TransactionID)
	}

	view, err := s.ledger.Credit(ctx, types.Identity{UserID: userID, Verified: true}, &ledger.CreditRequest{
		Amount:      pack.Credits,
		Type:        types.CreditTransactionTypePurchase,
		Description: fmt.Sprintf("Purchased %d credits (%s)", pack.Credits, pack.ID),
		RelatedID:   relatedID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit purchase: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Infow("credit_pack_redeemed",
		"user_id", userID, "pack", pack.ID, "credits", pack.Credits, "transaction_id", txInfo.TransactionID)
	return &RedeemResult{Credits: pack.Credits, Balance: view}, nil
}
