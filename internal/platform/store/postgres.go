package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/fatflowers/creditledger/internal/models"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// GormStore implements RemoteStore on the shared *gorm.DB.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	var bal models.CreditBalance
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&bal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &bal, nil
}

func (s *GormStore) CreateBalance(ctx context.Context, bal *models.CreditBalance) error {
	if err := s.db.WithContext(ctx).Create(bal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: balance exists for user %s", ErrConflict, bal.UserID)
		}
		return classify(err)
	}
	return nil
}

// SaveBalance is a compare-and-swap keyed on the version column. A losing
// concurrent writer gets ErrConflict and must reload before retrying.
func (s *GormStore) SaveBalance(ctx context.Context, bal *models.CreditBalance, prevVersion int64) error {
	result := s.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("user_id = ? AND version = ?", bal.UserID, prevVersion).
		Updates(map[string]interface{}{
			"subscription_credits": bal.SubscriptionCredits,
			"bonus_credits":        bal.BonusCredits,
			"purchased_credits":    bal.PurchasedCredits,
			"total_credits":        bal.TotalCredits,
			"version":              bal.Version,
			"last_reset":           bal.LastReset,
			"updated_at":           bal.UpdatedAt,
		})
	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s version %d", ErrConflict, bal.UserID, prevVersion)
	}
	return nil
}

func (s *GormStore) AppendTransaction(ctx context.Context, tx *models.CreditTransaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return classify(err)
	}
	return nil
}

func (s *GormStore) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	var rows []*models.CreditTransaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (s *GormStore) GetTransactionByRelatedID(ctx context.Context, relatedID string) (*models.CreditTransaction, error) {
	var tx models.CreditTransaction
	if err := s.db.WithContext(ctx).Where("related_id = ?", relatedID).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &tx, nil
}

func (s *GormStore) GetSubscription(ctx context.Context, userID string) (*models.PlanSubscription, error) {
	var sub models.PlanSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &sub, nil
}

func (s *GormStore) SaveBalanceLog(ctx context.Context, log *models.CreditBalanceLog) error {
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the store taxonomy so the adapter can
// pick between retry and local-only fallback with errors.Is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	// 42501: insufficient_privilege, 28000: invalid_authorization_specification
	case strings.Contains(msg, "sqlstate 42501"),
		strings.Contains(msg, "sqlstate 28000"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

var Module = fx.Options(
	fx.Provide(func(db *gorm.DB) RemoteStore { return NewGormStore(db) }),
)
