package models

import (
	"time"

	"github.com/fatflowers/creditledger/pkg/types"

	"gorm.io/datatypes"
)

// PlanSubscription stores the user's subscription as seen by the ledger:
// plan identifier and current billing period. Maintained by the billing
// service; the ledger only reads it.
type PlanSubscription struct {
	ID                 string       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID             string       `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	PlanID             types.PlanID `gorm:"column:plan_id;type:varchar(32);not null" json:"plan_id"`
	CurrentPeriodStart time.Time    `gorm:"column:current_period_start;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time    `gorm:"column:current_period_end;not null" json:"current_period_end"`
	// Extra stores provider-specific context (price, promotion details).
	Extra     datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (PlanSubscription) TableName() string {
	return "plan_subscription"
}

func (s *PlanSubscription) Info() *types.SubscriptionInfo {
	if s == nil {
		return nil
	}
	return &types.SubscriptionInfo{
		PlanID:             s.PlanID,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
	}
}
