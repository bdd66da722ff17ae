package models

import (
	"time"

	"github.com/fatflowers/creditledger/pkg/types"
)

// CreditBalance is the materialized per-user aggregate of the credit
// transaction stream. It is a cache: summing the user's CreditTransaction
// rows must always reproduce it.
type CreditBalance struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	// Pools. UnlimitedCredits (-1) is reserved for the top subscription tier.
	SubscriptionCredits int64 `gorm:"column:subscription_credits;type:bigint;not null;default:0" json:"subscription_credits"`
	BonusCredits        int64 `gorm:"column:bonus_credits;type:bigint;not null;default:0" json:"bonus_credits"`
	PurchasedCredits    int64 `gorm:"column:purchased_credits;type:bigint;not null;default:0" json:"purchased_credits"`
	// TotalCredits == sum of the three pools unless a pool holds the
	// unlimited sentinel.
	TotalCredits int64 `gorm:"column:total_credits;type:bigint;not null;default:0" json:"total_credits"`
	// Version guards remote writes: updates are conditional on the previous
	// version so a concurrent session's write loses instead of clobbering.
	Version int64 `gorm:"column:version;type:bigint;not null;default:0" json:"version"`
	// LastReset is the billing-period start of the most recent subscription
	// renewal; renewal applies at most once per period.
	LastReset time.Time `gorm:"column:last_reset;default:null" json:"last_reset"`
	// CreatedAt/UpdatedAt are managed by GORM; UpdatedAt records the most
	// recent mutation.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balance"
}

func (b *CreditBalance) Unlimited() bool {
	return b != nil && (b.SubscriptionCredits == types.UnlimitedCredits ||
		b.TotalCredits == types.UnlimitedCredits)
}

// RecomputeTotal refreshes the derived total from the pools.
func (b *CreditBalance) RecomputeTotal() {
	if b.Unlimited() {
		b.TotalCredits = types.UnlimitedCredits
		return
	}
	b.TotalCredits = b.SubscriptionCredits + b.BonusCredits + b.PurchasedCredits
}

// Clone returns a deep copy; the ledger hands copies to callers so local
// state is mutated only under its own lock.
func (b *CreditBalance) Clone() *CreditBalance {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}
