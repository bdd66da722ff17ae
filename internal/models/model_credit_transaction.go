package models

import (
	"time"

	"github.com/fatflowers/creditledger/pkg/types"

	"gorm.io/datatypes"
)

// CreditTransaction is one immutable balance-affecting event. Rows are
// created once and never updated or deleted; the transaction stream is the
// audit source of truth for CreditBalance.
type CreditTransaction struct {
	ID     string                      `gorm:"column:id;primary_key;type:uuid;index:idx_user_id_id,priority:2,sort:desc" json:"id"`
	UserID string                      `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_id_id,priority:1" json:"user_id"`
	Type   types.CreditTransactionType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	// Amount is signed: positive credits, negative debits.
	Amount      int64  `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Description string `gorm:"column:description;type:varchar(255);not null" json:"description"`
	// RelatedID is an optional external reference (payment id, renewal id).
	RelatedID *string           `gorm:"column:related_id;type:varchar(128);default:null" json:"related_id,omitempty"`
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}

func (t *CreditTransaction) Debit() bool {
	return t != nil && t.Amount < 0
}
