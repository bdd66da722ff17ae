package models

import (
	"time"

	"github.com/fatflowers/creditledger/pkg/types"

	"gorm.io/datatypes"
)

// CreditBalanceLog records before/after snapshots of a balance mutation.
// Used for problem diagnosis; written asynchronously, never on the caller's
// critical path.
type CreditBalanceLog struct {
	ID        string                             `gorm:"column:id;primary_key;type:uuid;index:idx_user_id_id,priority:2,sort:desc"`
	UserID    string                             `gorm:"column:user_id;type:varchar(64);index:idx_user_id_id,priority:1;not null"`
	Reason    types.BalanceChangeReason          `gorm:"column:reason;type:varchar(32);not null"`
	Before    datatypes.JSONType[*CreditBalance] `gorm:"column:before;type:jsonb;default:'null'"`
	After     datatypes.JSONType[*CreditBalance] `gorm:"column:after;type:jsonb;default:'null'"`
	Extra     datatypes.JSONMap                  `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt time.Time                          `json:"created_at"`
}

func (CreditBalanceLog) TableName() string {
	return "credit_balance_log"
}
