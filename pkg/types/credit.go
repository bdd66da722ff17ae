package types

// UnlimitedCredits is the sentinel stored in a credit pool (and in the
// derived total) for accounts on the unlimited plan.
const UnlimitedCredits int64 = -1

type CreditTransactionType string

const (
	CreditTransactionTypePurchase            CreditTransactionType = "purchase"
	CreditTransactionTypeUsage               CreditTransactionType = "usage"
	CreditTransactionTypeRefund              CreditTransactionType = "refund"
	CreditTransactionTypeBonus               CreditTransactionType = "bonus"
	CreditTransactionTypeSubscriptionRenewal CreditTransactionType = "subscription_renewal"
)

// SyncStatus reflects the persistence adapter's state machine.
type SyncStatus string

const (
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusLocalOnly SyncStatus = "local_only"
)

type BalanceChangeReason string

const (
	BalanceChangeReasonUsage    BalanceChangeReason = "usage"
	BalanceChangeReasonPurchase BalanceChangeReason = "purchase"
	BalanceChangeReasonBonus    BalanceChangeReason = "bonus"
	BalanceChangeReasonRefund   BalanceChangeReason = "refund"
	BalanceChangeReasonRenewal  BalanceChangeReason = "renewal"
	BalanceChangeReasonWelcome  BalanceChangeReason = "welcome"
)

// Identity is the caller identity supplied by the auth layer.
// The ledger never touches the remote store for unverified identities.
type Identity struct {
	UserID   string `json:"user_id"`
	Verified bool   `json:"verified"`
}
