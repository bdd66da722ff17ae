package ledger

import (
	"fmt"

	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/pkg/types"
)

// applyDebit consumes cost from the pools in policy order: subscription
// first (expires at renewal), then bonus, then purchased (never expires,
// kept as a reserve). The caller must have checked affordability; remaining
// must reach exactly zero.
func applyDebit(bal *models.CreditBalance, cost int64) error {
	if bal.Unlimited() {
		return nil
	}
	if bal.TotalCredits < cost {
		return fmt.Errorf("insufficient credits: have %d, need %d", bal.TotalCredits, cost)
	}
	remaining := cost
	take := func(pool *int64) {
		if remaining <= 0 || *pool <= 0 {
			return
		}
		n := remaining
		if *pool < n {
			n = *pool
		}
		*pool -= n
		remaining -= n
	}
	take(&bal.SubscriptionCredits)
	take(&bal.BonusCredits)
	take(&bal.PurchasedCredits)
	if remaining != 0 {
		return fmt.Errorf("pool accounting underflow: %d left of %d", remaining, cost)
	}
	bal.RecomputeTotal()
	return nil
}

// applyCredit adds amount to the pool implied by the transaction type.
// subscription_renewal REPLACES the subscription pool: it is a period reset,
// not a top-up.
func applyCredit(bal *models.CreditBalance, amount int64, txType types.CreditTransactionType) error {
	switch txType {
	case types.CreditTransactionTypePurchase, types.CreditTransactionTypeRefund:
		bal.PurchasedCredits += amount
	case types.CreditTransactionTypeBonus:
		bal.BonusCredits += amount
	case types.CreditTransactionTypeSubscriptionRenewal:
		bal.SubscriptionCredits = amount
	default:
		return fmt.Errorf("unsupported credit type: %s", txType)
	}
	bal.RecomputeTotal()
	return nil
}

// applyTransaction replays a recorded transaction onto a balance. Used when
// reconciling queued offline writes against a fresh remote snapshot. A usage
// debit that is no longer affordable is rejected rather than driving a pool
// negative.
func applyTransaction(bal *models.CreditBalance, tx *models.CreditTransaction) error {
	if tx.Type == types.CreditTransactionTypeUsage {
		return applyDebit(bal, -tx.Amount)
	}
	return applyCredit(bal, tx.Amount, tx.Type)
}
