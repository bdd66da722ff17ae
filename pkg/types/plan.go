package types

import "time"

type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanPro        PlanID = "pro"
	PlanBusiness   PlanID = "business"
	PlanEnterprise PlanID = "enterprise"
)

// Plan maps a plan identifier to the subscription-pool allotment granted at
// each billing-period renewal. Allotment is UnlimitedCredits for plans that
// bypass affordability checks entirely.
type Plan struct {
	ID        PlanID `json:"id" mapstructure:"id"`
	Allotment int64  `json:"allotment" mapstructure:"allotment"`
}

func (p *Plan) Unlimited() bool {
	return p != nil && p.Allotment == UnlimitedCredits
}

// SubscriptionInfo is what the subscription provider exposes to the ledger:
// enough to drive renewal and the unlimited-plan bypass, nothing more.
type SubscriptionInfo struct {
	PlanID             PlanID    `json:"plan_id"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
}

// CreditPack is a purchasable bundle of credits, keyed by the payment
// provider's product identifier.
type CreditPack struct {
	ID             string `json:"id" mapstructure:"id"`
	ProviderItemID string `json:"provider_item_id" mapstructure:"provider_item_id"`
	Credits        int64  `json:"credits" mapstructure:"credits"`
}
