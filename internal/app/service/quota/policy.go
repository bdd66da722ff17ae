package quota

import (
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/types"
)

// Policy resolves feature identifiers to credit costs. Unknown features get
// the default unit cost; cost lookup never fails.
type Policy struct {
	cfg *config.Config
}

func NewPolicy(cfg *config.Config) *Policy {
	return &Policy{cfg: cfg}
}

// Cost returns unit cost * quantity for the feature. Quantity below one is
// treated as one.
func (p *Policy) Cost(feature string, quantity int) int64 {
	if quantity < 1 {
		quantity = 1
	}
	unit := p.cfg.Credits.DefaultCost
	if unit <= 0 {
		unit = 1
	}
	if c, ok := p.cfg.Credits.FeatureCosts[feature]; ok && c > 0 {
		unit = c
	}
	return unit * int64(quantity)
}

// IsUnlimited reports whether the plan bypasses affordability checks.
func (p *Policy) IsUnlimited(planID types.PlanID) bool {
	plan := p.cfg.GetPlan(planID)
	return plan.Unlimited()
}
