package renewal

import (
	"time"

	"github.com/fatflowers/creditledger/internal/models"
	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/types"
)

// Scheduler decides when the subscription pool must be reset to the plan's
// allotment. It runs on every ledger load/refresh; the lastReset guard makes
// the reset idempotent per billing period.
type Scheduler struct {
	cfg *config.Config
}

func NewScheduler(cfg *config.Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// Renewal describes a due subscription-pool reset.
type Renewal struct {
	Allotment   int64
	PeriodStart time.Time
}

// Evaluate reports whether a renewal is due for the balance given the
// subscription's current period. It fires only when the period start is
// strictly after the last applied reset.
func (s *Scheduler) Evaluate(bal *models.CreditBalance, sub *types.SubscriptionInfo) (*Renewal, bool) {
	if bal == nil || sub == nil || sub.CurrentPeriodStart.IsZero() {
		return nil, false
	}
	if !sub.CurrentPeriodStart.After(bal.LastReset) {
		return nil, false
	}
	return &Renewal{
		Allotment:   s.Allotment(sub.PlanID),
		PeriodStart: sub.CurrentPeriodStart,
	}, true
}

// Allotment maps a plan to its per-period subscription credits. Unknown
// plans get the free allotment.
func (s *Scheduler) Allotment(planID types.PlanID) int64 {
	if p := s.cfg.GetPlan(planID); p != nil {
		return p.Allotment
	}
	if p := s.cfg.GetPlan(types.PlanFree); p != nil {
		return p.Allotment
	}
	return 0
}
