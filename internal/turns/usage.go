package turns

import (
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/hostguard/internal/model"
)

// DomainUsage accumulates per-domain evolve usage for one UTC day.
// It follows the same rollover rule as DailyState.
type DomainUsage struct {
	Date string                   `json:"date"`
	Used map[model.Domain]float64 `json:"used,omitempty"`
}

// At returns the usage as seen at now, reset only when the UTC date moves
// past the stored date.
func (u DomainUsage) At(now time.Time) DomainUsage {
	if day := DayKey(now); u.Date == "" || day > u.Date {
		return DomainUsage{Date: day}
	}
	return u
}

// CheckDomain returns DailyCapReached if adding amount to the domain's usage
// would exceed its cap, a fraction of dailyBudget. Domains without a cap
// are unrestricted.
func CheckDomain(u DomainUsage, now time.Time, domain model.Domain, amount, dailyBudget float64, p Policy) error {
	p = Normalize(p)
	frac, ok := p.DomainCaps[domain]
	if !ok {
		return nil
	}
	limit := frac * dailyBudget
	used := u.At(now).Used[domain]
	if used+amount > limit {
		return &TurnError{
			Kind:   DailyCapReached,
			Detail: fmt.Sprintf("domain %s: %.4f + %.4f exceeds cap %.4f", domain, used, amount, limit),
		}
	}
	return nil
}

// Record adds amount to the domain's usage at now.
func (u *DomainUsage) Record(now time.Time, domain model.Domain, amount float64) {
	cur := u.At(now)
	if cur.Used == nil {
		cur.Used = make(map[model.Domain]float64)
	} else if cur.Date == u.Date {
		// copy so snapshots handed out earlier stay immutable
		m := make(map[model.Domain]float64, len(cur.Used)+1)
		for k, v := range cur.Used {
			m[k] = v
		}
		cur.Used = m
	}
	cur.Used[domain] += amount
	*u = cur
}

// UsageAmount is the domain-usage charge of an adjustment.
func UsageAmount(adj model.Adjustment) float64 {
	return math.Abs(adj.DeltaEvolveUsed)
}
