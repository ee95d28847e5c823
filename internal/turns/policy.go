// Package turns implements per-host, per-UTC-day turn discipline.
package turns

import "github.com/ppiankov/hostguard/internal/model"

// Compiled ceilings. An external policy can only tighten these.
const (
	CompiledMaxTurnsPerDay         = 10
	CompiledMinSecondsBetweenTurns = 60
)

// Policy is the externally supplied turn policy.
// Zero MaxTurnsPerDay means no turns are allowed.
type Policy struct {
	MaxTurnsPerDay         int                      `yaml:"max_turns_per_day" json:"max_turns_per_day"`
	MinSecondsBetweenTurns int                      `yaml:"min_seconds_between_turns" json:"min_seconds_between_turns"`
	DomainCaps             map[model.Domain]float64 `yaml:"domain_caps,omitempty" json:"domain_caps,omitempty"`
}

// DefaultPolicy returns the compiled policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxTurnsPerDay:         CompiledMaxTurnsPerDay,
		MinSecondsBetweenTurns: CompiledMinSecondsBetweenTurns,
	}
}

// Normalize clamps p to the compiled ceilings:
// max turns <= 10, min spacing >= 60s, domain caps clamped to [0, 1].
// Turns are never banked: there is no burst allowance.
func Normalize(p Policy) Policy {
	out := Policy{
		MaxTurnsPerDay:         p.MaxTurnsPerDay,
		MinSecondsBetweenTurns: p.MinSecondsBetweenTurns,
	}
	if out.MaxTurnsPerDay > CompiledMaxTurnsPerDay {
		out.MaxTurnsPerDay = CompiledMaxTurnsPerDay
	}
	if out.MaxTurnsPerDay < 0 {
		out.MaxTurnsPerDay = 0
	}
	if out.MinSecondsBetweenTurns < CompiledMinSecondsBetweenTurns {
		out.MinSecondsBetweenTurns = CompiledMinSecondsBetweenTurns
	}
	if len(p.DomainCaps) > 0 {
		out.DomainCaps = make(map[model.Domain]float64, len(p.DomainCaps))
		for d, c := range p.DomainCaps {
			switch {
			case c < 0 || c != c:
				c = 0
			case c > 1:
				c = 1
			}
			out.DomainCaps[d] = c
		}
	}
	return out
}
