// Package guard enforces the hard floors and ceilings on host vitals.
//
// Every function here is pure: it never mutates its input state unless the
// whole candidate passes, and then all fields are written in one assignment.
package guard

import (
	"fmt"
	"math"

	"github.com/ppiankov/hostguard/internal/model"
)

// GuardErrorKind names the invariant a candidate state would violate.
type GuardErrorKind int

const (
	BrainBelowFloor GuardErrorKind = iota + 1
	BloodDepleted
	OxygenDepleted
	SmartOverMax
	NanoOverEnvelope
	EcoOverLimit
	EvolveOverBudget
	MorphExceedsEvolve
)

func (k GuardErrorKind) String() string {
	switch k {
	case BrainBelowFloor:
		return "brain_below_floor"
	case BloodDepleted:
		return "blood_depleted"
	case OxygenDepleted:
		return "oxygen_depleted"
	case SmartOverMax:
		return "smart_over_max"
	case NanoOverEnvelope:
		return "nano_over_envelope"
	case EcoOverLimit:
		return "eco_over_limit"
	case EvolveOverBudget:
		return "evolve_over_budget"
	case MorphExceedsEvolve:
		return "morph_exceeds_evolve"
	default:
		return "unknown"
	}
}

// GuardError reports the first violated invariant.
type GuardError struct {
	Kind  GuardErrorKind
	Value float64
	Limit float64
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard: %s: value %.6f, limit %.6f", e.Kind, e.Value, e.Limit)
}

// Is matches any GuardError of the same kind.
func (e *GuardError) Is(target error) bool {
	t, ok := target.(*GuardError)
	return ok && t.Kind == e.Kind
}

var (
	ErrBrainBelowFloor    = &GuardError{Kind: BrainBelowFloor}
	ErrBloodDepleted      = &GuardError{Kind: BloodDepleted}
	ErrOxygenDepleted     = &GuardError{Kind: OxygenDepleted}
	ErrSmartOverMax       = &GuardError{Kind: SmartOverMax}
	ErrNanoOverEnvelope   = &GuardError{Kind: NanoOverEnvelope}
	ErrEcoOverLimit       = &GuardError{Kind: EcoOverLimit}
	ErrEvolveOverBudget   = &GuardError{Kind: EvolveOverBudget}
	ErrMorphExceedsEvolve = &GuardError{Kind: MorphExceedsEvolve}
)

// Project computes the post-delta state without touching the input and
// returns the first violated invariant, if any.
//
// Check order (cannot be changed):
//  1. brain >= brain_min
//  2. blood > blood_min
//  3. oxygen > oxygen_min
//  4. smart <= min(smart_max, brain)
//  5. nano <= nano_max_fraction
//  6. eco_cost <= eco_flops_limit
//  7. budget used <= budget total
//  8. |morph|_1 <= budget total
//
// Comparisons are written negated so NaN always fails.
func Project(state model.VitalsState, env model.HostEnvelope, adj model.Adjustment) (model.VitalsState, error) {
	next := state
	next.Brain += adj.DeltaBrain
	next.Wave += adj.DeltaWave
	next.Blood += adj.DeltaBlood
	next.Oxygen += adj.DeltaOxygen
	next.Nano += adj.DeltaNano
	next.Smart += adj.DeltaSmart
	next.Budget.Used += adj.DeltaEvolveUsed
	next.Budget.Morph = next.Budget.Morph.Add(adj.DeltaMorph)

	if err := checkVitals(next, env); err != nil {
		return state, err
	}
	if !(adj.EcoCost <= env.EcoFlopsLimit) {
		return state, &GuardError{Kind: EcoOverLimit, Value: adj.EcoCost, Limit: env.EcoFlopsLimit}
	}
	if err := checkBudget(next); err != nil {
		return state, err
	}
	return next, nil
}

// Apply validates adj against state and, on success, writes every field of
// the candidate in a single assignment. On error state is left untouched.
func Apply(state *model.VitalsState, env model.HostEnvelope, adj model.Adjustment) error {
	next, err := Project(*state, env, adj)
	if err != nil {
		return err
	}
	*state = next
	return nil
}

// CheckState validates a resident state against the envelope. Used for
// initial states and by callers that must confirm the host is inside its
// safe envelope before acting.
func CheckState(state model.VitalsState, env model.HostEnvelope) error {
	if err := checkVitals(state, env); err != nil {
		return err
	}
	return checkBudget(state)
}

func checkVitals(s model.VitalsState, env model.HostEnvelope) error {
	if !(s.Brain >= env.BrainMin) {
		return &GuardError{Kind: BrainBelowFloor, Value: s.Brain, Limit: env.BrainMin}
	}
	if !(s.Blood > env.BloodMin) {
		return &GuardError{Kind: BloodDepleted, Value: s.Blood, Limit: env.BloodMin}
	}
	if !(s.Oxygen > env.OxygenMin) {
		return &GuardError{Kind: OxygenDepleted, Value: s.Oxygen, Limit: env.OxygenMin}
	}
	smartCap := math.Min(env.SmartMax, s.Brain)
	if !(s.Smart <= smartCap) {
		return &GuardError{Kind: SmartOverMax, Value: s.Smart, Limit: smartCap}
	}
	if !(s.Nano <= env.NanoMaxFraction) {
		return &GuardError{Kind: NanoOverEnvelope, Value: s.Nano, Limit: env.NanoMaxFraction}
	}
	return nil
}

func checkBudget(s model.VitalsState) error {
	if !(s.Budget.Used <= s.Budget.Total) {
		return &GuardError{Kind: EvolveOverBudget, Value: s.Budget.Used, Limit: s.Budget.Total}
	}
	if l1 := s.Budget.Morph.L1(); !(l1 <= s.Budget.Total) {
		return &GuardError{Kind: MorphExceedsEvolve, Value: l1, Limit: s.Budget.Total}
	}
	return nil
}

// Finite reports whether every numeric field of adj is a finite number.
func Finite(adj model.Adjustment) bool {
	vals := []float64{
		adj.DeltaBrain, adj.DeltaWave, adj.DeltaBlood, adj.DeltaOxygen,
		adj.DeltaNano, adj.DeltaSmart, adj.EcoCost, adj.DeltaEvolveUsed,
	}
	vals = append(vals, adj.DeltaMorph[:]...)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
