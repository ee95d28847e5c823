package model

import "math"

// Morph budget dimensions.
const (
	MorphEco = iota
	MorphCyber
	MorphNeuro
	MorphSmart
)

// MorphVector is the 4-dimensional mutation sub-budget (eco, cyber, neuro, smart).
type MorphVector [4]float64

// L1 returns the sum of absolute components.
func (m MorphVector) L1() float64 {
	var sum float64
	for _, v := range m {
		sum += math.Abs(v)
	}
	return sum
}

// Add returns the component-wise sum.
func (m MorphVector) Add(d MorphVector) MorphVector {
	for i := range m {
		m[i] += d[i]
	}
	return m
}

// MutationBudget is the derived evolution budget carried in VitalsState.
type MutationBudget struct {
	Total float64     `json:"total" yaml:"total"`
	Used  float64     `json:"used" yaml:"used"`
	Morph MorphVector `json:"morph" yaml:"morph"`
}

// VitalsState is the bounded scalar state one Ledger protects.
// Field order is fixed; it is part of the state hash.
type VitalsState struct {
	Brain  float64        `json:"brain" yaml:"brain"`
	Wave   float64        `json:"wave" yaml:"wave"`
	Blood  float64        `json:"blood" yaml:"blood"`
	Oxygen float64        `json:"oxygen" yaml:"oxygen"`
	Nano   float64        `json:"nano" yaml:"nano"`
	Smart  float64        `json:"smart" yaml:"smart"`
	Budget MutationBudget `json:"budget" yaml:"budget"`
}

// HostEnvelope is the immutable per-host configuration of floors and ceilings.
type HostEnvelope struct {
	HostID          string  `json:"host_id" yaml:"host_id"`
	BrainMin        float64 `json:"brain_min" yaml:"brain_min"`
	BloodMin        float64 `json:"blood_min" yaml:"blood_min"`
	OxygenMin       float64 `json:"oxygen_min" yaml:"oxygen_min"`
	NanoMaxFraction float64 `json:"nano_max_fraction" yaml:"nano_max_fraction"`
	SmartMax        float64 `json:"smart_max" yaml:"smart_max"`
	EcoFlopsLimit   float64 `json:"eco_flops_limit" yaml:"eco_flops_limit"`
	SoftMargin      float64 `json:"soft_margin" yaml:"soft_margin"`
}

// IdentityHeader is a caller credential. Supplied per call, never stored.
type IdentityHeader struct {
	IssuerID        string  `json:"issuer_id"`
	Role            Role    `json:"role"`
	Tier            Tier    `json:"tier"`
	KnowledgeFactor float64 `json:"knowledge_factor"`
	ProfileID       string  `json:"profile_id,omitempty"`
}

// Adjustment is a proposed delta to VitalsState. Consumed exactly once.
type Adjustment struct {
	DeltaBrain      float64     `json:"delta_brain"`
	DeltaWave       float64     `json:"delta_wave"`
	DeltaBlood      float64     `json:"delta_blood"`
	DeltaOxygen     float64     `json:"delta_oxygen"`
	DeltaNano       float64     `json:"delta_nano"`
	DeltaSmart      float64     `json:"delta_smart"`
	EcoCost         float64     `json:"eco_cost"`
	Reason          string      `json:"reason"`
	DeltaEvolveUsed float64     `json:"delta_evolve_used,omitempty"`
	DeltaMorph      MorphVector `json:"delta_morph"`
	Domain          Domain      `json:"domain,omitempty"`
}

// EventKind distinguishes ordinary commits, turn-consuming commits and
// emergency overrides.
type EventKind string

const (
	EventSystemApply EventKind = "system_apply"
	EventTurn        EventKind = "turn"
	EventEmergency   EventKind = "emergency"
)

// LedgerEvent is one immutable link of the state hash chain.
type LedgerEvent struct {
	HostID        string     `json:"host_id"`
	PrevStateHash string     `json:"prev_state_hash"`
	NewStateHash  string     `json:"new_state_hash"`
	Adjustment    Adjustment `json:"adjustment"`
	TimestampUTC  string     `json:"timestamp_utc"`
	AttestedBy    string     `json:"attested_by"`
	Kind          EventKind  `json:"kind"`
}
