// Package donation schedules the host's daily surplus donation to
// hardware-plane receivers and computes local stakeholder rewards.
// Nothing leaves the host: the pool is debited locally and the result is a
// list of workload jobs for partner devices.
package donation

import "github.com/ppiankov/hostguard/internal/model"

// PlaneKind is the plane a receiver lives on. Only hardware devices may
// receive donations.
type PlaneKind string

const (
	PlaneHardware   PlaneKind = "hardware_device"
	PlaneAugmented  PlaneKind = "augmented_host"
	PlaneCybernetic PlaneKind = "cybernetic_host"
)

// Receiver is a donation beneficiary.
type Receiver struct {
	OrgID    string    `yaml:"org_id" json:"org_id"`
	DeviceID string    `yaml:"device_id" json:"device_id"`
	DID      string    `yaml:"did" json:"did"`
	Plane    PlaneKind `yaml:"plane" json:"plane"`
	// MaxFractionPerDay caps this receiver at a fraction of the pool.
	MaxFractionPerDay float64 `yaml:"max_fraction_per_day" json:"max_fraction_per_day"`
	Active            bool    `yaml:"active" json:"active"`
}

// eligible reports whether r may receive an allocation.
func (r Receiver) eligible() bool {
	return r.Active && r.Plane == PlaneHardware
}

// StakeholderKind is the reward class of a stakeholder.
type StakeholderKind string

const (
	StakeholderValidator   StakeholderKind = "validator"
	StakeholderParticipant StakeholderKind = "participant"
	StakeholderResearch    StakeholderKind = "research_contributor"
)

// Stakeholder shares the reward pools by relative weight.
type Stakeholder struct {
	DID    string          `yaml:"did" json:"did"`
	Kind   StakeholderKind `yaml:"kind" json:"kind"`
	Weight float64         `yaml:"weight" json:"weight"`
	Active bool            `yaml:"active" json:"active"`
}

// Policy holds the scheduler knobs.
type Policy struct {
	MinAdminKnowledge float64 `yaml:"min_admin_knowledge" json:"min_admin_knowledge"`
	MinEcoAlignment   float64 `yaml:"min_eco_alignment" json:"min_eco_alignment"`
	MaxPerDay         uint64  `yaml:"max_per_day" json:"max_per_day"`
	MinFloorPerDay    uint64  `yaml:"min_floor_per_day" json:"min_floor_per_day"`
	// WindowCapFraction caps one scheduling window at a fraction of the pool.
	WindowCapFraction float64 `yaml:"window_cap_fraction" json:"window_cap_fraction"`
	EvolveRewardRate  float64 `yaml:"evolve_reward_rate" json:"evolve_reward_rate"`
	NanoRewardRate    float64 `yaml:"nano_reward_rate" json:"nano_reward_rate"`
	// EcoCostPerUnit is the compute cost in flops charged per donated unit.
	EcoCostPerUnit uint64 `yaml:"eco_cost_per_unit" json:"eco_cost_per_unit"`
}

// DefaultPolicy returns the compiled donation defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinAdminKnowledge: 0.7,
		MinEcoAlignment:   0.6,
		MaxPerDay:         10000,
		MinFloorPerDay:    1000,
		WindowCapFraction: 0.25,
		EvolveRewardRate:  0.10,
		NanoRewardRate:    0.05,
		EcoCostPerUnit:    1000000,
	}
}

// Pool is the host-local resource the scheduler debits.
type Pool struct {
	Resource float64 `json:"resource"`
}

// Context is the input for one scheduling window.
type Context struct {
	Now string `json:"now"` // RFC 3339
	// SurplusFraction is the fraction of the pool left after host-local needs.
	SurplusFraction float64           `json:"surplus_fraction"`
	EcoAlignment    float64           `json:"eco_alignment"`
	OptIn           bool              `json:"opt_in"`
	Vitals          model.VitalsState `json:"vitals"`
}

// Job is one scheduled workload for a hardware receiver.
type Job struct {
	JobID    string `json:"job_id"`
	OrgID    string `json:"org_id"`
	DeviceID string `json:"device_id"`
	DID      string `json:"did"`
	Amount   uint64 `json:"amount"`
	EcoCost  uint64 `json:"eco_cost_flops"`
	Label    string `json:"label"`
}

// Reward is a local, non-transferable stakeholder reward.
type Reward struct {
	DID         string          `json:"did"`
	Kind        StakeholderKind `json:"kind"`
	EvolveDelta float64         `json:"evolve_delta"`
	NanoDelta   float64         `json:"nano_delta"`
}

// FloorStatus reports how the day's minimum floor was handled.
type FloorStatus string

const (
	FloorNotApplicable  FloorStatus = "not_applicable"
	FloorBelowSkipped   FloorStatus = "below_floor_skipped"
	FloorMet            FloorStatus = "floor_met"
	FloorAboveWithinCap FloorStatus = "above_floor_within_cap"
)

// Audit is the record of one scheduling window. No-op windows carry a
// reason and no jobs.
type Audit struct {
	AuditID            string      `json:"audit_id"`
	HostID             string      `json:"host_id"`
	Date               string      `json:"date"`
	AppliedJobs        []Job       `json:"applied_jobs"`
	TotalSpent         uint64      `json:"total_spent"`
	TotalEcoCost       uint64      `json:"total_eco_cost"`
	FloorStatus        FloorStatus `json:"floor_status"`
	StakeholderRewards []Reward    `json:"stakeholder_rewards"`
	DonatedToday       uint64      `json:"donated_today"`
	Reason             string      `json:"reason"`
}

// Applied reports whether the window spent anything.
func (a Audit) Applied() bool {
	return a.TotalSpent > 0
}

// Reasons recorded on audits.
const (
	ReasonNoOptIn         = "host did not opt in today"
	ReasonEcoBelow        = "eco alignment below threshold"
	ReasonUnsafeVitals    = "vitals outside safety bands"
	ReasonNoSurplus       = "no surplus available"
	ReasonSurplusTooSmall = "effective surplus too small"
	ReasonDailyCapReached = "daily donation cap already reached"
	ReasonNoReceivers     = "no active hardware receivers"
	ReasonNoAllocation    = "no feasible allocation to hardware receivers"
	ReasonScheduled       = "donations scheduled within safety, eco and floor bounds"
)
