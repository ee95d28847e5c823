// Package router is the advisory band classifier for proposed micro-actions.
// It decides Safe, Defer or Deny before a caller offers anything to the
// ledger. It never reads or mutates ledger state.
package router

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/hostguard/internal/model"
)

// Policy holds the router thresholds.
type Policy struct {
	PainHardThreshold       float64 `yaml:"pain_hard_threshold" json:"pain_hard_threshold"`
	PainSoftThreshold       float64 `yaml:"pain_soft_threshold" json:"pain_soft_threshold"`
	PainMinConfidence       float64 `yaml:"pain_min_confidence" json:"pain_min_confidence"`
	PainMinSustainedSeconds int     `yaml:"pain_min_sustained_seconds" json:"pain_min_sustained_seconds"`
	DoseSoftFraction        float64 `yaml:"dose_soft_fraction" json:"dose_soft_fraction"`
	SoftDensityFactor       float64 `yaml:"soft_density_factor" json:"soft_density_factor"`
	ClarityFloor            float64 `yaml:"clarity_floor" json:"clarity_floor"`
}

// DefaultPolicy returns the compiled router thresholds.
func DefaultPolicy() Policy {
	return Policy{
		PainHardThreshold:       0.8,
		PainSoftThreshold:       0.5,
		PainMinConfidence:       0.7,
		PainMinSustainedSeconds: 3,
		DoseSoftFraction:        0.5,
		SoftDensityFactor:       0.5,
		ClarityFloor:            0.3,
	}
}

// Observation is the upstream band snapshot for one target region.
type Observation struct {
	HostID           string     `json:"host_id"`
	Timestamp        time.Time  `json:"ts"`
	RegionID         string     `json:"region_id"`
	Lifeforce        model.Band `json:"lifeforce_band"`
	Eco              model.Band `json:"eco_band"`
	Radiology        model.Band `json:"radiology_band"`
	Clarity          float64    `json:"clarity"`
	SessionDose      float64    `json:"session_dose"`
	DailyDose        float64    `json:"daily_dose"`
	RequestedDensity float64    `json:"requested_density"`
}

// PainSignal is an aversive-signal reading for one region.
type PainSignal struct {
	RegionID         string  `json:"region_id"`
	Level            float64 `json:"level"`
	Confidence       float64 `json:"confidence"`
	SustainedSeconds int     `json:"sustained_seconds"`
}

// Signals carries the optional inputs beyond the band snapshot.
type Signals struct {
	Pain *PainSignal `json:"pain,omitempty"`
}

// Verdict is the pure classification result.
type Verdict struct {
	Decision       model.Decision
	Reason         model.ReasonCode
	DoseFraction   float64
	AllowedDensity float64
	PainLevel      float64
}

// Decide classifies a proposed micro-action. First match wins:
//  1. no-fly region (or unknown region for an invasive domain) -> Deny
//  2. sustained high-confidence pain in the region, body-contacting -> Deny
//  3. lifeforce, radiology or eco band at hard_stop -> Deny
//  4. dose fraction >= 1 -> Deny
//  5. eco soft_warn with a non-critical domain -> Defer
//  6. density over cap, cap shrunk when dose fraction >= soft or radiology soft_warn -> Deny
//  7. pain level >= soft threshold, body-contacting -> Defer
//  8. clarity under floor -> Defer
//  9. Safe
//
// Unknown domains are treated as invasive and body-contacting.
func Decide(obs Observation, regions *RegionMap, domain model.Domain, sig Signals, p Policy) Verdict {
	v := Verdict{Decision: model.Deny}
	invasive := !domain.Valid() || domain.Invasive()
	somatic := !domain.Valid() || domain.BodyContacting()
	if sig.Pain != nil {
		v.PainLevel = sig.Pain.Level
	}

	// Step 1: no-fly
	region, known := regions.Lookup(obs.RegionID)
	if region.NoFly || (!known && invasive) {
		v.Reason = model.ReasonNoFlyZone
		return v
	}

	// Step 2: sustained pain veto
	pain := regionPain(sig.Pain, obs.RegionID)
	if somatic && sustainedPain(pain, p) {
		v.Reason = model.ReasonPainCorridor
		return v
	}

	// Step 3: hard-stop bands
	if obs.Lifeforce.AtLeast(model.BandHardStop) ||
		obs.Radiology.AtLeast(model.BandHardStop) ||
		obs.Eco.AtLeast(model.BandHardStop) {
		v.Reason = model.ReasonHardStop
		return v
	}

	// Step 4: dose hard limit
	v.DoseFraction = region.DoseFraction(obs.SessionDose, obs.DailyDose)
	if !(v.DoseFraction < 1.0) {
		v.Reason = model.ReasonHardLimit
		return v
	}

	// Step 5: eco load
	if obs.Eco.AtLeast(model.BandSoftWarn) && !domain.Critical() {
		v.Decision = model.Defer
		v.Reason = model.ReasonEcoHigh
		return v
	}

	// Step 6: density
	if region.DensityMax > 0 {
		v.AllowedDensity = region.DensityMax
		if v.DoseFraction >= p.DoseSoftFraction || obs.Radiology.AtLeast(model.BandSoftWarn) {
			v.AllowedDensity *= p.SoftDensityFactor
		}
		if !(obs.RequestedDensity <= v.AllowedDensity) {
			v.Reason = model.ReasonDensityExceeded
			return v
		}
	}

	// Step 7: moderate pain
	if somatic && pain != nil && !(pain.Level < p.PainSoftThreshold) {
		v.Decision = model.Defer
		v.Reason = model.ReasonPainCorridor
		return v
	}

	// Step 8: clarity
	if !(obs.Clarity >= p.ClarityFloor) {
		v.Decision = model.Defer
		v.Reason = model.ReasonLowClarity
		return v
	}

	v.Decision = model.Safe
	v.Reason = model.ReasonClear
	return v
}

// regionPain returns pain if it applies to regionID. A signal without a
// region applies to every region.
func regionPain(pain *PainSignal, regionID string) *PainSignal {
	if pain == nil {
		return nil
	}
	if pain.RegionID != "" && normalizeRegion(pain.RegionID) != normalizeRegion(regionID) {
		return nil
	}
	return pain
}

// sustainedPain reports a veto-grade pain signal.
func sustainedPain(pain *PainSignal, p Policy) bool {
	if pain == nil {
		return false
	}
	return !(pain.Level < p.PainHardThreshold) &&
		pain.Confidence >= p.PainMinConfidence &&
		pain.SustainedSeconds >= p.PainMinSustainedSeconds
}

// DecisionLog is the flat audit record of one classification.
type DecisionLog struct {
	DecisionID       string           `json:"decision_id"`
	Timestamp        string           `json:"ts"`
	HostID           string           `json:"host_id"`
	Decision         model.Decision   `json:"decision"`
	Reason           model.ReasonCode `json:"reason_code"`
	Domain           model.Domain     `json:"domain"`
	RegionID         string           `json:"region_id"`
	RequestedDensity float64          `json:"requested_density"`
	AllowedDensity   float64          `json:"allowed_density"`
	DoseFraction     float64          `json:"dose_fraction"`
	PainLevel        float64          `json:"pain_level"`
	Radiology        model.Band       `json:"radiology_band"`
	Lifeforce        model.Band       `json:"lifeforce_band"`
	Eco              model.Band       `json:"eco_band"`
}

// Router binds a region map and policy. It holds no mutable state.
type Router struct {
	regions *RegionMap
	policy  Policy
	newID   func() string
}

// New creates a Router. A zero policy uses DefaultPolicy.
func New(regions *RegionMap, p Policy) *Router {
	if p == (Policy{}) {
		p = DefaultPolicy()
	}
	return &Router{regions: regions, policy: p, newID: uuid.NewString}
}

// Policy returns the router thresholds.
func (r *Router) Policy() Policy {
	return r.policy
}

// Regions returns the region map.
func (r *Router) Regions() *RegionMap {
	return r.regions
}

// Classify decides obs and returns the audit record.
func (r *Router) Classify(obs Observation, domain model.Domain, sig Signals) DecisionLog {
	v := Decide(obs, r.regions, domain, sig, r.policy)
	return DecisionLog{
		DecisionID:       r.newID(),
		Timestamp:        obs.Timestamp.UTC().Format(time.RFC3339Nano),
		HostID:           obs.HostID,
		Decision:         v.Decision,
		Reason:           v.Reason,
		Domain:           domain,
		RegionID:         obs.RegionID,
		RequestedDensity: obs.RequestedDensity,
		AllowedDensity:   v.AllowedDensity,
		DoseFraction:     v.DoseFraction,
		PainLevel:        v.PainLevel,
		Radiology:        obs.Radiology,
		Lifeforce:        obs.Lifeforce,
		Eco:              obs.Eco,
	}
}
