package model

import "strings"

// Role is the caller's declared role in an identity header.
type Role string

const (
	RolePrimaryOperator       Role = "primary-operator"
	RoleAuthorizedContributor Role = "authorized-contributor"
	RoleSystemDaemon          Role = "system-daemon"
	RoleObserver              Role = "observer"
)

// Tier is the execution tier the caller runs in.
type Tier string

const (
	TierInnerCore   Tier = "inner-core"
	TierTrustedEdge Tier = "trusted-edge"
	TierSandbox     Tier = "sandbox"
)

// Band is the single three-level classification shared by every signal type
// (lifeforce, eco, radiology, pain).
type Band string

const (
	BandSafe     Band = "safe"
	BandSoftWarn Band = "soft_warn"
	BandHardStop Band = "hard_stop"
)

// BandRank maps bands to a comparable integer for monotonic comparison.
var BandRank = map[Band]int{
	BandSafe:     0,
	BandSoftWarn: 1,
	BandHardStop: 2,
}

// AtLeast reports whether b is at least as severe as other.
// Unknown bands rank as hard_stop.
func (b Band) AtLeast(other Band) bool {
	return rank(b) >= rank(other)
}

func rank(b Band) int {
	r, ok := BandRank[b]
	if !ok {
		return BandRank[BandHardStop]
	}
	return r
}

// ParseBand maps a string to a Band. Fail-closed: unknown -> hard_stop.
func ParseBand(s string) Band {
	switch Band(strings.ToLower(strings.TrimSpace(s))) {
	case BandSafe:
		return BandSafe
	case BandSoftWarn:
		return BandSoftWarn
	default:
		return BandHardStop
	}
}

// ClassifyFloor classifies a "lower is worse" signal against a hard floor
// and a soft margin above it.
func ClassifyFloor(value, floor, margin float64) Band {
	if value <= floor {
		return BandHardStop
	}
	if value <= floor+margin {
		return BandSoftWarn
	}
	return BandSafe
}

// ClassifyLoad classifies a "higher is worse" signal against soft and hard
// thresholds.
func ClassifyLoad(value, soft, hard float64) Band {
	if value >= hard {
		return BandHardStop
	}
	if value >= soft {
		return BandSoftWarn
	}
	return BandSafe
}

// Decision is the router outcome for a proposed micro-action.
type Decision string

const (
	Safe  Decision = "safe"
	Defer Decision = "defer"
	Deny  Decision = "deny"
)

// ReasonCode explains a router decision.
type ReasonCode string

const (
	ReasonNoFlyZone       ReasonCode = "no_fly_zone"
	ReasonPainCorridor    ReasonCode = "pain_corridor"
	ReasonHardStop        ReasonCode = "hard_stop"
	ReasonHardLimit       ReasonCode = "hard_limit"
	ReasonEcoHigh         ReasonCode = "eco_high"
	ReasonDensityExceeded ReasonCode = "density_exceeded"
	ReasonLowClarity      ReasonCode = "low_clarity"
	ReasonClear           ReasonCode = "clear"
)

// Domain is the class of micro-action a caller proposes.
type Domain string

const (
	DomainComputeAssist      Domain = "compute_assist"
	DomainSensorHousekeeping Domain = "sensor_housekeeping"
	DomainRepairMicro        Domain = "repair_micro"
	DomainDetoxMicro         Domain = "detox_micro"
)

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	switch d {
	case DomainComputeAssist, DomainSensorHousekeeping, DomainRepairMicro, DomainDetoxMicro:
		return true
	}
	return false
}

// BodyContacting reports whether the domain touches tissue.
func (d Domain) BodyContacting() bool {
	switch d {
	case DomainSensorHousekeeping, DomainRepairMicro, DomainDetoxMicro:
		return true
	}
	return false
}

// Invasive reports whether the domain acts inside tissue.
func (d Domain) Invasive() bool {
	return d == DomainRepairMicro || d == DomainDetoxMicro
}

// Critical reports whether the domain is safety-relevant work that is not
// deferred for ecological load. Unknown domains are non-critical.
func (d Domain) Critical() bool {
	return d.Valid() && d != DomainComputeAssist
}
