// Package corridor bounds how much mutation depth and power a single call
// may consume, and requires verified consent for any non-zero morph corridor.
package corridor

import (
	"fmt"

	"github.com/ppiankov/hostguard/internal/model"
)

// Profile is a resolved corridor envelope.
// Zero limits mean nothing may be requested on that dimension.
type Profile struct {
	ProfileID         string  `yaml:"profile_id" json:"profile_id"`
	MorphLimit        float64 `yaml:"morph_limit" json:"morph_limit"`
	PowerLimit        float64 `yaml:"power_limit" json:"power_limit"`
	RequiredKnowledge float64 `yaml:"required_knowledge" json:"required_knowledge"`
}

// Context is the per-call corridor input.
type Context struct {
	Identity       model.IdentityHeader
	ProfileID      string
	Profile        Profile
	Consent        *ConsentProof
	RequestedMorph float64
	RequestedPower float64
}

// ConsentVerifier checks a consent proof against the calling identity.
type ConsentVerifier interface {
	Verify(proof ConsentProof, id model.IdentityHeader) bool
}

// CorridorErrorKind names the corridor check that failed.
type CorridorErrorKind int

const (
	MorphExceeded CorridorErrorKind = iota + 1
	PowerExceeded
	ProfileMismatch
	KnowledgeTooLow
	MissingConsent
	ConsentRejected
)

func (k CorridorErrorKind) String() string {
	switch k {
	case MorphExceeded:
		return "morph_exceeded"
	case PowerExceeded:
		return "power_exceeded"
	case ProfileMismatch:
		return "profile_mismatch"
	case KnowledgeTooLow:
		return "knowledge_too_low"
	case MissingConsent:
		return "missing_consent"
	case ConsentRejected:
		return "consent_rejected"
	default:
		return "unknown"
	}
}

// CorridorError reports the first failed corridor check.
type CorridorError struct {
	Kind   CorridorErrorKind
	Detail string
}

func (e *CorridorError) Error() string {
	if e.Detail == "" {
		return "corridor: " + e.Kind.String()
	}
	return "corridor: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any CorridorError of the same kind.
func (e *CorridorError) Is(target error) bool {
	t, ok := target.(*CorridorError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMorphExceeded   = &CorridorError{Kind: MorphExceeded}
	ErrPowerExceeded   = &CorridorError{Kind: PowerExceeded}
	ErrProfileMismatch = &CorridorError{Kind: ProfileMismatch}
	ErrKnowledgeTooLow = &CorridorError{Kind: KnowledgeTooLow}
	ErrMissingConsent  = &CorridorError{Kind: MissingConsent}
	ErrConsentRejected = &CorridorError{Kind: ConsentRejected}
)

// Check runs the ordered corridor checks and returns the first failure:
//  1. requested morph <= morph limit
//  2. requested power <= power limit
//  3. caller profile id == required profile id
//  4. caller knowledge factor >= required knowledge
//  5. morph limit > 0 requires a consent proof that verifies
//
// Check 4 repeats part of identity validation: a corridor may be entered
// from a boundary that skipped it.
// A nil verifier rejects every proof.
func Check(ctx Context, v ConsentVerifier) error {
	p := ctx.Profile
	if !(ctx.RequestedMorph <= p.MorphLimit) {
		return &CorridorError{Kind: MorphExceeded, Detail: fmt.Sprintf("%.4f > %.4f", ctx.RequestedMorph, p.MorphLimit)}
	}
	if !(ctx.RequestedPower <= p.PowerLimit) {
		return &CorridorError{Kind: PowerExceeded, Detail: fmt.Sprintf("%.4f > %.4f", ctx.RequestedPower, p.PowerLimit)}
	}
	if ctx.ProfileID != p.ProfileID {
		return &CorridorError{Kind: ProfileMismatch, Detail: fmt.Sprintf("caller %q, corridor %q", ctx.ProfileID, p.ProfileID)}
	}
	if !(ctx.Identity.KnowledgeFactor >= p.RequiredKnowledge) {
		return &CorridorError{Kind: KnowledgeTooLow, Detail: fmt.Sprintf("%.3f < %.3f", ctx.Identity.KnowledgeFactor, p.RequiredKnowledge)}
	}
	if p.MorphLimit > 0 {
		if ctx.Consent == nil {
			return &CorridorError{Kind: MissingConsent, Detail: "morph corridor requires consent proof"}
		}
		if v == nil || !v.Verify(*ctx.Consent, ctx.Identity) {
			return &CorridorError{Kind: ConsentRejected, Detail: fmt.Sprintf("proof for %q did not verify", ctx.Consent.SubjectID)}
		}
	}
	return nil
}

// Registry resolves corridor profiles by id.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a Registry from a list of profiles.
func NewRegistry(profiles []Profile) *Registry {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		m[p.ProfileID] = p
	}
	return &Registry{profiles: m}
}

// Lookup returns the profile for id. Missing profiles resolve to a zero
// corridor bound to id, which admits no morph or power.
func (r *Registry) Lookup(id string) Profile {
	if r != nil {
		if p, ok := r.profiles[id]; ok {
			return p
		}
	}
	return Profile{ProfileID: id}
}
