// Package identity validates caller credentials before any ledger access.
package identity

import (
	"fmt"
	"strings"

	"github.com/ppiankov/hostguard/internal/model"
)

// AccessErrorKind names the access check that failed.
type AccessErrorKind int

const (
	UnauthorizedRole AccessErrorKind = iota + 1
	SandboxTier
	InvalidNamespace
	KnowledgeTooLow
)

func (k AccessErrorKind) String() string {
	switch k {
	case UnauthorizedRole:
		return "unauthorized_role"
	case SandboxTier:
		return "sandbox_tier"
	case InvalidNamespace:
		return "invalid_namespace"
	case KnowledgeTooLow:
		return "knowledge_too_low"
	default:
		return "unknown"
	}
}

// AccessError is returned by Validate. Only the first failing check is reported.
type AccessError struct {
	Kind   AccessErrorKind
	Detail string
}

func (e *AccessError) Error() string {
	if e.Detail == "" {
		return "identity: " + e.Kind.String()
	}
	return "identity: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any AccessError of the same kind.
func (e *AccessError) Is(target error) bool {
	t, ok := target.(*AccessError)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorizedRole = &AccessError{Kind: UnauthorizedRole}
	ErrSandboxTier      = &AccessError{Kind: SandboxTier}
	ErrInvalidNamespace = &AccessError{Kind: InvalidNamespace}
	ErrKnowledgeTooLow  = &AccessError{Kind: KnowledgeTooLow}
)

// DefaultNamespaces are the issuer-id patterns accepted by default.
var DefaultNamespaces = []string{"bostrom*", "did:aln:*", "did:*"}

// allowedRoles is the closed set of roles that may reach the ledger.
var allowedRoles = map[model.Role]bool{
	model.RolePrimaryOperator:       true,
	model.RoleAuthorizedContributor: true,
	model.RoleSystemDaemon:          true,
}

// Validator checks identity headers against an accepted namespace set.
type Validator struct {
	namespaces []string
}

// NewValidator creates a Validator. Empty namespaces fall back to DefaultNamespaces.
func NewValidator(namespaces []string) *Validator {
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}
	ns := make([]string, len(namespaces))
	copy(ns, namespaces)
	return &Validator{namespaces: ns}
}

// Validate runs the ordered access checks:
//  1. role is primary-operator, authorized-contributor or system-daemon
//  2. tier is not sandbox
//  3. issuer id matches an accepted namespace
//  4. knowledge factor in [0, 1] and >= required
func (v *Validator) Validate(h model.IdentityHeader, required float64) error {
	if !allowedRoles[h.Role] {
		return &AccessError{Kind: UnauthorizedRole, Detail: fmt.Sprintf("role %q", h.Role)}
	}
	if h.Tier == model.TierSandbox {
		return &AccessError{Kind: SandboxTier, Detail: "sandbox tier may not mutate state"}
	}
	if !v.MatchNamespace(h.IssuerID) {
		return &AccessError{Kind: InvalidNamespace, Detail: fmt.Sprintf("issuer %q", h.IssuerID)}
	}
	if !(h.KnowledgeFactor >= 0 && h.KnowledgeFactor <= 1) {
		return &AccessError{Kind: KnowledgeTooLow, Detail: fmt.Sprintf("knowledge factor %v outside [0, 1]", h.KnowledgeFactor)}
	}
	if !(h.KnowledgeFactor >= required) {
		return &AccessError{Kind: KnowledgeTooLow, Detail: fmt.Sprintf("%.3f < %.3f", h.KnowledgeFactor, required)}
	}
	return nil
}

// MatchNamespace returns true if issuer matches any accepted namespace pattern.
// An empty issuer never matches.
func (v *Validator) MatchNamespace(issuer string) bool {
	if strings.TrimSpace(issuer) == "" {
		return false
	}
	for _, p := range v.namespaces {
		if MatchPattern(p, issuer) {
			return true
		}
	}
	return false
}

var defaultValidator = NewValidator(nil)

// Validate checks h with the default namespace set.
func Validate(h model.IdentityHeader, required float64) error {
	return defaultValidator.Validate(h, required)
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: *x* (contains), *suffix, prefix*, exact match. A bare "*" is
// rejected so a misconfigured namespace list cannot open every issuer.
// Matching is case-insensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return false
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	// *x*: contains
	if len(lowerPattern) > 1 && strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerValue, inner)
	}

	// *suffix
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}

	// prefix*
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}

	return lowerValue == lowerPattern
}
