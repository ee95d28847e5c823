// Package breakglass issues and redeems single-use emergency override tokens.
// A token authorizes one safety-only forward adjustment on its own host; it
// never bypasses the safety guard.
package breakglass

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScopeEmergencyRollback is the only scope an override token may carry.
const ScopeEmergencyRollback = "evolution-emergency-rollback-v1"

const (
	// DefaultDuration is the default override token validity period.
	DefaultDuration = 10 * time.Minute
	// MaxDuration is the maximum allowed override token validity period.
	MaxDuration = 1 * time.Hour
	// MinExplanationWords is the minimum length of the human explanation.
	MinExplanationWords = 25
	// DefaultMaxPerDay is the default number of overrides per UTC day.
	DefaultMaxPerDay = 1
)

var (
	ErrWrongScope          = errors.New("override token scope is not " + ScopeEmergencyRollback)
	ErrHostMismatch        = errors.New("override token is bound to another host")
	ErrMissingTranscript   = errors.New("override token has no transcript hash")
	ErrExplanationTooShort = fmt.Errorf("override explanation must have at least %d words", MinExplanationWords)
	ErrNotYetValid         = errors.New("override token is not yet valid")
	ErrExpired             = errors.New("override token has expired")
	ErrInvalidSignature    = errors.New("override token signature does not verify under the host key")
	ErrAlreadyUsed         = errors.New("override token has already been used")
	ErrDailyLimit          = errors.New("emergency override limit for today reached")
)

// validID matches alphanumeric, dash characters only (bg-<uuid>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects IDs that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

// Token is a signed emergency override.
type Token struct {
	ID             string     `json:"id"`
	ScopeID        string     `json:"scope_id"`
	HostID         string     `json:"host_id"`
	TranscriptHash string     `json:"transcript_hash"`
	Explanation    string     `json:"explanation"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Signature      string     `json:"signature"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
}

// Digest returns the sha256 of the canonical signed fields.
func (t Token) Digest() []byte {
	msg := strings.Join([]string{
		"hostguard.override.v1",
		t.ID,
		t.ScopeID,
		t.HostID,
		t.TranscriptHash,
		t.Explanation,
		t.IssuedAt.UTC().Format(time.RFC3339Nano),
		t.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}, "\n")
	h := sha256.Sum256([]byte(msg))
	return h[:]
}

// VerifySignature reports whether the token is signed by pub.
func (t Token) VerifySignature(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, t.Digest(), sig)
}

// Issue creates and signs a token for hostID with the host's private key.
func Issue(priv ed25519.PrivateKey, hostID, transcriptHash, explanation string, duration time.Duration, now time.Time) (*Token, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("breakglass: host key has %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	if strings.TrimSpace(hostID) == "" {
		return nil, fmt.Errorf("breakglass: host id is required")
	}
	if strings.TrimSpace(transcriptHash) == "" {
		return nil, ErrMissingTranscript
	}
	if wordCount(explanation) < MinExplanationWords {
		return nil, ErrExplanationTooShort
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		return nil, fmt.Errorf("breakglass: duration %s exceeds maximum %s", duration, MaxDuration)
	}

	now = now.UTC()
	tok := &Token{
		ID:             "bg-" + uuid.NewString(),
		ScopeID:        ScopeEmergencyRollback,
		HostID:         hostID,
		TranscriptHash: transcriptHash,
		Explanation:    explanation,
		IssuedAt:       now,
		ExpiresAt:      now.Add(duration),
	}
	tok.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, tok.Digest()))
	return tok, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
