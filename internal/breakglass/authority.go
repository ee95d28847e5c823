package breakglass

import (
	"crypto/ed25519"
	"strings"
	"time"

	"github.com/ppiankov/hostguard/internal/turns"
)

// Authority validates override tokens against the host's own public key and
// consumes them through a Store.
type Authority struct {
	hostKey   ed25519.PublicKey
	store     *Store
	maxPerDay int
}

// NewAuthority creates an Authority. maxPerDay <= 0 uses DefaultMaxPerDay.
func NewAuthority(hostKey ed25519.PublicKey, store *Store, maxPerDay int) *Authority {
	if maxPerDay <= 0 {
		maxPerDay = DefaultMaxPerDay
	}
	return &Authority{hostKey: hostKey, store: store, maxPerDay: maxPerDay}
}

// Validate checks tok for hostID at now without consuming it.
//
// Check order:
//  1. scope is the reserved emergency scope
//  2. token is bound to hostID
//  3. transcript hash present, explanation long enough
//  4. now inside [issued_at, expires_at)
//  5. signature verifies under the host key
//  6. not consumed, daily limit not reached
func (a *Authority) Validate(tok Token, hostID string, now time.Time) error {
	if tok.ScopeID != ScopeEmergencyRollback {
		return ErrWrongScope
	}
	if tok.HostID != hostID {
		return ErrHostMismatch
	}
	if strings.TrimSpace(tok.TranscriptHash) == "" {
		return ErrMissingTranscript
	}
	if wordCount(tok.Explanation) < MinExplanationWords {
		return ErrExplanationTooShort
	}
	if now.Before(tok.IssuedAt) {
		return ErrNotYetValid
	}
	if !now.Before(tok.ExpiresAt) {
		return ErrExpired
	}
	if !tok.VerifySignature(a.hostKey) {
		return ErrInvalidSignature
	}
	if a.store == nil {
		return ErrAlreadyUsed // fail closed: no way to enforce single use
	}
	if a.store.IsUsed(tok.ID) {
		return ErrAlreadyUsed
	}
	n, err := a.store.UsedOn(turns.DayKey(now))
	if err != nil {
		return err
	}
	if n >= a.maxPerDay {
		return ErrDailyLimit
	}
	return nil
}

// Consume marks tok as used. It re-checks single use and the daily limit
// under the store lock.
func (a *Authority) Consume(tok Token, now time.Time) error {
	if a.store == nil {
		return ErrAlreadyUsed
	}
	return a.store.MarkUsed(tok, now, a.maxPerDay)
}

