package corridor

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ppiankov/hostguard/internal/model"
)

// ConsentProof is a subject's signed consent to a corridor profile.
type ConsentProof struct {
	SubjectID string `json:"subject_id"`
	ProfileID string `json:"profile_id"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
	Signature string `json:"signature"` // base64 ed25519 over Digest()
}

// Digest returns the sha256 of the canonical proof bytes.
func (p ConsentProof) Digest() []byte {
	msg := strings.Join([]string{"hostguard.consent.v1", p.SubjectID, p.ProfileID, p.Nonce, p.IssuedAt}, "\n")
	h := sha256.Sum256([]byte(msg))
	return h[:]
}

// Sign fills in the signature with priv.
func (p *ConsentProof) Sign(priv ed25519.PrivateKey) {
	p.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, p.Digest()))
}

// Ed25519Verifier verifies consent proofs against per-subject public keys.
type Ed25519Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewEd25519Verifier builds a verifier from base64-encoded public keys keyed
// by subject (issuer) id.
func NewEd25519Verifier(keys map[string]string) (*Ed25519Verifier, error) {
	m := make(map[string]ed25519.PublicKey, len(keys))
	for subject, enc := range keys {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
		if err != nil {
			return nil, fmt.Errorf("corridor: decode key for %q: %w", subject, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("corridor: key for %q has %d bytes, want %d", subject, len(raw), ed25519.PublicKeySize)
		}
		m[subject] = ed25519.PublicKey(raw)
	}
	return &Ed25519Verifier{keys: m}, nil
}

// Verify reports whether proof is signed by id's registered key and names id
// as its subject.
func (v *Ed25519Verifier) Verify(proof ConsentProof, id model.IdentityHeader) bool {
	if v == nil || proof.SubjectID != id.IssuerID {
		return false
	}
	key, ok := v.keys[id.IssuerID]
	if !ok {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(proof.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key, proof.Digest(), sig)
}
