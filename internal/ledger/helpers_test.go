package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"math"
)

func nan() float64 { return math.NaN() }

func encode(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}
