package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/hostguard/internal/guard"
	"github.com/ppiankov/hostguard/internal/model"
)

// HashState returns "sha256:<hex>" over host id, envelope and state.
// It is a pure function of content: equal inputs always hash equal.
func HashState(hostID string, env model.HostEnvelope, state model.VitalsState) (string, error) {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal envelope: %w", err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal state: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(hostID))
	h.Write([]byte{'\n'})
	h.Write(envJSON)
	h.Write([]byte{'\n'})
	h.Write(stateJSON)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ChainError reports the first broken link in an event sequence.
type ChainError struct {
	Index  int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger: chain broken at event %d: %s", e.Index, e.Reason)
}

// VerifyChain checks that every event's prev_state_hash equals the previous
// event's new_state_hash and that all events belong to one host.
func VerifyChain(events []model.LedgerEvent) error {
	for i, ev := range events {
		if i == 0 {
			continue
		}
		prev := events[i-1]
		if ev.HostID != prev.HostID {
			return &ChainError{Index: i, Reason: fmt.Sprintf("host %q follows host %q", ev.HostID, prev.HostID)}
		}
		if ev.PrevStateHash != prev.NewStateHash {
			return &ChainError{Index: i, Reason: fmt.Sprintf("prev_state_hash %s, expected %s", ev.PrevStateHash, prev.NewStateHash)}
		}
	}
	return nil
}

// Replay recomputes every state from initial by re-running the guard over
// each recorded adjustment and checks each recorded hash against the
// recomputed one. It returns the final state.
func Replay(env model.HostEnvelope, initial model.VitalsState, events []model.LedgerEvent) (model.VitalsState, error) {
	state := initial
	hash, err := HashState(env.HostID, env, state)
	if err != nil {
		return state, err
	}
	for i, ev := range events {
		if ev.PrevStateHash != hash {
			return state, &ChainError{Index: i, Reason: fmt.Sprintf("prev_state_hash %s, recomputed %s", ev.PrevStateHash, hash)}
		}
		next, err := guard.Project(state, env, ev.Adjustment)
		if err != nil {
			return state, &ChainError{Index: i, Reason: fmt.Sprintf("recorded adjustment fails guard: %v", err)}
		}
		hash, err = HashState(env.HostID, env, next)
		if err != nil {
			return state, err
		}
		if ev.NewStateHash != hash {
			return state, &ChainError{Index: i, Reason: fmt.Sprintf("new_state_hash %s, recomputed %s", ev.NewStateHash, hash)}
		}
		state = next
	}
	return state, nil
}
