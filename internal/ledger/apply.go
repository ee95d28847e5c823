package ledger

import (
	"fmt"
	"time"

	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/guard"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/turns"
)

// Request is one proposed transition.
type Request struct {
	Identity          model.IdentityHeader
	RequiredKnowledge float64
	Adjustment        model.Adjustment
	Timestamp         string // RFC 3339
	Corridor          *corridor.Context
	ConsumeTurn       bool
}

// SystemApply submits adj without a corridor or turn.
func (l *Ledger) SystemApply(id model.IdentityHeader, requiredK float64, adj model.Adjustment, timestamp string) (model.LedgerEvent, error) {
	return l.Submit(Request{
		Identity:          id,
		RequiredKnowledge: requiredK,
		Adjustment:        adj,
		Timestamp:         timestamp,
	})
}

// Submit runs the full pipeline for req. On any error the state, chain and
// counters are unchanged.
//
// Pipeline order (cannot be changed):
//  1. Input: timestamp parses and is not before the last commit, adjustment is finite
//  2. Identity access
//  3. Corridor (when req.Corridor is set, required for evolution steps)
//  4. Safety invariant guard
//  5. Turn discipline (when req.ConsumeTurn, required for evolution steps) and domain caps
//  6. State hash + event
//  7. Write-ahead journals, then the store
//  8. Commit, then record turn and domain usage
func (l *Ledger) Submit(req Request) (model.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Step 1: input
	now, tsUTC, err := l.parseTimestamp(req.Timestamp)
	if err != nil {
		return model.LedgerEvent{}, abort(StageInput, err)
	}
	adj := req.Adjustment
	if !guard.Finite(adj) {
		return model.LedgerEvent{}, abort(StageInput, ErrInvalidAdjustment)
	}
	evolution := IsEvolution(adj)

	// Step 2: identity
	if err := l.validator.Validate(req.Identity, req.RequiredKnowledge); err != nil {
		return model.LedgerEvent{}, abort(StageIdentity, err)
	}

	// Step 3: corridor
	switch {
	case req.Corridor != nil:
		cc := *req.Corridor
		cc.Identity = req.Identity
		// The corridor bounds the morph actually applied, not only the
		// amount the caller declared.
		if m := adj.DeltaMorph.L1(); m > cc.RequestedMorph {
			cc.RequestedMorph = m
		}
		if err := corridor.Check(cc, l.verifier); err != nil {
			return model.LedgerEvent{}, abort(StageCorridor, err)
		}
	case evolution:
		return model.LedgerEvent{}, abort(StageCorridor, ErrCorridorRequired)
	}

	// Step 4: guard
	next, err := guard.Project(l.state, l.env, adj)
	if err != nil {
		return model.LedgerEvent{}, abort(StageGuard, err)
	}

	// Step 5: turns
	if evolution && !req.ConsumeTurn {
		return model.LedgerEvent{}, abort(StageTurn, ErrTurnRequired)
	}
	kind := model.EventSystemApply
	if req.ConsumeTurn {
		if err := turns.Check(l.turnState, now, l.turnPolicy); err != nil {
			return model.LedgerEvent{}, abort(StageTurn, err)
		}
		kind = model.EventTurn
	}
	if adj.Domain != "" {
		if err := turns.CheckDomain(l.usage, now, adj.Domain, turns.UsageAmount(adj), l.state.Budget.Total, l.turnPolicy); err != nil {
			return model.LedgerEvent{}, abort(StageTurn, err)
		}
	}

	// Step 6-8
	ev, err := l.commit(next, adj, now, tsUTC, req.Identity.IssuerID, kind, nil)
	if err != nil {
		return model.LedgerEvent{}, err
	}
	if req.ConsumeTurn {
		turns.RecordTurn(&l.turnState, now)
	}
	if adj.Domain != "" {
		l.usage.Record(now, adj.Domain, turns.UsageAmount(adj))
	}
	return ev, nil
}

// IsEvolution reports whether adj spends evolve budget or moves the morph
// vector. Such steps always pay a turn and pass a corridor.
func IsEvolution(adj model.Adjustment) bool {
	return adj.DeltaEvolveUsed != 0 || adj.DeltaMorph != (model.MorphVector{})
}

// EmergencyOverride applies a safety-only reversal authorized by a signed
// override token. It is an ordinary forward adjustment: it still passes
// identity and the safety guard, and it is appended to the same chain.
// It skips corridor and turn discipline and does not consume a turn.
//
// Requirements:
//  1. an override authority is configured
//  2. the adjustment carries no evolve or morph delta
//  3. the token validates (reserved scope, host-key signature, unused, daily cap)
//  4. the caller is the host itself with role system-daemon
//  5. identity access and the safety guard pass
//
// The token is consumed after the write-ahead journals and before the
// store. A store failure at that point leaves the token spent.
func (l *Ledger) EmergencyOverride(tok breakglass.Token, id model.IdentityHeader, adj model.Adjustment, timestamp string) (model.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now, tsUTC, err := l.parseTimestamp(timestamp)
	if err != nil {
		return model.LedgerEvent{}, abort(StageInput, err)
	}
	if !guard.Finite(adj) {
		return model.LedgerEvent{}, abort(StageInput, ErrInvalidAdjustment)
	}
	if l.overrides == nil {
		return model.LedgerEvent{}, abort(StageOverride, ErrOverrideUnavailable)
	}
	if IsEvolution(adj) {
		return model.LedgerEvent{}, abort(StageOverride, ErrOverrideEvolution)
	}
	if err := l.overrides.Validate(tok, l.env.HostID, now); err != nil {
		return model.LedgerEvent{}, abort(StageOverride, err)
	}
	if id.IssuerID != l.env.HostID || id.Role != model.RoleSystemDaemon {
		return model.LedgerEvent{}, abort(StageOverride, ErrOverrideIdentity)
	}
	if err := l.validator.Validate(id, 0); err != nil {
		return model.LedgerEvent{}, abort(StageIdentity, err)
	}
	next, err := guard.Project(l.state, l.env, adj)
	if err != nil {
		return model.LedgerEvent{}, abort(StageGuard, err)
	}

	consume := func() error { return l.overrides.Consume(tok, now) }
	return l.commit(next, adj, now, tsUTC, id.IssuerID, model.EventEmergency, consume)
}

// commit hashes next and builds the event. The event goes through the
// write-ahead journals, then beforeStore, then the store; only after the
// store accepts it does the in-memory state advance. Caller holds l.mu.
func (l *Ledger) commit(next model.VitalsState, adj model.Adjustment, at time.Time, ts, attestedBy string, kind model.EventKind, beforeStore func() error) (model.LedgerEvent, error) {
	newHash, err := HashState(l.env.HostID, l.env, next)
	if err != nil {
		return model.LedgerEvent{}, abort(StageInput, err)
	}
	ev := model.LedgerEvent{
		HostID:        l.env.HostID,
		PrevStateHash: l.lastHash,
		NewStateHash:  newHash,
		Adjustment:    adj,
		TimestampUTC:  ts,
		AttestedBy:    attestedBy,
		Kind:          kind,
	}
	for _, j := range l.journals {
		if err := j.AppendEvent(ev, next); err != nil {
			return model.LedgerEvent{}, abort(StageJournal, err)
		}
	}
	if beforeStore != nil {
		if err := beforeStore(); err != nil {
			return model.LedgerEvent{}, abort(StageOverride, err)
		}
	}
	if l.store != nil {
		if err := l.store.AppendEvent(ev, next); err != nil {
			return model.LedgerEvent{}, abort(StageJournal, err)
		}
	}

	l.state = next
	l.lastHash = newHash
	l.lastAt = at
	l.events = append(l.events, ev)
	return ev, nil
}

// parseTimestamp parses s and refuses a time before the last commit.
// Caller holds l.mu.
func (l *Ledger) parseTimestamp(s string) (time.Time, string, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, "", ErrInvalidTimestamp
	}
	t = t.UTC()
	if t.Before(l.lastAt) {
		return time.Time{}, "", fmt.Errorf("%w: %s before %s", ErrTimestampRegressed, t.Format(time.RFC3339Nano), l.lastAt.Format(time.RFC3339Nano))
	}
	return t, t.Format(time.RFC3339Nano), nil
}
