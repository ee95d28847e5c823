// Package ledger is the single-writer, guard-gated state machine that owns a
// host's vitals. Every accepted mutation is appended to a content-addressed
// hash chain; nothing in this package deletes, reorders or rewrites an event.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/guard"
	"github.com/ppiankov/hostguard/internal/identity"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/turns"
)

// Journal is a sink for committed events. Journals run inside the critical
// section before the in-memory commit; an error aborts the call.
type Journal interface {
	AppendEvent(ev model.LedgerEvent, state model.VitalsState) error
}

// OverrideAuthority validates and consumes emergency override tokens.
type OverrideAuthority interface {
	Validate(tok breakglass.Token, hostID string, now time.Time) error
	Consume(tok breakglass.Token, now time.Time) error
}

// Options configures a Ledger. Zero values are usable.
type Options struct {
	Validator  *identity.Validator
	TurnPolicy turns.Policy
	Verifier   corridor.ConsentVerifier
	Overrides  OverrideAuthority
	// Journals are write-ahead logs. They run first and may keep a line for
	// a call that later aborts.
	Journals []Journal
	// Store is the commit point. It runs after every journal and the
	// override consume; once it accepts an event the event is durable.
	Store Journal
}

// Ledger owns one host's VitalsState. All mutation goes through Submit,
// SystemApply or EmergencyOverride, each serialized on one mutex.
type Ledger struct {
	mu sync.Mutex

	env      model.HostEnvelope
	state    model.VitalsState
	lastHash string
	lastAt   time.Time
	events   []model.LedgerEvent

	turnState turns.DailyState
	usage     turns.DomainUsage

	validator  *identity.Validator
	turnPolicy turns.Policy
	verifier   corridor.ConsentVerifier
	overrides  OverrideAuthority
	journals   []Journal
	store      Journal
}

// New creates a Ledger at its initial state. The initial state must already
// satisfy every invariant of env.
func New(env model.HostEnvelope, initial model.VitalsState, opts Options) (*Ledger, error) {
	if env.HostID == "" {
		return nil, errors.New("ledger: host id is required")
	}
	if err := guard.CheckState(initial, env); err != nil {
		return nil, fmt.Errorf("ledger: initial state outside envelope: %w", err)
	}
	hash, err := HashState(env.HostID, env, initial)
	if err != nil {
		return nil, err
	}

	validator := opts.Validator
	if validator == nil {
		validator = identity.NewValidator(nil)
	}
	return &Ledger{
		env:        env,
		state:      initial,
		lastHash:   hash,
		validator:  validator,
		turnPolicy: turns.Normalize(opts.TurnPolicy),
		verifier:   opts.Verifier,
		overrides:  opts.Overrides,
		journals:   opts.Journals,
		store:      opts.Store,
	}, nil
}

// Resume restores a Ledger from a persisted state and its event chain.
// The chain must link, and its tail must hash to state. Turn and domain
// counters are rebuilt from the events.
func Resume(env model.HostEnvelope, state model.VitalsState, events []model.LedgerEvent, opts Options) (*Ledger, error) {
	l, err := New(env, state, opts)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return l, nil
	}
	if err := VerifyChain(events); err != nil {
		return nil, err
	}
	tail := events[len(events)-1]
	if tail.HostID != env.HostID {
		return nil, fmt.Errorf("ledger: chain belongs to host %q, not %q", tail.HostID, env.HostID)
	}
	if tail.NewStateHash != l.lastHash {
		return nil, fmt.Errorf("ledger: persisted state hash %s does not match chain tail %s", l.lastHash, tail.NewStateHash)
	}
	ds, du, err := turns.Rebuild(events)
	if err != nil {
		return nil, fmt.Errorf("ledger: rebuild counters: %w", err)
	}
	lastAt, err := time.Parse(time.RFC3339Nano, tail.TimestampUTC)
	if err != nil {
		return nil, fmt.Errorf("ledger: chain tail timestamp: %w", err)
	}
	l.lastAt = lastAt.UTC()
	l.events = append([]model.LedgerEvent(nil), events...)
	l.turnState = ds
	l.usage = du
	return l, nil
}

// HostID returns the host this ledger belongs to.
func (l *Ledger) HostID() string {
	return l.env.HostID
}

// Envelope returns the host envelope.
func (l *Ledger) Envelope() model.HostEnvelope {
	return l.env
}

// State returns a copy of the current state.
func (l *Ledger) State() model.VitalsState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastHash returns the hash of the current committed state.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Events returns a copy of the event chain.
func (l *Ledger) Events() []model.LedgerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LedgerEvent, len(l.events))
	copy(out, l.events)
	return out
}

// SetTurnPolicy replaces the turn policy. The policy is normalized, so it
// can only tighten the compiled ceilings.
func (l *Ledger) SetTurnPolicy(p turns.Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turnPolicy = turns.Normalize(p)
}

// Bands is the lifeforce band snapshot of the current state.
type Bands struct {
	Brain  model.Band `json:"brain"`
	Blood  model.Band `json:"blood"`
	Oxygen model.Band `json:"oxygen"`
	Nano   model.Band `json:"nano"`
}

// Status is a read-only snapshot for boundaries.
type Status struct {
	HostID     string            `json:"host_id"`
	State      model.VitalsState `json:"state"`
	LastHash   string            `json:"last_hash"`
	Events     int               `json:"events"`
	Turns      turns.DailyState  `json:"turns"`
	TurnPolicy turns.Policy      `json:"turn_policy"`
	Usage      turns.DomainUsage `json:"domain_usage"`
	Bands      Bands             `json:"bands"`
}

// Status returns the ledger snapshot as seen at now.
func (l *Ledger) Status(now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.env.SoftMargin
	return Status{
		HostID:     l.env.HostID,
		State:      l.state,
		LastHash:   l.lastHash,
		Events:     len(l.events),
		Turns:      l.turnState.At(now),
		TurnPolicy: l.turnPolicy,
		Usage:      l.usage.At(now),
		Bands: Bands{
			Brain:  model.ClassifyFloor(l.state.Brain, l.env.BrainMin, m),
			Blood:  model.ClassifyFloor(l.state.Blood, l.env.BloodMin, m),
			Oxygen: model.ClassifyFloor(l.state.Oxygen, l.env.OxygenMin, m),
			Nano:   model.ClassifyLoad(l.state.Nano, l.env.NanoMaxFraction-m, l.env.NanoMaxFraction),
		},
	}
}
