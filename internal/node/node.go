// Package node assembles one host's ledger, router and donation scheduler
// with their store, audit log and alert dispatcher. The gRPC server, the MCP
// server and the one-shot CLI commands all go through a Node.
package node

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/hostguard/internal/alert"
	"github.com/ppiankov/hostguard/internal/audit"
	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/identity"
	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/router"
	"github.com/ppiankov/hostguard/internal/store"
)

// ErrClockSkew is returned when a caller timestamp is further from the host
// clock than ledger.max_clock_skew.
var ErrClockSkew = errors.New("timestamp is outside the allowed clock skew")

// Node is a running host.
type Node struct {
	ledger    *ledger.Ledger
	scheduler *donation.Scheduler
	validator *identity.Validator
	profiles  *corridor.Registry
	store     *store.Store
	auditLog  *audit.Log

	mu         sync.RWMutex
	router     *router.Router
	dispatcher *alert.Dispatcher
	configHash string
	limits     config.LedgerConfig

	now func() time.Time
}

// Open builds a Node from cfg. When the store already holds a chain for the
// host, the ledger resumes from it and cfg.Initial is ignored.
func Open(cfg *config.HostConfig, configHash string) (*Node, error) {
	n := &Node{
		validator:  identity.NewValidator(cfg.Namespaces),
		profiles:   corridor.NewRegistry(cfg.Corridor.Profiles),
		router:     newRouter(cfg),
		dispatcher: alert.NewDispatcher(cfg.Alerts),
		configHash: configHash,
		limits:     cfg.Ledger,
		now:        time.Now,
	}

	if cfg.Storage.DB != "" {
		if err := ensureParent(cfg.Storage.DB); err != nil {
			return nil, err
		}
		st, err := store.Open(cfg.Storage.DB)
		if err != nil {
			return nil, err
		}
		n.store = st
	}
	if cfg.Storage.AuditLog != "" {
		if err := ensureParent(cfg.Storage.AuditLog); err != nil {
			n.Close()
			return nil, err
		}
		log, err := audit.Open(cfg.Storage.AuditLog)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("node: open audit log: %w", err)
		}
		log.SetConfigHash(configHash)
		n.auditLog = log
	}

	opts := ledger.Options{
		Validator:  n.validator,
		TurnPolicy: cfg.Turns,
	}
	if len(cfg.Corridor.ConsentKeys) > 0 {
		v, err := corridor.NewEd25519Verifier(cfg.Corridor.ConsentKeys)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("node: consent keys: %w", err)
		}
		opts.Verifier = v
	}
	auth, err := overrideAuthority(cfg.Override)
	if err != nil {
		n.Close()
		return nil, err
	}
	if auth != nil {
		opts.Overrides = auth
	}
	// The audit log is write-ahead; the store is the commit point.
	if n.auditLog != nil {
		opts.Journals = append(opts.Journals, n.auditLog)
	}
	if n.store != nil {
		opts.Store = n.store
	}

	l, err := n.openLedger(cfg, opts)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.ledger = l

	dopts := donation.Options{Validator: n.validator}
	if n.store != nil {
		dopts.Store = n.store
	}
	n.scheduler = donation.NewScheduler(cfg.Envelope, cfg.Donation.Policy, cfg.Donation.Receivers, cfg.Donation.Stakeholders, dopts)
	return n, nil
}

func (n *Node) openLedger(cfg *config.HostConfig, opts ledger.Options) (*ledger.Ledger, error) {
	if n.store == nil {
		return ledger.New(cfg.Envelope, cfg.Initial, opts)
	}
	state, _, ok, err := n.store.LoadState(cfg.Envelope.HostID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return ledger.New(cfg.Envelope, cfg.Initial, opts)
	}
	events, err := n.store.LoadEvents(cfg.Envelope.HostID)
	if err != nil {
		return nil, err
	}
	return ledger.Resume(cfg.Envelope, state, events, opts)
}

// overrideAuthority returns nil when no host key is configured or present.
func overrideAuthority(cfg config.OverrideConfig) (*breakglass.Authority, error) {
	var pub ed25519.PublicKey
	switch {
	case cfg.HostPublicKey != "":
		k, err := breakglass.ParsePublicKey(cfg.HostPublicKey)
		if err != nil {
			return nil, err
		}
		pub = k
	case cfg.HostKeyPath != "":
		if _, err := os.Stat(cfg.HostKeyPath); err != nil {
			return nil, nil
		}
		priv, err := breakglass.LoadPrivateKey(cfg.HostKeyPath)
		if err != nil {
			return nil, err
		}
		pub = priv.Public().(ed25519.PublicKey)
	default:
		return nil, nil
	}
	dir := cfg.Dir
	if dir == "" {
		dir = breakglass.DefaultDir()
	}
	st, err := breakglass.NewStore(dir)
	if err != nil {
		return nil, err
	}
	return breakglass.NewAuthority(pub, st, cfg.MaxPerDay), nil
}

func newRouter(cfg *config.HostConfig) *router.Router {
	return router.New(router.NewRegionMap(cfg.Router.Regions), cfg.Router.Policy)
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("node: create directory for %s: %w", path, err)
	}
	return nil
}

// Close releases the store and the audit log and waits for in-flight alerts.
func (n *Node) Close() error {
	n.mu.RLock()
	d := n.dispatcher
	n.mu.RUnlock()
	d.Wait()

	var firstErr error
	if n.auditLog != nil {
		if err := n.auditLog.Close(); err != nil {
			firstErr = err
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HostID returns the host id.
func (n *Node) HostID() string {
	return n.ledger.HostID()
}

// Ledger returns the host ledger.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Scheduler returns the donation scheduler.
func (n *Node) Scheduler() *donation.Scheduler {
	return n.scheduler
}

// Router returns the current router.
func (n *Node) Router() *router.Router {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.router
}

// Profile resolves a corridor profile by id. Unknown ids resolve to the
// zero profile, which admits no morph or power.
func (n *Node) Profile(id string) corridor.Profile {
	return n.profiles.Lookup(id)
}

// ConfigHash returns the hash of the loaded configuration.
func (n *Node) ConfigHash() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.configHash
}

// AuditPath returns the audit log path, or "" when there is none.
func (n *Node) AuditPath() string {
	if n.auditLog == nil {
		return ""
	}
	return n.auditLog.Path()
}

// SetClock replaces the host clock used to fill and bound timestamps.
func (n *Node) SetClock(now func() time.Time) {
	n.now = now
}

// Reload applies the hot-reloadable parts of cfg: the turn policy, the
// admission limits, the router, the alert webhooks and the config hash. The
// envelope and the storage paths only take effect on restart.
func (n *Node) Reload(cfg *config.HostConfig, configHash string) {
	n.ledger.SetTurnPolicy(cfg.Turns)

	n.mu.Lock()
	n.limits = cfg.Ledger
	n.router = newRouter(cfg)
	n.dispatcher = alert.NewDispatcher(cfg.Alerts)
	n.configHash = configHash
	n.mu.Unlock()

	if n.auditLog != nil {
		n.auditLog.SetConfigHash(configHash)
	}
}

// Submit runs req through the ledger. The required knowledge is never below
// ledger.min_knowledge. Aborts are recorded in the audit log; commits are
// journaled by the ledger itself.
func (n *Node) Submit(req ledger.Request) (model.LedgerEvent, error) {
	req.RequiredKnowledge = max(n.admission().MinKnowledge, req.RequiredKnowledge)
	ev, err := n.ledger.Submit(req)
	if err != nil {
		n.recordAbort(req.Identity.IssuerID, err)
		return ev, err
	}
	n.alertCommit(alert.EventCommit, ev)
	return ev, nil
}

// EmergencyOverride applies adj under tok.
func (n *Node) EmergencyOverride(tok breakglass.Token, id model.IdentityHeader, adj model.Adjustment, timestamp string) (model.LedgerEvent, error) {
	ev, err := n.ledger.EmergencyOverride(tok, id, adj, timestamp)
	if err != nil {
		n.recordAbort(id.IssuerID, err)
		return ev, err
	}
	n.alertCommit(alert.EventEmergencyOverride, ev)
	return ev, nil
}

func (n *Node) admission() config.LedgerConfig {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.limits
}

// stamp returns ts, or the host clock when ts is empty. A caller timestamp
// further than max_clock_skew from the host clock is refused.
func (n *Node) stamp(ts string) (string, error) {
	now := n.now().UTC()
	if ts == "" {
		return now.Format(time.RFC3339Nano), nil
	}
	skew := n.admission().MaxClockSkew
	if skew <= 0 {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		// Left to the ledger and the scheduler, which report their own format error.
		return ts, nil
	}
	if d := t.Sub(now); d > skew || d < -skew {
		return "", fmt.Errorf("%w: %s is %s from host clock %s", ErrClockSkew, ts, d.Round(time.Second), now.Format(time.RFC3339))
	}
	return ts, nil
}

// Status returns the ledger snapshot at the current time.
func (n *Node) Status() ledger.Status {
	return n.ledger.Status(n.now())
}

// Events returns the committed events starting at index from.
func (n *Node) Events(from int) []model.LedgerEvent {
	events := n.ledger.Events()
	if from < 0 {
		from = 0
	}
	if from >= len(events) {
		return nil
	}
	return events[from:]
}

// Classify runs the router for this host and records the decision.
// A missing host id or timestamp on obs is filled in.
func (n *Node) Classify(obs router.Observation, domain model.Domain, sig router.Signals) (router.DecisionLog, error) {
	if obs.HostID == "" {
		obs.HostID = n.HostID()
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = n.now()
	}
	d := n.Router().Classify(obs, domain, sig)
	if n.auditLog != nil {
		if err := n.auditLog.RecordRoute(d); err != nil {
			return d, fmt.Errorf("node: record route: %w", err)
		}
	}
	if d.Decision == model.Deny {
		n.dispatch(alert.AlertEvent{
			Timestamp: d.Timestamp,
			Type:      alert.EventRouteDeny,
			HostID:    d.HostID,
			Decision:  string(d.Decision),
			Reason:    string(d.Reason) + " in " + d.RegionID,
		})
	}
	return d, nil
}

// Schedule runs one donation window for admin. The vitals in ctx are always
// the ledger's current state; an empty ctx.Now is filled in and a set one
// must sit within max_clock_skew of the host clock.
func (n *Node) Schedule(admin model.IdentityHeader, pool *donation.Pool, ctx donation.Context) (donation.Audit, error) {
	if err := n.validator.Validate(admin, n.scheduler.Policy().MinAdminKnowledge); err != nil {
		n.recordAbort(admin.IssuerID, err)
		return donation.Audit{}, err
	}
	now := n.now()
	ts, err := n.stamp(ctx.Now)
	if err != nil {
		n.recordAbort(admin.IssuerID, err)
		return donation.Audit{}, err
	}
	ctx.Now = ts
	ctx.Vitals = n.ledger.State()

	a, err := n.scheduler.Schedule(pool, ctx)
	if err != nil {
		return a, err
	}
	if n.auditLog != nil {
		if err := n.auditLog.RecordDonation(now, a); err != nil {
			return a, fmt.Errorf("node: record donation: %w", err)
		}
	}
	if a.Applied() {
		n.dispatch(alert.AlertEvent{
			Timestamp: now.UTC().Format(audit.TimestampFormat),
			Type:      alert.EventDonation,
			HostID:    a.HostID,
			Actor:     admin.IssuerID,
			Decision:  "scheduled",
			Reason:    fmt.Sprintf("%d units to %d receivers", a.TotalSpent, len(a.AppliedJobs)),
			Stage:     string(a.FloorStatus),
		})
	}
	return a, nil
}

func (n *Node) recordAbort(actor string, cause error) {
	now := n.now()
	if n.auditLog != nil {
		if err := n.auditLog.RecordAbort(n.HostID(), actor, now, cause); err != nil {
			fmt.Fprintf(os.Stderr, "hostguard: audit: %v\n", err)
		}
	}
	n.dispatch(alert.AlertEvent{
		Timestamp:  now.UTC().Format(audit.TimestampFormat),
		Type:       alert.EventDeny,
		HostID:     n.HostID(),
		Actor:      actor,
		Decision:   "abort",
		Reason:     cause.Error(),
		Stage:      string(ledger.StageOf(cause)),
		ConfigHash: n.ConfigHash(),
	})
}

func (n *Node) alertCommit(typ string, ev model.LedgerEvent) {
	n.dispatch(alert.AlertEvent{
		Timestamp:  ev.TimestampUTC,
		Type:       typ,
		HostID:     ev.HostID,
		Actor:      ev.AttestedBy,
		Decision:   "commit",
		Reason:     ev.Adjustment.Reason,
		Stage:      string(ev.Kind),
		StateHash:  ev.NewStateHash,
		ConfigHash: n.ConfigHash(),
	})
}

func (n *Node) dispatch(ev alert.AlertEvent) {
	n.mu.RLock()
	d := n.dispatcher
	n.mu.RUnlock()
	d.Dispatch(ev)
}
