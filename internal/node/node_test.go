package node

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/hostguard/internal/alert"
	"github.com/ppiankov/hostguard/internal/audit"
	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/guard"
	"github.com/ppiankov/hostguard/internal/identity"
	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/router"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func ts(d time.Duration) string {
	return t0.Add(d).Format(time.RFC3339)
}

func testConfig(t *testing.T) *config.HostConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Envelope.HostID = "bostrom1host"
	cfg.Storage.DB = filepath.Join(dir, "state", "hostguard.db")
	cfg.Storage.AuditLog = filepath.Join(dir, "audit.jsonl")
	cfg.Override.HostKeyPath = filepath.Join(dir, "missing.key")
	cfg.Override.Dir = filepath.Join(dir, "breakglass")
	cfg.Donation.Receivers = []donation.Receiver{
		{OrgID: "lab-a", DeviceID: "gpu-0", DID: "did:aln:lab-a", Plane: donation.PlaneHardware, MaxFractionPerDay: 0.5, Active: true},
	}
	return cfg
}

func openNode(t *testing.T, cfg *config.HostConfig) *Node {
	t.Helper()
	n, err := Open(cfg, "sha256:test")
	if err != nil {
		t.Fatalf("open node: %v", err)
	}
	n.now = func() time.Time { return t0.Add(time.Hour) }
	return n
}

func operator() model.IdentityHeader {
	return model.IdentityHeader{
		IssuerID:        "bostrom1operator",
		Role:            model.RolePrimaryOperator,
		Tier:            model.TierInnerCore,
		KnowledgeFactor: 0.9,
	}
}

func TestSubmitJournalsAndResumes(t *testing.T) {
	cfg := testConfig(t)
	n := openNode(t, cfg)

	ev, err := n.Submit(ledger.Request{
		Identity:   operator(),
		Adjustment: model.Adjustment{DeltaBlood: -0.1, Reason: "sample draw"},
		Timestamp:  ts(0),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = n.Submit(ledger.Request{
		Identity:   operator(),
		Adjustment: model.Adjustment{DeltaBlood: -0.65, Reason: "too much"},
		Timestamp:  ts(time.Minute),
	})
	if !errors.Is(err, guard.ErrBloodDepleted) {
		t.Fatalf("expected blood depleted, got %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	res := audit.Verify(cfg.Storage.AuditLog)
	if !res.Valid || res.Lines != 2 {
		t.Fatalf("audit verify = %+v", res)
	}
	q, err := audit.Query(cfg.Storage.AuditLog, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if q.Summary.CommitCount != 1 || q.Summary.AbortCount != 1 {
		t.Errorf("summary = %+v", q.Summary)
	}
	if q.Entries[1].Stage != string(ledger.StageGuard) {
		t.Errorf("abort stage = %q", q.Entries[1].Stage)
	}
	if q.Entries[0].ConfigHash != "sha256:test" {
		t.Errorf("config hash = %q", q.Entries[0].ConfigHash)
	}

	reopened := openNode(t, cfg)
	defer reopened.Close()
	if reopened.Ledger().LastHash() != ev.NewStateHash {
		t.Fatalf("resumed hash %s, want %s", reopened.Ledger().LastHash(), ev.NewStateHash)
	}
	if got := len(reopened.Events(0)); got != 1 {
		t.Fatalf("resumed events = %d", got)
	}
	if got := reopened.Status().State.Blood; math.Abs(got-0.7) > 1e-9 {
		t.Errorf("resumed blood = %f", got)
	}
}

func TestEventsFrom(t *testing.T) {
	n := openNode(t, testConfig(t))
	defer n.Close()
	for i := 0; i < 3; i++ {
		if _, err := n.Submit(ledger.Request{
			Identity:   operator(),
			Adjustment: model.Adjustment{DeltaWave: 0.01},
			Timestamp:  ts(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(n.Events(1)); got != 2 {
		t.Errorf("events from 1 = %d", got)
	}
	if n.Events(3) != nil || n.Events(10) != nil {
		t.Error("expected nil past the tail")
	}
	if got := len(n.Events(-1)); got != 3 {
		t.Errorf("events from -1 = %d", got)
	}
}

type captured struct {
	mu     sync.Mutex
	events []alert.AlertEvent
}

func (c *captured) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func alertServer(t *testing.T) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev alert.AlertEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestClassifyRecordsRouteAndAlerts(t *testing.T) {
	srv, got := alertServer(t)
	cfg := testConfig(t)
	cfg.Alerts = []alert.AlertConfig{{URL: srv.URL, Format: "generic", Events: []string{alert.EventRouteDeny}}}
	n := openNode(t, cfg)

	d, err := n.Classify(router.Observation{
		RegionID:  "brainstem",
		Lifeforce: model.BandSafe,
		Eco:       model.BandSafe,
		Radiology: model.BandSafe,
		Clarity:   0.9,
	}, model.DomainRepairMicro, router.Signals{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Decision != model.Deny || d.Reason != model.ReasonNoFlyZone {
		t.Fatalf("decision = %s/%s", d.Decision, d.Reason)
	}
	if d.HostID != "bostrom1host" || d.DecisionID == "" {
		t.Errorf("decision log not filled: %+v", d)
	}
	n.Close()

	types := got.types()
	if len(types) != 1 || types[0] != alert.EventRouteDeny {
		t.Errorf("alerts = %v", types)
	}
	q, err := audit.Query(cfg.Storage.AuditLog, audit.Filter{Type: audit.TypeRoute})
	if err != nil {
		t.Fatal(err)
	}
	if q.Summary.RouteDeny != 1 || q.Entries[0].RefID != d.DecisionID {
		t.Errorf("route audit = %+v", q.Entries)
	}
}

func TestAbortAlertsDeny(t *testing.T) {
	srv, got := alertServer(t)
	cfg := testConfig(t)
	cfg.Alerts = []alert.AlertConfig{{URL: srv.URL, Events: []string{alert.EventDeny, alert.EventCommit}}}
	n := openNode(t, cfg)

	sandbox := operator()
	sandbox.Tier = model.TierSandbox
	if _, err := n.Submit(ledger.Request{Identity: sandbox, Timestamp: ts(0)}); !errors.Is(err, identity.ErrSandboxTier) {
		t.Fatalf("expected sandbox error, got %v", err)
	}
	if _, err := n.Submit(ledger.Request{Identity: operator(), Timestamp: ts(0)}); err != nil {
		t.Fatal(err)
	}
	n.Close()

	types := got.types()
	if len(types) != 2 {
		t.Fatalf("alerts = %v", types)
	}
	seen := map[string]bool{}
	for _, typ := range types {
		seen[typ] = true
	}
	if !seen[alert.EventDeny] || !seen[alert.EventCommit] {
		t.Errorf("alerts = %v", types)
	}
}

func TestScheduleDebitsPoolAndPersistsDay(t *testing.T) {
	cfg := testConfig(t)
	n := openNode(t, cfg)

	pool := &donation.Pool{Resource: 20000}
	ctx := donation.Context{Now: ts(time.Hour), SurplusFraction: 0.5, EcoAlignment: 0.8, OptIn: true}
	a, err := n.Schedule(operator(), pool, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a.TotalSpent != 5000 || pool.Resource != 15000 {
		t.Fatalf("spent %d, pool %f", a.TotalSpent, pool.Resource)
	}
	if len(a.AppliedJobs) != 1 || a.AppliedJobs[0].OrgID != "lab-a" {
		t.Errorf("jobs = %+v", a.AppliedJobs)
	}
	n.Close()

	reopened := openNode(t, cfg)
	defer reopened.Close()
	donated, err := reopened.Scheduler().DonatedToday(t0)
	if err != nil {
		t.Fatal(err)
	}
	if donated != 5000 {
		t.Errorf("donated after reopen = %d", donated)
	}

	q, err := audit.Query(cfg.Storage.AuditLog, audit.Filter{Type: audit.TypeDonation})
	if err != nil {
		t.Fatal(err)
	}
	if q.Summary.DonatedTotal != 5000 {
		t.Errorf("donated total = %d", q.Summary.DonatedTotal)
	}
}

func TestScheduleRequiresAdminKnowledge(t *testing.T) {
	n := openNode(t, testConfig(t))
	defer n.Close()

	low := operator()
	low.KnowledgeFactor = 0.5
	pool := &donation.Pool{Resource: 20000}
	_, err := n.Schedule(low, pool, donation.Context{SurplusFraction: 0.5, EcoAlignment: 0.8, OptIn: true})
	if !errors.Is(err, identity.ErrKnowledgeTooLow) {
		t.Fatalf("expected knowledge error, got %v", err)
	}
	if pool.Resource != 20000 {
		t.Error("pool debited on rejected call")
	}
}

func TestScheduleUsesLedgerVitals(t *testing.T) {
	cfg := testConfig(t)
	n := openNode(t, cfg)
	defer n.Close()

	// Push blood into the soft band: floor 0.2 + margin 0.05.
	if _, err := n.Submit(ledger.Request{
		Identity:   operator(),
		Adjustment: model.Adjustment{DeltaBlood: -0.58},
		Timestamp:  ts(0),
	}); err != nil {
		t.Fatal(err)
	}

	// Caller-supplied vitals are ignored.
	ctx := donation.Context{SurplusFraction: 0.5, EcoAlignment: 0.8, OptIn: true, Vitals: cfg.Initial}
	a, err := n.Schedule(operator(), &donation.Pool{Resource: 20000}, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a.Reason != donation.ReasonUnsafeVitals {
		t.Errorf("reason = %q", a.Reason)
	}
}

func TestReloadSwapsRouterAndTurns(t *testing.T) {
	cfg := testConfig(t)
	n := openNode(t, cfg)
	defer n.Close()

	next := *cfg
	next.Router.Regions = []router.Region{{RegionID: "forearm", NoFly: true}}
	next.Turns.MaxTurnsPerDay = 2
	n.Reload(&next, "sha256:next")

	if n.Router().Regions().Len() != 1 {
		t.Errorf("regions = %d", n.Router().Regions().Len())
	}
	if n.Status().TurnPolicy.MaxTurnsPerDay != 2 {
		t.Errorf("turn policy = %+v", n.Status().TurnPolicy)
	}
	if n.ConfigHash() != "sha256:next" {
		t.Errorf("config hash = %s", n.ConfigHash())
	}
	d, err := n.Classify(router.Observation{RegionID: "forearm"}, model.DomainComputeAssist, router.Signals{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != model.ReasonNoFlyZone {
		t.Errorf("reason = %s", d.Reason)
	}
}

func TestEmergencyOverrideThroughNode(t *testing.T) {
	pubB64, privB64, err := breakglass.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	priv, err := breakglass.ParsePrivateKey(privB64)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	cfg.Override.HostPublicKey = pubB64
	n := openNode(t, cfg)

	explanation := strings.Repeat("operator observed sustained discomfort and requests reversal ", 4)
	tok, err := breakglass.Issue(priv, "bostrom1host", "sha256:transcript", explanation, 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	daemon := model.IdentityHeader{IssuerID: "bostrom1host", Role: model.RoleSystemDaemon, Tier: model.TierInnerCore, KnowledgeFactor: 1}
	ev, err := n.EmergencyOverride(*tok, daemon, model.Adjustment{DeltaNano: -0.05, Reason: "rollback"}, ts(time.Minute))
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if ev.Kind != model.EventEmergency {
		t.Errorf("kind = %s", ev.Kind)
	}
	if _, err := n.EmergencyOverride(*tok, daemon, model.Adjustment{}, ts(2*time.Minute)); ledger.StageOf(err) != ledger.StageOverride {
		t.Errorf("reuse: expected override stage, got %v", err)
	}
	n.Close()

	q, err := audit.Query(cfg.Storage.AuditLog, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if q.Summary.OverrideCount != 1 || q.Summary.AbortCount != 1 {
		t.Errorf("summary = %+v", q.Summary)
	}
}

func TestOverrideUnavailableWithoutKey(t *testing.T) {
	n := openNode(t, testConfig(t))
	defer n.Close()
	daemon := model.IdentityHeader{IssuerID: "bostrom1host", Role: model.RoleSystemDaemon, Tier: model.TierInnerCore, KnowledgeFactor: 1}
	_, err := n.EmergencyOverride(breakglass.Token{}, daemon, model.Adjustment{}, ts(0))
	if !errors.Is(err, ledger.ErrOverrideUnavailable) {
		t.Fatalf("expected override unavailable, got %v", err)
	}
}

func TestApplyResolvesCorridorProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Corridor.Profiles = []corridor.Profile{{ProfileID: "power-only", PowerLimit: 0.5, RequiredKnowledge: 0.8}}
	n := openNode(t, cfg)
	defer n.Close()

	id := operator()
	id.ProfileID = "power-only"
	resp, err := n.Apply(ApplyRequest{
		Identity:   id,
		Adjustment: model.Adjustment{DeltaWave: 0.05, Reason: "tune"},
		Corridor:   &CorridorRequest{ProfileID: "power-only", RequestedPower: 0.4},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if resp.Event.TimestampUTC != t0.Add(time.Hour).Format(time.RFC3339Nano) {
		t.Errorf("timestamp = %s", resp.Event.TimestampUTC)
	}
	if math.Abs(resp.State.Wave-0.55) > 1e-9 {
		t.Errorf("wave = %f", resp.State.Wave)
	}

	_, err = n.Apply(ApplyRequest{
		Identity: id,
		Corridor: &CorridorRequest{ProfileID: "power-only", RequestedPower: 0.9},
	})
	if ledger.StageOf(err) != ledger.StageCorridor {
		t.Fatalf("expected corridor abort, got %v", err)
	}
}

func TestScheduleReqReportsRemainingPool(t *testing.T) {
	n := openNode(t, testConfig(t))
	defer n.Close()

	resp, err := n.ScheduleReq(ScheduleRequest{
		Admin:   operator(),
		Pool:    8000,
		Context: donation.Context{SurplusFraction: 0.5, EcoAlignment: 0.9, OptIn: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Audit.TotalSpent != 2000 || resp.PoolRemaining != 6000 {
		t.Errorf("spent %d remaining %f", resp.Audit.TotalSpent, resp.PoolRemaining)
	}
}

func TestCallerTimestampBoundedByHostClock(t *testing.T) {
	cfg := testConfig(t)
	n := openNode(t, cfg)
	defer n.Close()

	for _, at := range []string{ts(-24 * time.Hour), ts(48 * time.Hour)} {
		_, err := n.Apply(ApplyRequest{
			Identity:   operator(),
			Adjustment: model.Adjustment{DeltaWave: 0.01},
			Timestamp:  at,
		})
		if !errors.Is(err, ErrClockSkew) || ledger.StageOf(err) != ledger.StageInput {
			t.Fatalf("apply at %s: err = %v", at, err)
		}
		pool := &donation.Pool{Resource: 20000}
		ctx := donation.Context{Now: at, SurplusFraction: 0.5, EcoAlignment: 0.8, OptIn: true}
		if _, err := n.Schedule(operator(), pool, ctx); !errors.Is(err, ErrClockSkew) {
			t.Fatalf("schedule at %s: err = %v", at, err)
		}
		if pool.Resource != 20000 {
			t.Error("pool debited on rejected window")
		}
	}
	if got := len(n.Events(0)); got != 0 {
		t.Fatalf("events = %d after rejected calls", got)
	}

	// Inside the window the caller timestamp is kept.
	at := ts(time.Hour - 2*time.Minute)
	resp, err := n.Apply(ApplyRequest{
		Identity:   operator(),
		Adjustment: model.Adjustment{DeltaWave: 0.01},
		Timestamp:  at,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Event.TimestampUTC != t0.Add(time.Hour-2*time.Minute).Format(time.RFC3339Nano) {
		t.Errorf("timestamp = %s", resp.Event.TimestampUTC)
	}

	// Zero skew disables the bound.
	next := *cfg
	next.Ledger.MaxClockSkew = 0
	n.Reload(&next, "sha256:next")
	if _, err := n.Apply(ApplyRequest{Identity: operator(), Timestamp: ts(48 * time.Hour)}); err != nil {
		t.Fatalf("unbounded apply: %v", err)
	}
}

func TestSubmitEnforcesKnowledgeFloor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.MinKnowledge = 0.5
	n := openNode(t, cfg)
	defer n.Close()

	novice := operator()
	novice.KnowledgeFactor = 0.3
	_, err := n.Apply(ApplyRequest{
		Identity:          novice,
		RequiredKnowledge: 0,
		Adjustment:        model.Adjustment{DeltaWave: 0.01},
	})
	if !errors.Is(err, identity.ErrKnowledgeTooLow) {
		t.Fatalf("expected knowledge floor, got %v", err)
	}

	// A request may raise the floor but not lower it.
	_, err = n.Apply(ApplyRequest{
		Identity:          operator(),
		RequiredKnowledge: 0.95,
		Adjustment:        model.Adjustment{DeltaWave: 0.01},
	})
	if !errors.Is(err, identity.ErrKnowledgeTooLow) {
		t.Fatalf("expected raised requirement, got %v", err)
	}
	if _, err := n.Apply(ApplyRequest{Identity: operator(), Adjustment: model.Adjustment{DeltaWave: 0.01}}); err != nil {
		t.Fatalf("apply above floor: %v", err)
	}
}
