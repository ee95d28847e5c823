package mcp

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Envelope.HostID = "bostrom1host"
	cfg.Storage.DB = filepath.Join(dir, "hostguard.db")
	cfg.Storage.AuditLog = filepath.Join(dir, "audit.jsonl")
	cfg.Override.HostKeyPath = ""
	cfg.Corridor.Profiles = []corridor.Profile{{ProfileID: "evolve", PowerLimit: 1}}

	n, err := node.Open(cfg, "sha256:test")
	if err != nil {
		t.Fatalf("node.Open: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return New(n)
}

func operatorInput() ApplyInput {
	return ApplyInput{
		IssuerID:        "bostrom1operator",
		Role:            "primary-operator",
		Tier:            "inner-core",
		KnowledgeFactor: 0.9,
	}
}

func TestApplyCommits(t *testing.T) {
	s := newTestServer(t)

	in := operatorInput()
	in.DeltaNano = 0.02
	in.Reason = "calibration"
	result, out, err := s.handleApply(context.Background(), &mcpsdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatalf("expected success, got error result: %+v", out)
	}
	if !out.Committed || out.StateHash == "" {
		t.Fatalf("expected committed event, got %+v", out)
	}
	if out.StateHash != s.node.Ledger().LastHash() {
		t.Errorf("state hash %s, ledger %s", out.StateHash, s.node.Ledger().LastHash())
	}
	if math.Abs(out.Nano-0.07) > 1e-9 {
		t.Errorf("nano = %f", out.Nano)
	}
}

func TestApplyEvolutionGated(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	morph := operatorInput()
	morph.DeltaMorph = []float64{0.01, 0, 0, 0}
	result, out, err := s.handleApply(ctx, &mcpsdk.CallToolRequest{}, morph)
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError || out.Stage != "corridor" {
		t.Fatalf("morph without corridor: %+v", out)
	}

	evolve := operatorInput()
	evolve.ProfileID = "evolve"
	evolve.CorridorProfile = "evolve"
	evolve.DeltaEvolveUsed = 0.1
	result, out, err = s.handleApply(ctx, &mcpsdk.CallToolRequest{}, evolve)
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError || out.Stage != "turn" {
		t.Fatalf("evolve without turn: %+v", out)
	}

	evolve.ConsumeTurn = true
	result, out, err = s.handleApply(ctx, &mcpsdk.CallToolRequest{}, evolve)
	if err != nil {
		t.Fatal(err)
	}
	if result != nil && result.IsError {
		t.Fatalf("evolve with corridor and turn: %+v", out)
	}
	if s.node.Ledger().State().Budget.Morph != (model.MorphVector{}) {
		t.Error("morph budget moved")
	}
	if got := len(s.node.Events(0)); got != 1 {
		t.Errorf("events = %d", got)
	}
}

func TestApplyBlockedByGuard(t *testing.T) {
	s := newTestServer(t)
	before := s.node.Ledger().LastHash()

	in := operatorInput()
	in.DeltaOxygen = -0.5
	result, out, err := s.handleApply(context.Background(), &mcpsdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for guarded adjustment")
	}
	if out.Committed || out.Stage != "guard" {
		t.Fatalf("expected guard abort, got %+v", out)
	}
	if out.Oxygen != 0.97 {
		t.Errorf("reported oxygen %f, want unchanged 0.97", out.Oxygen)
	}
	if s.node.Ledger().LastHash() != before {
		t.Error("state changed on abort")
	}
}

func TestApplySandboxDenied(t *testing.T) {
	s := newTestServer(t)

	in := operatorInput()
	in.Tier = "sandbox"
	result, out, err := s.handleApply(context.Background(), &mcpsdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError || out.Stage != "identity" {
		t.Fatalf("expected identity abort, got %+v", out)
	}
}

func TestClassify(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		input  ClassifyInput
		want   string
		reason string
	}{
		{
			name:   "no fly",
			input:  ClassifyInput{RegionID: "brainstem", Domain: "compute_assist", LifeforceBand: "safe", EcoBand: "safe", RadiologyBand: "safe", Clarity: 0.9},
			want:   "deny",
			reason: "no_fly_zone",
		},
		{
			name:   "low clarity",
			input:  ClassifyInput{RegionID: "hepatic_lobe", Domain: "compute_assist", LifeforceBand: "safe", EcoBand: "safe", RadiologyBand: "safe", Clarity: 0.1},
			want:   "defer",
			reason: "low_clarity",
		},
		{
			name:   "clear",
			input:  ClassifyInput{RegionID: "hepatic_lobe", Domain: "compute_assist", LifeforceBand: "safe", EcoBand: "safe", RadiologyBand: "safe", Clarity: 0.9},
			want:   "safe",
			reason: "clear",
		},
		{
			name: "sustained pain",
			input: ClassifyInput{RegionID: "hepatic_lobe", Domain: "repair_micro", LifeforceBand: "safe", EcoBand: "safe", RadiologyBand: "safe", Clarity: 0.9,
				PainLevel: 0.9, PainConfidence: 0.9, PainSustainedSeconds: 10},
			want:   "deny",
			reason: "pain_corridor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := s.handleClassify(ctx, &mcpsdk.CallToolRequest{}, tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if out.Decision != tt.want || out.Reason != tt.reason {
				t.Errorf("got %s/%s, want %s/%s", out.Decision, out.Reason, tt.want, tt.reason)
			}
			if out.DecisionID == "" {
				t.Error("missing decision id")
			}
		})
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.handleStatus(context.Background(), &mcpsdk.CallToolRequest{}, StatusInput{})
	if err != nil {
		t.Fatal(err)
	}
	if out.HostID != "bostrom1host" || out.Events != 0 {
		t.Errorf("status = %+v", out)
	}
	if out.BrainBand != "safe" || out.OxygenBand != "safe" {
		t.Errorf("bands = %s/%s", out.BrainBand, out.OxygenBand)
	}
	if out.MaxTurnsPerDay != 10 {
		t.Errorf("max turns = %d", out.MaxTurnsPerDay)
	}
}
