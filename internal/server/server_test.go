package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
)

var hostClock = time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

type harness struct {
	srv  *Server
	node *node.Node
	conn *grpc.ClientConn
}

func testConfig(t *testing.T) *config.HostConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Envelope.HostID = "bostrom1host"
	cfg.Storage.DB = filepath.Join(dir, "hostguard.db")
	cfg.Storage.AuditLog = filepath.Join(dir, "audit.jsonl")
	cfg.Override.HostKeyPath = ""
	cfg.Ledger.MaxClockSkew = 2 * time.Hour
	cfg.Donation.Receivers = []donation.Receiver{
		{OrgID: "lab-a", DeviceID: "gpu-0", Plane: donation.PlaneHardware, MaxFractionPerDay: 0.5, Active: true},
	}
	return cfg
}

// testServer spins up an in-process gRPC server on a random port and returns a client connection.
func testServer(t *testing.T, cfg *config.HostConfig, configPath string) *harness {
	t.Helper()

	n, err := node.Open(cfg, "sha256:test")
	if err != nil {
		t.Fatalf("node.Open: %v", err)
	}
	n.SetClock(func() time.Time { return hostClock })
	srv := New(n, Config{ConfigPath: configPath})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		n.Close()
	})
	return &harness{srv: srv, node: n, conn: conn}
}

func (h *harness) call(t *testing.T, method string, req any) (*structpb.Struct, error) {
	t.Helper()
	in, err := EncodeStruct(req)
	if err != nil {
		t.Fatal(err)
	}
	out := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = h.conn.Invoke(ctx, FullMethod(method), in, out)
	return out, err
}

func operator() model.IdentityHeader {
	return model.IdentityHeader{
		IssuerID:        "bostrom1operator",
		Role:            model.RolePrimaryOperator,
		Tier:            model.TierInnerCore,
		KnowledgeFactor: 0.9,
	}
}

func TestApplyCommits(t *testing.T) {
	h := testServer(t, testConfig(t), "")

	out, err := h.call(t, MethodApply, node.ApplyRequest{
		Identity:   operator(),
		Adjustment: model.Adjustment{DeltaBlood: -0.1, Reason: "sample"},
		Timestamp:  "2026-03-14T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	var resp node.ApplyResponse
	if err := DecodeStruct(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Event.NewStateHash != h.node.Ledger().LastHash() {
		t.Errorf("event hash %s, ledger %s", resp.Event.NewStateHash, h.node.Ledger().LastHash())
	}
	if resp.Event.AttestedBy != "bostrom1operator" {
		t.Errorf("attested by %q", resp.Event.AttestedBy)
	}
}

func TestApplyErrorCodes(t *testing.T) {
	h := testServer(t, testConfig(t), "")

	sandbox := operator()
	sandbox.Tier = model.TierSandbox

	tests := []struct {
		name string
		req  node.ApplyRequest
		want codes.Code
	}{
		{"bad timestamp", node.ApplyRequest{Identity: operator(), Timestamp: "yesterday"}, codes.InvalidArgument},
		{"clock skew", node.ApplyRequest{Identity: operator(), Timestamp: "2025-03-14T10:00:00Z"}, codes.InvalidArgument},
		{"sandbox", node.ApplyRequest{Identity: sandbox, Timestamp: "2026-03-14T10:00:00Z"}, codes.PermissionDenied},
		{"guard", node.ApplyRequest{Identity: operator(), Adjustment: model.Adjustment{DeltaBlood: -0.7}, Timestamp: "2026-03-14T10:00:00Z"}, codes.FailedPrecondition},
		{"corridor", node.ApplyRequest{Identity: operator(), Corridor: &node.CorridorRequest{ProfileID: "none", RequestedPower: 1}, Timestamp: "2026-03-14T10:00:00Z"}, codes.FailedPrecondition},
		{"override unavailable", node.ApplyRequest{Identity: operator(), Override: &breakglass.Token{}, Timestamp: "2026-03-14T10:00:00Z"}, codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.call(t, MethodApply, tt.req)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestApplyTurnExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Turns.MaxTurnsPerDay = 1
	h := testServer(t, cfg, "")

	req := node.ApplyRequest{Identity: operator(), ConsumeTurn: true, Timestamp: "2026-03-14T10:00:00Z"}
	if _, err := h.call(t, MethodApply, req); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	req.Timestamp = "2026-03-14T12:00:00Z"
	_, err := h.call(t, MethodApply, req)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestClassifyDeniesNoFly(t *testing.T) {
	h := testServer(t, testConfig(t), "")

	out, err := h.call(t, MethodClassify, map[string]any{
		"observation": map[string]any{"region_id": "brainstem", "lifeforce_band": "safe", "eco_band": "safe", "radiology_band": "safe", "clarity": 0.9},
		"domain":      "repair_micro",
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got := out.Fields["decision"].GetStringValue(); got != "deny" {
		t.Errorf("decision = %q", got)
	}
	if got := out.Fields["reason_code"].GetStringValue(); got != "no_fly_zone" {
		t.Errorf("reason = %q", got)
	}
}

func TestStatusAndEvents(t *testing.T) {
	h := testServer(t, testConfig(t), "")
	for _, ts := range []string{"2026-03-14T10:00:00Z", "2026-03-14T10:05:00Z"} {
		if _, err := h.call(t, MethodApply, node.ApplyRequest{Identity: operator(), Timestamp: ts}); err != nil {
			t.Fatal(err)
		}
	}

	out, err := h.call(t, MethodStatus, map[string]any{})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := out.Fields["events"].GetNumberValue(); got != 2 {
		t.Errorf("status events = %v", got)
	}
	if got := out.Fields["host_id"].GetStringValue(); got != "bostrom1host" {
		t.Errorf("host = %q", got)
	}

	out, err = h.call(t, MethodEvents, EventsRequest{From: 1})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if got := len(out.Fields["events"].GetListValue().GetValues()); got != 1 {
		t.Errorf("events from 1 = %d", got)
	}
}

func TestSchedule(t *testing.T) {
	h := testServer(t, testConfig(t), "")

	out, err := h.call(t, MethodSchedule, node.ScheduleRequest{
		Admin:   operator(),
		Pool:    20000,
		Context: donation.Context{Now: "2026-03-14T10:00:00Z", SurplusFraction: 0.5, EcoAlignment: 0.8, OptIn: true},
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	var resp node.ScheduleResponse
	if err := DecodeStruct(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Audit.TotalSpent != 5000 || resp.PoolRemaining != 15000 {
		t.Errorf("spent %d remaining %f", resp.Audit.TotalSpent, resp.PoolRemaining)
	}

	low := operator()
	low.KnowledgeFactor = 0.1
	_, err = h.call(t, MethodSchedule, node.ScheduleRequest{Admin: low, Pool: 100})
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("expected PermissionDenied, got %v", err)
	}

	for _, now := range []string{"noon", "2026-03-20T10:00:00Z"} {
		_, err = h.call(t, MethodSchedule, node.ScheduleRequest{Admin: operator(), Context: donation.Context{Now: now}})
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("now %q: expected InvalidArgument, got %v", now, err)
		}
	}
}

func TestHealthServing(t *testing.T) {
	h := testServer(t, testConfig(t), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(h.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestReloadConfig(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "hostguard.yaml")
	if err := os.WriteFile(path, []byte("envelope:\n  host_id: bostrom1host\nrouter:\n  regions:\n    - region_id: forearm\n      no_fly: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	h := testServer(t, cfg, path)

	before := h.node.ConfigHash()
	if err := h.srv.ReloadConfig(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.node.ConfigHash() == before {
		t.Error("config hash unchanged after reload")
	}
	if _, ok := h.node.Router().Regions().Lookup("forearm"); !ok {
		t.Error("reloaded region missing")
	}
	if _, ok := h.node.Router().Regions().Lookup("brainstem"); ok {
		t.Error("old region still present")
	}
}

func TestReloadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostguard.yaml")
	if err := os.WriteFile(path, []byte("envelope: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	h := testServer(t, testConfig(t), path)
	before := h.node.ConfigHash()
	if err := h.srv.ReloadConfig(); err == nil {
		t.Fatal("expected reload error")
	}
	if h.node.ConfigHash() != before {
		t.Error("failed reload changed the node")
	}
}
