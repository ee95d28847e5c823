package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/hostguard/internal/audit"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// localStorage routes the store and audit log into dir through the flags.
func localStorage(dir string) {
	dbPath = filepath.Join(dir, "hostguard.db")
	auditLogPath = filepath.Join(dir, "audit.jsonl")
}

func TestLoadConfigFlagsWinOverEnv(t *testing.T) {
	isolate(t)
	t.Setenv("HOSTGUARD_DB", "/env/hostguard.db")
	t.Setenv("HOSTGUARD_AUDIT_LOG", "/env/audit.jsonl")
	t.Setenv("HOSTGUARD_GRPC_PORT", "9001")
	dbPath = "/flag/hostguard.db"

	cfg, hash, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Storage.DB != "/flag/hostguard.db" {
		t.Errorf("db = %q, flag should win", cfg.Storage.DB)
	}
	if cfg.Storage.AuditLog != "/env/audit.jsonl" {
		t.Errorf("audit_log = %q, env should win over default", cfg.Storage.AuditLog)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if path != configPath {
		t.Errorf("path = %q", path)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("hash = %q", hash)
	}
}

func TestReadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "req.json", `{"identity":{"issuer_id":"bostrom1op"},"consume_turn":true}`)

	var req node.ApplyRequest
	if err := readJSON(path, &req); err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if req.Identity.IssuerID != "bostrom1op" || !req.ConsumeTurn {
		t.Errorf("decoded %+v", req)
	}

	bad := writeFile(t, dir, "bad.json", `{`)
	if err := readJSON(bad, &req); err == nil {
		t.Error("expected decode error")
	}
	if err := readJSON(filepath.Join(dir, "missing.json"), &req); err == nil {
		t.Error("expected open error")
	}
}

const applyJSON = `{
  "identity": {"issuer_id": "bostrom1operator", "role": "primary-operator", "tier": "inner-core", "knowledge_factor": 0.9},
  "adjustment": {"delta_blood": -0.05, "reason": "sample draw"}
}`

func TestRunApplyCommitsLocally(t *testing.T) {
	dir := isolate(t)
	localStorage(dir)
	applyAddr = ""
	applyFile = writeFile(t, dir, "apply.json", applyJSON)

	if err := runApply(nil, nil); err != nil {
		t.Fatalf("runApply: %v", err)
	}
	if err := runApply(nil, nil); err != nil {
		t.Fatalf("second runApply: %v", err)
	}

	st, err := loadStatus("")
	if err != nil {
		t.Fatalf("loadStatus: %v", err)
	}
	if st.Events != 2 {
		t.Errorf("events = %d, want 2", st.Events)
	}

	res, err := audit.Query(auditLogPath, audit.Filter{Type: audit.TypeLedgerCommit})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.CommitCount != 2 {
		t.Errorf("audit commits = %d, want 2", res.Summary.CommitCount)
	}
	if v := audit.Verify(auditLogPath); !v.Valid {
		t.Errorf("audit chain invalid: %s", v.Error)
	}
}

func TestRunApplyRejectionLeavesStateUnchanged(t *testing.T) {
	dir := isolate(t)
	localStorage(dir)
	applyAddr = ""
	applyFile = writeFile(t, dir, "apply.json", `{
  "identity": {"issuer_id": "bostrom1operator", "role": "primary-operator", "tier": "sandbox", "knowledge_factor": 0.9},
  "adjustment": {"delta_blood": -0.05}
}`)

	if err := runApply(nil, nil); err == nil {
		t.Fatal("expected sandbox rejection")
	}
	st, err := loadStatus("")
	if err != nil {
		t.Fatal(err)
	}
	if st.Events != 0 {
		t.Errorf("events = %d, want 0", st.Events)
	}
}

func TestRunDonateUsesLocalStore(t *testing.T) {
	dir := isolate(t)
	localStorage(dir)
	configPath = writeFile(t, dir, "hostguard.yaml", `
donation:
  receivers:
    - org_id: lab-a
      device_id: gpu-0
      did: did:aln:lab-a
      plane: hardware_device
      max_fraction_per_day: 0.5
      active: true
`)
	donateAddr = ""
	donateFile = writeFile(t, dir, "donate.json", `{
  "admin": {"issuer_id": "bostrom1operator", "role": "primary-operator", "tier": "inner-core", "knowledge_factor": 0.9},
  "pool": 4000,
  "context": {"surplus_fraction": 0.5, "eco_alignment": 0.9, "opt_in": true}
}`)

	if err := runDonate(nil, nil); err != nil {
		t.Fatalf("runDonate: %v", err)
	}

	res, err := audit.Query(auditLogPath, audit.Filter{Type: audit.TypeDonation})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.DonationCount != 1 || res.Summary.DonatedTotal != 1000 {
		t.Errorf("donation summary %+v", res.Summary)
	}
}

func TestOverrideKeygenIssueApply(t *testing.T) {
	dir := isolate(t)
	localStorage(dir)
	keygenForce = false
	overrideAddr = ""

	if err := runOverrideKeygen(nil, nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if err := runOverrideKeygen(nil, nil); err == nil {
		t.Error("second keygen should refuse to overwrite")
	}

	issueTranscript = "sha256:incident-transcript"
	issueExplanation = strings.Repeat("operator restores blood volume after a failed sample draw ", 4)
	issueDuration = 0
	issueOut = filepath.Join(dir, "token.json")
	t.Cleanup(func() { issueTranscript, issueExplanation, issueOut = "", "", "" })
	if err := runOverrideIssue(nil, nil); err != nil {
		t.Fatalf("issue: %v", err)
	}

	overrideTokenFile = issueOut
	overrideAdjFile = writeFile(t, dir, "adj.json", `{"delta_blood": 0.01, "reason": "emergency restore"}`)
	if err := runOverrideApply(nil, nil); err != nil {
		t.Fatalf("override apply: %v", err)
	}
	if err := runOverrideApply(nil, nil); err == nil {
		t.Fatal("token reuse should be rejected")
	}

	res, err := audit.Query(auditLogPath, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.OverrideCount != 1 {
		t.Errorf("overrides = %d, want 1", res.Summary.OverrideCount)
	}

	st, err := loadStatus("")
	if err != nil {
		t.Fatal(err)
	}
	if st.Events != 1 {
		t.Errorf("events = %d, want 1", st.Events)
	}
}

func TestHostDaemonIdentity(t *testing.T) {
	id := hostDaemon("bostrom1host")
	if id.IssuerID != "bostrom1host" || id.Role != model.RoleSystemDaemon || id.Tier != model.TierInnerCore {
		t.Errorf("hostDaemon = %+v", id)
	}
}
