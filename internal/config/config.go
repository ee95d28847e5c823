// Package config loads the host configuration: the envelope, the initial
// vitals and every policy the ledger, router and donation scheduler read.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hostguard/internal/alert"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/identity"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/router"
	"github.com/ppiankov/hostguard/internal/turns"
)

// DefaultGRPCPort is the port `hostguard serve` listens on.
const DefaultGRPCPort = 7443

// LedgerConfig holds the node-level admission limits applied before the
// ledger pipeline runs.
type LedgerConfig struct {
	// MinKnowledge is the knowledge factor floor for every submission.
	// A request may only raise it.
	MinKnowledge float64 `yaml:"min_knowledge"`
	// MaxClockSkew bounds how far a caller timestamp may sit from the
	// host clock. Zero disables the check.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
}

// CorridorConfig holds the corridor profiles and consent keys.
type CorridorConfig struct {
	Profiles []corridor.Profile `yaml:"profiles"`
	// ConsentKeys maps a subject id to its base64 Ed25519 public key.
	ConsentKeys map[string]string `yaml:"consent_keys"`
}

// RouterConfig holds the router thresholds and the region map.
type RouterConfig struct {
	Policy  router.Policy   `yaml:"policy"`
	Regions []router.Region `yaml:"regions"`
}

// DonationConfig holds the donation scheduler setup.
type DonationConfig struct {
	Policy       donation.Policy        `yaml:"policy"`
	Receivers    []donation.Receiver    `yaml:"receivers"`
	Stakeholders []donation.Stakeholder `yaml:"stakeholders"`
}

// OverrideConfig configures emergency override tokens.
type OverrideConfig struct {
	// HostPublicKey is the base64 Ed25519 key tokens must be signed with.
	// When empty it is derived from HostKeyPath.
	HostPublicKey string `yaml:"host_public_key"`
	HostKeyPath   string `yaml:"host_key_path"`
	MaxPerDay     int    `yaml:"max_per_day"`
	Dir           string `yaml:"dir"`
}

// StorageConfig locates the sqlite store and the audit log.
type StorageConfig struct {
	DB       string `yaml:"db"`
	AuditLog string `yaml:"audit_log"`
}

// ServerConfig configures the gRPC boundary.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// HostConfig is the full host configuration.
type HostConfig struct {
	Envelope   model.HostEnvelope  `yaml:"envelope"`
	Initial    model.VitalsState   `yaml:"initial"`
	Namespaces []string            `yaml:"namespaces"`
	Ledger     LedgerConfig        `yaml:"ledger"`
	Turns      turns.Policy        `yaml:"turns"`
	Corridor   CorridorConfig      `yaml:"corridor"`
	Router     RouterConfig        `yaml:"router"`
	Donation   DonationConfig      `yaml:"donation"`
	Override   OverrideConfig      `yaml:"override"`
	Alerts     []alert.AlertConfig `yaml:"alerts"`
	Storage    StorageConfig       `yaml:"storage"`
	Server     ServerConfig        `yaml:"server"`
}

// Dir returns the hostguard state directory, ~/.hostguard.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hostguard")
	}
	return filepath.Join(home, ".hostguard")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "hostguard.yaml")
}

// DefaultConfig returns the built-in configuration for a single local host.
func DefaultConfig() *HostConfig {
	dir := Dir()
	return &HostConfig{
		Envelope: model.HostEnvelope{
			HostID:          "bostrom1localhost",
			BrainMin:        0.2,
			BloodMin:        0.2,
			OxygenMin:       0.9,
			NanoMaxFraction: 0.25,
			SmartMax:        0.8,
			EcoFlopsLimit:   1e9,
			SoftMargin:      0.05,
		},
		Initial: model.VitalsState{
			Brain:  0.8,
			Wave:   0.5,
			Blood:  0.8,
			Oxygen: 0.97,
			Nano:   0.05,
			Smart:  0.4,
			Budget: model.MutationBudget{Total: 1},
		},
		Namespaces: append([]string(nil), identity.DefaultNamespaces...),
		Ledger:     LedgerConfig{MinKnowledge: 0.5, MaxClockSkew: 5 * time.Minute},
		Turns:      turns.DefaultPolicy(),
		Router: RouterConfig{
			Policy: router.DefaultPolicy(),
			Regions: []router.Region{
				{RegionID: "brainstem", NoFly: true},
				{RegionID: "hepatic_lobe", DensityMax: 0.2, SessionDoseLimit: 10, DailyDoseLimit: 40},
			},
		},
		Donation: DonationConfig{Policy: donation.DefaultPolicy()},
		Override: OverrideConfig{
			HostKeyPath: filepath.Join(dir, "host.key"),
			MaxPerDay:   1,
			Dir:         filepath.Join(dir, "breakglass"),
		},
		Storage: StorageConfig{
			DB:       filepath.Join(dir, "hostguard.db"),
			AuditLog: filepath.Join(dir, "audit.jsonl"),
		},
		Server: ServerConfig{Port: DefaultGRPCPort},
	}
}

// Load loads the host configuration from a YAML file.
// Empty path falls back to ~/.hostguard/hostguard.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*HostConfig, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads the configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*HostConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Turns = turns.Normalize(cfg.Turns)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hashBytes(data), nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Validate checks the fields the ledger and boundaries cannot default.
func (c *HostConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Envelope.HostID) == "" {
		errs = append(errs, errors.New("envelope.host_id is required"))
	}
	if !(c.Ledger.MinKnowledge >= 0 && c.Ledger.MinKnowledge <= 1) {
		errs = append(errs, fmt.Errorf("ledger.min_knowledge %v outside [0, 1]", c.Ledger.MinKnowledge))
	}
	if c.Ledger.MaxClockSkew < 0 {
		errs = append(errs, fmt.Errorf("ledger.max_clock_skew %s is negative", c.Ledger.MaxClockSkew))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for i, r := range c.Router.Regions {
		if strings.TrimSpace(r.RegionID) == "" {
			errs = append(errs, fmt.Errorf("router.regions[%d]: region_id is required", i))
		}
	}
	for i, p := range c.Corridor.Profiles {
		if p.ProfileID == "" {
			errs = append(errs, fmt.Errorf("corridor.profiles[%d]: profile_id is required", i))
		}
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("alerts[%d]: url is required", i))
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			errs = append(errs, fmt.Errorf("alerts[%d]: unknown format %q", i, a.Format))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
