package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/node"
)

var (
	configPath   string
	dbPath       string
	auditLogPath string
)

var rootCmd = &cobra.Command{
	Use:   "hostguard",
	Short: "Per-host safety ledger for vitals adjustments",
	Long:  "Guards a single host's vitals behind identity, turn, corridor and invariant checks.\nEvery committed adjustment is hash-chained, journaled to sqlite and to an audit log.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to host config YAML (default ~/.hostguard/hostguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to sqlite store (overrides config)")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "", "Path to audit log JSONL file (overrides config)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: flag, then HOSTGUARD_CONFIG, then
// the default under ~/.hostguard.
func resolveConfigPath(e config.Env) string {
	if configPath != "" {
		return configPath
	}
	if e.ConfigPath != "" {
		return e.ConfigPath
	}
	return config.DefaultPath()
}

// loadConfig loads the host config and applies env then flag overrides.
// It returns the config, its hash and the path it was read from.
func loadConfig() (*config.HostConfig, string, string, error) {
	e, err := config.LoadEnv()
	if err != nil {
		return nil, "", "", err
	}
	path := resolveConfigPath(e)
	cfg, hash, err := config.LoadWithHash(path)
	if err != nil {
		return nil, "", "", err
	}
	cfg.ApplyEnv(e)
	if dbPath != "" {
		cfg.Storage.DB = dbPath
	}
	if auditLogPath != "" {
		cfg.Storage.AuditLog = auditLogPath
	}
	return cfg, hash, path, nil
}

// openNode loads the config and opens a local node against its store.
func openNode() (*node.Node, error) {
	cfg, hash, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	n, err := node.Open(cfg, hash)
	if err != nil {
		return nil, fmt.Errorf("open node: %w", err)
	}
	return n, nil
}

// readJSON decodes v from path, or from stdin when path is empty or "-".
func readJSON(path string, v any) error {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
