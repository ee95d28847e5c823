package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/systemd"
)

var (
	initForce          bool
	initInstallSystemd bool
)

func init() {
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initConfigCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install the hostguard.service unit (requires root)")
	rootCmd.AddCommand(initConfigCmd)
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a commented default host config",
	Long: `Writes the default host configuration to ~/.hostguard/hostguard.yaml,
or to the path given by --config.

The file holds the host envelope, initial vitals, turn policy, corridor
profiles, router regions, donation receivers and alert webhooks.

With --install-systemd: installs /etc/systemd/system/hostguard.service
running "hostguard serve" against the written config, and records the
unit's hash so serve can warn when the unit is edited.`,
	RunE: runInitConfig,
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	e, err := config.LoadEnv()
	if err != nil {
		return err
	}
	path := resolveConfigPath(e)

	wrote, err := writeIfMissing(path, config.DefaultYAML())
	if err != nil {
		return err
	}
	if !wrote {
		return fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
	}

	fmt.Printf("Config written to %s\n", path)

	if initInstallSystemd {
		if err := installSystemd(path); err != nil {
			return err
		}
		fmt.Printf("Unit written to %s\n", systemd.UnitPath)
	}

	fmt.Println()
	fmt.Println("Edit host_id and the envelope for this host, then start the ledger:")
	if initInstallSystemd {
		fmt.Println("  sudo systemctl enable --now hostguard")
	} else {
		fmt.Println("  hostguard serve")
	}
	return nil
}

// unitHashPath is where the install-time hash of the service unit is kept.
func unitHashPath() string {
	return filepath.Join(config.Dir(), "unit.sha256")
}

func installSystemd(configFile string) error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("--install-systemd is only supported on Linux")
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("--install-systemd requires root; run with sudo")
	}
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate hostguard binary: %w", err)
	}
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return err
	}

	unit := systemd.ServeUnit(binary, abs, config.Dir())
	if err := os.WriteFile(systemd.UnitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write systemd unit: %w", err)
	}
	if err := systemd.RecordUnitHash(systemd.UnitPath, unitHashPath()); err != nil {
		return err
	}
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
	}
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
