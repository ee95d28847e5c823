// Package systemd renders the hostguard service unit and checks that the
// installed unit has not been edited since installation.
package systemd

import "fmt"

// UnitPath is where the hostguard service unit is installed.
const UnitPath = "/etc/systemd/system/hostguard.service"

// ServeUnit returns the systemd unit for `hostguard serve` running binary
// against configPath. stateDir holds the store, audit log and override
// tokens and is the only writable path.
func ServeUnit(binary, configPath, stateDir string) string {
	return fmt.Sprintf(`[Unit]
Description=hostguard host ledger
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
Environment=HOSTGUARD_CONFIG=%[2]s
ExecStart=%[1]s serve --config %[2]s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ReadWritePaths=%[3]s

[Install]
WantedBy=multi-user.target
`, binary, configPath, stateDir)
}
