package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/node"
	"github.com/ppiankov/hostguard/internal/server"
	"github.com/ppiankov/hostguard/internal/systemd"
)

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (default from config, 7443)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC host ledger server",
	Long:  "Runs hostguard as the host's ledger service over gRPC.\nCallers submit adjustments, route classifications and donation windows remotely.\nTurn policy, regions and alert webhooks hot-reload when the config file changes.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, hash, path, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if msg := systemd.CheckUnitFile(systemd.UnitPath, unitHashPath()); msg != "" {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", msg)
	}

	n, err := node.Open(cfg, hash)
	if err != nil {
		return fmt.Errorf("failed to open node: %w", err)
	}
	defer n.Close()

	srv := server.New(n, server.Config{Port: cfg.Server.Port, ConfigPath: path})

	reloader, err := server.NewReloader(srv, []string{path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down hostguard server...")
		cancel()
		srv.GracefulStop()
	}()

	st := n.Status()
	fmt.Fprintf(os.Stderr, "hostguard server listening on :%d\n", cfg.Server.Port)
	fmt.Fprintf(os.Stderr, "Host: %s (%d events, tail %s)\n", st.HostID, st.Events, st.LastHash)
	if reloader != nil && len(reloader.Paths()) > 0 {
		fmt.Fprintf(os.Stderr, "Config: %s (hot-reload enabled)\n", path)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}
