package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	guardmcp "github.com/ppiankov/hostguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs hostguard as an MCP (Model Context Protocol) server over stdio.\nExposes tools: hostguard_apply, hostguard_classify, hostguard_status.\nEmergency overrides are not available to agents.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	guardmcp.Version = version
	srv := guardmcp.New(n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "hostguard MCP server running on stdio (host %s)\n", n.HostID())
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
