// Package mcp exposes a Node to agents as MCP tools over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hostguard/internal/node"
)

// Version is reported in the MCP implementation info.
var Version = "dev"

// Server wraps the MCP SDK server around a Node.
type Server struct {
	mcpServer *mcpsdk.Server
	node      *node.Node
}

// New creates an MCP server for n with all hostguard tools registered.
func New(n *node.Node) *Server {
	s := &Server{node: n}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "hostguard",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all hostguard tools to the MCP server.
// Emergency overrides are deliberately not offered to agents.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostguard_apply",
		Description: "Submit a vitals adjustment to the host ledger. Rejected adjustments return an error with the failing stage; state is unchanged.",
	}, s.handleApply)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostguard_classify",
		Description: "Classify a proposed micro-action as safe, defer or deny without changing any state.",
	}, s.handleClassify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hostguard_status",
		Description: "Show the host's current vitals, lifeforce bands, turn usage and chain tail.",
	}, s.handleStatus)
}
