package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	Version string
}

// Server exposes quota, operation log and rule checks as MCP tools. It reads
// the state database the daemon writes, so it works whether or not this
// process holds the lease.
type Server struct {
	mcpServer *mcpsdk.Server
	kv        store.KV
	rules     *rules.Matcher
}

// New creates an MCP server with its tools registered.
func New(cfg Config, kv store.KV, matcher *rules.Matcher) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{kv: kv, rules: matcher}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "autoaccept",
			Version: cfg.Version,
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

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "quota_status",
		Description: "Current model quota grouped by shared pool, with reset countdowns and the connection state of the language server.",
	}, s.handleQuota)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "operation_log",
		Description: "Recent auto-approved, blocked and manual operations, newest first.",
	}, s.handleOperations)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "check_command",
		Description: "Dry-run a terminal command against the approval rules. Reports whether it would be auto-approved and which rule decided.",
	}, s.handleCheck)
}
