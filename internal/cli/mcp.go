package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/mcp"
	"github.com/ppiankov/autoaccept/internal/rules"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs an MCP (Model Context Protocol) server over stdio.\n" +
		"Tools: quota_status, operation_log, check_command. They read the state\n" +
		"database the daemon writes.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcp.New(mcp.Config{Version: version}, st, rules.New(cfg.Rules))
	return srv.Run(ctx)
}
