package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/daemon"
)

var (
	runProvider string
	runHTTP     string
	runGRPC     string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runProvider, "provider", "", "UI provider: bridge (stdin/stdout) or cdp")
	runCmd.Flags().StringVar(&runHTTP, "http", "", "Dashboard API listen address (empty string disables)")
	runCmd.Flags().StringVar(&runGRPC, "grpc", "", "gRPC health listen address (empty string disables)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auto-accept daemon",
	Long: "Starts the polling engine, the quota refresher and the local dashboard API.\n" +
		"With the bridge provider the host extension talks to this process over\n" +
		"stdin/stdout and the daemon exits when the host closes the stream.\n" +
		"Config edits are picked up without restart.",
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("provider") {
		cfg.UI.Provider = runProvider
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTPAddr = runHTTP
	}
	if cmd.Flags().Changed("grpc") {
		cfg.GRPCAddr = runGRPC
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries the bridge protocol; logs go to stderr.
	log := newLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, daemon.Options{
		Config:     cfg,
		ConfigPath: path,
		HostIn:     os.Stdin,
		HostOut:    os.Stdout,
		Log:        log,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	log.Info("autoaccept started", "provider", cfg.UI.Provider, "enabled", cfg.Enabled, "version", version)
	return d.Run(ctx)
}
