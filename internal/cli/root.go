package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/autoaccept/internal/config"
	"github.com/ppiankov/autoaccept/internal/store"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "autoaccept",
	Short: "Auto-approve safe agent actions and track model quota",
	Long: "Watches the IDE agent panel and clicks Accept/Run/Apply for actions that\n" +
		"pass the allow/deny rules, and reports per-model quota from the local\n" +
		"language server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.autoaccept/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

// exitCode ends the process with a status but no error message.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig returns the config and the path it was (or would be) read from.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger writes text logs to w. Info level unless --verbose.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return st, nil
}

// colorEnabled is true when w is a terminal and NO_COLOR is unset.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func paint(on bool, color, s string) string {
	if !on {
		return s
	}
	return color + s + ansiReset
}

// truncate shortens s to at most max display columns.
func truncate(s string, max int) string {
	return runewidth.Truncate(s, max, "...")
}

// pad fits s into exactly w display columns.
func pad(s string, w int) string {
	return runewidth.FillRight(truncate(s, w), w)
}
