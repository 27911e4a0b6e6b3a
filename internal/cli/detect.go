package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/locator"
	"github.com/ppiankov/autoaccept/internal/statusapi"
)

var detectJSON bool

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print the endpoint as JSON")
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Locate the IDE language server",
	Long: "Scans running processes for the language server, reads its port and CSRF\n" +
		"token from the launch arguments and verifies the endpoint with a probe.\n" +
		"Exits 1 when nothing is found.",
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, err := locator.CurrentStrategy()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr)
	loc := locator.New(cfg.Locator, strategy, locator.ExecRunner{}, statusapi.NewProber(cfg.Locator.ProbeTimeout), log)

	ep, err := loc.Detect(context.Background())
	out := cmd.OutOrStdout()
	if errors.Is(err, locator.ErrNotFound) {
		fmt.Fprintln(out, "Language server not found. Is the IDE running?")
		return exitCode(1)
	}
	if err != nil {
		return err
	}
	return printEndpoint(out, strategy.Name(), ep, detectJSON)
}

func printEndpoint(w io.Writer, strategy string, ep locator.Endpoint, asJSON bool) error {
	if asJSON {
		out, err := json.MarshalIndent(map[string]any{
			"strategy": strategy,
			"pid":      ep.PID,
			"port":     ep.Port,
			"token":    maskToken(ep.CSRFToken),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}
	fmt.Fprintf(w, "Language server: pid %d, port %d (via %s)\n", ep.PID, ep.Port, strategy)
	fmt.Fprintf(w, "CSRF token:      %s\n", maskToken(ep.CSRFToken))
	return nil
}

// maskToken keeps the last four characters.
func maskToken(tok string) string {
	if len(tok) <= 4 {
		return "****"
	}
	return "****" + tok[len(tok)-4:]
}
