package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/rules"
)

var (
	checkFileEdit bool
	checkJSON     bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkFileEdit, "file-edit", false, "Evaluate as a file edit instead of a terminal command")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the decision as JSON")
}

var checkCmd = &cobra.Command{
	Use:   "check <command...>",
	Short: "Evaluate a command against the allow/deny rules",
	Long: "Runs the text through the built-in safety rules, the configured deny list\n" +
		"and the allow list, and prints the decision.\n\n" +
		"Exit code 0 if it would be auto-approved, 1 if blocked.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	text := strings.Join(args, " ")
	ctx := rules.Context{Type: rules.Terminal}
	if checkFileEdit {
		ctx.Type = rules.FileEdit
	}
	res := rules.New(cfg.Rules).Evaluate(text, ctx)

	out := cmd.OutOrStdout()
	if checkJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		color := colorEnabled(out)
		verdict := paint(color, ansiGreen, "ALLOW")
		if !res.Approved {
			verdict = paint(color, ansiRed, "BLOCK")
		}
		fmt.Fprintf(out, "%s  %s\n", verdict, text)
		fmt.Fprintf(out, "rule: %s\n", res.Rule)
		if res.Pattern != "" {
			fmt.Fprintf(out, "pattern: %s\n", res.Pattern)
		}
		if res.Reason != "" {
			fmt.Fprintf(out, "reason: %s\n", res.Reason)
		}
	}

	if !res.Approved {
		return exitCode(1)
	}
	return nil
}
