package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/audit"
)

var tailLines int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log that\nmirrors the operation log when audit_log is configured.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log checking that each record follows the one before\nit by sequence number and SHA-256 digest. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

// auditPath is the argument, or audit_log from the config.
func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.AuditLog == "" {
		return "", errors.New("no audit log path given and audit_log is not configured")
	}
	return cfg.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d records verified\n", result.Records)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.Line, result.Reason)
	return exitCode(1)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	recs, err := audit.Tail(path, tailLines)
	out := cmd.OutOrStdout()
	for _, r := range recs {
		fmt.Fprintf(out, "#%-5d %s  %-8s %-16s %s\n", r.Seq, r.Time, r.Outcome, r.Category, r.Detail)
	}
	if err != nil {
		return fmt.Errorf("audit log is broken after the records shown: %w", err)
	}
	return nil
}
