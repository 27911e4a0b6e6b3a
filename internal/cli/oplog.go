package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/oplog"
)

var (
	oplogLimit   int
	oplogOutcome string
	oplogJSON    bool
)

func init() {
	rootCmd.AddCommand(oplogCmd)
	oplogCmd.AddCommand(oplogListCmd)
	oplogCmd.AddCommand(oplogStatsCmd)
	oplogCmd.AddCommand(oplogClearCmd)
	oplogListCmd.Flags().IntVarP(&oplogLimit, "limit", "n", 20, "Number of recent entries to show")
	oplogListCmd.Flags().StringVar(&oplogOutcome, "outcome", "", "Only show entries with this outcome (approved|blocked|manual)")
	oplogListCmd.Flags().BoolVar(&oplogJSON, "json", false, "Print entries as JSON")
}

var oplogCmd = &cobra.Command{
	Use:   "oplog",
	Short: "Inspect the operation log",
	Long:  "The operation log records every approval, block and manual action, newest last.",
}

var oplogListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent operations",
	RunE:  runOplogList,
}

var oplogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count operations by outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOplog(func(ctx context.Context, l *oplog.Log) error {
			s := l.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "total %d  approved %d  blocked %d  manual %d\n", s.Total, s.Approved, s.Blocked, s.Manual)
			return nil
		})
	},
}

var oplogClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded operations",
	Long:  "Clears the stored log. A running daemon keeps its own copy; use\nDELETE /api/operations on the dashboard API to clear that one.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOplog(func(ctx context.Context, l *oplog.Log) error {
			n := l.Len()
			if err := l.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries.\n", n)
			return nil
		})
	},
}

func runOplogList(cmd *cobra.Command, args []string) error {
	switch oplog.Outcome(oplogOutcome) {
	case "", oplog.Approved, oplog.OutcomeBlocked, oplog.Manual:
	default:
		return fmt.Errorf("unknown outcome %q", oplogOutcome)
	}

	return withOplog(func(ctx context.Context, l *oplog.Log) error {
		entries := filterEntries(l.Entries(), oplog.Outcome(oplogOutcome), oplogLimit)
		out := cmd.OutOrStdout()
		if oplogJSON {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No operations recorded.")
			return nil
		}
		color := colorEnabled(out)
		now := time.Now()
		fmt.Fprintf(out, "%-16s %-9s %-17s %s\n", "WHEN", "OUTCOME", "CATEGORY", "DETAIL")
		for _, e := range entries {
			fmt.Fprintf(out, "%-16s %-9s %-17s %s\n",
				humanize.RelTime(e.Timestamp, now, "ago", "from now"),
				paint(color, outcomeColor(e.Outcome), string(e.Outcome)),
				e.Category,
				truncate(e.Detail, 60),
			)
		}
		return nil
	})
}

// filterEntries keeps entries matching outcome (all when empty) and returns
// at most limit of the newest, oldest first.
func filterEntries(all []oplog.Entry, outcome oplog.Outcome, limit int) []oplog.Entry {
	var kept []oplog.Entry
	for _, e := range all {
		if outcome == "" || e.Outcome == outcome {
			kept = append(kept, e)
		}
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}

func outcomeColor(o oplog.Outcome) string {
	switch o {
	case oplog.Approved:
		return ansiGreen
	case oplog.OutcomeBlocked:
		return ansiRed
	default:
		return ansiYellow
	}
}

func withOplog(fn func(context.Context, *oplog.Log) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	l, err := oplog.Load(ctx, st, oplog.Options{Capacity: cfg.OplogCapacity})
	if err != nil {
		return err
	}
	return fn(ctx, l)
}
