package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/daemon"
	"github.com/ppiankov/autoaccept/internal/grouping"
	"github.com/ppiankov/autoaccept/internal/quota"
	"github.com/ppiankov/autoaccept/internal/refresh"
)

var (
	quotaCached bool
	quotaJSON   bool
	quotaModels bool
)

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.Flags().BoolVar(&quotaCached, "cached", false, "Show the last stored result without contacting the language server")
	quotaCmd.Flags().BoolVar(&quotaJSON, "json", false, "Print the cached display state as JSON")
	quotaCmd.Flags().BoolVar(&quotaModels, "models", false, "List every model under its group")
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show model quota grouped by shared pool",
	Long: "Fetches the current quota from the local language server, groups models\n" +
		"that share a quota pool and stores the result. With --cached only the\n" +
		"stored result is shown.",
	RunE: runQuota,
}

func runQuota(cmd *cobra.Command, args []string) error {
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
	var c refresh.Cache
	if quotaCached {
		var ok bool
		c, ok, err = refresh.Load(ctx, st)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No quota data stored yet. Run `autoaccept quota` while the IDE is open.")
			return nil
		}
	} else {
		log := newLogger(os.Stderr)
		client, err := daemon.NewStatusClient(cfg, log)
		if err != nil {
			return err
		}
		grouper, err := grouping.NewGrouper(ctx, st)
		if err != nil {
			return err
		}
		// The error is already reflected in c.State.
		c, _ = refresh.New(client, grouper, st, nil, cfg.QuotaRefreshInterval, log).Refresh(ctx)
	}

	out := cmd.OutOrStdout()
	if quotaJSON {
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	printQuota(out, c, time.Now(), quotaModels, colorEnabled(out))
	return nil
}

func printQuota(w io.Writer, c refresh.Cache, now time.Time, models, color bool) {
	switch c.State {
	case refresh.StateOffline:
		fmt.Fprintln(w, paint(color, ansiYellow, "Offline: language server not reachable."))
	case refresh.StateError:
		fmt.Fprintln(w, paint(color, ansiRed, "Error: "+c.Error))
	}
	if c.Snapshot == nil {
		return
	}
	snap := c.Snapshot

	account := snap.AccountLevel
	if snap.PlanName != "" && snap.PlanName != account {
		account += " (" + snap.PlanName + ")"
	}
	if snap.Email != "" {
		account += "  " + snap.Email
	}
	fmt.Fprintf(w, "Account: %s\n", account)
	if pc := snap.PromptCredits; pc != nil {
		fmt.Fprintf(w, "Prompt credits: %s / %s (%d%% left)\n",
			humanize.Comma(int64(pc.Available)), humanize.Comma(int64(pc.Monthly)), pc.RemainingPercentage)
	}
	if snap.IsDefault {
		fmt.Fprintln(w, paint(color, ansiDim, "Showing placeholder models; no quota data reported."))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-12s %-28s %6s  %s\n", "GROUP", "NAME", "USED", "RESET")
	for _, g := range c.Groups {
		name := g.DisplayName
		if g.Pinned {
			name = "* " + name
		}
		used := fmt.Sprintf("%6s", fmt.Sprintf("%d%%", g.Percentage))
		fmt.Fprintf(w, "%-12s %s %s  %s\n",
			g.ID, pad(name, 28), paint(color, usageColor(g.Percentage), used), resetText(g.EarliestReset, now))
		if models {
			for _, m := range g.Members {
				fmt.Fprintf(w, "%-12s   %s %5d%%  %s\n", "", pad(m.DisplayName, 26), m.PercentUsed, modelReset(m, now))
			}
		}
	}

	if !c.FetchedAt.IsZero() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, paint(color, ansiDim, "Last refreshed "+humanize.RelTime(c.FetchedAt, now, "ago", "from now")))
	}
}

func usageColor(used int) string {
	switch {
	case used >= 90:
		return ansiRed
	case used >= 60:
		return ansiYellow
	default:
		return ansiGreen
	}
}

func resetText(at *time.Time, now time.Time) string {
	if at == nil {
		return "-"
	}
	return quota.FormatTimeUntil(at.Sub(now))
}

func modelReset(m quota.ModelQuota, now time.Time) string {
	if m.ResetTime.IsZero() {
		return "-"
	}
	text := quota.FormatTimeUntil(m.ResetTime.Sub(now))
	if m.ResetTimeUnreliable {
		text += "?"
	}
	return text
}
