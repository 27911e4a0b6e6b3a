package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/autoaccept/internal/grouping"
	"github.com/ppiankov/autoaccept/internal/refresh"
)

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsPinCmd)
	groupsCmd.AddCommand(groupsUnpinCmd)
	groupsCmd.AddCommand(groupsRenameCmd)
	groupsCmd.AddCommand(groupsOrderCmd)
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List and arrange quota groups",
	Long:  "Lists the groups from the last stored quota result with their ids.\nSubcommands pin, rename and reorder groups; changes apply immediately.",
	RunE:  runGroupsList,
}

var groupsPinCmd = &cobra.Command{
	Use:   "pin <group-id>",
	Short: "Pin a group to the top",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGrouper(cmd, func(ctx context.Context, g *grouping.Grouper) error {
			return g.Pin(ctx, args[0])
		})
	},
}

var groupsUnpinCmd = &cobra.Command{
	Use:   "unpin <group-id>",
	Short: "Unpin a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGrouper(cmd, func(ctx context.Context, g *grouping.Grouper) error {
			return g.Unpin(ctx, args[0])
		})
	},
}

var groupsRenameCmd = &cobra.Command{
	Use:   "rename <group-id> [name...]",
	Short: "Rename a group; no name restores the default",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGrouper(cmd, func(ctx context.Context, g *grouping.Grouper) error {
			return g.Rename(ctx, args[0], strings.Join(args[1:], " "))
		})
	},
}

var groupsOrderCmd = &cobra.Command{
	Use:   "order <group-id>...",
	Short: "Set the display order of groups",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGrouper(cmd, func(ctx context.Context, g *grouping.Grouper) error {
			return g.SetOrder(ctx, args)
		})
	},
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	c, ok, err := refresh.Load(context.Background(), st)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok || len(c.Groups) == 0 {
		fmt.Fprintln(out, "No groups yet. Run `autoaccept quota` first.")
		return nil
	}
	fmt.Fprintf(out, "%-14s %-6s %-28s %s\n", "ID", "PINNED", "NAME", "MODELS")
	for _, g := range c.Groups {
		pinned := ""
		if g.Pinned {
			pinned = "yes"
		}
		ids := make([]string, len(g.Members))
		for i, m := range g.Members {
			ids[i] = m.ModelID
		}
		fmt.Fprintf(out, "%-14s %-6s %s %s\n", g.ID, pinned, pad(g.DisplayName, 28), strings.Join(ids, ", "))
	}
	return nil
}

// withGrouper applies one override change and regroups the stored result.
func withGrouper(cmd *cobra.Command, fn func(context.Context, *grouping.Grouper) error) error {
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
	g, err := grouping.NewGrouper(ctx, st)
	if err != nil {
		return err
	}
	if err := fn(ctx, g); err != nil {
		return err
	}
	_, err = refresh.Regroup(ctx, st, g)
	return err
}
