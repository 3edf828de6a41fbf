package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"meetcal/internal/model"
)

var (
	sourceName  string
	sourceColor string
	sourceOrder int

	blockDays   int
	blockReason string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage calendar feeds",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <user-id> <ics-url>",
	Short: "Register an iCal feed for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		src, err := a.store.AddSource(cmd.Context(), model.CalendarSource{
			UserID:    args[0],
			URL:       args[1],
			Name:      sourceName,
			Color:     sourceColor,
			SortOrder: sourceOrder,
			IsActive:  true,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added source %s\n", src.ID)
		return nil
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's calendar feeds and their sync status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		sources, err := a.store.ListSources(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tSTATUS\tLAST SYNC\tERROR")
		for _, s := range sources {
			synced := "-"
			if s.LastSyncedAt != nil {
				synced = s.LastSyncedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n", s.ID, s.Name, s.IsActive, s.SyncStatus, synced, s.LastError)
		}
		return tw.Flush()
	},
}

func sourceToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id> <source-id>",
		Short: use + " a calendar feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.store.SetSourceActive(cmd.Context(), args[0], args[1], active)
		},
	}
}

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Manage manual blocked periods",
}

var blockAddCmd = &cobra.Command{
	Use:   "add <user-id> <YYYY-MM-DD>",
	Short: "Block one or more days regardless of calendar state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := model.ParseISODate(args[1])
		if err != nil {
			return fmt.Errorf("invalid start date %q: %w", args[1], err)
		}

		a, err := newApp(appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.store.AddBlockedPeriod(cmd.Context(), model.BlockedPeriod{
			UserID: args[0],
			Start:  start,
			Days:   blockDays,
			Reason: blockReason,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Blocked %s (%s)\n", p.Range(), p.ID)
		return nil
	},
}

var blockListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's blocked periods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		periods, err := a.store.ListBlockedPeriods(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTART\tDAYS\tREASON")
		for _, p := range periods {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, p.Start, p.Days, p.Reason)
		}
		return tw.Flush()
	},
}

var blockDeleteCmd = &cobra.Command{
	Use:   "delete <user-id> <period-id>",
	Short: "Remove a blocked period",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appConfig)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.store.DeleteBlockedPeriod(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(sourceCmd, blockCmd)

	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd, sourceToggleCmd("enable", true), sourceToggleCmd("disable", false))
	sourceAddCmd.Flags().StringVar(&sourceName, "name", "", "Display name")
	sourceAddCmd.Flags().StringVar(&sourceColor, "color", "", "Color tag")
	sourceAddCmd.Flags().IntVar(&sourceOrder, "order", 0, "Sort order")

	blockCmd.AddCommand(blockAddCmd, blockListCmd, blockDeleteCmd)
	blockAddCmd.Flags().IntVar(&blockDays, "days", 1, "Number of days to block")
	blockAddCmd.Flags().StringVar(&blockReason, "reason", "", "Why the days are blocked")
}
