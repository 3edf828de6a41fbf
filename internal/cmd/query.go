package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var (
	outputJSON bool

	scheduleMonths int

	recommendParticipants []string
	recommendCandidate    string
	recommendDays         int
	recommendTop          int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <user-id>",
	Short: "Show a user's blocked and available days",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedule,
}

var overlapCmd = &cobra.Command{
	Use:   "overlap <user-id> <dates>",
	Short: "Match Korean date text against a user's availability",
	Long: `Match a grouped Korean date list such as "10월 1 2 3" or
"8월 28 29, 9월 3 4" against the user's availability.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runOverlap,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rank meeting days for a group, with and without a candidate",
	RunE:  runRecommend,
}

func init() {
	rootCmd.AddCommand(scheduleCmd, overlapCmd, recommendCmd)

	for _, c := range []*cobra.Command{scheduleCmd, overlapCmd, recommendCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Print the response as JSON")
	}

	scheduleCmd.Flags().IntVarP(&scheduleMonths, "months", "m", 1, "Number of months to look ahead")

	recommendCmd.Flags().StringSliceVarP(&recommendParticipants, "participants", "p", nil, "Comma-separated participant user ids")
	recommendCmd.Flags().StringVar(&recommendCandidate, "candidate", "", "User id considering joining")
	recommendCmd.Flags().IntVarP(&recommendDays, "days", "d", 0, "Horizon in days (0 = config default)")
	recommendCmd.Flags().IntVarP(&recommendTop, "top", "n", 0, "Number of days to list (0 = config default, -1 = all)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.MySchedule(cmd.Context(), args[0], scheduleMonths)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, resp)
	}
	fmt.Fprintf(out, "Period:    %s\n", resp.SearchPeriod)
	fmt.Fprintf(out, "Calendars: %d (%d failed), %d events\n", resp.CalendarCount, resp.FailedCalendars, resp.TotalEvents)
	fmt.Fprintf(out, "Busy:      %s\n", resp.KoreanDateFormat)
	fmt.Fprintf(out, "Free:      %s\n", resp.AvailableDatesFormat)
	fmt.Fprintf(out, "Free days: %d / %d (%.0f%%)\n", resp.TotalAvailableDays, resp.TotalAvailableDays+resp.TotalBlockedDays, resp.AvailabilityRatio*100)
	for _, msg := range resp.ErrorMessages {
		fmt.Fprintf(out, "  ! %s\n", msg)
	}
	return nil
}

func runOverlap(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.Overlap(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, resp)
	}
	fmt.Fprintf(out, "Free on:      %s\n", orDash(resp.OverlappingDates))
	fmt.Fprintf(out, "Busy on:      %s\n", orDash(resp.BlockedDatesFromInput))
	if resp.OutOfRangeDates != "" {
		fmt.Fprintf(out, "Out of range: %s\n", resp.OutOfRangeDates)
	}
	fmt.Fprintf(out, "Match:        %d / %d (%.1f%%)\n", resp.TotalMatches, resp.InputTotal, resp.MatchPercentage*100)
	return nil
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.Recommend(cmd.Context(), recommendParticipants, recommendCandidate, recommendDays, recommendTop)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, resp)
	}
	fmt.Fprintf(out, "Period: %s (confidence %.2f)\n", resp.CurrentParticipants.SearchPeriod, resp.ConfidenceLevel)
	fmt.Fprintf(out, "Current participants (%d):\n", resp.ParticipantCount)
	for _, r := range resp.CurrentParticipants.Recommendations {
		fmt.Fprintf(out, "  %2d. %s  %d free  score %.2f\n", r.Priority, r.Date, r.ParticipantCount, r.AvailabilityScore)
	}
	if recommendCandidate != "" && !resp.IsUserParticipant {
		fmt.Fprintf(out, "Including %s (%d):\n", recommendCandidate, resp.IncludingMe.ParticipantCount)
		for _, r := range resp.IncludingMe.Recommendations {
			fmt.Fprintf(out, "  %2d. %s  %d free  score %.2f\n", r.Priority, r.Date, r.ParticipantCount, r.AvailabilityScore)
		}
	}
	if len(resp.UnavailableUsers) > 0 {
		fmt.Fprintf(out, "Not evaluated: %s\n", strings.Join(resp.UnavailableUsers, ", "))
	}
	if len(resp.ZeroSourceUsers) > 0 {
		fmt.Fprintf(out, "No synced calendars (treated as free): %s\n", strings.Join(resp.ZeroSourceUsers, ", "))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
