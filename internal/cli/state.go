package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-tutor/internal/progress"
)

func init() {
	stateCmd := &cobra.Command{
		Use:   "state [session-id]",
		Short: "Show persisted selection state",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runState,
	}
	eventsCmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "List a session's attempt events, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	progressCmd := &cobra.Command{
		Use:   "progress <session-id>",
		Short: "Summarize a session's accuracy by item type",
		Args:  cobra.ExactArgs(1),
		RunE:  runProgress,
	}

	RootCmd.AddCommand(stateCmd, eventsCmd, progressCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	table, err := repo.LoadSelectionState(cmd.Context())
	if err != nil {
		return fmt.Errorf("load selection state: %w", err)
	}

	if len(args) == 1 {
		snap, ok := table[args[0]]
		if !ok {
			return fmt.Errorf("no selection state for session %q", args[0])
		}
		return writeJSON(cmd.OutOrStdout(), snap)
	}

	if !textOutput() {
		return writeJSON(cmd.OutOrStdout(), table)
	}

	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := cmd.OutOrStdout()
	for _, id := range ids {
		snap := table[id]
		fmt.Fprintf(out, "%s\tactive=%q\tserves=%d\trecent=%s\tplaylist=%d\n",
			id, snap.ActiveType, snap.ServesInCurrentType,
			strings.Join(snap.RecentIDs, ","), len(snap.PlaylistIDs))
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	events, err := repo.ReadEventsForSession(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	if !textOutput() {
		return writeJSON(cmd.OutOrStdout(), events)
	}
	out := cmd.OutOrStdout()
	for _, ev := range events {
		correct := "-"
		if ev.Correct != nil {
			correct = fmt.Sprint(*ev.Correct)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ev.Action, ev.ItemID, ev.ItemType, correct)
	}
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	events, err := repo.ReadEventsForSession(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	report := progress.Summarize(args[0], events)

	if !textOutput() {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	out := cmd.OutOrStdout()
	for _, ts := range append(report.ByType, report.Overall) {
		label := ts.Type
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(out, "%-12s served=%d attempts=%d correct=%d accuracy=%.2f\n",
			label, ts.Served, ts.Attempts, ts.Correct, ts.Accuracy)
	}
	return nil
}
