package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roboloop/roboloop/pkg/results"
	"github.com/roboloop/roboloop/pkg/spec"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "stats [episode-file...]",
		Short: "Summarize saved episode results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodes, err := results.LoadAll(args)
			if err != nil {
				return err
			}

			displayStats(episodes, filter)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only show subtasks whose name contains this substring")

	return cmd
}

func displayStats(episodes []*spec.EpisodeResult, filter string) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	for _, episode := range episodes {
		bold.Printf("\nTask: %s (%s)\n", episode.TaskName, episode.Status)
		for _, subtask := range results.FilterSubtasks(episode, filter) {
			if subtask.FinalStatus == spec.StatusSuccess {
				green.Printf("  ✓ %s: %d attempt(s)\n", subtask.SubtaskName, len(subtask.Attempts))
			} else {
				red.Printf("  ✗ %s: %d attempt(s): %s\n", subtask.SubtaskName, len(subtask.Attempts), results.FailureReason(subtask))
			}
		}
	}

	stats := results.CalculateStats(episodes)
	bold.Println("\n=== Totals ===")
	fmt.Printf("Episodes: %d/%d passed (%.0f%%)\n", stats.EpisodesPassed, stats.EpisodesTotal, stats.EpisodePassRate*100)
	fmt.Printf("Subtasks: %d/%d passed (%.0f%%)\n", stats.SubtasksPassed, stats.SubtasksTotal, stats.SubtaskPassRate*100)
	fmt.Printf("Attempts: %d\n", stats.AttemptsTotal)
}
