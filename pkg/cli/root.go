// Package cli implements the roboloop command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roboloop",
		Short: "Closed-loop executor for robot manipulation subtasks",
		Long: `roboloop runs a task as an ordered list of retryable motion subtasks:
each attempt is decided by an agent, executed against the environment,
judged by a verifier, and retried with a jittered parameter adjustment
until it succeeds or the attempt budget is exhausted.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewStatsCmd())

	return cmd
}
