package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roboloop/roboloop/pkg/config"
	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/orchestrator"
	"github.com/roboloop/roboloop/pkg/runlog"
	"github.com/roboloop/roboloop/pkg/spec"
	"github.com/roboloop/roboloop/pkg/util"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var envFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run [run-config-file]",
		Short: "Run a task",
		Long:  `Run a task using the specified run configuration file.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}

			cfg, err := config.FromFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load run config: %w", err)
			}

			log := logrus.New()
			if verbose || cfg.Config.Verbose {
				verbose = true
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.WarnLevel)
			}

			episode, err := executeRun(cmd, cfg, log, verbose)
			if err != nil {
				return err
			}

			outputFile := fmt.Sprintf("roboloop-%s-out.json", episode.TaskName)
			if err := saveEpisodeToFile(episode, outputFile); err != nil {
				return fmt.Errorf("failed to save episode to file: %w", err)
			}

			displayEpisode(episode, outputFile)
			if episode.Status != spec.StatusSuccess {
				return fmt.Errorf("task '%s' failed", episode.TaskName)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file with credentials")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	return cmd
}

func executeRun(cmd *cobra.Command, cfg *config.RunConfig, log *logrus.Logger, verbose bool) (*spec.EpisodeResult, error) {
	task, err := cfg.BuildTaskSpec()
	if err != nil {
		return nil, fmt.Errorf("invalid task config: %w", err)
	}

	taskAgent, err := cfg.BuildAgent()
	if err != nil {
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}

	taskVerifier, err := cfg.BuildVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to build verifier: %w", err)
	}

	logger, err := runlog.New(cfg.Config.RunDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create run logger: %w", err)
	}

	simEnv := env.NewMock(env.MockOptions{
		ControlHz:   cfg.Config.ControlHz,
		ArmLimit:    cfg.Config.Env.ArmLimit,
		FrameHeight: cfg.Config.Env.FrameHeight,
		FrameWidth:  cfg.Config.Env.FrameWidth,
	})
	defer simEnv.Close()

	orch, err := orchestrator.New(orchestrator.Options{
		Env:       simEnv,
		Verifier:  taskVerifier,
		Logger:    logger,
		Agent:     taskAgent,
		ControlHz: cfg.Config.ControlHz,
		Log:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ctx := util.WithVerbose(cmd.Context(), verbose)

	bold := color.New(color.Bold)
	bold.Printf("\n=== Running task: %s ===\n", task.Name)

	episode, err := orch.RunTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("run aborted: %w", err)
	}

	return episode, nil
}

func displayEpisode(episode *spec.EpisodeResult, outputFile string) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	for _, subtask := range episode.Subtasks {
		if subtask.FinalStatus == spec.StatusSuccess {
			green.Printf("  ✓ %s (%d attempt(s))\n", subtask.SubtaskName, len(subtask.Attempts))
		} else {
			red.Printf("  ✗ %s (%d attempt(s))\n", subtask.SubtaskName, len(subtask.Attempts))
		}
	}

	fmt.Println()
	if episode.Status == spec.StatusSuccess {
		green.Printf("Task status: %s\n", episode.Status)
	} else {
		red.Printf("Task status: %s\n", episode.Status)
	}
	cyan.Printf("Run directory: %s\n", episode.RunDir)
	cyan.Printf("Steps log: %s\n", episode.StepsLog)
	fmt.Printf("📄 Episode saved to: %s\n", outputFile)
}

func saveEpisodeToFile(episode *spec.EpisodeResult, path string) error {
	data, err := spec.ToJSON(episode, true)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
