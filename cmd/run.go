package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coevo.dev/pkg/coevo/internal/controller"
	"coevo.dev/pkg/coevo/internal/domain"
	m "coevo.dev/pkg/coevo/internal/model"
)

var runParallelFlag int
var runBatchFlag int
var runStrategyFlag string
var runTUIFlag bool
var runIterationsFlagValue int
var runBudgetFlag int

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [project-dir]",
		Short: "Run the co-evolution loop",
		Long:  runLongDescription,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogger("", viper.GetBool(logVerboseKey))

			return executeRun(cmd, projectFromArgs(args), nil)
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runParallelFlag, runParallelFlagName, "p", viper.GetInt(runParallelKey), "number of parallel workers")
	bindFlagToConfig(cmd.Flags().Lookup(runParallelFlagName), runParallelKey)

	cmd.Flags().IntVarP(&runBatchFlag, runBatchFlagName, "b", viper.GetInt(runBatchKey), "targets per batch")
	bindFlagToConfig(cmd.Flags().Lookup(runBatchFlagName), runBatchKey)

	cmd.Flags().StringVarP(&runStrategyFlag, runStrategyFlagName, "s", viper.GetString(runStrategyKey), "target selection strategy (coverage-first, kill-rate-first)")
	bindFlagToConfig(cmd.Flags().Lookup(runStrategyFlagName), runStrategyKey)

	cmd.Flags().BoolVar(&runTUIFlag, runTUIFlagName, false, "interactive terminal UI instead of plain output")
	bindFlagToConfig(cmd.Flags().Lookup(runTUIFlagName), runTUIFlagName)

	cmd.Flags().IntVar(&runIterationsFlagValue, runIterationsFlag, viper.GetInt(runIterationsKey), "stop after this many batches (0 = unlimited)")
	bindFlagToConfig(cmd.Flags().Lookup(runIterationsFlag), runIterationsKey)

	cmd.Flags().IntVar(&runBudgetFlag, runBudgetFlagName, viper.GetInt(runBudgetKey), "stop after this many generator calls (0 = unlimited)")
	bindFlagToConfig(cmd.Flags().Lookup(runBudgetFlagName), runBudgetKey)
}

// executeRun wires the dependency graph and drives the scheduler. A nil state
// starts fresh; a loaded snapshot resumes.
func executeRun(cmd *cobra.Command, project m.Path, state *m.RunState) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildRunDeps(cmd, project)
	if err != nil {
		return err
	}

	defer deps.close()

	scheduler := domain.NewScheduler(
		project,
		deps.config,
		fsAdapter,
		deps.runner,
		deps.store,
		deps.sandboxes,
		deps.dispatcher,
		deps.verifier,
		deps.coordinator,
		deps.strategy,
		deps.ui,
		deps.history,
		state,
	)

	if err := deps.ui.Start(ctx, controller.WithRunMode()); err != nil {
		return err
	}

	_, runErr := scheduler.Run(ctx)

	deps.ui.Wait(ctx)
	deps.ui.Close(ctx)

	if errors.Is(runErr, domain.ErrInterrupted) {
		cmd.Println("Interrupted; state saved. Continue with 'coevo resume'.")
		return nil
	}

	return runErr
}
