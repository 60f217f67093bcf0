package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coevo.dev/pkg/coevo/internal/domain"
)

// resumeCmd represents the resume command.
var resumeCmd = newResumeCmd()

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [project-dir]",
		Short: "Resume an interrupted run from its snapshot",
		Long: `Continue a run from the last persisted snapshot. Processed and
blacklisted targets stay excluded; scores are recomputed from the store on
the first sync.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogger("", viper.GetBool(logVerboseKey))

			project := projectFromArgs(args)
			statePath := fsAdapter.JoinPath(string(project), viper.GetString(runStateFileKey))

			state, err := domain.LoadRunState(fsAdapter, statePath)
			if err != nil {
				return fmt.Errorf("no resumable run: %w", err)
			}

			cmd.Printf("Resuming run %s at iteration %d\n", state.RunID, state.Iteration)

			return executeRun(cmd, project, state)
		},
	}
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
