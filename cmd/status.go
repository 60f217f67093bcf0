package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coevo.dev/pkg/coevo/internal/controller"
	"coevo.dev/pkg/coevo/internal/domain"
)

// statusCmd represents the status command.
var statusCmd = newStatusCmd()

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project-dir]",
		Short: "Show the last persisted run snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := projectFromArgs(args)
			statePath := fsAdapter.JoinPath(string(project), viper.GetString(runStateFileKey))

			state, err := domain.LoadRunState(fsAdapter, statePath)
			if err != nil {
				return fmt.Errorf("no run snapshot: %w", err)
			}

			ui := controller.NewSimpleUI(cmd)
			if err := ui.Start(cmd.Context(), controller.WithStatusMode()); err != nil {
				return err
			}

			ui.DisplayRunSummary(cmd.Context(), *state,
				fmt.Sprintf("snapshot from %s", state.UpdatedAt.Format("2006-01-02 15:04:05")))

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
