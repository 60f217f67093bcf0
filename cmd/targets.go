package cmd

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coevo.dev/pkg/coevo/internal/adapter"
	"coevo.dev/pkg/coevo/internal/domain"
	m "coevo.dev/pkg/coevo/internal/model"
)

// targetsCmd represents the targets command.
var targetsCmd = newTargetsCmd()

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets [project-dir]",
		Short: "List known targets with coverage and run state",
		Long: `Show every method known from the latest coverage snapshot, its line and
branch coverage, and how the last run treated it (processed, blacklisted or
still available).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := projectFromArgs(args)

			store, err := adapter.NewSQLiteStore(string(fsAdapter.JoinPath(string(project), viper.GetString(storePathKey))))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			defer func() { _ = store.Close() }()

			coverage, err := store.LatestCoverage(cmd.Context())
			if err != nil {
				return err
			}

			if coverage == nil || len(coverage.Methods) == 0 {
				cmd.Println("No coverage snapshot yet; run 'coevo run' first.")
				return nil
			}

			states := targetStates(project)
			kills := mutantTallies(cmd.Context(), store, coverage.Methods)

			cmd.Printf("\n%s", renderTargetsTable(coverage.Methods, states, kills))

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}

// targetStates maps target keys to their last persisted run state. Missing
// snapshot means every target is available.
func targetStates(project m.Path) map[string]string {
	states := make(map[string]string)

	statePath := fsAdapter.JoinPath(string(project), viper.GetString(runStateFileKey))

	state, err := domain.LoadRunState(fsAdapter, statePath)
	if err != nil {
		return states
	}

	for _, target := range state.Processed {
		states[target.Key()] = "processed"
	}

	for _, entry := range state.Blacklist {
		states[entry.Target.Key()] = "blacklisted: " + entry.Reason
	}

	return states
}

// mutantTallies maps target keys to a killed/total summary of their
// evaluated mutants. Targets without evaluated mutants are absent.
func mutantTallies(ctx context.Context, store adapter.Store, methods []m.MethodCoverage) map[string]string {
	tallies := make(map[string]string)

	for _, method := range methods {
		target := m.Target{Class: method.Class, Method: method.Method}

		mutants, err := store.MutantsForTarget(ctx, target)
		if err != nil {
			continue
		}

		killed, total := 0, 0

		for _, mutant := range mutants {
			if !mutant.Evaluated() {
				continue
			}

			total++

			if mutant.Status == m.MutantKilled {
				killed++
			}
		}

		if total > 0 {
			tallies[target.Key()] = fmt.Sprintf("%d/%d", killed, total)
		}
	}

	return tallies
}

func renderTargetsTable(methods []m.MethodCoverage, states, kills map[string]string) string {
	sorted := append([]m.MethodCoverage(nil), methods...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Class+"#"+sorted[i].Method < sorted[j].Class+"#"+sorted[j].Method
	})

	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Target", "Line", "Branch", "Killed", "State"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT,
	})

	for _, method := range sorted {
		key := m.Target{Class: method.Class, Method: method.Method}.Key()

		state := states[key]
		if state == "" {
			state = "available"
		}

		killSummary := kills[key]
		if killSummary == "" {
			killSummary = "-"
		}

		table.Append([]string{
			key,
			fmt.Sprintf("%.0f%%", method.Line.Ratio()*100),
			fmt.Sprintf("%.0f%%", method.Branch.Ratio()*100),
			killSummary,
			state,
		})
	}

	table.SetFooter([]string{fmt.Sprintf("Total %d", len(sorted)), "", "", "", ""})
	table.Render()

	return tableBuffer.String()
}
