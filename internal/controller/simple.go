package controller

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "coevo.dev/pkg/coevo/internal/model"
)

// SimpleUI implements UI using cobra Command's output stream. It prints one
// line per event and never blocks, which makes it the right choice for CI
// logs and piped output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
	// SimpleUI doesn't block - it just prints and continues
}

// DisplayRunInfo prints the run header.
func (s *SimpleUI) DisplayRunInfo(ctx context.Context, runID string, parallelism int, batchSize int, strategy string) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Run %s: %d worker(s), batch size %d, strategy %s\n", runID, parallelism, batchSize, strategy)
}

// DisplayBatchStarted prints the targets selected for the batch.
func (s *SimpleUI) DisplayBatchStarted(ctx context.Context, iteration int, targets []m.Target) {
	if err := ctx.Err(); err != nil {
		return
	}

	keys := make([]string, 0, len(targets))
	for _, target := range targets {
		keys = append(keys, target.Key())
	}

	s.printf("Batch %d: %d target(s): %s\n", iteration, len(targets), strings.Join(keys, ", "))
}

// DisplayPhase prints a phase transition.
func (s *SimpleUI) DisplayPhase(ctx context.Context, iteration int, phase string) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Batch %d: %s\n", iteration, phase)
}

// DisplayTargetResult prints the outcome of one worker.
func (s *SimpleUI) DisplayTargetResult(ctx context.Context, result m.WorkerResult) {
	if err := ctx.Err(); err != nil {
		return
	}

	if result.Success {
		s.printf("Target %s: %d test(s) retained, %d dropped, %d mutant(s)\n",
			result.Target.Key(), result.TestsRetained, result.TestsDropped, len(result.Mutants))
		return
	}

	s.printf("Target %s: failed (%s)\n", result.Target.Key(), result.Reason)
}

// DisplayBatchSummary prints the scores after one batch.
func (s *SimpleUI) DisplayBatchSummary(ctx context.Context, state m.RunState) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Batch %d done: score %.2f%%, line %.2f%%, branch %.2f%%, conflicts %d\n",
		state.Iteration, state.MutationScore*100, state.LineCoverage*100, state.BranchCoverage*100, state.MergeConflicts)
}

// DisplayRunSummary prints the final run table.
func (s *SimpleUI) DisplayRunSummary(ctx context.Context, state m.RunState, reason string) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("\nRun %s stopped: %s\n%s", state.RunID, reason, renderRunTable(state))

	if len(state.Blacklist) > 0 {
		s.printf("\nBlacklisted targets:\n")

		for _, entry := range state.Blacklist {
			s.printf("  %s: %s\n", entry.Target.Key(), entry.Reason)
		}
	}
}

func renderRunTable(state m.RunState) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	table.Append([]string{"Iterations", fmt.Sprintf("%d", state.Iteration)})
	table.Append([]string{"Mutants", fmt.Sprintf("%d", state.TotalMutants)})
	table.Append([]string{"Killed", fmt.Sprintf("%d", state.KilledMutants)})
	table.Append([]string{"Survived", fmt.Sprintf("%d", state.SurvivedMutants)})
	table.Append([]string{"Mutation score", fmt.Sprintf("%.2f%%", state.MutationScore*100)})
	table.Append([]string{"Line coverage", fmt.Sprintf("%.2f%%", state.LineCoverage*100)})
	table.Append([]string{"Branch coverage", fmt.Sprintf("%.2f%%", state.BranchCoverage*100)})
	table.Append([]string{"Generation calls", fmt.Sprintf("%d", state.GenerationCalls)})
	table.Append([]string{"Merge conflicts", fmt.Sprintf("%d", state.MergeConflicts)})
	table.Append([]string{"Blacklisted", fmt.Sprintf("%d", len(state.Blacklist))})

	table.Render()

	return tableBuffer.String()
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
