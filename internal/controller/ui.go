// Package controller provides output adapters for displaying run progress.
package controller

import (
	"context"

	m "coevo.dev/pkg/coevo/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeRun StartMode = iota
	ModeStatus
)

// StartOption is a functional option for the Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode StartMode
}

// WithRunMode sets the UI to live run mode.
func WithRunMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeRun
	}
}

// WithStatusMode sets the UI to one-shot status display mode.
func WithStatusMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeStatus
	}
}

// UI defines the interface for displaying run progress and results.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context) // Wait for UI to finish (user closes it)
	DisplayRunInfo(ctx context.Context, runID string, parallelism int, batchSize int, strategy string)
	DisplayBatchStarted(ctx context.Context, iteration int, targets []m.Target)
	DisplayPhase(ctx context.Context, iteration int, phase string)
	DisplayTargetResult(ctx context.Context, result m.WorkerResult)
	DisplayBatchSummary(ctx context.Context, state m.RunState)
	DisplayRunSummary(ctx context.Context, state m.RunState, reason string)
}
