package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// Command is the closed set of operations a worker can issue during a batch.
// Each variant carries a strongly-typed parameter struct; Dispatcher.Dispatch
// is the single dispatch point. The unexported marker keeps the union closed
// to this package.
type Command interface {
	isCommand()
}

// GenerateMutantsCommand asks the generator for candidate patches.
type GenerateMutantsCommand struct {
	Class        string
	Code         string
	TargetMethod string
}

// GenerateTestsCommand asks the generator for candidate test method bodies.
type GenerateTestsCommand struct {
	Class           string
	MethodSignature string
	Code            string
	ExistingTests   string
}

// RepairCommand asks the generator to fix code given a diagnostic.
type RepairCommand struct {
	Code       string
	Diagnostic string
}

// EvaluateCommand builds the kill matrix for a mutant and test set.
type EvaluateCommand struct {
	Mutants     []m.Mutant
	Tests       []m.TestCase
	Project     m.Path
	Parallelism int
}

// CollectCoverageCommand runs the suite with coverage instrumentation.
type CollectCoverageCommand struct {
	Project m.Path
}

func (GenerateMutantsCommand) isCommand() {}
func (GenerateTestsCommand) isCommand()   {}
func (RepairCommand) isCommand()          {}
func (EvaluateCommand) isCommand()        {}
func (CollectCoverageCommand) isCommand() {}

// CommandResult carries the output of one dispatched command; only the
// fields matching the command variant are populated.
type CommandResult struct {
	Patches      []m.Patch
	TestBodies   []string
	RepairedCode string
	Matrix       *m.KillMatrix
	Mutants      []m.Mutant
	Coverage     *m.CoverageReport
	Run          m.RunResult
	// GeneratorCalls counts the generation attempts consumed, for budget
	// accounting.
	GeneratorCalls int
}

// Dispatcher executes commands against the generator, the kill-matrix
// builder and the runner. Generator calls are retried a bounded number of
// times, each under its own deadline so a hung call cannot stall the batch;
// an empty answer after the retries means "no candidates", not an error.
type Dispatcher struct {
	generator adapter.Generator
	builder   *KillMatrixBuilder
	runner    adapter.Runner

	generatorRetries  int
	generationTimeout time.Duration
}

// NewDispatcher constructs a Dispatcher. A zero generationTimeout disables
// the per-call deadline.
func NewDispatcher(generator adapter.Generator, builder *KillMatrixBuilder, runner adapter.Runner, generationTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		generator:         generator,
		builder:           builder,
		runner:            runner,
		generatorRetries:  2,
		generationTimeout: generationTimeout,
	}
}

// generatorContext derives the per-call context for one generator invocation.
func (d *Dispatcher) generatorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.generationTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.generationTimeout)
}

// Dispatch runs one command and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (CommandResult, error) {
	switch c := cmd.(type) {
	case GenerateMutantsCommand:
		return d.generateMutants(ctx, c)
	case GenerateTestsCommand:
		return d.generateTests(ctx, c)
	case RepairCommand:
		return d.repair(ctx, c)
	case EvaluateCommand:
		mutants := append([]m.Mutant(nil), c.Mutants...)
		matrix := d.builder.Build(ctx, mutants, c.Tests, c.Project, c.Parallelism)

		return CommandResult{Matrix: matrix, Mutants: mutants}, nil
	case CollectCoverageCommand:
		run, coverage := d.runner.TestWithCoverage(ctx, c.Project)
		return CommandResult{Run: run, Coverage: coverage}, nil
	}

	return CommandResult{}, fmt.Errorf("unhandled command type %T", cmd)
}

func (d *Dispatcher) generateMutants(ctx context.Context, c GenerateMutantsCommand) (CommandResult, error) {
	result := CommandResult{}

	for attempt := 0; attempt <= d.generatorRetries; attempt++ {
		result.GeneratorCalls++

		callCtx, cancel := d.generatorContext(ctx)
		patches, err := d.generator.ProposeMutants(callCtx, c.Class, c.Code, c.TargetMethod)
		cancel()

		if err != nil {
			slog.Warn("mutant generation attempt failed", "class", c.Class, "attempt", attempt, "error", err)

			if ctx.Err() != nil {
				break
			}

			continue
		}

		if len(patches) > 0 {
			result.Patches = patches
			break
		}
	}

	return result, nil
}

func (d *Dispatcher) generateTests(ctx context.Context, c GenerateTestsCommand) (CommandResult, error) {
	result := CommandResult{}

	for attempt := 0; attempt <= d.generatorRetries; attempt++ {
		result.GeneratorCalls++

		callCtx, cancel := d.generatorContext(ctx)
		bodies, err := d.generator.ProposeTests(callCtx, c.Class, c.MethodSignature, c.Code, c.ExistingTests)
		cancel()

		if err != nil {
			slog.Warn("test generation attempt failed", "class", c.Class, "attempt", attempt, "error", err)

			if ctx.Err() != nil {
				break
			}

			continue
		}

		if len(bodies) > 0 {
			result.TestBodies = bodies
			break
		}
	}

	return result, nil
}

func (d *Dispatcher) repair(ctx context.Context, c RepairCommand) (CommandResult, error) {
	result := CommandResult{}

	for attempt := 0; attempt <= d.generatorRetries; attempt++ {
		result.GeneratorCalls++

		callCtx, cancel := d.generatorContext(ctx)
		repaired, err := d.generator.Repair(callCtx, c.Code, c.Diagnostic)
		cancel()

		if err != nil {
			slog.Warn("repair attempt failed", "attempt", attempt, "error", err)

			if ctx.Err() != nil {
				break
			}

			continue
		}

		if repaired != "" {
			result.RepairedCode = repaired
			break
		}
	}

	return result, nil
}
