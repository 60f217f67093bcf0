package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "coevo.dev/pkg/coevo/internal/model"
)

func TestDispatchGenerateMutants(t *testing.T) {
	patch := m.Patch{File: "src/Calculator.java", StartLine: 3, EndLine: 3}
	generator := &fakeGenerator{
		mutants: func(class, code, method string) ([]m.Patch, error) {
			assert.Equal(t, "Calculator", class)
			assert.Equal(t, "add", method)

			return []m.Patch{patch}, nil
		},
	}

	dispatcher := NewDispatcher(generator, nil, nil, 0)

	result, err := dispatcher.Dispatch(context.Background(), GenerateMutantsCommand{
		Class: "Calculator", Code: calculatorSource, TargetMethod: "add",
	})
	require.NoError(t, err)

	assert.Equal(t, []m.Patch{patch}, result.Patches)
	assert.Equal(t, 1, result.GeneratorCalls)
}

func TestDispatchRetriesTransientGeneratorErrors(t *testing.T) {
	calls := 0
	generator := &fakeGenerator{
		tests: func(string, string, string, string) ([]string, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("rate limited")
			}

			return []string{"@Test\nvoid works() {}"}, nil
		},
	}

	dispatcher := NewDispatcher(generator, nil, nil, 0)

	result, err := dispatcher.Dispatch(context.Background(), GenerateTestsCommand{Class: "Calculator"})
	require.NoError(t, err)

	assert.Len(t, result.TestBodies, 1)
	assert.Equal(t, 3, result.GeneratorCalls)
}

func TestDispatchEmptyAfterRetriesIsNotAnError(t *testing.T) {
	dispatcher := NewDispatcher(&fakeGenerator{}, nil, nil, 0)

	result, err := dispatcher.Dispatch(context.Background(), GenerateMutantsCommand{Class: "Calculator"})
	require.NoError(t, err)

	assert.Empty(t, result.Patches)
	// One initial call plus the retries, all counted against the budget.
	assert.Equal(t, 3, result.GeneratorCalls)
}

func TestDispatchRepair(t *testing.T) {
	generator := &fakeGenerator{
		repair: func(code, diagnostic string) (string, error) {
			assert.Equal(t, "broken", code)
			assert.Equal(t, "cannot find symbol", diagnostic)

			return "fixed", nil
		},
	}

	dispatcher := NewDispatcher(generator, nil, nil, 0)

	result, err := dispatcher.Dispatch(context.Background(), RepairCommand{Code: "broken", Diagnostic: "cannot find symbol"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", result.RepairedCode)
}

func TestDispatchEvaluate(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), contentRunner(fs), fs)
	dispatcher := NewDispatcher(&fakeGenerator{}, builder, nil, 0)

	result, err := dispatcher.Dispatch(context.Background(), EvaluateCommand{
		Mutants:     []m.Mutant{subtractionMutant("m1")},
		Tests:       calculatorTests(),
		Project:     project,
		Parallelism: 1,
	})
	require.NoError(t, err)

	require.NotNil(t, result.Matrix)
	require.Len(t, result.Mutants, 1)
	assert.Equal(t, m.MutantKilled, result.Mutants[0].Status)
}

func TestDispatchCollectCoverage(t *testing.T) {
	report := &m.CoverageReport{Line: m.Counter{Covered: 8, Missed: 2}}
	runner := &fakeRunner{coverage: func(m.Path) (m.RunResult, *m.CoverageReport) {
		return m.RunResult{Outcome: m.OutcomeOK}, report
	}}

	dispatcher := NewDispatcher(&fakeGenerator{}, nil, runner, 0)

	result, err := dispatcher.Dispatch(context.Background(), CollectCoverageCommand{Project: "proj"})
	require.NoError(t, err)

	assert.Equal(t, m.OutcomeOK, result.Run.Outcome)
	assert.Equal(t, report, result.Coverage)
}

// blockingGenerator parks every call until its context is done, the way a
// hung API call would.
type blockingGenerator struct{}

func (blockingGenerator) ProposeMutants(ctx context.Context, _, _, _ string) ([]m.Patch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingGenerator) ProposeTests(ctx context.Context, _, _, _, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingGenerator) Repair(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDispatchGenerationTimeoutUnblocksBatch(t *testing.T) {
	dispatcher := NewDispatcher(blockingGenerator{}, nil, nil, 20*time.Millisecond)

	start := time.Now()

	result, err := dispatcher.Dispatch(context.Background(), GenerateTestsCommand{Class: "Calculator"})
	require.NoError(t, err)

	assert.Empty(t, result.TestBodies)
	assert.Equal(t, 3, result.GeneratorCalls)

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dispatch blocked for %v despite the per-call deadline", elapsed)
	}
}

func TestDispatchStopsRetryingOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher := NewDispatcher(blockingGenerator{}, nil, nil, time.Minute)

	result, err := dispatcher.Dispatch(ctx, GenerateMutantsCommand{Class: "Calculator"})
	require.NoError(t, err)

	// The cancelled run context ends the retry loop after the first attempt.
	assert.Equal(t, 1, result.GeneratorCalls)
}

type unknownCommand struct{}

func (unknownCommand) isCommand() {}

func TestDispatchUnhandledCommand(t *testing.T) {
	dispatcher := NewDispatcher(&fakeGenerator{}, nil, nil, 0)

	_, err := dispatcher.Dispatch(context.Background(), unknownCommand{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhandled command")
}
