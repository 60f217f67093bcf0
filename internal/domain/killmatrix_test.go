package domain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "coevo.dev/pkg/coevo/internal/model"
)

func seedProject(t *testing.T, fs *memFS) m.Path {
	t.Helper()

	require.NoError(t, fs.WriteFile("proj/src/Calculator.java", []byte(calculatorSource), 0o600))

	return "proj"
}

func subtractionMutant(id string) m.Mutant {
	return m.Mutant{
		ID:     id,
		Class:  "Calculator",
		Method: "add",
		Status: m.MutantPending,
		Patch: m.Patch{
			File:      "src/Calculator.java",
			StartLine: 3,
			EndLine:   3,
			Original:  "        return a + b;",
			Mutated:   "        return a - b;",
		},
	}
}

func calculatorTests() []m.TestCase {
	return []m.TestCase{
		{ID: "Calculator#coevo", Class: "Calculator", Name: "CalculatorCoevoTest"},
		{ID: "Calculator#legacy", Class: "Calculator", Name: "CalculatorTest"},
	}
}

// contentRunner fails the CalculatorCoevoTest whenever the sandboxed source
// carries the subtraction mutation, so the verdict depends only on content.
func contentRunner(fs *memFS) *fakeRunner {
	return &fakeRunner{
		test: func(sandbox m.Path) m.RunResult {
			content, err := fs.ReadFile(fs.JoinPath(string(sandbox), "src/Calculator.java"))
			if err != nil {
				return m.RunResult{Outcome: m.OutcomeError}
			}

			if !strings.Contains(string(content), "a - b") {
				return m.RunResult{Outcome: m.OutcomeOK}
			}

			return m.RunResult{
				Outcome: m.OutcomeTestsFailed,
				Report: &m.TestReport{Methods: []m.MethodResult{
					{Class: "CalculatorCoevoTest", Name: "addHandlesPositives", Outcome: m.OutcomeTestsFailed},
				}},
			}
		},
	}
}

func TestBuildSerialAndParallelAgree(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	runner := contentRunner(fs)

	build := func(parallelism int) (*m.KillMatrix, []m.Mutant) {
		mutants := []m.Mutant{
			subtractionMutant("m1"),
			subtractionMutant("m2"),
			subtractionMutant("m3"),
			subtractionMutant("m4"),
		}

		builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), runner, fs)
		matrix := builder.Build(context.Background(), mutants, calculatorTests(), project, parallelism)

		return matrix, mutants
	}

	serialMatrix, serialMutants := build(1)
	parallelMatrix, parallelMutants := build(4)

	if !serialMatrix.Equal(parallelMatrix) {
		t.Fatalf("serial and parallel builds disagree: %v vs %v", serialMatrix, parallelMatrix)
	}

	for i := range serialMutants {
		assert.Equal(t, serialMutants[i].Status, parallelMutants[i].Status)
	}
}

func TestBuildRecordsKillers(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)

	mutants := []m.Mutant{subtractionMutant("m1")}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), contentRunner(fs), fs)
	matrix := builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantKilled, mutants[0].Status)
	assert.Equal(t, []string{"Calculator#coevo"}, mutants[0].KilledBy)
	assert.Equal(t, []string{"Calculator#coevo"}, matrix.Killers("m1"))
	assert.False(t, mutants[0].EvaluatedAt.IsZero())
}

func TestBuildPatchFailureInvalidatesMutant(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)

	broken := subtractionMutant("m1")
	broken.Patch.Original = "        return something else;"
	mutants := []m.Mutant{broken}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), contentRunner(fs), fs)
	matrix := builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantInvalid, mutants[0].Status)
	assert.Empty(t, matrix.MutantIDs())
}

func TestBuildTimeoutTreatedAsSurvived(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	runner := &fakeRunner{test: func(m.Path) m.RunResult {
		return m.RunResult{Outcome: m.OutcomeTimeout}
	}}

	mutants := []m.Mutant{subtractionMutant("m1")}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), runner, fs)
	builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantSurvived, mutants[0].Status)
}

func TestBuildCompileFailureKilledByAll(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	runner := &fakeRunner{test: func(m.Path) m.RunResult {
		return m.RunResult{Outcome: m.OutcomeCompileFailed}
	}}

	mutants := []m.Mutant{subtractionMutant("m1")}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), runner, fs)
	builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantKilled, mutants[0].Status)
	assert.ElementsMatch(t, []string{"Calculator#coevo", "Calculator#legacy"}, mutants[0].KilledBy)
}

func TestBuildUnmatchedFailureFallsBackToAllTests(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	runner := &fakeRunner{test: func(m.Path) m.RunResult {
		return m.RunResult{
			Outcome: m.OutcomeTestsFailed,
			Report: &m.TestReport{Methods: []m.MethodResult{
				{Class: "com.acme.UnknownTest", Name: "whoKnows", Outcome: m.OutcomeTestsFailed},
			}},
		}
	}}

	mutants := []m.Mutant{subtractionMutant("m1")}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), runner, fs)
	builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantKilled, mutants[0].Status)
	assert.ElementsMatch(t, []string{"Calculator#coevo", "Calculator#legacy"}, mutants[0].KilledBy)
}

func TestBuildFailingRunWithCleanReportSurvives(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	runner := &fakeRunner{test: func(m.Path) m.RunResult {
		return m.RunResult{Outcome: m.OutcomeTestsFailed, Report: &m.TestReport{}}
	}}

	mutants := []m.Mutant{subtractionMutant("m1")}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), runner, fs)
	builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantSurvived, mutants[0].Status)
}

func TestBuildMatchesQualifiedReportClassNames(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	runner := &fakeRunner{test: func(m.Path) m.RunResult {
		return m.RunResult{
			Outcome: m.OutcomeTestsFailed,
			Report: &m.TestReport{Methods: []m.MethodResult{
				{Class: "com.acme.CalculatorCoevoTest", Name: "addHandlesPositives", Outcome: m.OutcomeTestsFailed},
			}},
		}
	}}

	mutants := []m.Mutant{subtractionMutant("m1")}

	builder := NewKillMatrixBuilder(NewSandboxManager(fs, "sandboxes"), runner, fs)
	builder.Build(context.Background(), mutants, calculatorTests(), project, 1)

	assert.Equal(t, m.MutantKilled, mutants[0].Status)
	assert.Equal(t, []string{"Calculator#coevo"}, mutants[0].KilledBy)
}

func TestBuildLeavesNoSandboxBehind(t *testing.T) {
	fs := newMemFS()
	project := seedProject(t, fs)
	sandboxes := NewSandboxManager(fs, "sandboxes")

	mutants := []m.Mutant{subtractionMutant("m1"), subtractionMutant("m2")}

	builder := NewKillMatrixBuilder(sandboxes, contentRunner(fs), fs)
	builder.Build(context.Background(), mutants, calculatorTests(), project, 2)

	assert.Empty(t, sandboxes.Live())
	assert.False(t, fs.Exists("sandboxes"))
}
