package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "coevo.dev/pkg/coevo/internal/model"
)

func newExecRunner(config RunnerConfig) *ExecRunner {
	return NewExecRunner(config, NewXMLReportParser(), NewLocalSandboxFS())
}

func writeReport(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestExecRunnerCompileSuccess(t *testing.T) {
	runner := newExecRunner(RunnerConfig{CompileCmd: []string{"true"}})

	result := runner.Compile(context.Background(), m.Path(t.TempDir()))
	assert.Equal(t, m.OutcomeOK, result.Outcome)
}

func TestExecRunnerCompileFailure(t *testing.T) {
	runner := newExecRunner(RunnerConfig{
		CompileCmd: []string{"sh", "-c", "echo 'cannot find symbol' >&2; exit 1"},
	})

	result := runner.Compile(context.Background(), m.Path(t.TempDir()))
	assert.Equal(t, m.OutcomeCompileFailed, result.Outcome)
	assert.Contains(t, result.Output, "cannot find symbol")
}

func TestExecRunnerTimeout(t *testing.T) {
	runner := newExecRunner(RunnerConfig{
		TestCmd:     []string{"sleep", "10"},
		TestTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	result := runner.Test(context.Background(), m.Path(t.TempDir()))

	assert.Equal(t, m.OutcomeTimeout, result.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunnerCancelledContextIsNotATimeout(t *testing.T) {
	runner := newExecRunner(RunnerConfig{
		TestCmd:     []string{"sleep", "10"},
		TestTimeout: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := runner.Test(ctx, m.Path(t.TempDir()))
	assert.Equal(t, m.OutcomeError, result.Outcome)
}

func TestExecRunnerMissingCommand(t *testing.T) {
	runner := newExecRunner(RunnerConfig{TestCmd: []string{"definitely-not-a-command-xyz"}})

	result := runner.Test(context.Background(), m.Path(t.TempDir()))
	assert.Equal(t, m.OutcomeError, result.Outcome)
}

func TestExecRunnerEmptyCommand(t *testing.T) {
	runner := newExecRunner(RunnerConfig{})

	result := runner.Compile(context.Background(), m.Path(t.TempDir()))
	assert.Equal(t, m.OutcomeError, result.Outcome)
}

func TestExecRunnerTestAttachesReport(t *testing.T) {
	project := t.TempDir()
	writeReport(t, filepath.Join(project, "target/surefire-reports"), "TEST-com.acme.CalculatorCoevoTest.xml",
		`<testsuite name="com.acme.CalculatorCoevoTest">
			<testcase classname="com.acme.CalculatorCoevoTest" name="addWorks"/>
			<testcase classname="com.acme.CalculatorCoevoTest" name="addOverflows">
				<failure message="expected 2 but was 3" type="java.lang.AssertionError"/>
			</testcase>
		</testsuite>`)

	runner := newExecRunner(RunnerConfig{
		TestCmd:       []string{"false"},
		TestReportDir: "target/surefire-reports",
	})

	result := runner.Test(context.Background(), m.Path(project))

	assert.Equal(t, m.OutcomeTestsFailed, result.Outcome)
	require.NotNil(t, result.Report)
	require.Len(t, result.Report.Failing(), 1)
	assert.Equal(t, "addOverflows", result.Report.Failing()[0].Name)
}

func TestExecRunnerFailureWithoutReportIsCompileFailure(t *testing.T) {
	runner := newExecRunner(RunnerConfig{
		TestCmd:       []string{"false"},
		TestReportDir: "target/surefire-reports",
	})

	result := runner.Test(context.Background(), m.Path(t.TempDir()))
	assert.Equal(t, m.OutcomeCompileFailed, result.Outcome)
	assert.Nil(t, result.Report)
}

func TestExecRunnerTestWithCoverage(t *testing.T) {
	project := t.TempDir()
	writeReport(t, filepath.Join(project, "target/site/jacoco"), "jacoco.xml",
		`<report name="coevo">
			<counter type="LINE" missed="2" covered="8"/>
			<counter type="BRANCH" missed="1" covered="3"/>
		</report>`)

	runner := newExecRunner(RunnerConfig{
		CoverageCmd:  []string{"true"},
		CoverageFile: "target/site/jacoco/jacoco.xml",
	})

	result, coverage := runner.TestWithCoverage(context.Background(), m.Path(project))

	assert.Equal(t, m.OutcomeOK, result.Outcome)
	require.NotNil(t, coverage)
	assert.Equal(t, m.Counter{Covered: 8, Missed: 2}, coverage.Line)
	assert.Equal(t, m.Counter{Covered: 3, Missed: 1}, coverage.Branch)
}

func TestExecRunnerCoverageFileMissing(t *testing.T) {
	runner := newExecRunner(RunnerConfig{
		CoverageCmd:  []string{"true"},
		CoverageFile: "target/site/jacoco/jacoco.xml",
	})

	result, coverage := runner.TestWithCoverage(context.Background(), m.Path(t.TempDir()))

	assert.Equal(t, m.OutcomeOK, result.Outcome)
	assert.Nil(t, coverage)
}
