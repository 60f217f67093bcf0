package adapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	m "coevo.dev/pkg/coevo/internal/model"
)

// Runner abstracts compiling and testing a project tree. A timeout is a
// distinguished outcome, not a generic failure: callers branch on
// RunResult.Outcome rather than on errors.
type Runner interface {
	// Compile builds the project at path without running tests.
	Compile(ctx context.Context, path m.Path) m.RunResult

	// Test builds and runs the test suite at path. When a structured report
	// was produced it is attached to the result; a failure without a report
	// implies the build itself broke.
	Test(ctx context.Context, path m.Path) m.RunResult

	// TestWithCoverage runs the suite with coverage instrumentation and
	// returns the parsed coverage report alongside the run result.
	TestWithCoverage(ctx context.Context, path m.Path) (m.RunResult, *m.CoverageReport)
}

// RunnerConfig carries the build-tool commands and report locations. The
// defaults target Maven projects; any build tool producing JUnit-style XML
// reports works.
type RunnerConfig struct {
	CompileCmd      []string
	TestCmd         []string
	CoverageCmd     []string
	TestReportDir   string
	CoverageFile    string
	CompileTimeout  time.Duration
	TestTimeout     time.Duration
	CoverageTimeout time.Duration
}

// DefaultRunnerConfig returns the Maven defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		CompileCmd:      []string{"mvn", "-q", "-B", "compile", "test-compile"},
		TestCmd:         []string{"mvn", "-q", "-B", "test"},
		CoverageCmd:     []string{"mvn", "-q", "-B", "verify"},
		TestReportDir:   "target/surefire-reports",
		CoverageFile:    "target/site/jacoco/jacoco.xml",
		CompileTimeout:  5 * time.Minute,
		TestTimeout:     10 * time.Minute,
		CoverageTimeout: 15 * time.Minute,
	}
}

// ExecRunner runs the configured build commands via os/exec.
type ExecRunner struct {
	config RunnerConfig
	parser ReportParser
	fs     SandboxFS
}

// NewExecRunner constructs an ExecRunner with the given configuration.
func NewExecRunner(config RunnerConfig, parser ReportParser, fs SandboxFS) *ExecRunner {
	return &ExecRunner{config: config, parser: parser, fs: fs}
}

// Compile builds the project at path without running tests.
func (r *ExecRunner) Compile(ctx context.Context, path m.Path) m.RunResult {
	output, outcome := r.run(ctx, path, r.config.CompileCmd, r.config.CompileTimeout)
	if outcome == m.OutcomeTestsFailed {
		// No tests ran; any failure of the compile command is a build break.
		outcome = m.OutcomeCompileFailed
	}

	return m.RunResult{Outcome: outcome, Output: output}
}

// Test builds and runs the test suite at path.
func (r *ExecRunner) Test(ctx context.Context, path m.Path) m.RunResult {
	output, outcome := r.run(ctx, path, r.config.TestCmd, r.config.TestTimeout)
	result := m.RunResult{Outcome: outcome, Output: output}

	if outcome == m.OutcomeTimeout || outcome == m.OutcomeError {
		return result
	}

	report, err := r.parseTestReports(path)
	if err != nil {
		slog.Warn("no structured test report", "path", path, "error", err)
	} else {
		result.Report = report
	}

	if outcome != m.OutcomeOK && result.Report == nil {
		// Failure without a report means tests never ran.
		result.Outcome = m.OutcomeCompileFailed
	}

	return result
}

// TestWithCoverage runs the suite with coverage instrumentation.
func (r *ExecRunner) TestWithCoverage(ctx context.Context, path m.Path) (m.RunResult, *m.CoverageReport) {
	output, outcome := r.run(ctx, path, r.config.CoverageCmd, r.config.CoverageTimeout)
	result := m.RunResult{Outcome: outcome, Output: output}

	if report, err := r.parseTestReports(path); err == nil {
		result.Report = report
	}

	coveragePath := r.fs.JoinPath(string(path), r.config.CoverageFile)

	content, err := r.fs.ReadFile(coveragePath)
	if err != nil {
		slog.Warn("coverage report missing", "path", coveragePath, "error", err)
		return result, nil
	}

	coverage, err := r.parser.ParseCoverageReport(content)
	if err != nil {
		slog.Warn("failed to parse coverage report", "path", coveragePath, "error", err)
		return result, nil
	}

	return result, coverage
}

// run executes argv in dir with a timeout and maps the exit state to an
// outcome. Exit errors are OutcomeTestsFailed; callers refine that to
// compile failures where appropriate.
func (r *ExecRunner) run(ctx context.Context, dir m.Path, argv []string, timeout time.Duration) (string, m.Outcome) {
	if len(argv) == 0 {
		return "", m.OutcomeError
	}

	runCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// #nosec G204 - argv comes from operator configuration, not remote input
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = string(dir)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String() + stderr.String()

	if err == nil {
		return output, m.OutcomeOK
	}

	if runCtx.Err() != nil {
		// Only the command's own deadline counts as a timeout; a cancelled
		// parent context is an external interrupt.
		if ctx.Err() != nil {
			slog.Info("build command cancelled", "dir", dir, "cmd", argv[0])
			return output, m.OutcomeError
		}

		slog.Warn("build command timed out", "dir", dir, "cmd", argv[0], "timeout", timeout)

		return output, m.OutcomeTimeout
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, m.OutcomeTestsFailed
	}

	slog.Error("build command failed to start", "dir", dir, "cmd", argv[0], "error", err)

	return output, m.OutcomeError
}

// parseTestReports reads every XML file in the report directory and merges
// the parsed suites into one report.
func (r *ExecRunner) parseTestReports(path m.Path) (*m.TestReport, error) {
	reportDir := r.fs.JoinPath(string(path), r.config.TestReportDir)

	pattern := filepath.Join(string(reportDir), "*.xml")

	files, err := filepath.Glob(pattern)
	if err != nil || len(files) == 0 {
		return nil, errors.New("no report files found")
	}

	merged := &m.TestReport{}

	for _, file := range files {
		content, err := r.fs.ReadFile(m.Path(file))
		if err != nil {
			slog.Warn("failed to read test report", "file", file, "error", err)
			continue
		}

		report, err := r.parser.ParseTestReport(content)
		if err != nil {
			slog.Warn("failed to parse test report", "file", file, "error", err)
			continue
		}

		merged.Methods = append(merged.Methods, report.Methods...)
	}

	if len(merged.Methods) == 0 {
		return nil, errors.New("report files present but none parseable")
	}

	return merged, nil
}
