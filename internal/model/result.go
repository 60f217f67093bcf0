package model

// Outcome classifies the result of a compile or test invocation. Expected
// failure modes are values here, not errors: callers must handle each case.
type Outcome int

const (
	// OutcomeOK means the invocation succeeded.
	OutcomeOK Outcome = iota
	// OutcomeCompileFailed means the build broke before tests ran.
	OutcomeCompileFailed
	// OutcomeTestsFailed means the build succeeded but tests failed.
	OutcomeTestsFailed
	// OutcomeTimeout means the invocation exceeded its deadline. Timeout is
	// a distinguished outcome, never folded into a generic failure.
	OutcomeTimeout
	// OutcomeError means the invocation itself could not run (missing tool,
	// missing directory).
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCompileFailed:
		return "compile_failed"
	case OutcomeTestsFailed:
		return "tests_failed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	}

	return "unknown"
}

// MethodResult is the per-method verdict parsed from a structured test report.
type MethodResult struct {
	Class   string
	Name    string
	Outcome Outcome
	Message string
}

// FullName returns the fully-qualified test name used in reports.
func (mr MethodResult) FullName() string {
	return mr.Class + "#" + mr.Name
}

// TestReport is the structured result of one test run.
type TestReport struct {
	Methods []MethodResult
}

// Failing returns the methods that failed (not timed out).
func (tr *TestReport) Failing() []MethodResult {
	var failing []MethodResult

	for _, method := range tr.Methods {
		if method.Outcome == OutcomeTestsFailed {
			failing = append(failing, method)
		}
	}

	return failing
}

// RunResult is the outcome of one compile or test invocation. Report is nil
// when no structured report was produced (typically a compile error).
type RunResult struct {
	Outcome Outcome
	Output  string
	Report  *TestReport
}

// Counter holds covered/missed totals for one coverage dimension.
type Counter struct {
	Covered int `yaml:"covered"`
	Missed  int `yaml:"missed"`
}

// Ratio returns covered / (covered + missed), or 0 when empty.
func (c Counter) Ratio() float64 {
	total := c.Covered + c.Missed
	if total == 0 {
		return 0
	}

	return float64(c.Covered) / float64(total)
}

// MethodCoverage is the per-method coverage snapshot.
type MethodCoverage struct {
	Class  string  `yaml:"class"`
	Method string  `yaml:"method"`
	Line   Counter `yaml:"line"`
	Branch Counter `yaml:"branch"`
}

// CoverageReport aggregates line and branch coverage for one run.
type CoverageReport struct {
	Line    Counter          `yaml:"line"`
	Branch  Counter          `yaml:"branch"`
	Methods []MethodCoverage `yaml:"methods,omitempty"`
}

// GeneratedFile carries the content of a generated artifact keyed by its
// path relative to the project root. Workers return contents, not sandbox
// paths: the sandbox is gone by the time results are merged.
type GeneratedFile struct {
	Path    Path
	Content []byte
}

// WorkerResult is what one dispatch worker hands back to the scheduler.
type WorkerResult struct {
	Target         Target
	Success        bool
	Reason         string
	Files          []GeneratedFile
	Mutants        []Mutant
	TestsRetained  int
	TestsDropped   int
	GeneratorCalls int
}
