package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// VerificationStatus is the state of a generated test artifact in the
// verification and repair state machine.
type VerificationStatus int

const (
	// VerificationWritten is the initial state of a freshly generated artifact.
	VerificationWritten VerificationStatus = iota
	// VerificationRepaired means at least one method was retained and the
	// retained set compiles and passes.
	VerificationRepaired
	// VerificationDiscarded means zero methods survived verification; the
	// owning target must be blacklisted.
	VerificationDiscarded
)

// VerificationResult is the terminal result of verifying one test case.
type VerificationResult struct {
	Status   VerificationStatus
	Retained []m.TestMethod
	Dropped  []string
	Repairs  int
	Reason   string
	// GeneratorCalls counts the repair calls consumed, for budget accounting.
	GeneratorCalls int
}

// methodMarker delimits method bodies in a rendered test class so a
// whole-file repair can be split back into methods.
const methodMarker = "// @coevo:method "

// Verifier drives generated test code through compile, run and repair until
// the remaining method set is self-consistent, or nothing is left.
type Verifier struct {
	sandboxes  SandboxManager
	runner     adapter.Runner
	fs         adapter.SandboxFS
	dispatcher *Dispatcher
	store      adapter.Store

	// maxRepairAttempts bounds the compile-repair loop per artifact.
	maxRepairAttempts int
	// maxRounds bounds the outer compile/run cycles per artifact.
	maxRounds int
}

// NewVerifier constructs a Verifier. Repairs go through the dispatcher so
// every generator call is counted against the generation budget.
func NewVerifier(sandboxes SandboxManager, runner adapter.Runner, fs adapter.SandboxFS, dispatcher *Dispatcher, store adapter.Store) *Verifier {
	return &Verifier{
		sandboxes:         sandboxes,
		runner:            runner,
		fs:                fs,
		dispatcher:        dispatcher,
		store:             store,
		maxRepairAttempts: 3,
		maxRounds:         3,
	}
}

// Verify runs the state machine for one test case against the project tree.
// The case's methods are mutated in place (repairs bump versions, drops
// remove methods); the store is consulted before final acceptance so the
// result is consistent with concurrently merged content.
func (v *Verifier) Verify(ctx context.Context, project m.Path, tc *m.TestCase) (VerificationResult, error) {
	result := VerificationResult{Status: VerificationWritten}

	for round := 0; round < v.maxRounds && len(tc.Methods) > 0; round++ {
		compileErr, err := v.compileWithRepairs(ctx, project, tc, &result)
		if err != nil {
			return result, err
		}

		if compileErr != "" {
			// Repair bound exhausted: restore known-good content and give up.
			v.restoreKnownGood(ctx, tc)

			result.Status = VerificationDiscarded
			result.Reason = "compile error not repairable: " + firstLine(compileErr)

			return result, nil
		}

		runResult, err := v.runCase(ctx, project, tc)
		if err != nil {
			return result, err
		}

		switch runResult.Outcome {
		case m.OutcomeOK:
			return v.accept(ctx, tc, result)
		case m.OutcomeTimeout:
			if err := v.isolateHangs(ctx, project, tc, &result); err != nil {
				return result, err
			}
		case m.OutcomeTestsFailed:
			if runResult.Report == nil {
				// Should have been a compile failure; drop everything.
				result.Status = VerificationDiscarded
				result.Reason = "test run failed without a report"

				return result, nil
			}

			if err := v.repairFailures(ctx, project, tc, runResult.Report, &result); err != nil {
				return result, err
			}
		default:
			result.Status = VerificationDiscarded
			result.Reason = "test run could not be executed: " + runResult.Outcome.String()

			return result, nil
		}
	}

	if len(tc.Methods) > 0 {
		// Rounds exhausted with methods still unproven; discard the artifact
		// rather than accept unverified tests.
		for _, method := range tc.Methods {
			result.Dropped = append(result.Dropped, method.Name)
		}

		tc.Methods = nil
	}

	result.Status = VerificationDiscarded
	if result.Reason == "" {
		result.Reason = "no method survived verification"
	}

	return result, nil
}

// compileWithRepairs writes the rendered case into a sandbox and compiles,
// asking the generator for a whole-file repair on each failure, up to the
// bound. It returns the final compiler diagnostic when the bound is
// exhausted, empty on success.
func (v *Verifier) compileWithRepairs(ctx context.Context, project m.Path, tc *m.TestCase, result *VerificationResult) (string, error) {
	var lastDiagnostic string

	for attempt := 0; attempt <= v.maxRepairAttempts; attempt++ {
		compile, err := v.validateCase(ctx, project, tc, false)
		if err != nil {
			return "", err
		}

		if compile.Outcome != m.OutcomeCompileFailed {
			return "", nil
		}

		lastDiagnostic = compile.Output
		if attempt == v.maxRepairAttempts {
			break
		}

		out, err := v.dispatcher.Dispatch(ctx, RepairCommand{Code: RenderTestClass(tc), Diagnostic: compile.Output})
		if err != nil {
			return "", err
		}

		result.GeneratorCalls += out.GeneratorCalls

		if out.RepairedCode == "" {
			slog.Warn("compile repair produced nothing", "case", tc.ID, "attempt", attempt)
			continue
		}

		methods, ok := splitRenderedClass(out.RepairedCode)
		if !ok {
			slog.Warn("repaired class lost method markers, attempt wasted", "case", tc.ID, "attempt", attempt)
			continue
		}

		for name, code := range methods {
			tc.Upsert(name, code)
		}

		result.Repairs++
	}

	return lastDiagnostic, nil
}

// runCase executes the full rendered case in a fresh sandbox.
func (v *Verifier) runCase(ctx context.Context, project m.Path, tc *m.TestCase) (m.RunResult, error) {
	return v.validateCase(ctx, project, tc, true)
}

// validateCase writes the rendered case into a private sandbox and compiles
// (and optionally runs) it. The sandbox never outlives the call.
func (v *Verifier) validateCase(ctx context.Context, project m.Path, tc *m.TestCase, run bool) (m.RunResult, error) {
	return v.validateMethods(ctx, project, tc, tc.Methods, run)
}

// validateMethods is validateCase restricted to a method subset; it backs
// both the verifier's own phases and the isolator's validator closure.
func (v *Verifier) validateMethods(ctx context.Context, project m.Path, tc *m.TestCase, methods []m.TestMethod, run bool) (m.RunResult, error) {
	sandboxID, sandboxPath, err := v.sandboxes.CreateTargetSandbox(ctx, project, tc.Class, tc.Name)
	if err != nil {
		return m.RunResult{}, fmt.Errorf("verification sandbox: %w", err)
	}

	defer v.sandboxes.Cleanup(ctx, sandboxID)

	subset := *tc
	subset.Methods = methods

	rendered := RenderTestClass(&subset)
	if err := v.fs.WriteFile(v.fs.JoinPath(string(sandboxPath), string(tc.File)), []byte(rendered), 0o600); err != nil {
		return m.RunResult{}, fmt.Errorf("write test class: %w", err)
	}

	if run {
		return v.runner.Test(ctx, sandboxPath), nil
	}

	return v.runner.Compile(ctx, sandboxPath), nil
}

// isolateHangs localizes the methods responsible for a run timeout using the
// conflict isolator, one sandbox per validation. Implicated methods are
// dropped, never repaired: repair attempts on a hang are futile. When no
// method can be blamed individually the whole artifact is discarded.
func (v *Verifier) isolateHangs(ctx context.Context, project m.Path, tc *m.TestCase, result *VerificationResult) error {
	blamed, err := Isolate(ctx, tc.Methods,
		func(method m.TestMethod) string { return method.Name },
		func(ctx context.Context, subset []m.TestMethod) (bool, error) {
			run, err := v.validateMethods(ctx, project, tc, subset, true)
			if err != nil {
				return false, err
			}

			return run.Outcome == m.OutcomeOK, nil
		})
	if err != nil {
		return err
	}

	if len(blamed) == len(tc.Methods) {
		slog.Warn("hang not attributable to a method subset, discarding artifact", "case", tc.ID)
	}

	for _, method := range blamed {
		tc.Remove(method.Name)
		result.Dropped = append(result.Dropped, method.Name)
		slog.Info("dropped hanging or failing method", "case", tc.ID, "method", method.Name)
	}

	return nil
}

// repairFailures handles a partial failure: every failing method gets one
// independent single-method repair, verified alone in its own sandbox.
// Repaired methods are kept, unrepairable ones dropped. Timed-out methods
// are dropped outright.
func (v *Verifier) repairFailures(ctx context.Context, project m.Path, tc *m.TestCase, report *m.TestReport, result *VerificationResult) error {
	for _, verdict := range report.Methods {
		method, ok := tc.Method(verdict.Name)
		if !ok {
			continue
		}

		switch verdict.Outcome {
		case m.OutcomeOK:
			continue
		case m.OutcomeTimeout:
			tc.Remove(method.Name)
			result.Dropped = append(result.Dropped, method.Name)
			slog.Info("dropped timed-out method", "case", tc.ID, "method", method.Name)

			continue
		}

		kept, err := v.repairMethod(ctx, project, tc, method, verdict.Message, result)
		if err != nil {
			return err
		}

		if kept {
			result.Repairs++
		} else {
			tc.Remove(method.Name)
			result.Dropped = append(result.Dropped, method.Name)
			slog.Info("dropped unrepairable method", "case", tc.ID, "method", method.Name)
		}
	}

	return nil
}

// repairMethod asks the generator for a fix and verifies the repaired method
// alone. It reports whether the method should be kept.
func (v *Verifier) repairMethod(ctx context.Context, project m.Path, tc *m.TestCase, method m.TestMethod, failure string, result *VerificationResult) (bool, error) {
	out, err := v.dispatcher.Dispatch(ctx, RepairCommand{Code: method.Code, Diagnostic: failure})
	if err != nil {
		return false, err
	}

	result.GeneratorCalls += out.GeneratorCalls

	if out.RepairedCode == "" {
		slog.Warn("method repair produced nothing", "case", tc.ID, "method", method.Name)
		return false, nil
	}

	candidate := method
	candidate.Code = out.RepairedCode

	run, err := v.validateMethods(ctx, project, tc, []m.TestMethod{candidate}, true)
	if err != nil {
		return false, err
	}

	if run.Outcome != m.OutcomeOK {
		return false, nil
	}

	tc.Upsert(method.Name, out.RepairedCode)

	return true, nil
}

// accept reloads the case from the authoritative store and intersects the
// locally retained methods with the merged current view, so a concurrent
// merge can shrink but never resurrect the retained set.
func (v *Verifier) accept(ctx context.Context, tc *m.TestCase, result VerificationResult) (VerificationResult, error) {
	stored, err := v.store.TestCase(ctx, tc.ID)
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return result, fmt.Errorf("reload test case %s: %w", tc.ID, err)
	}

	if stored != nil {
		for _, method := range tc.Methods {
			storedMethod, ok := stored.Method(method.Name)
			if ok && storedMethod.Version > method.Version {
				tc.Upsert(method.Name, storedMethod.Code)
			}
		}
	}

	if len(tc.Methods) == 0 {
		result.Status = VerificationDiscarded
		result.Reason = "no method survived verification"

		return result, nil
	}

	result.Status = VerificationRepaired
	result.Retained = append([]m.TestMethod(nil), tc.Methods...)

	return result, nil
}

// restoreKnownGood replaces the case's methods with the last stored version
// after an exhausted repair loop.
func (v *Verifier) restoreKnownGood(ctx context.Context, tc *m.TestCase) {
	stored, err := v.store.TestCase(ctx, tc.ID)
	if err != nil {
		slog.Warn("no known-good content to restore", "case", tc.ID, "error", err)

		tc.Methods = nil

		return
	}

	tc.Methods = append([]m.TestMethod(nil), stored.Methods...)
}

// RenderTestClass assembles a compilable test class from the case's
// preamble and methods. Each method is preceded by a marker comment so a
// whole-file repair can be split back into methods.
func RenderTestClass(tc *m.TestCase) string {
	var out strings.Builder

	if tc.Preamble != "" {
		out.WriteString(strings.TrimRight(tc.Preamble, "\n"))
		out.WriteString("\n\n")
	}

	out.WriteString("public class " + tc.Name + " {\n\n")

	for _, method := range tc.Methods {
		out.WriteString("    " + methodMarker + method.Name + "\n")
		out.WriteString(indent(strings.TrimRight(method.Code, "\n"), "    "))
		out.WriteString("\n\n")
	}

	out.WriteString("}\n")

	return out.String()
}

// splitRenderedClass recovers the per-method bodies from a rendered (or
// repaired) class using the marker comments. It fails when the markers were
// lost.
func splitRenderedClass(rendered string) (map[string]string, bool) {
	// Only the last method carries the class's closing brace; strip it once
	// here so no method body loses its own brace.
	rendered = strings.TrimSuffix(strings.TrimRight(rendered, "\n \t"), "}")

	lines := strings.Split(rendered, "\n")
	methods := make(map[string]string)

	var (
		current string
		body    []string
	)

	flush := func() {
		if current == "" {
			return
		}

		methods[current] = strings.TrimRight(dedent(strings.Join(body, "\n")), "\n \t")
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, strings.TrimSpace(methodMarker)) {
			flush()

			current = strings.TrimSpace(strings.TrimPrefix(trimmed, strings.TrimSpace(methodMarker)))
			body = nil

			continue
		}

		if current != "" {
			body = append(body, line)
		}
	}

	flush()

	if len(methods) == 0 {
		return nil, false
	}

	return methods, true
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}

	return strings.Join(lines, "\n")
}

func dedent(s string) string {
	lines := strings.Split(s, "\n")

	const prefix = "    "
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}

	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}

	return s
}
