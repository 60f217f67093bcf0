package domain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// KillMatrixBuilder determines which tests kill which mutants, using one
// private sandbox per mutant. Parallelism is a performance concern only:
// serial and k-parallel builds produce the same matrix for the same input.
type KillMatrixBuilder struct {
	sandboxes SandboxManager
	runner    adapter.Runner
	fs        adapter.SandboxFS
}

// NewKillMatrixBuilder constructs a KillMatrixBuilder.
func NewKillMatrixBuilder(sandboxes SandboxManager, runner adapter.Runner, fs adapter.SandboxFS) *KillMatrixBuilder {
	return &KillMatrixBuilder{sandboxes: sandboxes, runner: runner, fs: fs}
}

// mutantVerdict is the per-mutant evaluation result, collected per worker
// and folded into the matrix in input order so the outcome is deterministic
// regardless of scheduling.
type mutantVerdict struct {
	killers  []string // test-case ids that killed the mutant
	invalid  bool     // patch did not apply; excluded from evaluation
	survived bool
}

// Build evaluates the mutants against the tests with at most parallelism
// concurrent sandboxes (1 or less means serial). Mutant statuses are updated
// in place; the returned matrix only references ids from the given sets.
func (b *KillMatrixBuilder) Build(ctx context.Context, mutants []m.Mutant, tests []m.TestCase, project m.Path, parallelism int) *m.KillMatrix {
	verdicts := make([]mutantVerdict, len(mutants))

	group, groupCtx := errgroup.WithContext(ctx)
	if parallelism > 1 {
		group.SetLimit(parallelism)
	} else {
		group.SetLimit(1)
	}

	for i := range mutants {
		group.Go(func() error {
			verdicts[i] = b.evaluateMutant(groupCtx, &mutants[i], tests, project)
			return nil
		})
	}

	// Workers never return errors: every failure is contained to its mutant.
	_ = group.Wait()

	matrix := m.NewKillMatrix()
	now := time.Now().UTC()

	for i := range mutants {
		verdict := verdicts[i]

		if !verdict.invalid && mutants[i].Status == m.MutantPending {
			// Patch applied and the run completed: the mutant is evaluable.
			if err := mutants[i].Transition(m.MutantValid); err != nil {
				slog.Warn("mutant not validatable", "mutant", mutants[i].ID, "error", err)
			}
		}

		switch {
		case verdict.invalid:
			// Not evaluated; excluded from scoring, absent from the matrix.
			if err := mutants[i].Transition(m.MutantInvalid); err != nil {
				slog.Warn("invalid mutant already transitioned", "mutant", mutants[i].ID, "error", err)
			}
		case verdict.survived:
			if err := mutants[i].RecordSurvival(now); err != nil {
				slog.Warn("survival not recorded", "mutant", mutants[i].ID, "error", err)
			}
		default:
			for _, killer := range verdict.killers {
				matrix.AddKill(mutants[i].ID, killer)
			}

			if err := mutants[i].RecordKill(verdict.killers, now); err != nil {
				slog.Warn("kill not recorded", "mutant", mutants[i].ID, "error", err)
			}
		}
	}

	return matrix
}

// evaluateMutant runs the test set against one patched sandbox. Any
// worker-local failure defaults the mutant to survived: fail-safe, never
// fail-open to killed.
func (b *KillMatrixBuilder) evaluateMutant(ctx context.Context, mutant *m.Mutant, tests []m.TestCase, project m.Path) mutantVerdict {
	sandboxID, sandboxPath, err := b.sandboxes.CreateTargetSandbox(ctx, project, mutant.Class, mutant.Method)
	if err != nil {
		slog.Error("sandbox unavailable for mutant, skipping evaluation", "mutant", mutant.ID, "error", err)
		return mutantVerdict{invalid: true}
	}

	defer b.sandboxes.Cleanup(ctx, sandboxID)

	if err := ApplyPatch(b.fs, sandboxPath, mutant.Patch); err != nil {
		// Distinct from a real survival: the mutant was never exercised.
		slog.Warn("patch did not apply, mutant excluded from evaluation", "mutant", mutant.ID, "error", err)
		return mutantVerdict{invalid: true}
	}

	result := b.runner.Test(ctx, sandboxPath)

	switch result.Outcome {
	case m.OutcomeOK:
		return mutantVerdict{survived: true}
	case m.OutcomeTimeout, m.OutcomeError:
		// Fail-safe: an inconclusive run never counts as a kill.
		slog.Warn("mutant run inconclusive, conservatively treated as surviving",
			"mutant", mutant.ID, "outcome", result.Outcome.String())
		return mutantVerdict{survived: true}
	case m.OutcomeCompileFailed:
		// No structured report under failure: the build itself broke, which
		// is attributable to the mutation. Killed by all tests.
		return mutantVerdict{killers: allTestIDs(tests)}
	}

	if result.Report == nil {
		return mutantVerdict{killers: allTestIDs(tests)}
	}

	killers, unmatched := matchFailuresToTests(result.Report, tests)
	if len(unmatched) > 0 {
		// A silent mismatch would under-count kills; fall back to all tests.
		slog.Warn("failing test names not matched to known test cases, falling back to all-tests-fail",
			"mutant", mutant.ID, "unmatched", unmatched)
		return mutantVerdict{killers: allTestIDs(tests)}
	}

	if len(killers) == 0 {
		// Report carried no failures despite a failing run; fail-safe.
		slog.Warn("failing run produced a clean report, conservatively treated as surviving", "mutant", mutant.ID)
		return mutantVerdict{survived: true}
	}

	return mutantVerdict{killers: killers}
}

// matchFailuresToTests maps failing fully-qualified test names back to
// test-case ids. Unmatched names are returned so the caller can apply the
// conservative all-tests-fail fallback.
func matchFailuresToTests(report *m.TestReport, tests []m.TestCase) (killers, unmatched []string) {
	seen := make(map[string]struct{})

	for _, failure := range report.Failing() {
		id, ok := testCaseForClassName(tests, failure.Class)
		if !ok {
			unmatched = append(unmatched, failure.FullName())
			continue
		}

		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			killers = append(killers, id)
		}
	}

	return killers, unmatched
}

// testCaseForClassName resolves a report classname to a test case. Reports
// carry fully-qualified names; stored cases may carry the simple name.
func testCaseForClassName(tests []m.TestCase, className string) (string, bool) {
	for _, tc := range tests {
		if tc.Name == className || strings.HasSuffix(className, "."+tc.Name) {
			return tc.ID, true
		}
	}

	return "", false
}

func allTestIDs(tests []m.TestCase) []string {
	ids := make([]string, 0, len(tests))
	for _, tc := range tests {
		ids = append(ids, tc.ID)
	}

	return ids
}
