package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"coevo.dev/pkg/coevo/internal/adapter"
	"coevo.dev/pkg/coevo/internal/controller"
	m "coevo.dev/pkg/coevo/internal/model"
	"coevo.dev/pkg/coevo/pkg"
)

// Batch phase names, in execution order.
const (
	phaseSelect   = "select"
	phaseDispatch = "dispatch"
	phaseMerge    = "merge"
	phaseEvaluate = "evaluate"
	phaseSync     = "sync"
)

const mainSourceRoot = "src/main/java/"

// RunConfig holds the tunables of one run.
type RunConfig struct {
	BatchSize            int
	Parallelism          int
	MaxIterations        int
	GenerationBudget     int
	NoImprovementWindow  int
	NoImprovementDelta   float64
	TargetScore          float64
	TargetLineCoverage   float64
	TargetBranchCoverage float64
	StateFile            m.Path
}

// DefaultRunConfig returns the defaults used when no configuration overrides
// them.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		BatchSize:            4,
		Parallelism:          4,
		MaxIterations:        0,
		GenerationBudget:     0,
		NoImprovementWindow:  5,
		NoImprovementDelta:   0.005,
		TargetScore:          0.95,
		TargetLineCoverage:   0.95,
		TargetBranchCoverage: 0.90,
		StateFile:            ".coevo/run-state.yaml",
	}
}

// BatchRecord is one audit entry in the scheduler's action log.
type BatchRecord struct {
	Iteration      int
	Targets        []string
	Succeeded      int
	Failed         int
	MergeConflicts int
	MutationScore  float64
	LineCoverage   float64
	BranchCoverage float64
	At             time.Time
}

// Scheduler drives the batch loop: select targets, dispatch workers, merge
// their artifacts, evaluate the merged result, sync durable state, and check
// the stop conditions. The scheduler exclusively owns the run state; workers
// communicate through WorkerResult values and the store.
type Scheduler struct {
	project m.Path
	config  RunConfig

	fs          adapter.SandboxFS
	runner      adapter.Runner
	store       adapter.Store
	sandboxes   SandboxManager
	dispatcher  *Dispatcher
	verifier    *Verifier
	coordinator *TargetCoordinator
	strategy    Strategy
	ui          controller.UI
	history     pkg.ActionLog[BatchRecord]

	state *m.RunState
	known map[string]m.Target
}

// NewScheduler constructs a Scheduler. A nil state starts a fresh run; a
// state loaded from a snapshot resumes it, seeding the coordinator with the
// processed and blacklisted targets.
func NewScheduler(
	project m.Path,
	config RunConfig,
	fs adapter.SandboxFS,
	runner adapter.Runner,
	store adapter.Store,
	sandboxes SandboxManager,
	dispatcher *Dispatcher,
	verifier *Verifier,
	coordinator *TargetCoordinator,
	strategy Strategy,
	ui controller.UI,
	history pkg.ActionLog[BatchRecord],
	state *m.RunState,
) *Scheduler {
	scheduler := &Scheduler{
		project:     project,
		config:      config,
		fs:          fs,
		runner:      runner,
		store:       store,
		sandboxes:   sandboxes,
		dispatcher:  dispatcher,
		verifier:    verifier,
		coordinator: coordinator,
		strategy:    strategy,
		ui:          ui,
		history:     history,
		state:       state,
		known:       make(map[string]m.Target),
	}

	if state == nil {
		now := time.Now().UTC()
		scheduler.state = &m.RunState{
			RunID:            uuid.NewString()[:8],
			GenerationBudget: config.GenerationBudget,
			StartedAt:        now,
			UpdatedAt:        now,
		}
	} else {
		coordinator.Restore(state.Processed, state.Blacklist)

		for _, target := range state.Processed {
			scheduler.known[target.Key()] = target
		}

		for _, entry := range state.Blacklist {
			scheduler.known[entry.Target.Key()] = entry.Target
		}
	}

	return scheduler
}

// Run executes batches until a stop condition fires. On interruption the
// current snapshot is saved and ErrInterrupted returned; the run can be
// resumed from the snapshot.
func (s *Scheduler) Run(ctx context.Context) (*m.RunState, error) {
	s.ui.DisplayRunInfo(ctx, s.state.RunID, s.config.Parallelism, s.config.BatchSize, s.strategy.Name())

	if err := s.bootstrap(ctx); err != nil {
		return s.state, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.interrupt(err)
		}

		if reason, stop := s.shouldStop(); stop {
			return s.finish(ctx, reason)
		}

		s.state.Iteration++

		s.ui.DisplayPhase(ctx, s.state.Iteration, phaseSelect)

		targets, err := s.selectTargets(ctx)
		if err != nil {
			return s.state, fmt.Errorf("select targets: %w", err)
		}

		if len(targets) == 0 {
			s.state.Iteration--
			return s.finish(ctx, "no selectable targets remain")
		}

		s.ui.DisplayBatchStarted(ctx, s.state.Iteration, targets)

		s.ui.DisplayPhase(ctx, s.state.Iteration, phaseDispatch)
		results := s.dispatch(ctx, targets)

		if err := ctx.Err(); err != nil {
			// Workers that finished before the interrupt produced verified
			// files; commit them without the combined-build check, which
			// would need build runs the cancellation forbids.
			merge := MergeGeneratedFiles(results)
			s.state.MergeConflicts += merge.Conflicts

			if writeErr := WriteGeneratedFiles(s.fs, s.project, merge.Files); writeErr != nil {
				slog.Error("merged files not committed on interrupt", "error", writeErr)
			}

			return s.interrupt(err)
		}

		s.ui.DisplayPhase(ctx, s.state.Iteration, phaseMerge)

		merge := MergeGeneratedFiles(results)
		s.state.MergeConflicts += merge.Conflicts

		s.ui.DisplayPhase(ctx, s.state.Iteration, phaseEvaluate)

		retained := s.evaluateMergedFiles(ctx, merge.Files)
		if len(retained) > 0 {
			if err := WriteGeneratedFiles(s.fs, s.project, retained); err != nil {
				return s.state, fmt.Errorf("commit merged files: %w", err)
			}
		}

		s.evaluateBatchMutants(ctx, results)

		s.ui.DisplayPhase(ctx, s.state.Iteration, phaseSync)

		if err := s.sync(ctx, results); err != nil {
			return s.state, err
		}

		s.ui.DisplayBatchSummary(ctx, *s.state)
	}
}

// bootstrap registers the class-to-file mapping and takes an initial coverage
// snapshot when none exists, so the first selection has data to work with.
func (s *Scheduler) bootstrap(ctx context.Context) error {
	files, err := s.fs.ListFiles(s.project, ".java")
	if err != nil {
		return fmt.Errorf("scan project sources: %w", err)
	}

	registered := 0

	for _, file := range files {
		class, ok := classForSourcePath(file)
		if !ok {
			continue
		}

		if err := s.store.SaveClassFile(ctx, class, file); err != nil {
			return fmt.Errorf("register class %s: %w", class, err)
		}

		registered++
	}

	slog.Info("registered project classes", "count", registered)

	coverage, err := s.store.LatestCoverage(ctx)
	if err != nil {
		return fmt.Errorf("load coverage: %w", err)
	}

	if coverage == nil {
		s.collectCoverage(ctx)
	}

	return nil
}

// selectTargets asks the strategy for candidates and atomically claims them.
// Targets whose claim fails are skipped, never retried within the batch.
func (s *Scheduler) selectTargets(ctx context.Context) ([]m.Target, error) {
	excluded := make(map[string]struct{})
	for _, key := range s.coordinator.ExcludedKeys() {
		excluded[key] = struct{}{}
	}

	picked, err := s.strategy.Pick(ctx, s.store, s.config.BatchSize, excluded)
	if err != nil {
		return nil, err
	}

	var claimed []m.Target

	for _, target := range picked {
		if !s.coordinator.Acquire(target) {
			slog.Debug("target claim lost", "target", target.Key())
			continue
		}

		s.known[target.Key()] = target

		// A re-selected target supersedes its previous mutants.
		if err := s.store.OutdateMutants(ctx, target); err != nil {
			slog.Warn("previous mutants not outdated", "target", target.Key(), "error", err)
		}

		claimed = append(claimed, target)
	}

	return claimed, nil
}

// dispatch runs one worker per target with bounded parallelism. Results are
// collected in dispatch order so the downstream merge is deterministic.
func (s *Scheduler) dispatch(ctx context.Context, targets []m.Target) []m.WorkerResult {
	results := make([]m.WorkerResult, len(targets))

	group, groupCtx := errgroup.WithContext(ctx)
	if s.config.Parallelism > 1 {
		group.SetLimit(s.config.Parallelism)
	} else {
		group.SetLimit(1)
	}

	for i := range targets {
		group.Go(func() error {
			results[i] = s.processTarget(groupCtx, targets[i])
			return nil
		})
	}

	// Worker failures are contained to their WorkerResult.
	_ = group.Wait()

	for i := range results {
		s.state.GenerationCalls += results[i].GeneratorCalls

		// Blacklisted targets were already moved out of the active state.
		if s.coordinator.State(targets[i]) == m.TargetActive {
			s.coordinator.Release(targets[i], results[i].Success)
		}

		s.ui.DisplayTargetResult(ctx, results[i])
	}

	return results
}

// evaluateMergedFiles compiles the merged artifacts together and strips the
// files that break the combined build, using the conflict isolator. Dropped
// files stay in the store but are not committed to the shared tree.
func (s *Scheduler) evaluateMergedFiles(ctx context.Context, files []m.GeneratedFile) []m.GeneratedFile {
	if len(files) == 0 {
		return nil
	}

	ok, err := s.compileFiles(ctx, files)
	if err != nil {
		slog.Error("merged build not verifiable, holding back batch artifacts", "error", err)
		return nil
	}

	if ok {
		return files
	}

	blamed, err := Isolate(ctx, files,
		func(file m.GeneratedFile) string { return string(file.Path) },
		func(ctx context.Context, subset []m.GeneratedFile) (bool, error) {
			return s.compileFiles(ctx, subset)
		})
	if err != nil {
		slog.Error("merged build isolation failed, holding back batch artifacts", "error", err)
		return nil
	}

	dropped := make(map[m.Path]struct{}, len(blamed))
	for _, file := range blamed {
		dropped[file.Path] = struct{}{}
		slog.Warn("merged file breaks the combined build, not committed", "path", file.Path)
	}

	var retained []m.GeneratedFile

	for _, file := range files {
		if _, skip := dropped[file.Path]; !skip {
			retained = append(retained, file)
		}
	}

	return retained
}

// compileFiles writes the files into a fresh sandbox and compiles.
func (s *Scheduler) compileFiles(ctx context.Context, files []m.GeneratedFile) (bool, error) {
	sandboxID, sandboxPath, err := s.sandboxes.CreateTargetSandbox(ctx, s.project, "batch", "merge")
	if err != nil {
		return false, err
	}

	defer s.sandboxes.Cleanup(ctx, sandboxID)

	if err := WriteGeneratedFiles(s.fs, sandboxPath, files); err != nil {
		return false, err
	}

	run := s.runner.Compile(ctx, sandboxPath)

	return run.Outcome == m.OutcomeOK, nil
}

// evaluateBatchMutants builds the kill matrix for the batch's mutants against
// the full current test suite and persists the evaluated statuses.
func (s *Scheduler) evaluateBatchMutants(ctx context.Context, results []m.WorkerResult) {
	var mutants []m.Mutant
	for _, result := range results {
		mutants = append(mutants, result.Mutants...)
	}

	if len(mutants) == 0 {
		return
	}

	tests, err := s.store.CurrentTestCases(ctx)
	if err != nil {
		slog.Error("test suite not loadable, mutants left pending", "error", err)
		return
	}

	out, err := s.dispatcher.Dispatch(ctx, EvaluateCommand{
		Mutants:     mutants,
		Tests:       tests,
		Project:     s.project,
		Parallelism: s.config.Parallelism,
	})
	if err != nil {
		slog.Error("mutant evaluation failed, mutants left pending", "error", err)
		return
	}

	for i := range out.Mutants {
		if err := s.store.UpdateMutant(ctx, &out.Mutants[i]); err != nil {
			slog.Warn("mutant status not persisted", "mutant", out.Mutants[i].ID, "error", err)
		}
	}
}

// collectCoverage runs the instrumented suite in a sandbox and stores the
// snapshot. A failed coverage run keeps the previous snapshot.
func (s *Scheduler) collectCoverage(ctx context.Context) {
	sandboxID, sandboxPath, err := s.sandboxes.CreateTargetSandbox(ctx, s.project, "batch", "coverage")
	if err != nil {
		slog.Warn("coverage sandbox unavailable, keeping previous snapshot", "error", err)
		return
	}

	defer s.sandboxes.Cleanup(ctx, sandboxID)

	out, err := s.dispatcher.Dispatch(ctx, CollectCoverageCommand{Project: sandboxPath})
	if err != nil || out.Coverage == nil {
		slog.Warn("coverage run failed, keeping previous snapshot", "outcome", out.Run.Outcome.String(), "error", err)
		return
	}

	if err := s.store.SaveCoverage(ctx, out.Coverage); err != nil {
		slog.Warn("coverage snapshot not persisted", "error", err)
		return
	}

	s.state.LineCoverage = out.Coverage.Line.Ratio()
	s.state.BranchCoverage = out.Coverage.Branch.Ratio()
}

// sync recomputes the run statistics from the store, persists the snapshot
// and appends the audit record. The store is the only source of truth here;
// worker-local numbers are never trusted for scoring.
func (s *Scheduler) sync(ctx context.Context, results []m.WorkerResult) error {
	s.collectCoverage(ctx)

	evaluated, err := s.store.EvaluatedMutants(ctx)
	if err != nil {
		return fmt.Errorf("load evaluated mutants: %w", err)
	}

	killed, survived := 0, 0

	for _, mutant := range evaluated {
		if mutant.Status == m.MutantKilled {
			killed++
		} else {
			survived++
		}
	}

	s.state.TotalMutants = len(evaluated)
	s.state.KilledMutants = killed
	s.state.SurvivedMutants = survived
	s.state.MutationScore = s.state.Score()
	s.state.Processed, s.state.Blacklist = s.coordinator.Snapshot(s.known)
	s.state.UpdatedAt = time.Now().UTC()

	s.state.RecordImprovement(m.ImprovementEntry{
		Iteration:     s.state.Iteration,
		MutationScore: s.state.MutationScore,
		LineCoverage:  s.state.LineCoverage,
		At:            s.state.UpdatedAt,
	}, s.improvementBound())

	succeeded, failed := 0, 0
	targets := make([]string, 0, len(results))

	for _, result := range results {
		targets = append(targets, result.Target.Key())

		if result.Success {
			succeeded++
		} else {
			failed++
		}
	}

	if err := s.history.Append(BatchRecord{
		Iteration:      s.state.Iteration,
		Targets:        targets,
		Succeeded:      succeeded,
		Failed:         failed,
		MergeConflicts: s.state.MergeConflicts,
		MutationScore:  s.state.MutationScore,
		LineCoverage:   s.state.LineCoverage,
		BranchCoverage: s.state.BranchCoverage,
		At:             s.state.UpdatedAt,
	}); err != nil {
		slog.Warn("batch record not appended", "error", err)
	}

	return s.saveSnapshot()
}

// shouldStop evaluates the stop conditions against the current state.
func (s *Scheduler) shouldStop() (string, bool) {
	if s.state.BudgetExhausted() {
		return "generation budget exhausted", true
	}

	if s.config.MaxIterations > 0 && s.state.Iteration >= s.config.MaxIterations {
		return fmt.Sprintf("iteration ceiling (%d) reached", s.config.MaxIterations), true
	}

	if s.excellent() {
		return "quality thresholds reached", true
	}

	if reason, stop := s.stagnated(); stop {
		return reason, true
	}

	return "", false
}

func (s *Scheduler) excellent() bool {
	if s.config.TargetScore <= 0 || s.config.TargetLineCoverage <= 0 || s.config.TargetBranchCoverage <= 0 {
		return false
	}

	// Thresholds only count once something was actually evaluated.
	if s.state.TotalMutants == 0 {
		return false
	}

	return s.state.MutationScore >= s.config.TargetScore &&
		s.state.LineCoverage >= s.config.TargetLineCoverage &&
		s.state.BranchCoverage >= s.config.TargetBranchCoverage
}

func (s *Scheduler) stagnated() (string, bool) {
	window := s.config.NoImprovementWindow
	if window <= 0 || len(s.state.Improvements) <= window {
		return "", false
	}

	base := s.state.Improvements[len(s.state.Improvements)-1-window]
	last := s.state.Improvements[len(s.state.Improvements)-1]

	scoreDelta := last.MutationScore - base.MutationScore
	lineDelta := last.LineCoverage - base.LineCoverage

	if scoreDelta < s.config.NoImprovementDelta && lineDelta < s.config.NoImprovementDelta {
		return fmt.Sprintf("no improvement in the last %d batches", window), true
	}

	return "", false
}

func (s *Scheduler) improvementBound() int {
	if s.config.NoImprovementWindow > 0 {
		return s.config.NoImprovementWindow + 1
	}

	return 50
}

func (s *Scheduler) interrupt(cause error) (*m.RunState, error) {
	if err := s.saveSnapshot(); err != nil {
		slog.Error("snapshot not saved on interrupt", "error", err)
	}

	return s.state, fmt.Errorf("%w: %v", ErrInterrupted, cause)
}

func (s *Scheduler) finish(ctx context.Context, reason string) (*m.RunState, error) {
	if err := s.saveSnapshot(); err != nil {
		slog.Error("final snapshot not saved", "error", err)
	}

	s.ui.DisplayRunSummary(ctx, *s.state, reason)

	slog.Info("run finished",
		"run", s.state.RunID,
		"reason", reason,
		"iterations", s.state.Iteration,
		"score", s.state.MutationScore,
		"line", s.state.LineCoverage,
		"branch", s.state.BranchCoverage)

	return s.state, nil
}

func (s *Scheduler) saveSnapshot() error {
	path := s.config.StateFile
	if !strings.HasPrefix(string(path), "/") {
		path = s.fs.JoinPath(string(s.project), string(path))
	}

	return SaveRunState(s.fs, path, s.state)
}

// classForSourcePath maps a main-tree source path to its fully qualified
// class name.
func classForSourcePath(file m.Path) (string, bool) {
	path := strings.ReplaceAll(string(file), "\\", "/")
	if !strings.HasPrefix(path, mainSourceRoot) {
		return "", false
	}

	path = strings.TrimPrefix(path, mainSourceRoot)
	path = strings.TrimSuffix(path, ".java")

	return strings.ReplaceAll(path, "/", "."), true
}
