package model

import "time"

// ImprovementEntry records the score movement of one batch, used by the
// no-improvement stop condition.
type ImprovementEntry struct {
	Iteration     int       `yaml:"iteration"`
	MutationScore float64   `yaml:"mutation_score"`
	LineCoverage  float64   `yaml:"line_coverage"`
	At            time.Time `yaml:"at"`
}

// RunState is the global state of one run. It is shared across batches but
// owned exclusively by the scheduler; workers never touch it directly and
// communicate through WorkerResult values instead.
//
// The snapshot is serializable so an interrupted run can be resumed.
type RunState struct {
	RunID            string             `yaml:"run_id"`
	Iteration        int                `yaml:"iteration"`
	TotalMutants     int                `yaml:"total_mutants"`
	KilledMutants    int                `yaml:"killed_mutants"`
	SurvivedMutants  int                `yaml:"survived_mutants"`
	MutationScore    float64            `yaml:"mutation_score"`
	LineCoverage     float64            `yaml:"line_coverage"`
	BranchCoverage   float64            `yaml:"branch_coverage"`
	GenerationCalls  int                `yaml:"generation_calls"`
	GenerationBudget int                `yaml:"generation_budget"`
	MergeConflicts   int                `yaml:"merge_conflicts"`
	Blacklist        []BlacklistEntry   `yaml:"blacklist,omitempty"`
	Processed        []Target           `yaml:"processed,omitempty"`
	Improvements     []ImprovementEntry `yaml:"improvements,omitempty"`
	StartedAt        time.Time          `yaml:"started_at"`
	UpdatedAt        time.Time          `yaml:"updated_at"`
}

// Score returns the current mutation score, 0 when nothing was evaluated.
func (rs *RunState) Score() float64 {
	evaluated := rs.KilledMutants + rs.SurvivedMutants
	if evaluated == 0 {
		return 0
	}

	return float64(rs.KilledMutants) / float64(evaluated)
}

// BudgetExhausted reports whether the generation-call budget is spent.
// A zero budget means unlimited.
func (rs *RunState) BudgetExhausted() bool {
	return rs.GenerationBudget > 0 && rs.GenerationCalls >= rs.GenerationBudget
}

// RecordImprovement appends a batch's scores to the bounded improvement log.
func (rs *RunState) RecordImprovement(entry ImprovementEntry, bound int) {
	rs.Improvements = append(rs.Improvements, entry)
	if bound > 0 && len(rs.Improvements) > bound {
		rs.Improvements = rs.Improvements[len(rs.Improvements)-bound:]
	}
}
