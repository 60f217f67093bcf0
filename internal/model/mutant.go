// Package model defines the data structures shared by the coevo core.
package model

import (
	"fmt"
	"time"
)

// Path represents a file system path.
type Path string

// MutantStatus represents the lifecycle state of a mutant.
type MutantStatus string

const (
	// MutantPending means the mutant was proposed but not yet validated.
	MutantPending MutantStatus = "pending"
	// MutantValid means the patch applied cleanly and the mutant is evaluable.
	MutantValid MutantStatus = "valid"
	// MutantInvalid means the patch could not be applied; the mutant is
	// excluded from evaluation and never counted as killed or survived.
	MutantInvalid MutantStatus = "invalid"
	// MutantKilled means at least one test failed against the mutant.
	MutantKilled MutantStatus = "killed"
	// MutantSurvived means the full test run passed against the mutant.
	MutantSurvived MutantStatus = "survived"
	// MutantOutdated means the owning target was superseded by a later
	// selection round. Outdated mutants are kept for audit but excluded
	// from active scoring.
	MutantOutdated MutantStatus = "outdated"
)

// Patch is a single localized source modification. Exactly one patch per
// mutant; the patch is immutable once the mutant is created.
type Patch struct {
	File      Path   `yaml:"file"`
	StartLine int    `yaml:"start_line"`
	EndLine   int    `yaml:"end_line"`
	Original  string `yaml:"original"`
	Mutated   string `yaml:"mutated"`
}

// Mutant represents one candidate source modification under evaluation.
// Identity, owning target and patch are immutable after creation; only the
// status and evaluation fields change, and only through the transition
// methods below.
type Mutant struct {
	ID          string       `yaml:"id"`
	Class       string       `yaml:"class"`
	Method      string       `yaml:"method"`
	Patch       Patch        `yaml:"patch"`
	Status      MutantStatus `yaml:"status"`
	KilledBy    []string     `yaml:"killed_by,omitempty"`
	EvaluatedAt time.Time    `yaml:"evaluated_at,omitempty"`
}

// Transition moves the mutant to the next status, enforcing the monotone
// lifecycle: pending -> valid|invalid, valid -> killed|survived|outdated,
// killed|survived -> outdated. Outdated and invalid are terminal.
func (mu *Mutant) Transition(next MutantStatus) error {
	if !validTransition(mu.Status, next) {
		return fmt.Errorf("mutant %s: illegal status transition %s -> %s", mu.ID, mu.Status, next)
	}

	mu.Status = next

	return nil
}

func validTransition(from, to MutantStatus) bool {
	switch from {
	case MutantPending:
		return to == MutantValid || to == MutantInvalid
	case MutantValid:
		return to == MutantKilled || to == MutantSurvived || to == MutantOutdated
	case MutantKilled, MutantSurvived:
		return to == MutantOutdated
	default:
		return false
	}
}

// RecordKill marks the mutant killed by the given tests at the given time.
func (mu *Mutant) RecordKill(killers []string, at time.Time) error {
	if err := mu.Transition(MutantKilled); err != nil {
		return err
	}

	mu.KilledBy = append([]string(nil), killers...)
	mu.EvaluatedAt = at

	return nil
}

// RecordSurvival marks the mutant as surviving the test set at the given time.
func (mu *Mutant) RecordSurvival(at time.Time) error {
	if err := mu.Transition(MutantSurvived); err != nil {
		return err
	}

	mu.KilledBy = nil
	mu.EvaluatedAt = at

	return nil
}

// Evaluated reports whether the mutant reached a scoring-relevant state.
func (mu *Mutant) Evaluated() bool {
	return mu.Status == MutantKilled || mu.Status == MutantSurvived
}
