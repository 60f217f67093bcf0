package model

// Target is a (class, method) pair selected for test and mutant generation.
type Target struct {
	Class  string `yaml:"class"`
	Method string `yaml:"method"`
}

// Key returns the canonical string identity of the target.
func (t Target) Key() string {
	return t.Class + "#" + t.Method
}

// TargetState represents the coordination state of a target. A target is in
// exactly one state at any instant.
type TargetState int

const (
	// TargetAvailable means the target may be claimed by a worker.
	TargetAvailable TargetState = iota
	// TargetActive means the target is claimed by exactly one worker.
	TargetActive
	// TargetProcessed means the target completed at least once and is
	// eligible for re-selection unless blacklisted.
	TargetProcessed
	// TargetBlacklisted means the target is permanently excluded after an
	// irrecoverable failure.
	TargetBlacklisted
)

func (s TargetState) String() string {
	switch s {
	case TargetAvailable:
		return "available"
	case TargetActive:
		return "active"
	case TargetProcessed:
		return "processed"
	case TargetBlacklisted:
		return "blacklisted"
	}

	return "unknown"
}

// BlacklistEntry records why a target was permanently excluded.
type BlacklistEntry struct {
	Target Target `yaml:"target"`
	Reason string `yaml:"reason"`
}
