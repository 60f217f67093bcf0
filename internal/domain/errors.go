package domain

import "errors"

// Failure taxonomy. Per-target and per-mutant failures are contained to that
// unit and recorded; they never abort a batch.
var (
	// ErrSandboxCreation indicates the sandbox copy could not complete or
	// the id collided with a live sandbox.
	ErrSandboxCreation = errors.New("sandbox creation failed")

	// ErrPatchApplication indicates a mutant patch did not apply. The mutant
	// is excluded from evaluation, not counted as killed or survived.
	ErrPatchApplication = errors.New("patch application failed")

	// ErrTargetUnavailable indicates a target claim failed because the
	// target is active, blacklisted or excluded.
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrRepairExhausted indicates the bounded repair loop ran out of
	// attempts without producing compilable code.
	ErrRepairExhausted = errors.New("repair attempts exhausted")

	// ErrInterrupted indicates the run was stopped by an external interrupt.
	// This is a graceful stop, not a failure.
	ErrInterrupted = errors.New("run interrupted")
)
