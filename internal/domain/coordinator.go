package domain

import (
	"log/slog"
	"sort"
	"sync"

	m "coevo.dev/pkg/coevo/internal/model"
)

// TargetCoordinator maintains the set of in-flight targets across concurrent
// workers, guaranteeing at most one worker per target. All state lives behind
// a single mutex; acquisition is atomic and linearizable.
type TargetCoordinator struct {
	// excludeProcessed makes processed targets non-reacquirable, for runs
	// that should visit every target at most once.
	excludeProcessed bool

	mu      sync.Mutex
	states  map[string]m.TargetState
	reasons map[string]string
	// failed holds targets whose worker failed this run. They stay available
	// in the persisted sense but are not retried within the same run.
	failed map[string]struct{}
}

// NewTargetCoordinator constructs a TargetCoordinator.
func NewTargetCoordinator(excludeProcessed bool) *TargetCoordinator {
	return &TargetCoordinator{
		excludeProcessed: excludeProcessed,
		states:           make(map[string]m.TargetState),
		reasons:          make(map[string]string),
		failed:           make(map[string]struct{}),
	}
}

// Acquire atomically claims the target for one worker. It returns false when
// the target is already active, blacklisted, or processed while re-selection
// is excluded. Two workers can never claim the same target.
func (tc *TargetCoordinator) Acquire(target m.Target) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, bad := tc.failed[target.Key()]; bad {
		return false
	}

	switch tc.states[target.Key()] {
	case m.TargetActive, m.TargetBlacklisted:
		return false
	case m.TargetProcessed:
		if tc.excludeProcessed {
			return false
		}
	}

	tc.states[target.Key()] = m.TargetActive

	return true
}

// Release returns the target from the active state. A successful worker
// marks it processed; an unsuccessful one makes it available again, but it
// is not retried within the same run.
func (tc *TargetCoordinator) Release(target m.Target, success bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.states[target.Key()] != m.TargetActive {
		slog.Warn("release of target that is not active", "target", target.Key())
		return
	}

	if success {
		tc.states[target.Key()] = m.TargetProcessed
	} else {
		tc.states[target.Key()] = m.TargetAvailable
		tc.failed[target.Key()] = struct{}{}
	}
}

// Blacklist permanently excludes the target and records the reason. An
// active target is blacklisted in place; its worker's eventual Release is
// then a no-op warning.
func (tc *TargetCoordinator) Blacklist(target m.Target, reason string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.states[target.Key()] = m.TargetBlacklisted
	tc.reasons[target.Key()] = reason

	slog.Info("target blacklisted", "target", target.Key(), "reason", reason)
}

// State returns the coordination state of the target.
func (tc *TargetCoordinator) State(target m.Target) m.TargetState {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.states[target.Key()]
}

// Excluded reports whether the target cannot be selected right now.
func (tc *TargetCoordinator) Excluded(target m.Target) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	switch tc.states[target.Key()] {
	case m.TargetActive, m.TargetBlacklisted:
		return true
	case m.TargetProcessed:
		return tc.excludeProcessed
	}

	_, bad := tc.failed[target.Key()]

	return bad
}

// ExcludedKeys returns the keys of all currently non-selectable targets,
// sorted for deterministic selection input.
func (tc *TargetCoordinator) ExcludedKeys() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	var keys []string

	for key, state := range tc.states {
		switch state {
		case m.TargetActive, m.TargetBlacklisted:
			keys = append(keys, key)
		case m.TargetProcessed:
			if tc.excludeProcessed {
				keys = append(keys, key)
			}
		default:
			if _, bad := tc.failed[key]; bad {
				keys = append(keys, key)
			}
		}
	}

	sort.Strings(keys)

	return keys
}

// BlacklistReason returns the recorded reason, if the target is blacklisted.
func (tc *TargetCoordinator) BlacklistReason(target m.Target) (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	reason, ok := tc.reasons[target.Key()]

	return reason, ok
}

// Restore seeds coordinator state from a persisted run snapshot.
func (tc *TargetCoordinator) Restore(processed []m.Target, blacklist []m.BlacklistEntry) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for _, target := range processed {
		tc.states[target.Key()] = m.TargetProcessed
	}

	for _, entry := range blacklist {
		tc.states[entry.Target.Key()] = m.TargetBlacklisted
		tc.reasons[entry.Target.Key()] = entry.Reason
	}
}

// Snapshot returns the processed targets and blacklist entries for
// persistence. Targets are reconstructed from their keys' recorded form.
func (tc *TargetCoordinator) Snapshot(known map[string]m.Target) (processed []m.Target, blacklist []m.BlacklistEntry) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	keys := make([]string, 0, len(tc.states))
	for key := range tc.states {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		target, ok := known[key]
		if !ok {
			continue
		}

		switch tc.states[key] {
		case m.TargetProcessed:
			processed = append(processed, target)
		case m.TargetBlacklisted:
			blacklist = append(blacklist, m.BlacklistEntry{Target: target, Reason: tc.reasons[key]})
		}
	}

	return processed, blacklist
}
