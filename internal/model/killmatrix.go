package model

import "sort"

// KillMatrix is a sparse mapping from mutant id to the set of test ids
// observed to fail against it. It is append-only within one evaluation pass
// and rebuilt, not mutated, across passes.
type KillMatrix struct {
	kills map[string]map[string]struct{}
}

// NewKillMatrix creates an empty kill matrix.
func NewKillMatrix() *KillMatrix {
	return &KillMatrix{kills: make(map[string]map[string]struct{})}
}

// AddKill records that the given test killed the given mutant.
func (km *KillMatrix) AddKill(mutantID, testID string) {
	set, ok := km.kills[mutantID]
	if !ok {
		set = make(map[string]struct{})
		km.kills[mutantID] = set
	}

	set[testID] = struct{}{}
}

// Killed reports whether the mutant has at least one recorded killer.
func (km *KillMatrix) Killed(mutantID string) bool {
	return len(km.kills[mutantID]) > 0
}

// Killers returns the sorted test ids recorded against the mutant.
func (km *KillMatrix) Killers(mutantID string) []string {
	set, ok := km.kills[mutantID]
	if !ok {
		return nil
	}

	killers := make([]string, 0, len(set))
	for id := range set {
		killers = append(killers, id)
	}

	sort.Strings(killers)

	return killers
}

// KilledCount returns the number of mutants with a non-empty entry.
func (km *KillMatrix) KilledCount() int {
	count := 0

	for _, set := range km.kills {
		if len(set) > 0 {
			count++
		}
	}

	return count
}

// MutantIDs returns the sorted ids of all mutants with an entry.
func (km *KillMatrix) MutantIDs() []string {
	ids := make([]string, 0, len(km.kills))
	for id := range km.kills {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Equal reports whether two matrices record identical kills. Used to check
// that serial and parallel builds agree.
func (km *KillMatrix) Equal(other *KillMatrix) bool {
	if len(km.kills) != len(other.kills) {
		return false
	}

	for mutantID, set := range km.kills {
		otherSet, ok := other.kills[mutantID]
		if !ok || len(set) != len(otherSet) {
			return false
		}

		for testID := range set {
			if _, ok := otherSet[testID]; !ok {
				return false
			}
		}
	}

	return true
}
