package domain

import (
	"context"
	"sort"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// Strategy picks the next batch of targets. Strategies are policy only: the
// coordinator still enforces exclusion atomically at claim time, so a stale
// or misbehaving strategy can never cause a double claim.
type Strategy interface {
	Name() string

	// Pick returns up to limit targets, skipping the excluded keys.
	Pick(ctx context.Context, store adapter.Store, limit int, excluded map[string]struct{}) ([]m.Target, error)
}

// CoverageFirst selects the targets with the lowest line coverage, visiting
// uncovered code before well-tested code.
type CoverageFirst struct{}

// Name implements Strategy.
func (CoverageFirst) Name() string { return "coverage-first" }

// Pick implements Strategy.
func (CoverageFirst) Pick(ctx context.Context, store adapter.Store, limit int, excluded map[string]struct{}) ([]m.Target, error) {
	coverage, err := store.LatestCoverage(ctx)
	if err != nil {
		return nil, err
	}

	if coverage == nil {
		return nil, nil
	}

	methods := append([]m.MethodCoverage(nil), coverage.Methods...)

	sort.SliceStable(methods, func(i, j int) bool {
		ri, rj := methods[i].Line.Ratio(), methods[j].Line.Ratio()
		if ri != rj {
			return ri < rj
		}

		return methods[i].Class+"#"+methods[i].Method < methods[j].Class+"#"+methods[j].Method
	})

	var targets []m.Target

	for _, method := range methods {
		if len(targets) == limit {
			break
		}

		target := m.Target{Class: method.Class, Method: method.Method}
		if _, skip := excluded[target.Key()]; skip {
			continue
		}

		targets = append(targets, target)
	}

	return targets, nil
}

// KillRateFirst selects the targets whose mutants survive most often,
// visiting weakly tested code before well-killed code. Targets with no
// evaluated mutants yet sort first.
type KillRateFirst struct{}

// Name implements Strategy.
func (KillRateFirst) Name() string { return "kill-rate-first" }

// Pick implements Strategy.
func (KillRateFirst) Pick(ctx context.Context, store adapter.Store, limit int, excluded map[string]struct{}) ([]m.Target, error) {
	coverage, err := store.LatestCoverage(ctx)
	if err != nil {
		return nil, err
	}

	mutants, err := store.EvaluatedMutants(ctx)
	if err != nil {
		return nil, err
	}

	type tally struct {
		killed, total int
	}

	rates := make(map[string]*tally)

	for _, mutant := range mutants {
		key := m.Target{Class: mutant.Class, Method: mutant.Method}.Key()
		if rates[key] == nil {
			rates[key] = &tally{}
		}

		rates[key].total++

		if mutant.Status == m.MutantKilled {
			rates[key].killed++
		}
	}

	var candidates []m.Target

	if coverage != nil {
		for _, method := range coverage.Methods {
			candidates = append(candidates, m.Target{Class: method.Class, Method: method.Method})
		}
	}

	for _, mutant := range mutants {
		candidates = append(candidates, m.Target{Class: mutant.Class, Method: mutant.Method})
	}

	candidates = dedupeTargets(candidates)

	rate := func(t m.Target) float64 {
		tl := rates[t.Key()]
		if tl == nil || tl.total == 0 {
			return -1 // never evaluated sorts first
		}

		return float64(tl.killed) / float64(tl.total)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rate(candidates[i]), rate(candidates[j])
		if ri != rj {
			return ri < rj
		}

		return candidates[i].Key() < candidates[j].Key()
	})

	var targets []m.Target

	for _, candidate := range candidates {
		if len(targets) == limit {
			break
		}

		if _, skip := excluded[candidate.Key()]; skip {
			continue
		}

		targets = append(targets, candidate)
	}

	return targets, nil
}

func dedupeTargets(targets []m.Target) []m.Target {
	seen := make(map[string]struct{}, len(targets))

	var out []m.Target

	for _, target := range targets {
		if _, dup := seen[target.Key()]; dup {
			continue
		}

		seen[target.Key()] = struct{}{}
		out = append(out, target)
	}

	return out
}

// StrategyByName resolves a configured strategy name, defaulting to
// coverage-first.
func StrategyByName(name string) Strategy {
	if name == (KillRateFirst{}).Name() {
		return KillRateFirst{}
	}

	return CoverageFirst{}
}
