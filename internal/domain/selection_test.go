package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "coevo.dev/pkg/coevo/internal/model"
)

func coverageWithMethods(methods ...m.MethodCoverage) *m.CoverageReport {
	return &m.CoverageReport{Methods: methods}
}

func methodCoverage(class, method string, covered, missed int) m.MethodCoverage {
	return m.MethodCoverage{
		Class:  class,
		Method: method,
		Line:   m.Counter{Covered: covered, Missed: missed},
	}
}

func TestCoverageFirstPicksLowestCoverage(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveCoverage(context.Background(), coverageWithMethods(
		methodCoverage("Calculator", "add", 9, 1),
		methodCoverage("Calculator", "divide", 0, 10),
		methodCoverage("Parser", "parse", 5, 5),
	)))

	targets, err := CoverageFirst{}.Pick(context.Background(), store, 2, nil)
	require.NoError(t, err)

	require.Len(t, targets, 2)
	assert.Equal(t, m.Target{Class: "Calculator", Method: "divide"}, targets[0])
	assert.Equal(t, m.Target{Class: "Parser", Method: "parse"}, targets[1])
}

func TestCoverageFirstSkipsExcluded(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveCoverage(context.Background(), coverageWithMethods(
		methodCoverage("Calculator", "divide", 0, 10),
		methodCoverage("Parser", "parse", 5, 5),
	)))

	excluded := map[string]struct{}{
		m.Target{Class: "Calculator", Method: "divide"}.Key(): {},
	}

	targets, err := CoverageFirst{}.Pick(context.Background(), store, 2, excluded)
	require.NoError(t, err)

	require.Len(t, targets, 1)
	assert.Equal(t, m.Target{Class: "Parser", Method: "parse"}, targets[0])
}

func TestCoverageFirstWithoutCoverage(t *testing.T) {
	targets, err := CoverageFirst{}.Pick(context.Background(), newMemStore(), 4, nil)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestCoverageFirstTiesBreakByKey(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveCoverage(context.Background(), coverageWithMethods(
		methodCoverage("Zeta", "z", 1, 1),
		methodCoverage("Alpha", "a", 1, 1),
	)))

	targets, err := CoverageFirst{}.Pick(context.Background(), store, 2, nil)
	require.NoError(t, err)

	require.Len(t, targets, 2)
	assert.Equal(t, "Alpha", targets[0].Class)
	assert.Equal(t, "Zeta", targets[1].Class)
}

func TestKillRateFirstPrefersNeverEvaluated(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.SaveCoverage(ctx, coverageWithMethods(
		methodCoverage("Calculator", "add", 5, 5),
		methodCoverage("Calculator", "divide", 5, 5),
	)))

	// Every mutant of add was killed; divide has never been evaluated.
	killed := subtractionMutant("m1")
	killed.Status = m.MutantKilled
	require.NoError(t, store.SaveMutant(ctx, &killed))

	targets, err := KillRateFirst{}.Pick(ctx, store, 2, nil)
	require.NoError(t, err)

	require.Len(t, targets, 2)
	assert.Equal(t, m.Target{Class: "Calculator", Method: "divide"}, targets[0])
	assert.Equal(t, m.Target{Class: "Calculator", Method: "add"}, targets[1])
}

func TestKillRateFirstRanksBySurvivalRate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	save := func(id, method string, status m.MutantStatus) {
		mutant := m.Mutant{ID: id, Class: "Calculator", Method: method, Status: status}
		require.NoError(t, store.SaveMutant(ctx, &mutant))
	}

	// add: all killed. divide: all survived.
	save("m1", "add", m.MutantKilled)
	save("m2", "add", m.MutantKilled)
	save("m3", "divide", m.MutantSurvived)
	save("m4", "divide", m.MutantSurvived)

	targets, err := KillRateFirst{}.Pick(ctx, store, 2, nil)
	require.NoError(t, err)

	require.Len(t, targets, 2)
	assert.Equal(t, m.Target{Class: "Calculator", Method: "divide"}, targets[0])
	assert.Equal(t, m.Target{Class: "Calculator", Method: "add"}, targets[1])
}

func TestStrategyByName(t *testing.T) {
	assert.Equal(t, "kill-rate-first", StrategyByName("kill-rate-first").Name())
	assert.Equal(t, "coverage-first", StrategyByName("coverage-first").Name())
	assert.Equal(t, "coverage-first", StrategyByName("").Name())
	assert.Equal(t, "coverage-first", StrategyByName("unknown").Name())
}
