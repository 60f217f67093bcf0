package domain

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type candidate struct {
	id  string
	bad bool
}

func candidateName(c candidate) string { return c.id }

// failIfAnyBad validates a subset as failing when it contains a bad candidate.
func failIfAnyBad(calls *atomic.Int32) Validator[candidate] {
	return func(_ context.Context, subset []candidate) (bool, error) {
		if calls != nil {
			calls.Add(1)
		}

		for _, c := range subset {
			if c.bad {
				return false, nil
			}
		}

		return true, nil
	}
}

func makeCandidates(n int, bad ...int) []candidate {
	badSet := make(map[int]struct{}, len(bad))
	for _, i := range bad {
		badSet[i] = struct{}{}
	}

	out := make([]candidate, n)
	for i := range out {
		_, isBad := badSet[i]
		out[i] = candidate{id: string(rune('a' + i)), bad: isBad}
	}

	return out
}

func TestIsolateSingleCulprit(t *testing.T) {
	candidates := makeCandidates(16, 11)

	var calls atomic.Int32

	blamed, err := Isolate(context.Background(), candidates, candidateName, failIfAnyBad(&calls))
	require.NoError(t, err)
	require.Len(t, blamed, 1)
	assert.Equal(t, candidates[11].id, blamed[0].id)

	// Binary search, not a linear scan: far fewer validations than one per
	// candidate plus one per subset.
	assert.Less(t, int(calls.Load()), 16)
}

func TestIsolateMultipleCulprits(t *testing.T) {
	candidates := makeCandidates(8, 1, 6)

	blamed, err := Isolate(context.Background(), candidates, candidateName, failIfAnyBad(nil))
	require.NoError(t, err)
	require.Len(t, blamed, 2)
	assert.ElementsMatch(t, []string{candidates[1].id, candidates[6].id}, []string{blamed[0].id, blamed[1].id})
}

func TestIsolateEmptyAndSingleton(t *testing.T) {
	blamed, err := Isolate(context.Background(), nil, candidateName, failIfAnyBad(nil))
	require.NoError(t, err)
	assert.Empty(t, blamed)

	only := []candidate{{id: "x", bad: true}}

	blamed, err = Isolate(context.Background(), only, candidateName, failIfAnyBad(nil))
	require.NoError(t, err)
	require.Len(t, blamed, 1)
	assert.Equal(t, "x", blamed[0].id)
}

func TestIsolateNameCollision(t *testing.T) {
	// Each half passes alone; the union fails because a name appears twice.
	candidates := []candidate{
		{id: "alpha"}, {id: "dup"},
		{id: "beta"}, {id: "dup"},
	}

	validate := func(_ context.Context, subset []candidate) (bool, error) {
		seen := make(map[string]struct{})

		for _, c := range subset {
			if _, clash := seen[c.id]; clash {
				return false, nil
			}

			seen[c.id] = struct{}{}
		}

		return true, nil
	}

	blamed, err := Isolate(context.Background(), candidates, candidateName, validate)
	require.NoError(t, err)
	require.Len(t, blamed, 2)
	assert.Equal(t, "dup", blamed[0].id)
	assert.Equal(t, "dup", blamed[1].id)
}

func TestIsolateHangScenario(t *testing.T) {
	// Four methods where only one hangs: the left half {a,b} passes, the
	// right half {c,d} fails, and recursion pins the blame on c.
	candidates := makeCandidates(4, 2)

	blamed, err := Isolate(context.Background(), candidates, candidateName, failIfAnyBad(nil))
	require.NoError(t, err)
	require.Len(t, blamed, 1)
	assert.Equal(t, candidates[2].id, blamed[0].id)
}

func TestIsolateCombinatorialConflictBlamesAll(t *testing.T) {
	// Every candidate passes alone and every half passes, but the union
	// fails: nothing is individually attributable, so the whole set is
	// blamed conservatively.
	candidates := makeCandidates(4)

	validate := func(_ context.Context, subset []candidate) (bool, error) {
		return len(subset) < len(candidates), nil
	}

	blamed, err := Isolate(context.Background(), candidates, candidateName, validate)
	require.NoError(t, err)
	assert.Len(t, blamed, len(candidates))
}

func TestIsolatePropagatesValidatorError(t *testing.T) {
	candidates := makeCandidates(4, 0)

	validate := func(_ context.Context, _ []candidate) (bool, error) {
		return false, context.DeadlineExceeded
	}

	_, err := Isolate(context.Background(), candidates, candidateName, validate)
	assert.Error(t, err)
}
