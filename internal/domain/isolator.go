package domain

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// exhaustiveFallbackLimit bounds the candidate count for which a
// combinatorial conflict is resolved by validating singletons individually.
const exhaustiveFallbackLimit = 8

// Validator checks whether a candidate subset is valid (compiles and, where
// applicable, passes). Implementations run each check in its own sandbox so
// two validations can proceed in parallel.
type Validator[T any] func(ctx context.Context, subset []T) (bool, error)

// Isolate returns the minimal subset of candidates causing a collective
// validation failure, by binary search. The two halves of each split are
// validated independently and in parallel; a split where both halves pass
// but the union fails signals an inter-artifact conflict and is resolved by
// name-collision detection, then by exhaustive per-candidate isolation.
//
// Isolate is pure with respect to its inputs: all effects happen inside the
// injected validator.
func Isolate[T any](ctx context.Context, candidates []T, name func(T) string, validate Validator[T]) ([]T, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	if len(candidates) == 1 {
		return candidates, nil
	}

	mid := len(candidates) / 2
	left, right := candidates[:mid], candidates[mid:]

	leftOK, rightOK, err := validateHalves(ctx, left, right, validate)
	if err != nil {
		return nil, err
	}

	if leftOK && rightOK {
		return isolateConflict(ctx, left, right, name, validate)
	}

	var blamed []T

	if !leftOK {
		sub, err := Isolate(ctx, left, name, validate)
		if err != nil {
			return nil, err
		}

		blamed = append(blamed, sub...)
	}

	if !rightOK {
		sub, err := Isolate(ctx, right, name, validate)
		if err != nil {
			return nil, err
		}

		blamed = append(blamed, sub...)
	}

	return blamed, nil
}

// validateHalves runs the two validations concurrently and joins.
func validateHalves[T any](ctx context.Context, left, right []T, validate Validator[T]) (leftOK, rightOK bool, err error) {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ok, err := validate(groupCtx, left)
		leftOK = ok

		return err
	})

	group.Go(func() error {
		ok, err := validate(groupCtx, right)
		rightOK = ok

		return err
	})

	if err := group.Wait(); err != nil {
		return false, false, err
	}

	return leftOK, rightOK, nil
}

// isolateConflict handles the case where both halves pass independently but
// the union fails: an inter-artifact conflict such as duplicate names, not a
// single bad candidate.
func isolateConflict[T any](ctx context.Context, left, right []T, name func(T) string, validate Validator[T]) ([]T, error) {
	if colliding := nameCollisions(left, right, name); len(colliding) > 0 {
		names := make([]string, 0, len(colliding))
		for _, c := range colliding {
			names = append(names, name(c))
		}

		slog.Info("inter-artifact conflict resolved by name collision", "names", names)

		return colliding, nil
	}

	total := len(left) + len(right)
	if total <= exhaustiveFallbackLimit {
		return isolateExhaustively(ctx, append(append([]T{}, left...), right...), validate)
	}

	// Too many candidates for singleton validation; treat each half as an
	// independent fresh isolation problem.
	blamedLeft, err := Isolate(ctx, left, name, validate)
	if err != nil {
		return nil, err
	}

	blamedRight, err := Isolate(ctx, right, name, validate)
	if err != nil {
		return nil, err
	}

	return append(blamedLeft, blamedRight...), nil
}

// isolateExhaustively validates each candidate alone. Candidates failing
// alone are blamed; when all pass alone the conflict is combinatorial and
// not attributable to a subset, so the entire set is blamed conservatively.
func isolateExhaustively[T any](ctx context.Context, candidates []T, validate Validator[T]) ([]T, error) {
	var blamed []T

	for _, candidate := range candidates {
		ok, err := validate(ctx, []T{candidate})
		if err != nil {
			return nil, err
		}

		if !ok {
			blamed = append(blamed, candidate)
		}
	}

	if len(blamed) == 0 {
		slog.Warn("combinatorial conflict: every candidate passes alone, blaming the entire set", "count", len(candidates))
		return candidates, nil
	}

	return blamed, nil
}

// nameCollisions returns the candidates from both halves whose names appear
// on both sides of the split.
func nameCollisions[T any](left, right []T, name func(T) string) []T {
	leftNames := make(map[string]struct{}, len(left))
	for _, c := range left {
		leftNames[name(c)] = struct{}{}
	}

	dup := make(map[string]struct{})

	for _, c := range right {
		if _, ok := leftNames[name(c)]; ok {
			dup[name(c)] = struct{}{}
		}
	}

	if len(dup) == 0 {
		return nil
	}

	var colliding []T

	for _, c := range left {
		if _, ok := dup[name(c)]; ok {
			colliding = append(colliding, c)
		}
	}

	for _, c := range right {
		if _, ok := dup[name(c)]; ok {
			colliding = append(colliding, c)
		}
	}

	return colliding
}
