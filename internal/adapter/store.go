package adapter

import (
	"context"

	m "coevo.dev/pkg/coevo/internal/model"
)

// Store is the authoritative persistence layer for mutants, test cases and
// coverage. Cross-batch state is durably merged here and only here;
// in-memory worker state is advisory until synced.
type Store interface {
	// SaveMutant inserts a new mutant.
	SaveMutant(ctx context.Context, mutant *m.Mutant) error

	// UpdateMutant persists status, killer list and evaluation time.
	UpdateMutant(ctx context.Context, mutant *m.Mutant) error

	// Mutant loads one mutant by id.
	Mutant(ctx context.Context, id string) (*m.Mutant, error)

	// EvaluatedMutants returns all mutants in a killed or survived state.
	EvaluatedMutants(ctx context.Context) ([]m.Mutant, error)

	// MutantsForTarget returns all mutants owned by the target.
	MutantsForTarget(ctx context.Context, target m.Target) ([]m.Mutant, error)

	// OutdateMutants marks all evaluable mutants of the target outdated,
	// used when the target is superseded by a new selection round.
	OutdateMutants(ctx context.Context, target m.Target) error

	// SaveTestCase upserts the test case and every method, recording a new
	// version row whenever a method body changed.
	SaveTestCase(ctx context.Context, tc *m.TestCase) error

	// TestCase loads the current view of one test case (latest version of
	// each method).
	TestCase(ctx context.Context, id string) (*m.TestCase, error)

	// CurrentTestCases returns the current view of every test case.
	CurrentTestCases(ctx context.Context) ([]m.TestCase, error)

	// TestCasesForClass returns the current view of all cases targeting the
	// class.
	TestCasesForClass(ctx context.Context, class string) ([]m.TestCase, error)

	// MethodHistory returns every stored version of one method, oldest first.
	MethodHistory(ctx context.Context, caseID, name string) ([]m.TestMethod, error)

	// RemoveMethod deletes all versions of one method.
	RemoveMethod(ctx context.Context, caseID, name string) error

	// ClassFile returns the source file mapped to the class.
	ClassFile(ctx context.Context, class string) (m.Path, error)

	// SaveClassFile records the class to source-file mapping.
	SaveClassFile(ctx context.Context, class string, file m.Path) error

	// SaveCoverage stores a coverage snapshot.
	SaveCoverage(ctx context.Context, report *m.CoverageReport) error

	// LatestCoverage returns the most recent coverage snapshot, nil when
	// none was stored yet.
	LatestCoverage(ctx context.Context) (*m.CoverageReport, error)

	// Close releases the underlying resources.
	Close() error
}
