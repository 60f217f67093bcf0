package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// sqlite3 registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	m "coevo.dev/pkg/coevo/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mutants (
	id TEXT PRIMARY KEY,
	class TEXT NOT NULL,
	method TEXT NOT NULL,
	patch_file TEXT NOT NULL,
	patch_start INTEGER NOT NULL,
	patch_end INTEGER NOT NULL,
	patch_original TEXT NOT NULL,
	patch_mutated TEXT NOT NULL,
	status TEXT NOT NULL,
	killed_by_json TEXT NOT NULL DEFAULT '[]',
	evaluated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mutants_target ON mutants (class, method);

CREATE TABLE IF NOT EXISTS test_cases (
	id TEXT PRIMARY KEY,
	class TEXT NOT NULL,
	name TEXT NOT NULL,
	file TEXT NOT NULL,
	preamble TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_test_cases_class ON test_cases (class);

CREATE TABLE IF NOT EXISTS test_methods (
	case_id TEXT NOT NULL,
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	code TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (case_id, name, version)
);

CREATE TABLE IF NOT EXISTS class_files (
	class TEXT PRIMARY KEY,
	file TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS coverage_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at TIMESTAMP NOT NULL,
	line_covered INTEGER NOT NULL,
	line_missed INTEGER NOT NULL,
	branch_covered INTEGER NOT NULL,
	branch_missed INTEGER NOT NULL,
	methods_json TEXT NOT NULL DEFAULT '[]'
);
`

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and bootstraps) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap store schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMutant inserts a new mutant.
func (s *SQLiteStore) SaveMutant(ctx context.Context, mutant *m.Mutant) error {
	killedBy, err := json.Marshal(mutant.KilledBy)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutants (id, class, method, patch_file, patch_start, patch_end,
			patch_original, patch_mutated, status, killed_by_json, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, mutant.ID, mutant.Class, mutant.Method, string(mutant.Patch.File),
		mutant.Patch.StartLine, mutant.Patch.EndLine, mutant.Patch.Original,
		mutant.Patch.Mutated, string(mutant.Status), string(killedBy), nullableTime(mutant.EvaluatedAt))

	return err
}

// UpdateMutant persists the mutable fields of a mutant.
func (s *SQLiteStore) UpdateMutant(ctx context.Context, mutant *m.Mutant) error {
	killedBy, err := json.Marshal(mutant.KilledBy)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE mutants SET status = ?, killed_by_json = ?, evaluated_at = ? WHERE id = ?
	`, string(mutant.Status), string(killedBy), nullableTime(mutant.EvaluatedAt), mutant.ID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("mutant %s: %w", mutant.ID, ErrNotFound)
	}

	return nil
}

// Mutant loads one mutant by id.
func (s *SQLiteStore) Mutant(ctx context.Context, id string) (*m.Mutant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, class, method, patch_file, patch_start, patch_end,
			patch_original, patch_mutated, status, killed_by_json, evaluated_at
		FROM mutants WHERE id = ?
	`, id)

	mutant, err := scanMutant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mutant %s: %w", id, ErrNotFound)
	}

	return mutant, err
}

// EvaluatedMutants returns all killed or survived mutants.
func (s *SQLiteStore) EvaluatedMutants(ctx context.Context) ([]m.Mutant, error) {
	return s.queryMutants(ctx, `
		SELECT id, class, method, patch_file, patch_start, patch_end,
			patch_original, patch_mutated, status, killed_by_json, evaluated_at
		FROM mutants WHERE status IN ('killed', 'survived') ORDER BY id
	`)
}

// MutantsForTarget returns all mutants owned by the target.
func (s *SQLiteStore) MutantsForTarget(ctx context.Context, target m.Target) ([]m.Mutant, error) {
	return s.queryMutants(ctx, `
		SELECT id, class, method, patch_file, patch_start, patch_end,
			patch_original, patch_mutated, status, killed_by_json, evaluated_at
		FROM mutants WHERE class = ? AND method = ? ORDER BY id
	`, target.Class, target.Method)
}

// OutdateMutants marks the target's evaluable mutants outdated.
func (s *SQLiteStore) OutdateMutants(ctx context.Context, target m.Target) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mutants SET status = 'outdated'
		WHERE class = ? AND method = ? AND status IN ('valid', 'killed', 'survived')
	`, target.Class, target.Method)

	return err
}

func (s *SQLiteStore) queryMutants(ctx context.Context, query string, args ...any) ([]m.Mutant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var mutants []m.Mutant

	for rows.Next() {
		mutant, err := scanMutant(rows)
		if err != nil {
			return nil, err
		}

		mutants = append(mutants, *mutant)
	}

	return mutants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutant(row rowScanner) (*m.Mutant, error) {
	mutant := &m.Mutant{}

	var (
		status      string
		killedBy    string
		evaluatedAt sql.NullTime
		file        string
	)

	err := row.Scan(&mutant.ID, &mutant.Class, &mutant.Method, &file,
		&mutant.Patch.StartLine, &mutant.Patch.EndLine, &mutant.Patch.Original,
		&mutant.Patch.Mutated, &status, &killedBy, &evaluatedAt)
	if err != nil {
		return nil, err
	}

	mutant.Patch.File = m.Path(file)
	mutant.Status = m.MutantStatus(status)

	if killedBy != "" && killedBy != "null" {
		if err := json.Unmarshal([]byte(killedBy), &mutant.KilledBy); err != nil {
			return nil, err
		}
	}

	if evaluatedAt.Valid {
		mutant.EvaluatedAt = evaluatedAt.Time
	}

	return mutant, nil
}

// SaveTestCase upserts the case and appends a version row for every method
// whose body changed since the stored version.
func (s *SQLiteStore) SaveTestCase(ctx context.Context, tc *m.TestCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO test_cases (id, class, name, file, preamble) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET class = excluded.class, name = excluded.name,
			file = excluded.file, preamble = excluded.preamble
	`, tc.ID, tc.Class, tc.Name, string(tc.File), tc.Preamble)
	if err != nil {
		return err
	}

	for _, method := range tc.Methods {
		var (
			storedVersion int
			storedCode    string
		)

		err := tx.QueryRowContext(ctx, `
			SELECT version, code FROM test_methods WHERE case_id = ? AND name = ?
			ORDER BY version DESC LIMIT 1
		`, tc.ID, method.Name).Scan(&storedVersion, &storedCode)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			storedVersion = 0
		case err != nil:
			return err
		case storedCode == method.Code:
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO test_methods (case_id, name, version, code, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, tc.ID, method.Name, storedVersion+1, method.Code, time.Now().UTC())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// TestCase loads the current view of one test case.
func (s *SQLiteStore) TestCase(ctx context.Context, id string) (*m.TestCase, error) {
	cases, err := s.queryTestCases(ctx, `SELECT id, class, name, file, preamble FROM test_cases WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	if len(cases) == 0 {
		return nil, fmt.Errorf("test case %s: %w", id, ErrNotFound)
	}

	return &cases[0], nil
}

// CurrentTestCases returns the current view of every test case.
func (s *SQLiteStore) CurrentTestCases(ctx context.Context) ([]m.TestCase, error) {
	return s.queryTestCases(ctx, `SELECT id, class, name, file, preamble FROM test_cases ORDER BY id`)
}

// TestCasesForClass returns the current view of all cases targeting class.
func (s *SQLiteStore) TestCasesForClass(ctx context.Context, class string) ([]m.TestCase, error) {
	return s.queryTestCases(ctx, `SELECT id, class, name, file, preamble FROM test_cases WHERE class = ? ORDER BY id`, class)
}

func (s *SQLiteStore) queryTestCases(ctx context.Context, query string, args ...any) ([]m.TestCase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var cases []m.TestCase

	for rows.Next() {
		var (
			tc   m.TestCase
			file string
		)

		if err := rows.Scan(&tc.ID, &tc.Class, &tc.Name, &file, &tc.Preamble); err != nil {
			return nil, err
		}

		tc.File = m.Path(file)
		cases = append(cases, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cases {
		if err := s.loadCurrentMethods(ctx, &cases[i]); err != nil {
			return nil, err
		}
	}

	return cases, nil
}

// loadCurrentMethods attaches the latest version of each method to the case.
func (s *SQLiteStore) loadCurrentMethods(ctx context.Context, tc *m.TestCase) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.name, tm.version, tm.code
		FROM test_methods tm
		JOIN (
			SELECT name, MAX(version) AS version FROM test_methods
			WHERE case_id = ? GROUP BY name
		) latest ON tm.name = latest.name AND tm.version = latest.version
		WHERE tm.case_id = ?
		ORDER BY tm.name
	`, tc.ID, tc.ID)
	if err != nil {
		return err
	}

	defer func() { _ = rows.Close() }()

	tc.Methods = nil

	for rows.Next() {
		method := m.TestMethod{CaseID: tc.ID}
		if err := rows.Scan(&method.Name, &method.Version, &method.Code); err != nil {
			return err
		}

		tc.Methods = append(tc.Methods, method)
	}

	return rows.Err()
}

// MethodHistory returns every stored version of one method, oldest first.
func (s *SQLiteStore) MethodHistory(ctx context.Context, caseID, name string) ([]m.TestMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, code FROM test_methods
		WHERE case_id = ? AND name = ? ORDER BY version
	`, caseID, name)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var history []m.TestMethod

	for rows.Next() {
		method := m.TestMethod{CaseID: caseID}
		if err := rows.Scan(&method.Name, &method.Version, &method.Code); err != nil {
			return nil, err
		}

		history = append(history, method)
	}

	return history, rows.Err()
}

// RemoveMethod deletes all versions of one method.
func (s *SQLiteStore) RemoveMethod(ctx context.Context, caseID, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM test_methods WHERE case_id = ? AND name = ?`, caseID, name)
	return err
}

// ClassFile returns the source file mapped to the class.
func (s *SQLiteStore) ClassFile(ctx context.Context, class string) (m.Path, error) {
	var file string

	err := s.db.QueryRowContext(ctx, `SELECT file FROM class_files WHERE class = ?`, class).Scan(&file)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("class %s: %w", class, ErrNotFound)
	}

	if err != nil {
		return "", err
	}

	return m.Path(file), nil
}

// SaveClassFile records the class to source-file mapping.
func (s *SQLiteStore) SaveClassFile(ctx context.Context, class string, file m.Path) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO class_files (class, file) VALUES (?, ?)
		ON CONFLICT (class) DO UPDATE SET file = excluded.file
	`, class, string(file))

	return err
}

// SaveCoverage stores a coverage snapshot.
func (s *SQLiteStore) SaveCoverage(ctx context.Context, report *m.CoverageReport) error {
	methods, err := json.Marshal(report.Methods)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO coverage_snapshots (taken_at, line_covered, line_missed, branch_covered, branch_missed, methods_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().UTC(), report.Line.Covered, report.Line.Missed,
		report.Branch.Covered, report.Branch.Missed, string(methods))

	return err
}

// LatestCoverage returns the most recent coverage snapshot.
func (s *SQLiteStore) LatestCoverage(ctx context.Context) (*m.CoverageReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT line_covered, line_missed, branch_covered, branch_missed, methods_json
		FROM coverage_snapshots ORDER BY id DESC LIMIT 1
	`)

	report := &m.CoverageReport{}

	var methods string

	err := row.Scan(&report.Line.Covered, &report.Line.Missed,
		&report.Branch.Covered, &report.Branch.Missed, &methods)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if methods != "" && methods != "null" {
		if err := json.Unmarshal([]byte(methods), &report.Methods); err != nil {
			return nil, err
		}
	}

	return report, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}
