package domain

import (
	"context"
	"os"
	"path"
	"strings"
	"sync"

	"coevo.dev/pkg/coevo/internal/adapter"
	"coevo.dev/pkg/coevo/internal/controller"
	m "coevo.dev/pkg/coevo/internal/model"
)

// memFS is an in-memory SandboxFS. Directories are implicit: a path exists
// when a file lives under it.
type memFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte)}
}

func (f *memFS) CopyTree(_ context.Context, src, dst m.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := string(src) + "/"
	for name, content := range f.files {
		if strings.HasPrefix(name, prefix) {
			copied := append([]byte(nil), content...)
			f.files[string(dst)+"/"+strings.TrimPrefix(name, prefix)] = copied
		}
	}

	return nil
}

func (f *memFS) MkdirAll(_ m.Path) error { return nil }

func (f *memFS) RemoveAll(p m.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := string(p) + "/"
	for name := range f.files {
		if name == string(p) || strings.HasPrefix(name, prefix) {
			delete(f.files, name)
		}
	}

	return nil
}

func (f *memFS) ReadFile(p m.Path) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, ok := f.files[string(p)]
	if !ok {
		return nil, os.ErrNotExist
	}

	return append([]byte(nil), content...), nil
}

func (f *memFS) WriteFile(p m.Path, content []byte, _ os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[string(p)] = append([]byte(nil), content...)

	return nil
}

func (f *memFS) Exists(p m.Path) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[string(p)]; ok {
		return true
	}

	prefix := string(p) + "/"
	for name := range f.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

func (f *memFS) RelPath(base, target m.Path) (m.Path, error) {
	return m.Path(strings.TrimPrefix(string(target), string(base)+"/")), nil
}

func (f *memFS) JoinPath(elem ...string) m.Path {
	return m.Path(path.Join(elem...))
}

func (f *memFS) ListFiles(root m.Path, ext string) ([]m.Path, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []m.Path

	prefix := string(root) + "/"
	for name := range f.files {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			out = append(out, m.Path(strings.TrimPrefix(name, prefix)))
		}
	}

	return out, nil
}

// fakeRunner answers compile and test calls from injected functions.
type fakeRunner struct {
	compile  func(m.Path) m.RunResult
	test     func(m.Path) m.RunResult
	coverage func(m.Path) (m.RunResult, *m.CoverageReport)
}

func (r *fakeRunner) Compile(_ context.Context, p m.Path) m.RunResult {
	if r.compile == nil {
		return m.RunResult{Outcome: m.OutcomeOK}
	}

	return r.compile(p)
}

func (r *fakeRunner) Test(_ context.Context, p m.Path) m.RunResult {
	if r.test == nil {
		return m.RunResult{Outcome: m.OutcomeOK}
	}

	return r.test(p)
}

func (r *fakeRunner) TestWithCoverage(_ context.Context, p m.Path) (m.RunResult, *m.CoverageReport) {
	if r.coverage == nil {
		return m.RunResult{Outcome: m.OutcomeOK}, nil
	}

	return r.coverage(p)
}

// fakeGenerator answers generation calls from injected functions.
type fakeGenerator struct {
	mutants func(class, code, method string) ([]m.Patch, error)
	tests   func(class, signature, code, existing string) ([]string, error)
	repair  func(code, diagnostic string) (string, error)
}

func (g *fakeGenerator) ProposeMutants(_ context.Context, class, code, method string) ([]m.Patch, error) {
	if g.mutants == nil {
		return nil, nil
	}

	return g.mutants(class, code, method)
}

func (g *fakeGenerator) ProposeTests(_ context.Context, class, signature, code, existing string) ([]string, error) {
	if g.tests == nil {
		return nil, nil
	}

	return g.tests(class, signature, code, existing)
}

func (g *fakeGenerator) Repair(_ context.Context, code, diagnostic string) (string, error) {
	if g.repair == nil {
		return "", nil
	}

	return g.repair(code, diagnostic)
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu         sync.Mutex
	mutants    map[string]m.Mutant
	cases      map[string]m.TestCase
	classFiles map[string]m.Path
	coverage   *m.CoverageReport
	removed    []string
}

func newMemStore() *memStore {
	return &memStore{
		mutants:    make(map[string]m.Mutant),
		cases:      make(map[string]m.TestCase),
		classFiles: make(map[string]m.Path),
	}
}

func (s *memStore) SaveMutant(_ context.Context, mutant *m.Mutant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutants[mutant.ID] = *mutant

	return nil
}

func (s *memStore) UpdateMutant(ctx context.Context, mutant *m.Mutant) error {
	return s.SaveMutant(ctx, mutant)
}

func (s *memStore) Mutant(_ context.Context, id string) (*m.Mutant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutant, ok := s.mutants[id]
	if !ok {
		return nil, adapter.ErrNotFound
	}

	return &mutant, nil
}

func (s *memStore) EvaluatedMutants(_ context.Context) ([]m.Mutant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []m.Mutant

	for _, mutant := range s.mutants {
		if mutant.Evaluated() {
			out = append(out, mutant)
		}
	}

	return out, nil
}

func (s *memStore) MutantsForTarget(_ context.Context, target m.Target) ([]m.Mutant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []m.Mutant

	for _, mutant := range s.mutants {
		if mutant.Class == target.Class && mutant.Method == target.Method {
			out = append(out, mutant)
		}
	}

	return out, nil
}

func (s *memStore) OutdateMutants(_ context.Context, target m.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, mutant := range s.mutants {
		if mutant.Class == target.Class && mutant.Method == target.Method && mutant.Evaluated() {
			_ = mutant.Transition(m.MutantOutdated)
			s.mutants[id] = mutant
		}
	}

	return nil
}

func (s *memStore) SaveTestCase(_ context.Context, tc *m.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *tc
	stored.Methods = append([]m.TestMethod(nil), tc.Methods...)
	s.cases[tc.ID] = stored

	return nil
}

func (s *memStore) TestCase(_ context.Context, id string) (*m.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.cases[id]
	if !ok {
		return nil, adapter.ErrNotFound
	}

	return &tc, nil
}

func (s *memStore) CurrentTestCases(_ context.Context) ([]m.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []m.TestCase
	for _, tc := range s.cases {
		out = append(out, tc)
	}

	return out, nil
}

func (s *memStore) TestCasesForClass(_ context.Context, class string) ([]m.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []m.TestCase

	for _, tc := range s.cases {
		if tc.Class == class {
			out = append(out, tc)
		}
	}

	return out, nil
}

func (s *memStore) MethodHistory(_ context.Context, caseID, name string) ([]m.TestMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.cases[caseID]
	if !ok {
		return nil, adapter.ErrNotFound
	}

	if method, found := tc.Method(name); found {
		return []m.TestMethod{method}, nil
	}

	return nil, nil
}

func (s *memStore) RemoveMethod(_ context.Context, caseID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed = append(s.removed, caseID+"#"+name)

	if tc, ok := s.cases[caseID]; ok {
		tc.Remove(name)
		s.cases[caseID] = tc
	}

	return nil
}

// removedMethods returns the keys of every method removal, in call order.
func (s *memStore) removedMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.removed...)
}

func (s *memStore) ClassFile(_ context.Context, class string) (m.Path, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.classFiles[class]
	if !ok {
		return "", adapter.ErrNotFound
	}

	return file, nil
}

func (s *memStore) SaveClassFile(_ context.Context, class string, file m.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.classFiles[class] = file

	return nil
}

func (s *memStore) SaveCoverage(_ context.Context, report *m.CoverageReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *report
	s.coverage = &copied

	return nil
}

func (s *memStore) LatestCoverage(_ context.Context) (*m.CoverageReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coverage == nil {
		return nil, nil
	}

	copied := *s.coverage

	return &copied, nil
}

func (s *memStore) Close() error { return nil }

// nopUI satisfies controller.UI without producing output.
type nopUI struct{}

func (nopUI) Start(context.Context, ...controller.StartOption) error { return nil }
func (nopUI) Close(context.Context)                                  {}
func (nopUI) Wait(context.Context)                                   {}
func (nopUI) DisplayRunInfo(context.Context, string, int, int, string) {
}
func (nopUI) DisplayBatchStarted(context.Context, int, []m.Target) {}
func (nopUI) DisplayPhase(context.Context, int, string)            {}
func (nopUI) DisplayTargetResult(context.Context, m.WorkerResult)  {}
func (nopUI) DisplayBatchSummary(context.Context, m.RunState)      {}
func (nopUI) DisplayRunSummary(context.Context, m.RunState, string) {
}
