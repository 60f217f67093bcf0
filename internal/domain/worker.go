package domain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	m "coevo.dev/pkg/coevo/internal/model"
)

var testMethodNameRe = regexp.MustCompile(`\bvoid\s+(\w+)\s*\(`)

// processTarget runs the full worker pipeline for one claimed target:
// generate candidate tests and mutants, verify and repair the tests, and hand
// the retained artifacts back for the batch merge. Mutants come back pending;
// the scheduler evaluates them against the merged suite.
func (s *Scheduler) processTarget(ctx context.Context, target m.Target) m.WorkerResult {
	result := m.WorkerResult{Target: target}

	classFile, err := s.store.ClassFile(ctx, target.Class)
	if err != nil {
		s.coordinator.Blacklist(target, "no source file known for class")

		result.Reason = fmt.Sprintf("no source file known for class %s", target.Class)

		return result
	}

	code, err := s.fs.ReadFile(s.fs.JoinPath(string(s.project), string(classFile)))
	if err != nil {
		result.Reason = fmt.Sprintf("read class source: %v", err)
		return result
	}

	existing, err := s.store.TestCasesForClass(ctx, target.Class)
	if err != nil {
		result.Reason = fmt.Sprintf("load existing tests: %v", err)
		return result
	}

	// Generation is read-only, so the two calls can overlap.
	var testsOut, mutantsOut CommandResult

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		out, err := s.dispatcher.Dispatch(groupCtx, GenerateTestsCommand{
			Class:           target.Class,
			MethodSignature: target.Method,
			Code:            string(code),
			ExistingTests:   renderExistingTests(existing),
		})
		testsOut = out

		return err
	})

	group.Go(func() error {
		out, err := s.dispatcher.Dispatch(groupCtx, GenerateMutantsCommand{
			Class:        target.Class,
			Code:         string(code),
			TargetMethod: target.Method,
		})
		mutantsOut = out

		return err
	})

	if err := group.Wait(); err != nil {
		result.GeneratorCalls = testsOut.GeneratorCalls + mutantsOut.GeneratorCalls
		result.Reason = fmt.Sprintf("generation: %v", err)

		return result
	}

	result.GeneratorCalls = testsOut.GeneratorCalls + mutantsOut.GeneratorCalls

	if len(testsOut.TestBodies) == 0 && len(mutantsOut.Patches) == 0 {
		result.Reason = "generator produced no candidates"
		return result
	}

	tc := s.testCaseFor(target.Class, existing)
	for i, body := range testsOut.TestBodies {
		tc.Upsert(testMethodName(body, target, i), body)
	}

	if len(testsOut.TestBodies) > 0 {
		verification, err := s.verifier.Verify(ctx, s.project, tc)
		result.GeneratorCalls += verification.GeneratorCalls

		if err != nil {
			result.Reason = fmt.Sprintf("verification: %v", err)
			return result
		}

		result.TestsRetained = len(verification.Retained)
		result.TestsDropped = len(verification.Dropped)

		if verification.Status == VerificationDiscarded {
			s.coordinator.Blacklist(target, verification.Reason)

			result.Reason = verification.Reason

			return result
		}

		// Dropped methods leave the durable view too, or the current suite
		// would keep running them.
		for _, name := range verification.Dropped {
			if err := s.store.RemoveMethod(ctx, tc.ID, name); err != nil {
				slog.Warn("dropped method not removed from store", "case", tc.ID, "method", name, "error", err)
			}
		}

		if err := s.store.SaveTestCase(ctx, tc); err != nil {
			result.Reason = fmt.Sprintf("save test case: %v", err)
			return result
		}

		result.Files = []m.GeneratedFile{{Path: tc.File, Content: []byte(RenderTestClass(tc))}}
	}

	result.Mutants = mutantsFromPatches(target, mutantsOut.Patches)
	for i := range result.Mutants {
		if err := s.store.SaveMutant(ctx, &result.Mutants[i]); err != nil {
			slog.Warn("mutant not persisted", "mutant", result.Mutants[i].ID, "error", err)
		}
	}

	result.Success = true

	return result
}

// testCaseFor returns the generated test case owned by the class, reusing the
// existing one so method versions keep growing across batches.
func (s *Scheduler) testCaseFor(class string, existing []m.TestCase) *m.TestCase {
	name := simpleClassName(class) + "CoevoTest"

	for _, tc := range existing {
		if tc.Name == name {
			found := tc
			return &found
		}
	}

	return &m.TestCase{
		ID:       class + "#coevo",
		Class:    class,
		Name:     name,
		File:     testFilePath(class, name),
		Preamble: renderPreamble(packageOf(class)),
	}
}

func mutantsFromPatches(target m.Target, patches []m.Patch) []m.Mutant {
	mutants := make([]m.Mutant, 0, len(patches))

	for _, patch := range patches {
		mutants = append(mutants, m.Mutant{
			ID:     uuid.NewString(),
			Class:  target.Class,
			Method: target.Method,
			Patch:  patch,
			Status: m.MutantPending,
		})
	}

	return mutants
}

// testMethodName extracts the method name from a generated body, falling back
// to a deterministic name when the body has no recognizable signature.
func testMethodName(body string, target m.Target, index int) string {
	if match := testMethodNameRe.FindStringSubmatch(body); match != nil {
		return match[1]
	}

	return fmt.Sprintf("%sGenerated%d", sanitizeID(target.Method), index)
}

func renderExistingTests(cases []m.TestCase) string {
	rendered := make([]string, 0, len(cases))

	for i := range cases {
		rendered = append(rendered, RenderTestClass(&cases[i]))
	}

	return strings.Join(rendered, "\n\n")
}

func simpleClassName(class string) string {
	if idx := strings.LastIndexByte(class, '.'); idx >= 0 {
		return class[idx+1:]
	}

	return class
}

func packageOf(class string) string {
	if idx := strings.LastIndexByte(class, '.'); idx >= 0 {
		return class[:idx]
	}

	return ""
}

func testFilePath(class, name string) m.Path {
	dir := strings.ReplaceAll(packageOf(class), ".", "/")
	if dir != "" {
		dir += "/"
	}

	return m.Path("src/test/java/" + dir + name + ".java")
}

func renderPreamble(pkg string) string {
	var out strings.Builder

	if pkg != "" {
		out.WriteString("package " + pkg + ";\n\n")
	}

	out.WriteString("import org.junit.jupiter.api.Test;\n")
	out.WriteString("import static org.junit.jupiter.api.Assertions.*;\n")

	return out.String()
}
