package domain

import (
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// ApplyPatch applies a mutant's patch to the file inside root. The patch's
// original text must match the target lines exactly; a mismatch means the
// file moved on since the mutant was proposed and the mutant is unusable.
func ApplyPatch(fs adapter.SandboxFS, root m.Path, patch m.Patch) error {
	path := fs.JoinPath(string(root), string(patch.File))

	content, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPatchApplication, patch.File, err)
	}

	lines := strings.SplitAfter(string(content), "\n")
	if patch.StartLine < 1 || patch.EndLine > len(lines) || patch.StartLine > patch.EndLine {
		return fmt.Errorf("%w: %s has %d lines, patch wants %d-%d",
			ErrPatchApplication, patch.File, len(lines), patch.StartLine, patch.EndLine)
	}

	region := strings.Join(lines[patch.StartLine-1:patch.EndLine], "")
	if normalizeRegion(region) != normalizeRegion(patch.Original) {
		return fmt.Errorf("%w: original text mismatch in %s:%d-%d",
			ErrPatchApplication, patch.File, patch.StartLine, patch.EndLine)
	}

	mutated := patch.Mutated
	if !strings.HasSuffix(mutated, "\n") {
		mutated += "\n"
	}

	var out strings.Builder

	out.WriteString(strings.Join(lines[:patch.StartLine-1], ""))
	out.WriteString(mutated)
	out.WriteString(strings.Join(lines[patch.EndLine:], ""))

	if err := fs.WriteFile(path, []byte(out.String()), 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrPatchApplication, patch.File, err)
	}

	return nil
}

func normalizeRegion(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	lines := strings.Split(trimmed, "\n")

	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	return strings.Join(lines, "\n")
}

// RenderDiff returns a unified diff between two versions of a file, used
// when logging merge conflicts and applied patches.
func RenderDiff(path m.Path, original, modified string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: string(path),
		ToFile:   string(path) + " (modified)",
		Context:  3,
	}

	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("(diff unavailable: %v)", err)
	}

	return text
}

// WriteGeneratedFiles writes worker-produced artifacts into root, creating
// parent directories as needed.
func WriteGeneratedFiles(fs adapter.SandboxFS, root m.Path, files []m.GeneratedFile) error {
	for _, file := range files {
		path := fs.JoinPath(string(root), string(file.Path))
		if err := fs.WriteFile(path, file.Content, os.FileMode(0o600)); err != nil {
			return fmt.Errorf("write generated file %s: %w", file.Path, err)
		}
	}

	return nil
}
