package domain

import (
	"bytes"
	"log/slog"
	"sort"

	m "coevo.dev/pkg/coevo/internal/model"
)

// MergeResult is the outcome of merging the generated files of one batch.
type MergeResult struct {
	Files     []m.GeneratedFile
	Conflicts int
}

// MergeGeneratedFiles deterministically unions the workers' generated files
// keyed by relative path. Identical content across workers deduplicates
// silently; differing content for the same path is a merge conflict. The
// first-seen version wins and the conflict is counted and logged, never
// silently overwritten.
//
// Results are ordered by worker slice order, so the merge is reproducible
// for a given batch regardless of which worker finished first: callers pass
// results in dispatch order.
func MergeGeneratedFiles(results []m.WorkerResult) MergeResult {
	merged := make(map[m.Path][]byte)

	var order []m.Path

	conflicts := 0

	for _, result := range results {
		for _, file := range result.Files {
			existing, seen := merged[file.Path]
			if !seen {
				merged[file.Path] = file.Content
				order = append(order, file.Path)

				continue
			}

			if bytes.Equal(existing, file.Content) {
				continue
			}

			conflicts++
			slog.Warn("merge conflict, first-seen content retained",
				"path", file.Path,
				"worker", result.Target.Key(),
				"diff", RenderDiff(file.Path, string(existing), string(file.Content)))
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	files := make([]m.GeneratedFile, 0, len(order))
	for _, path := range order {
		files = append(files, m.GeneratedFile{Path: path, Content: merged[path]})
	}

	return MergeResult{Files: files, Conflicts: conflicts}
}
