package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "coevo.dev/pkg/coevo/internal/model"
)

func workerFile(target, path, content string) m.WorkerResult {
	return m.WorkerResult{
		Target: m.Target{Class: target, Method: "m"},
		Files:  []m.GeneratedFile{{Path: m.Path(path), Content: []byte(content)}},
	}
}

func TestMergeDistinctPaths(t *testing.T) {
	merged := MergeGeneratedFiles([]m.WorkerResult{
		workerFile("B", "b/Test.java", "b"),
		workerFile("A", "a/Test.java", "a"),
	})

	assert.Zero(t, merged.Conflicts)
	require.Len(t, merged.Files, 2)
	// Output ordered by path regardless of worker order.
	assert.Equal(t, m.Path("a/Test.java"), merged.Files[0].Path)
	assert.Equal(t, m.Path("b/Test.java"), merged.Files[1].Path)
}

func TestMergeIdenticalContentDeduplicates(t *testing.T) {
	merged := MergeGeneratedFiles([]m.WorkerResult{
		workerFile("A", "shared/Test.java", "same"),
		workerFile("B", "shared/Test.java", "same"),
	})

	assert.Zero(t, merged.Conflicts)
	require.Len(t, merged.Files, 1)
	assert.Equal(t, "same", string(merged.Files[0].Content))
}

func TestMergeConflictFirstSeenWins(t *testing.T) {
	merged := MergeGeneratedFiles([]m.WorkerResult{
		workerFile("A", "shared/Test.java", "first"),
		workerFile("B", "shared/Test.java", "second"),
	})

	assert.Equal(t, 1, merged.Conflicts)
	require.Len(t, merged.Files, 1)
	assert.Equal(t, "first", string(merged.Files[0].Content))
}

func TestMergeCountsEveryConflict(t *testing.T) {
	merged := MergeGeneratedFiles([]m.WorkerResult{
		workerFile("A", "shared/Test.java", "first"),
		workerFile("B", "shared/Test.java", "second"),
		workerFile("C", "shared/Test.java", "third"),
	})

	assert.Equal(t, 2, merged.Conflicts)
	require.Len(t, merged.Files, 1)
	assert.Equal(t, "first", string(merged.Files[0].Content))
}

func TestMergeEmptyInput(t *testing.T) {
	merged := MergeGeneratedFiles(nil)

	assert.Zero(t, merged.Conflicts)
	assert.Empty(t, merged.Files)
}
