package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	Iteration int
	Note      string
}

func newTestLog(t *testing.T) ActionLog[logEntry] {
	t.Helper()

	log, err := NewActionLog[logEntry](t.TempDir(), "batches")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestActionLogAppendAndGet(t *testing.T) {
	log := newTestLog(t)

	require.NoError(t, log.Append(logEntry{Iteration: 1, Note: "first"}))
	require.NoError(t, log.Append(logEntry{Iteration: 2, Note: "second"}))

	assert.Equal(t, uint64(2), log.Len())

	item, err := log.Get(0)
	require.NoError(t, err)
	assert.Equal(t, logEntry{Iteration: 1, Note: "first"}, item)

	item, err = log.Get(1)
	require.NoError(t, err)
	assert.Equal(t, logEntry{Iteration: 2, Note: "second"}, item)
}

func TestActionLogGetOutOfBounds(t *testing.T) {
	log := newTestLog(t)

	require.NoError(t, log.Append(logEntry{Iteration: 1}))

	_, err := log.Get(1)
	assert.Error(t, err)
}

func TestActionLogRange(t *testing.T) {
	log := newTestLog(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, log.Append(logEntry{Iteration: i}))
	}

	var seen []int

	err := log.Range(func(index uint64, item logEntry) error {
		assert.Equal(t, int(index)+1, item.Iteration)
		seen = append(seen, item.Iteration)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestActionLogRangeEmpty(t *testing.T) {
	log := newTestLog(t)

	err := log.Range(func(uint64, logEntry) error {
		t.Fatal("callback invoked on an empty log")
		return nil
	})
	assert.NoError(t, err)
}

func TestActionLogTail(t *testing.T) {
	log := newTestLog(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, log.Append(logEntry{Iteration: i}))
	}

	tail, err := log.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].Iteration)
	assert.Equal(t, 5, tail[1].Iteration)

	// Asking for more than exists returns everything.
	tail, err = log.Tail(10)
	require.NoError(t, err)
	assert.Len(t, tail, 5)

	tail, err = log.Tail(0)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestActionLogCloseIsIdempotent(t *testing.T) {
	log, err := NewActionLog[logEntry](t.TempDir(), "batches")
	require.NoError(t, err)

	require.NoError(t, log.Close())
	assert.NoError(t, log.Close())
}
