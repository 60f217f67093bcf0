// Package pkg provides generic utilities for coevo.
package pkg

import (
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ActionLog is a generic append-only log of items of type T, spilled to disk
// so the in-memory run state can keep only bounded history. The scheduler
// uses it as the audit trail of batch actions and score movements.
type ActionLog[T any] interface {
	Len() uint64
	Path() string
	Append(item T) error
	Get(index uint64) (T, error)
	Range(fn func(index uint64, item T) error) error
	Tail(n uint64) ([]T, error)
	Close() error
}

type actionLogImpl[T any] struct {
	path    string
	file    *os.File
	encoder *gob.Encoder
	mu      sync.Mutex
	length  uint64
}

// NewActionLog creates an ActionLog backed by a gob file in dir. The name is
// used as the file prefix so one run directory can hold several logs.
func NewActionLog[T any](dir, name string) (ActionLog[T], error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		slog.Error("failed to create action log directory", "path", dir, "error", err)
		return nil, fmt.Errorf("failed to create action log directory: %w", err)
	}

	file, err := os.CreateTemp(dir, name+"-*.gob")
	if err != nil {
		slog.Error("failed to create action log file", "dir", dir, "error", err)
		return nil, fmt.Errorf("failed to create action log file: %w", err)
	}

	slog.Debug("created action log", "path", file.Name())

	return &actionLogImpl[T]{
		path:    file.Name(),
		file:    file,
		encoder: gob.NewEncoder(file),
	}, nil
}

// Append implements ActionLog.
func (l *actionLogImpl[T]) Append(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(item); err != nil {
		slog.Error("failed to encode log item", "path", l.path, "index", l.length, "error", err)
		return fmt.Errorf("failed to encode log item: %w", err)
	}

	l.length++

	return nil
}

// Len implements ActionLog.
func (l *actionLogImpl[T]) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.length
}

// Path implements ActionLog.
func (l *actionLogImpl[T]) Path() string {
	return l.path
}

// Get implements ActionLog.
func (l *actionLogImpl[T]) Get(index uint64) (T, error) {
	var zero T

	l.mu.Lock()
	defer l.mu.Unlock()

	if index >= l.length {
		return zero, fmt.Errorf("index %d out of bounds (length %d)", index, l.length)
	}

	var item T

	err := l.decodeUpTo(index, func(_ uint64, decoded T) error {
		item = decoded
		return nil
	})
	if err != nil {
		return zero, err
	}

	return item, nil
}

// Range implements ActionLog.
func (l *actionLogImpl[T]) Range(fn func(index uint64, item T) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.length == 0 {
		return nil
	}

	return l.decodeUpTo(l.length-1, fn)
}

// Tail implements ActionLog. It returns the last n items, fewer when the log
// is shorter.
func (l *actionLogImpl[T]) Tail(n uint64) ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.length == 0 || n == 0 {
		return nil, nil
	}

	start := uint64(0)
	if l.length > n {
		start = l.length - n
	}

	items := make([]T, 0, l.length-start)

	err := l.decodeUpTo(l.length-1, func(index uint64, item T) error {
		if index >= start {
			items = append(items, item)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// decodeUpTo re-reads the file from the start, invoking fn for every item up
// to and including index. Callers must hold the mutex.
func (l *actionLogImpl[T]) decodeUpTo(index uint64, fn func(index uint64, item T) error) error {
	file, err := os.Open(l.path)
	if err != nil {
		slog.Error("failed to open action log", "path", l.path, "error", err)
		return fmt.Errorf("failed to open action log: %w", err)
	}

	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("failed to close action log", "path", l.path, "error", err)
		}
	}()

	decoder := gob.NewDecoder(file)

	for i := uint64(0); i <= index; i++ {
		var item T
		if err := decoder.Decode(&item); err != nil {
			slog.Error("failed to decode log item", "path", l.path, "index", i, "error", err)
			return fmt.Errorf("failed to decode log item at index %d: %w", i, err)
		}

		if err := fn(i, item); err != nil {
			return err
		}
	}

	return nil
}

// Close implements ActionLog. The underlying file is left on disk for audit.
func (l *actionLogImpl[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	if err := l.file.Close(); err != nil {
		slog.Error("failed to close action log file", "path", l.path, "error", err)
		return err
	}

	l.file = nil

	return nil
}
