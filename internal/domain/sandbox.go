// Package domain implements the coevo core: sandbox lifecycle, the parallel
// kill-matrix builder, the conflict isolator, the test verification and
// repair engine, and the batch scheduler with its target coordinator.
package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// SandboxManager creates and destroys isolated copies of a project tree and
// keeps a thread-safe registry of live sandboxes. No component may assume a
// sandbox outlives its owning worker's call stack.
type SandboxManager interface {
	// Create copies sourceTree into a fresh directory under the manager's
	// base path, registered under id. It fails when the id collides with a
	// live sandbox or the copy cannot complete.
	Create(ctx context.Context, sourceTree m.Path, id string) (m.Path, error)

	// CreateTargetSandbox derives a collision-resistant id from the target
	// and worker identity, then creates the sandbox.
	CreateTargetSandbox(ctx context.Context, sourceTree m.Path, class, method string) (string, m.Path, error)

	// Cleanup removes the sandbox directory and unregisters it. Cleaning an
	// unknown id is a no-op logged as a warning, never an error.
	Cleanup(ctx context.Context, id string)

	// Live returns the ids of all registered sandboxes.
	Live() []string
}

type sandboxManager struct {
	fs       adapter.SandboxFS
	base     m.Path
	workerID string

	mu   sync.Mutex
	live map[string]m.Path
}

// NewSandboxManager constructs a SandboxManager rooted at base.
func NewSandboxManager(fs adapter.SandboxFS, base m.Path) SandboxManager {
	return &sandboxManager{
		fs:       fs,
		base:     base,
		workerID: uuid.NewString()[:8],
		live:     make(map[string]m.Path),
	}
}

func (sm *sandboxManager) Create(ctx context.Context, sourceTree m.Path, id string) (m.Path, error) {
	path := sm.fs.JoinPath(string(sm.base), id)

	sm.mu.Lock()

	if _, exists := sm.live[id]; exists {
		sm.mu.Unlock()
		return "", fmt.Errorf("%w: id %q collides with a live sandbox", ErrSandboxCreation, id)
	}

	// Register before copying so a concurrent Create with the same id fails
	// fast instead of racing the copy.
	sm.live[id] = path
	sm.mu.Unlock()

	if err := sm.fs.MkdirAll(path); err != nil {
		sm.unregister(id)
		return "", fmt.Errorf("%w: %v", ErrSandboxCreation, err)
	}

	if err := sm.fs.CopyTree(ctx, sourceTree, path); err != nil {
		sm.unregister(id)

		if removeErr := sm.fs.RemoveAll(path); removeErr != nil {
			slog.Error("failed to remove partial sandbox", "id", id, "path", path, "error", removeErr)
		}

		return "", fmt.Errorf("%w: copy %s: %v", ErrSandboxCreation, sourceTree, err)
	}

	slog.Debug("created sandbox", "id", id, "path", path)

	return path, nil
}

func (sm *sandboxManager) CreateTargetSandbox(ctx context.Context, sourceTree m.Path, class, method string) (string, m.Path, error) {
	id := fmt.Sprintf("%s-%s-%d-%s",
		sanitizeID(class), sanitizeID(method), time.Now().UnixNano(), sm.workerID)

	path, err := sm.Create(ctx, sourceTree, id)
	if err != nil {
		return "", "", err
	}

	return id, path, nil
}

func (sm *sandboxManager) Cleanup(_ context.Context, id string) {
	sm.mu.Lock()
	path, exists := sm.live[id]
	delete(sm.live, id)
	sm.mu.Unlock()

	if !exists {
		slog.Warn("cleanup of unknown sandbox", "id", id)
		return
	}

	if err := sm.fs.RemoveAll(path); err != nil {
		slog.Error("failed to remove sandbox", "id", id, "path", path, "error", err)
		return
	}

	slog.Debug("cleaned sandbox", "id", id, "path", path)
}

func (sm *sandboxManager) Live() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ids := make([]string, 0, len(sm.live))
	for id := range sm.live {
		ids = append(ids, id)
	}

	return ids
}

func (sm *sandboxManager) unregister(id string) {
	sm.mu.Lock()
	delete(sm.live, id)
	sm.mu.Unlock()
}

// sanitizeID makes a class or method name safe for use in a directory name.
func sanitizeID(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ".", "_", " ", "_", "#", "_", "(", "", ")", "")
	sanitized := replacer.Replace(name)

	const maxLen = 40
	if len(sanitized) > maxLen {
		sanitized = sanitized[:maxLen]
	}

	return sanitized
}
