package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

// SaveRunState persists the run snapshot as YAML so an interrupted run can be
// resumed. The snapshot is written whole on every sync; partial writes are
// acceptable to lose since the store remains authoritative.
func SaveRunState(fs adapter.SandboxFS, path m.Path, state *m.RunState) error {
	content, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	if err := fs.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("write run state %s: %w", path, err)
	}

	return nil
}

// LoadRunState reads a persisted run snapshot.
func LoadRunState(fs adapter.SandboxFS, path m.Path) (*m.RunState, error) {
	content, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run state %s: %w", path, err)
	}

	var state m.RunState
	if err := yaml.Unmarshal(content, &state); err != nil {
		return nil, fmt.Errorf("unmarshal run state %s: %w", path, err)
	}

	return &state, nil
}
