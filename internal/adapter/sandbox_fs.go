// Package adapter contains infrastructure adapters for the coevo core:
// filesystem access, build/test execution, report parsing, the generative
// client and the persistent store.
package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"

	m "coevo.dev/pkg/coevo/internal/model"
)

// SandboxFS abstracts the filesystem operations the sandbox manager relies
// on. It hides direct os access so sandbox lifecycle logic can be tested
// without touching the disk.
type SandboxFS interface {
	// CopyTree recursively copies src into dst, skipping build artifacts and
	// VCS metadata.
	CopyTree(ctx context.Context, src, dst m.Path) error

	// MkdirAll creates the directory and any missing parents.
	MkdirAll(path m.Path) error

	// RemoveAll removes a directory and all its contents.
	RemoveAll(path m.Path) error

	// ReadFile loads a file from disk and returns its contents.
	ReadFile(path m.Path) ([]byte, error)

	// WriteFile writes content to a file with the given permissions,
	// creating parent directories as needed.
	WriteFile(path m.Path, content []byte, perm os.FileMode) error

	// Exists reports whether the path exists.
	Exists(path m.Path) bool

	// RelPath returns the relative path from base to target.
	RelPath(base, target m.Path) (m.Path, error)

	// JoinPath joins path elements into a single path.
	JoinPath(elem ...string) m.Path

	// ListFiles returns the paths of all files under root with the given
	// extension, relative to root, skipping artifact directories.
	ListFiles(root m.Path, ext string) ([]m.Path, error)
}

// Directories never copied into a sandbox. Build output is regenerated per
// sandbox and VCS metadata is dead weight at this scale.
var copySkipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	"vendor":       {},
	"node_modules": {},
	"target":       {},
	"build":        {},
	".coevo":       {},
}

// LocalSandboxFS is the os-backed implementation of SandboxFS.
type LocalSandboxFS struct{}

// NewLocalSandboxFS constructs a LocalSandboxFS ready to back the sandbox
// manager.
func NewLocalSandboxFS() *LocalSandboxFS {
	return &LocalSandboxFS{}
}

// CopyTree recursively copies src into dst, skipping artifact directories.
func (a *LocalSandboxFS) CopyTree(ctx context.Context, src, dst m.Path) error {
	return filepath.Walk(string(src), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(string(src), path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if _, skip := copySkipDirs[filepath.Base(path)]; skip && path != string(src) {
				return filepath.SkipDir
			}

			return os.MkdirAll(filepath.Join(string(dst), relPath), info.Mode())
		}

		return a.copyFile(path, filepath.Join(string(dst), relPath), info.Mode())
	})
}

// copyFile copies a single file.
func (a *LocalSandboxFS) copyFile(src, dst string, mode os.FileMode) error {
	// #nosec G304 - src is an internal project file path, not user input
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer func() { _ = sourceFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	// #nosec G304 - dst is an internal destination path, not user input
	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	defer func() { _ = destFile.Close() }()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return os.Chmod(dst, mode)
}

// MkdirAll creates the directory and any missing parents.
func (a *LocalSandboxFS) MkdirAll(path m.Path) error {
	return os.MkdirAll(string(path), 0o750)
}

// RemoveAll removes a directory and all its contents.
func (a *LocalSandboxFS) RemoveAll(path m.Path) error {
	return os.RemoveAll(string(path))
}

// ReadFile loads file contents from disk.
func (a *LocalSandboxFS) ReadFile(path m.Path) ([]byte, error) {
	return os.ReadFile(string(path))
}

// WriteFile writes content to a file, creating parent directories as needed.
func (a *LocalSandboxFS) WriteFile(path m.Path, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(string(path)), 0o750); err != nil {
		return err
	}

	return os.WriteFile(string(path), content, perm)
}

// Exists reports whether the path exists.
func (a *LocalSandboxFS) Exists(path m.Path) bool {
	_, err := os.Stat(string(path))
	return err == nil
}

// RelPath returns the relative path from base to target.
func (a *LocalSandboxFS) RelPath(base, target m.Path) (m.Path, error) {
	rel, err := filepath.Rel(string(base), string(target))
	if err != nil {
		return "", err
	}

	return m.Path(rel), nil
}

// JoinPath joins path elements into a single path.
func (a *LocalSandboxFS) JoinPath(elem ...string) m.Path {
	return m.Path(filepath.Join(elem...))
}

// ListFiles returns all files under root with the given extension, relative
// to root.
func (a *LocalSandboxFS) ListFiles(root m.Path, ext string) ([]m.Path, error) {
	var files []m.Path

	err := filepath.Walk(string(root), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if _, skip := copySkipDirs[filepath.Base(path)]; skip && path != string(root) {
				return filepath.SkipDir
			}

			return nil
		}

		if filepath.Ext(path) != ext {
			return nil
		}

		rel, err := filepath.Rel(string(root), path)
		if err != nil {
			return err
		}

		files = append(files, m.Path(rel))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
