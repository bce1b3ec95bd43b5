// Package workspace manages per-build filesystem roots and the git helper
// that populates them.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/lightci/pkg/model"
)

// Manager creates, locates, and cleans per-build workspace directories
// under a single root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates the workspace root if needed and returns a Manager.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, model.NewEngineError(model.KindWorkspace, "create workspace root", err)
	}
	return &Manager{
		root:   root,
		logger: logger.With("component", "workspace"),
	}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory for the given build id without creating it.
func (m *Manager) Path(id string) string {
	return filepath.Join(m.root, id)
}

// Create makes the workspace directory for a build and returns its path.
// Creating an existing workspace is a no-op.
func (m *Manager) Create(id string) (string, error) {
	dir := m.Path(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", model.NewEngineError(model.KindWorkspace, fmt.Sprintf("create workspace %s", id), err)
	}
	m.logger.Debug("workspace created", "id", id, "path", dir)
	return dir, nil
}

// Delete removes a build's workspace. Deleting a missing workspace is a no-op.
func (m *Manager) Delete(id string) error {
	dir := m.Path(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return model.NewEngineError(model.KindWorkspace, fmt.Sprintf("delete workspace %s", id), err)
	}
	m.logger.Debug("workspace deleted", "id", id)
	return nil
}

// Exists reports whether a workspace directory is present for the build.
func (m *Manager) Exists(id string) bool {
	info, err := os.Stat(m.Path(id))
	return err == nil && info.IsDir()
}

// CleanupOlderThan removes workspaces whose directories have not been
// modified within maxAge. It returns the number removed.
func (m *Manager) CleanupOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, model.NewEngineError(model.KindWorkspace, "read workspace root", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			m.logger.Warn("cleanup failed", "id", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("workspaces cleaned", "removed", removed)
	}
	return removed, nil
}
