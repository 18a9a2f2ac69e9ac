package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sakif/script-runner/internal/apperror"
)

// Workspaces allocates the ephemeral per-execution working directories.
// Each execution owns exactly one directory for its whole duration;
// uniqueness comes from the execution ID, which the persistence layer
// guarantees unique.
type Workspaces struct {
	baseDir string
}

// NewWorkspaces creates the allocator rooted at baseDir, creating the root
// if needed.
func NewWorkspaces(baseDir string) (*Workspaces, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperror.Resource(fmt.Sprintf("creating workspace root %s", baseDir), err)
	}
	return &Workspaces{baseDir: baseDir}, nil
}

// Create makes the workspace directory for one execution attempt.
// It fails with a resource error if the directory cannot be created.
func (w *Workspaces) Create(executionID, userID string) (string, error) {
	dir := filepath.Join(w.baseDir, fmt.Sprintf("execution_%s_%s", executionID, userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperror.Resource(fmt.Sprintf("creating workspace for execution %s", executionID), err)
	}
	return dir, nil
}

// Remove tears down a workspace once the permanent store has taken
// ownership of any output files. A missing directory is not an error.
func (w *Workspaces) Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("output: removing workspace %s: %w", dir, err)
	}
	return nil
}
