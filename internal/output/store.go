package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/model"
)

// Store is the permanent home of execution output files. Files are copied
// (not linked) out of the ephemeral workspace into a directory keyed by
// execution ID; that directory is what downloads resolve against and what
// the cleanup policy deletes.
type Store struct {
	baseDir string
}

// NewStore creates the store rooted at baseDir/permanent.
func NewStore(baseDir string) (*Store, error) {
	root := filepath.Join(baseDir, "permanent")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("output: creating permanent store root: %w", err)
	}
	return &Store{baseDir: root}, nil
}

// Dir returns the permanent directory for an execution. The directory may
// not exist yet.
func (s *Store) Dir(executionID string) string {
	return filepath.Join(s.baseDir, executionID)
}

// Persist copies every file named in records from the workspace into the
// execution's permanent directory.
//
// Semantics are all-or-nothing per execution: if any copy fails, whatever
// was written is removed before the storage error is returned. Calling
// Persist again with the same inputs overwrites byte-identical content and
// succeeds, so retries are idempotent.
func (s *Store) Persist(executionID, workspace string, records []model.FileRecord) (string, error) {
	dest := s.Dir(executionID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", apperror.Storage(fmt.Sprintf("creating permanent dir for execution %s", executionID), err)
	}

	for _, rec := range records {
		src := filepath.Join(workspace, filepath.FromSlash(rec.Path))
		dst := filepath.Join(dest, filepath.FromSlash(rec.Path))
		if err := copyFile(src, dst); err != nil {
			// Partial copies are not acceptable; undo everything.
			os.RemoveAll(dest)
			return "", apperror.Storage(fmt.Sprintf("copying %s for execution %s", rec.Path, executionID), err)
		}
	}

	return dest, nil
}

// ResolveDownloadPath maps (executionID, relative path) to an absolute path
// inside the execution's permanent directory.
//
// Traversal defense is a hard invariant: absolute paths and any path with a
// ".." segment are rejected before the filesystem is touched, and the
// cleaned result is re-checked for containment afterwards.
func (s *Store) ResolveDownloadPath(executionID, relPath string) (string, error) {
	if filepath.IsAbs(relPath) || strings.HasPrefix(relPath, "/") {
		return "", apperror.Forbidden("absolute file paths are not allowed")
	}
	for _, seg := range strings.Split(filepath.ToSlash(relPath), "/") {
		if seg == ".." {
			return "", apperror.Forbidden("file path may not contain '..'")
		}
	}

	dir := s.Dir(executionID)
	full := filepath.Clean(filepath.Join(dir, filepath.FromSlash(relPath)))
	if full != dir && !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", apperror.Forbidden("file path escapes the execution directory")
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", apperror.NotFound("file", relPath)
	}
	return full, nil
}

// List re-scans an execution's permanent directory and returns records for
// everything in it. Used by the files API after the workspace is gone.
func (s *Store) List(executionID string) ([]model.FileRecord, error) {
	dir := s.Dir(executionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []model.FileRecord{}, nil
	}
	return Diff(dir, nil)
}

// Remove deletes an execution's permanent directory. A directory that is
// already gone counts as success.
func (s *Store) Remove(executionID string) error {
	if err := os.RemoveAll(s.Dir(executionID)); err != nil {
		return apperror.Storage(fmt.Sprintf("removing files for execution %s", executionID), err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
