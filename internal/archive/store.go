// Package archive is the content store for everything the marking core
// reads and writes on disk. Paths embed the owning primary keys, and the
// store is the only component allowed to mutate a path it derives.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	appErr "emc/pkg/errors"
)

// Store resolves canonical paths under a configured storage root and
// performs atomic blob writes.
type Store struct {
	root string
}

// NewStore creates a store rooted at root, creating it if necessary.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, appErr.ValidationError("storage_root", "required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "resolve storage root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create storage root")
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string { return s.root }

// AssignmentDir returns module_{m}/assignment_{a} under the root.
func (s *Store) AssignmentDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.root,
		fmt.Sprintf("module_%d", moduleID),
		fmt.Sprintf("assignment_%d", assignmentID))
}

// ConfigPath returns the execution config document path.
func (s *Store) ConfigPath(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "config", "config.json")
}

// AllocatorPath returns the mark allocator document path.
func (s *Store) AllocatorPath(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "mark_allocator", "allocator.json")
}

// MemoOutputDir returns the memo output directory.
func (s *Store) MemoOutputDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "memo_output")
}

// MemoOutputPath returns the memo output blob for one task.
func (s *Store) MemoOutputPath(moduleID, assignmentID, taskID int64) string {
	return filepath.Join(s.MemoOutputDir(moduleID, assignmentID), fmt.Sprintf("%d", taskID))
}

// OverwriteFilesDir returns the staff overwrite files directory.
func (s *Store) OverwriteFilesDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "overwrite_files")
}

// AssignmentFilesDir returns the staff support files directory.
func (s *Store) AssignmentFilesDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "assignment_files")
}

// AttemptDir returns the directory owned by one submission attempt.
func (s *Store) AttemptDir(moduleID, assignmentID, userID, attempt int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID),
		"assignment_submissions",
		fmt.Sprintf("user_%d", userID),
		fmt.Sprintf("attempt_%d", attempt))
}

// SubmissionOutputDir returns the per-attempt task output directory.
func (s *Store) SubmissionOutputDir(moduleID, assignmentID, userID, attempt int64) string {
	return filepath.Join(s.AttemptDir(moduleID, assignmentID, userID, attempt), "submission_output")
}

// SubmissionOutputPath returns the output blob for one task of one attempt.
func (s *Store) SubmissionOutputPath(moduleID, assignmentID, userID, attempt, taskID int64) string {
	return filepath.Join(s.SubmissionOutputDir(moduleID, assignmentID, userID, attempt),
		fmt.Sprintf("%d", taskID))
}

// ReportPath returns the mark report blob for one attempt.
func (s *Store) ReportPath(moduleID, assignmentID, userID, attempt int64) string {
	return filepath.Join(s.AttemptDir(moduleID, assignmentID, userID, attempt), "mark_report.json")
}

// EnsureDir creates dir and all parents.
func (s *Store) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create dir %s", dir)
	}
	return nil
}

// Save writes data to path atomically: the bytes land in a temp file in
// the target directory and are renamed over the destination. Any
// predecessor blob at the path is removed first so a logical slot never
// holds more than one live blob.
func (s *Store) Save(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.EnsureDir(dir); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return appErr.Wrapf(err, appErr.StorageWriteFailed, "remove predecessor %s", path)
		}
	}
	tmp, err := os.CreateTemp(dir, ".save-*")
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "create temp in %s", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "close temp for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "rename into %s", path)
	}
	return nil
}

// Read returns the blob at path.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.Newf(appErr.StorageNotFound, "no blob at %s", path)
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "read %s", path)
	}
	return data, nil
}

// Remove deletes the blob at path. Missing blobs are not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return appErr.Wrapf(err, appErr.StorageError, "remove %s", path)
	}
	return nil
}
