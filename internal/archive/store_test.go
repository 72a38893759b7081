package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appErr "emc/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestPathScheme(t *testing.T) {
	s := newTestStore(t)

	cfg := s.ConfigPath(3, 7)
	want := filepath.Join(s.Root(), "module_3", "assignment_7", "config", "config.json")
	if cfg != want {
		t.Fatalf("ConfigPath = %s, want %s", cfg, want)
	}

	out := s.SubmissionOutputPath(3, 7, 42, 2, 5)
	want = filepath.Join(s.Root(), "module_3", "assignment_7",
		"assignment_submissions", "user_42", "attempt_2", "submission_output", "5")
	if out != want {
		t.Fatalf("SubmissionOutputPath = %s, want %s", out, want)
	}
}

func TestSaveIsAtomicAndSingleBlob(t *testing.T) {
	s := newTestStore(t)
	path := s.AllocatorPath(1, 1)

	if err := s.Save(path, []byte("first")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(path, []byte("second")); err != nil {
		t.Fatalf("Save over existing: %v", err)
	}

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("Read = %q, want %q", data, "second")
	}

	// No temp residue in the slot directory.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("slot dir holds %d entries, want 1", len(entries))
	}
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read(s.ConfigPath(9, 9))
	if !appErr.Is(err, appErr.StorageNotFound) {
		t.Fatalf("Read missing = %v, want StorageNotFound", err)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Remove(s.ConfigPath(9, 9)); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "sub.zip")
	writeZip(t, zipPath, map[string]string{
		"main.cpp":      "int main() {}",
		"src/helper.h": "x",
	})

	dest := filepath.Join(dir, "out")
	if err := Extract(zipPath, dest, 1<<20); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "main.cpp"))
	if err != nil {
		t.Fatalf("read extracted: %v", err)
	}
	if string(data) != "int main() {}" {
		t.Fatalf("extracted = %q", data)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath, map[string]string{"../escape.txt": "nope"})

	err := Extract(zipPath, filepath.Join(dir, "out"), 1<<20)
	if !appErr.Is(err, appErr.ArchiveUnsafePath) {
		t.Fatalf("Extract = %v, want ArchiveUnsafePath", err)
	}
}

func TestExtractEnforcesBudget(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "big.zip")
	writeZip(t, zipPath, map[string]string{"big.txt": strings.Repeat("a", 2048)})

	err := Extract(zipPath, filepath.Join(dir, "out"), 1024)
	if !appErr.Is(err, appErr.ArchiveTooLarge) {
		t.Fatalf("Extract = %v, want ArchiveTooLarge", err)
	}
}

func TestExtractUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.rar")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Extract(path, filepath.Join(dir, "out"), 1024)
	if !appErr.Is(err, appErr.ArchiveUnsupported) {
		t.Fatalf("Extract = %v, want ArchiveUnsupported", err)
	}
}
