package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	appErr "emc/pkg/errors"
)

func TestValidateRunSpec(t *testing.T) {
	valid := RunSpec{RunID: "r1", WorkDir: "/tmp/w", Command: "./main"}
	if err := validateRunSpec(valid); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*RunSpec)
	}{
		{"no run id", func(rs *RunSpec) { rs.RunID = "" }},
		{"no work dir", func(rs *RunSpec) { rs.WorkDir = "" }},
		{"no command", func(rs *RunSpec) { rs.Command = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rs := valid
			tc.mutate(&rs)
			if err := validateRunSpec(rs); appErr.GetCode(err) != appErr.ValidationFailed {
				t.Fatalf("err = %v, want ValidationFailed", err)
			}
		})
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(8)
	n, err := b.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	n, err = b.Write([]byte("world!"))
	if err != nil || n != 6 {
		t.Fatalf("overflow write must not error: n=%d err=%v", n, err)
	}
	if got := b.String(); got != "hellowor" {
		t.Fatalf("buffer = %q, want first 8 bytes", got)
	}
	if !b.Truncated() {
		t.Fatal("Truncated() = false after overflow")
	}
}

func TestStageLayersOverwriteInOrder(t *testing.T) {
	base := t.TempDir()
	scaffold := filepath.Join(base, "scaffold")
	student := filepath.Join(base, "student")
	work := filepath.Join(base, "work")

	mustWrite(t, filepath.Join(scaffold, "main.cpp"), "// scaffold")
	mustWrite(t, filepath.Join(scaffold, "lib", "util.h"), "// util")
	mustWrite(t, filepath.Join(student, "main.cpp"), "// student")

	if err := Stage(work, scaffold, student); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if got := mustRead(t, filepath.Join(work, "main.cpp")); got != "// student" {
		t.Fatalf("main.cpp = %q, want student layer on top", got)
	}
	if got := mustRead(t, filepath.Join(work, "lib", "util.h")); got != "// util" {
		t.Fatalf("util.h = %q", got)
	}
}

func TestStageSkipsMissingLayers(t *testing.T) {
	base := t.TempDir()
	work := filepath.Join(base, "work")
	if err := Stage(work, filepath.Join(base, "absent")); err != nil {
		t.Fatalf("Stage with missing layer: %v", err)
	}
	if _, err := os.Stat(work); err != nil {
		t.Fatalf("work dir not created: %v", err)
	}
}

func TestStageDropsSymlinks(t *testing.T) {
	base := t.TempDir()
	layer := filepath.Join(base, "layer")
	work := filepath.Join(base, "work")
	mustWrite(t, filepath.Join(layer, "real.txt"), "data")
	if err := os.Symlink("/etc/passwd", filepath.Join(layer, "escape")); err != nil {
		t.Skipf("symlink: %v", err)
	}

	if err := Stage(work, layer); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(work, "escape")); !os.IsNotExist(err) {
		t.Fatal("symlink copied into work dir")
	}
	if got := mustRead(t, filepath.Join(work, "real.txt")); got != "data" {
		t.Fatalf("real.txt = %q", got)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(data))
}
