package sandbox

import (
	"io"
	"os"
	"path/filepath"

	appErr "emc/pkg/errors"
)

// Stage builds a fresh working directory from layered sources. Layers
// are applied in order, later files overwriting earlier ones, so the
// caller lists assignment scaffolding first and student code last.
// Missing layer directories are skipped.
func Stage(workDir string, layers ...string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return appErr.InfraError(err, "stage")
	}
	for _, layer := range layers {
		info, err := os.Stat(layer)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return appErr.InfraError(err, "stage")
		}
		if !info.IsDir() {
			continue
		}
		if err := copyTree(layer, workDir); err != nil {
			return appErr.InfraError(err, "stage")
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			// symlinks and specials never enter the sandbox
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
