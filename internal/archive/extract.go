package archive

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	appErr "emc/pkg/errors"
)

// Extract unpacks a submission archive into destDir. Supported formats
// are .zip, .tar.gz, .tgz and .tar.zst, chosen by file extension.
// maxUncompressed caps the total number of extracted bytes; entries that
// would escape destDir are rejected.
func Extract(archivePath, destDir string, maxUncompressed int64) error {
	if maxUncompressed <= 0 {
		return appErr.ValidationError("max_uncompressed", "must be positive")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create extraction dir")
	}

	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archivePath, destDir, maxUncompressed)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTar(archivePath, destDir, maxUncompressed, "gzip")
	case strings.HasSuffix(name, ".tar.zst"):
		return extractTar(archivePath, destDir, maxUncompressed, "zstd")
	default:
		return appErr.Newf(appErr.ArchiveUnsupported, "unsupported archive %s", filepath.Base(archivePath))
	}
}

// safeJoin resolves an archive entry name inside root, rejecting
// traversal outside of it.
func safeJoin(root, entry string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, entry))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", appErr.Newf(appErr.ArchiveUnsafePath, "entry %q escapes extraction root", entry)
	}
	return cleaned, nil
}

func extractZip(archivePath, destDir string, budget int64) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "open zip %s", archivePath)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.StorageError, "create dir %s", target)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "open zip entry %s", f.Name)
		}
		written, err := writeEntry(target, rc, budget)
		rc.Close()
		if err != nil {
			return err
		}
		budget -= written
	}
	return nil
}

func extractTar(archivePath, destDir string, budget int64, codec string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "open archive %s", archivePath)
	}
	defer f.Close()

	var decoded io.Reader
	switch codec {
	case "gzip":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "open gzip stream")
		}
		defer gz.Close()
		decoded = gz
	case "zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "open zstd stream")
		}
		defer zr.Close()
		decoded = zr
	}

	tr := tar.NewReader(decoded)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "read tar stream")
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.StorageError, "create dir %s", target)
			}
		case tar.TypeReg:
			written, err := writeEntry(target, tr, budget)
			if err != nil {
				return err
			}
			budget -= written
		default:
			// symlinks and specials are dropped from student archives
		}
	}
}

// writeEntry copies at most budget+1 bytes so an over-budget archive is
// detected without draining it.
func writeEntry(target string, src io.Reader, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, appErr.Wrapf(err, appErr.StorageError, "create dir for %s", target)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.StorageError, "create %s", target)
	}
	written, err := io.Copy(out, io.LimitReader(src, budget+1))
	closeErr := out.Close()
	if err != nil {
		return written, appErr.Wrapf(err, appErr.StorageError, "write %s", target)
	}
	if closeErr != nil {
		return written, appErr.Wrapf(closeErr, appErr.StorageError, "close %s", target)
	}
	if written > budget {
		os.Remove(target)
		return written, appErr.New(appErr.ArchiveTooLarge)
	}
	return written, nil
}
