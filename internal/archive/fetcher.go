package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	appErr "emc/pkg/errors"
)

// BlobSource reads submission archive blobs from object storage. It is
// intentionally small so MinIO and S3 implementations stay swappable.
type BlobSource interface {
	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// MinIOSource implements BlobSource against a MinIO endpoint.
type MinIOSource struct {
	client *minio.Client
}

func NewMinIOSource(cfg MinIOConfig) (*MinIOSource, error) {
	if cfg.Endpoint == "" {
		return nil, appErr.ValidationError("endpoint", "required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, appErr.ValidationError("credentials", "required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create minio client")
	}
	return &MinIOSource{client: client}, nil
}

func (s *MinIOSource) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "minio get object %s/%s", bucket, objectKey)
	}
	return obj, nil
}

// Fetcher materialises submission archives from object storage into the
// attempt directory of the archive store.
type Fetcher struct {
	source BlobSource
	bucket string
}

func NewFetcher(source BlobSource, bucket string) (*Fetcher, error) {
	if source == nil {
		return nil, appErr.ValidationError("source", "required")
	}
	if bucket == "" {
		return nil, appErr.ValidationError("bucket", "required")
	}
	return &Fetcher{source: source, bucket: bucket}, nil
}

// Fetch streams the object at objectKey into destPath, writing through a
// temp file so a half-downloaded archive is never visible at destPath.
func (f *Fetcher) Fetch(ctx context.Context, objectKey, destPath string) error {
	rc, err := f.source.GetObject(ctx, f.bucket, objectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "create temp in %s", dir)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return appErr.Wrapf(err, appErr.StorageError, "download %s", objectKey)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "close temp for %s", destPath)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		os.Remove(tmpName)
		return appErr.Wrapf(err, appErr.StorageWriteFailed, "rename into %s", destPath)
	}
	return nil
}
