package reports

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"titan/internal/errkind"
)

// ObjectStoreConfig configures the optional S3-compatible mirror.
type ObjectStoreConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Sink writes a report to the local filesystem and, if configured, to
// an S3-compatible object store. A zero-value Sink with no object
// store writes local-only, which is a supported configuration (§9
// does not require object storage).
type Sink struct {
	localRoot string
	mc        *minio.Client
	bucket    string
}

// NewSink builds a Sink rooted at localRoot. objStore may be nil to
// skip object-storage mirroring entirely.
func NewSink(localRoot string, objStore *ObjectStoreConfig) (*Sink, error) {
	s := &Sink{localRoot: localRoot}
	if objStore == nil {
		return s, nil
	}
	mc, err := minio.New(objStore.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(objStore.AccessKeyID, objStore.SecretAccessKey, ""),
		Secure: objStore.UseSSL,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "reports.NewSink", "minio client init failed", err)
	}
	s.mc = mc
	s.bucket = objStore.Bucket
	return s, nil
}

// Write persists data (stable-key-ordered JSON, per §9) under
// relativePath beneath the Sink's local root, then mirrors it to
// object storage under the same key when a store is configured.
func (s *Sink) Write(ctx context.Context, relativePath string, data []byte) error {
	fullPath := filepath.Join(s.localRoot, relativePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return errkind.Wrap(errkind.Fatal, "reports.Sink.Write", "mkdir failed", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return errkind.Wrap(errkind.Fatal, "reports.Sink.Write", "write failed", err)
	}

	if s.mc == nil {
		return nil
	}
	_, err := s.mc.PutObject(ctx, s.bucket, relativePath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "reports.Sink.Write", fmt.Sprintf("mirror to s3://%s/%s failed", s.bucket, relativePath), err)
	}
	return nil
}
