package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/rs/zerolog"
)

// GCSRemote stores the snapshot as the object "<folder>/<file>" in a bucket.
// Folders are object-name prefixes, so discovery needs no create call.
type GCSRemote struct {
	client *storage.Client
	bucket string
	object string
	log    zerolog.Logger
}

// NewGCSRemote creates a storage client using Application Default Credentials.
func NewGCSRemote(ctx context.Context, bucket, folderName, fileName string, log zerolog.Logger) (*GCSRemote, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCSRemoteWithClient(client, bucket, folderName, fileName, log), nil
}

// NewGCSRemoteWithClient wraps an existing storage client.
func NewGCSRemoteWithClient(client *storage.Client, bucket, folderName, fileName string, log zerolog.Logger) *GCSRemote {
	if folderName == "" {
		folderName = DefaultFolderName
	}
	if fileName == "" {
		fileName = DefaultFileName
	}
	object := path.Join(folderName, fileName)
	return &GCSRemote{
		client: client,
		bucket: bucket,
		object: object,
		log:    log.With().Str("remote", "gcs").Str("bucket", bucket).Str("object", object).Logger(),
	}
}

// ObjectName returns the object holding the snapshot.
func (r *GCSRemote) ObjectName() string { return r.object }

// Close closes the storage client.
func (r *GCSRemote) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// IsAvailable implements Remote.
func (r *GCSRemote) IsAvailable() bool {
	return r != nil && r.client != nil && r.bucket != ""
}

// Upload implements Remote. The object is replaced only when the writer
// closes cleanly; a failed write cancels the upload.
func (r *GCSRemote) Upload(ctx context.Context, snap domain.Snapshot) error {
	if !r.IsAvailable() {
		return ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := r.client.Bucket(r.bucket).Object(r.object).NewWriter(ctx)
	w.ContentType = JSONMimeType

	if err := json.NewEncoder(w).Encode(snap.Normalize()); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	r.log.Info().Int("version", snap.Version).Msg("Uploaded snapshot")
	return nil
}

// Download implements Remote.
func (r *GCSRemote) Download(ctx context.Context) (*domain.Snapshot, error) {
	if !r.IsAvailable() {
		return nil, ErrUnavailable
	}

	rc, err := r.client.Bucket(r.bucket).Object(r.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		r.log.Info().Msg("No remote snapshot yet")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open object reader: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snap = snap.Normalize()
	return &snap, nil
}

var _ Remote = (*GCSRemote)(nil)
