// Package blobstore stores the per-user snapshot as a single JSON blob in a
// remote file store, addressed by a well-known folder and file name.
package blobstore

import (
	"context"
	"errors"

	"github.com/dvloznov/finance-sync/internal/domain"
)

//go:generate mockgen -source=remote.go -destination=remote_mock.go -package=blobstore

const (
	// DefaultFolderName is the well-known folder holding the snapshot.
	DefaultFolderName = "PersonalFinanceApp"
	// DefaultFileName is the well-known snapshot file.
	DefaultFileName = "finance_data.json"
	// JSONMimeType is the content type of the snapshot file.
	JSONMimeType = "application/json"
	// FolderMimeType is the Drive MIME type of folders.
	FolderMimeType = "application/vnd.google-apps.folder"
)

// ErrUnavailable is returned when the remote client or credential is missing.
var ErrUnavailable = errors.New("remote storage unavailable")

// Remote is the remote snapshot store.
type Remote interface {
	// IsAvailable reports whether the client is initialized and holds a
	// valid credential. Callers check it before every operation.
	IsAvailable() bool

	// Upload overwrites the remote snapshot.
	Upload(ctx context.Context, snap domain.Snapshot) error

	// Download returns the remote snapshot, or nil with no error when no
	// remote data exists yet.
	Download(ctx context.Context) (*domain.Snapshot, error)
}
