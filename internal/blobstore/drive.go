package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DriveFile is the metadata of a remote file or folder.
type DriveFile struct {
	ID       string
	Name     string
	MimeType string
	Parents  []string
}

// FileQuery selects files by exact name, optional parent folder and MIME type.
// Trashed files never match.
type FileQuery struct {
	Name     string
	ParentID string
	MimeType string
}

// FileAPI is the subset of a file-storage API used for snapshot storage.
type FileAPI interface {
	// List returns matching files, oldest first.
	List(ctx context.Context, q FileQuery) ([]DriveFile, error)

	// Create creates a file or folder and returns its id. A nil content
	// creates the file without a body.
	Create(ctx context.Context, meta DriveFile, content []byte) (string, error)

	// Update replaces the content of a file in a single call.
	Update(ctx context.Context, fileID string, content []byte) error

	// Get downloads the content of a file.
	Get(ctx context.Context, fileID string) ([]byte, error)
}

// DriveRemote stores the snapshot as a file inside a folder of a FileAPI.
type DriveRemote struct {
	files      FileAPI
	creds      oauth2.TokenSource
	folderName string
	fileName   string
	log        zerolog.Logger

	// mu serializes discovery so concurrent callers cannot both create.
	mu sync.Mutex
}

// NewDriveRemote creates a remote over files. Empty names fall back to the defaults.
func NewDriveRemote(files FileAPI, creds oauth2.TokenSource, folderName, fileName string, log zerolog.Logger) *DriveRemote {
	if folderName == "" {
		folderName = DefaultFolderName
	}
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &DriveRemote{
		files:      files,
		creds:      creds,
		folderName: folderName,
		fileName:   fileName,
		log:        log.With().Str("remote", "drive").Str("folder", folderName).Str("file", fileName).Logger(),
	}
}

// IsAvailable implements Remote.
func (r *DriveRemote) IsAvailable() bool {
	if r == nil || r.files == nil || r.creds == nil {
		return false
	}
	tok, err := r.creds.Token()
	if err != nil {
		r.log.Debug().Err(err).Msg("Credential unavailable")
		return false
	}
	return tok.Valid()
}

// EnsureFolder returns the id of the snapshot folder, creating it if needed.
func (r *DriveRemote) EnsureFolder(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureFolder(ctx)
}

// EnsureFile returns the id of the snapshot file in folderID, creating an
// empty file if needed. An empty file downloads as "no remote data".
func (r *DriveRemote) EnsureFile(ctx context.Context, folderID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, found, err := r.findFile(ctx, folderID)
	if err != nil || found {
		return id, err
	}
	id, err = r.files.Create(ctx, DriveFile{Name: r.fileName, MimeType: JSONMimeType, Parents: []string{folderID}}, nil)
	if err != nil {
		return "", fmt.Errorf("create file %s: %w", r.fileName, err)
	}
	r.log.Info().Str("file_id", id).Msg("Created snapshot file")
	return id, nil
}

// Upload implements Remote.
func (r *DriveRemote) Upload(ctx context.Context, snap domain.Snapshot) error {
	if !r.IsAvailable() {
		return ErrUnavailable
	}
	data, err := json.Marshal(snap.Normalize())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	folderID, err := r.ensureFolder(ctx)
	if err != nil {
		return err
	}
	fileID, found, err := r.findFile(ctx, folderID)
	if err != nil {
		return err
	}

	if found {
		if err := r.files.Update(ctx, fileID, data); err != nil {
			return fmt.Errorf("update file %s: %w", fileID, err)
		}
	} else {
		fileID, err = r.files.Create(ctx, DriveFile{Name: r.fileName, MimeType: JSONMimeType, Parents: []string{folderID}}, data)
		if err != nil {
			return fmt.Errorf("create file %s: %w", r.fileName, err)
		}
	}

	r.log.Info().Str("file_id", fileID).Int("bytes", len(data)).Int("version", snap.Version).Msg("Uploaded snapshot")
	return nil
}

// Download implements Remote. Discovery here never creates anything.
func (r *DriveRemote) Download(ctx context.Context) (*domain.Snapshot, error) {
	if !r.IsAvailable() {
		return nil, ErrUnavailable
	}

	r.mu.Lock()
	folderID, found, err := r.findFolder(ctx)
	var fileID string
	if err == nil && found {
		fileID, found, err = r.findFile(ctx, folderID)
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !found {
		r.log.Info().Msg("No remote snapshot yet")
		return nil, nil
	}

	data, err := r.files.Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", fileID, err)
	}
	snap = snap.Normalize()
	return &snap, nil
}

func (r *DriveRemote) ensureFolder(ctx context.Context) (string, error) {
	id, found, err := r.findFolder(ctx)
	if err != nil || found {
		return id, err
	}
	id, err = r.files.Create(ctx, DriveFile{Name: r.folderName, MimeType: FolderMimeType}, nil)
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", r.folderName, err)
	}
	r.log.Info().Str("folder_id", id).Msg("Created snapshot folder")
	return id, nil
}

func (r *DriveRemote) findFolder(ctx context.Context) (string, bool, error) {
	found, err := r.files.List(ctx, FileQuery{Name: r.folderName, MimeType: FolderMimeType})
	if err != nil {
		return "", false, fmt.Errorf("list folder %s: %w", r.folderName, err)
	}
	if len(found) == 0 {
		return "", false, nil
	}
	return found[0].ID, true, nil
}

func (r *DriveRemote) findFile(ctx context.Context, folderID string) (string, bool, error) {
	found, err := r.files.List(ctx, FileQuery{Name: r.fileName, ParentID: folderID})
	if err != nil {
		return "", false, fmt.Errorf("list file %s: %w", r.fileName, err)
	}
	if len(found) == 0 {
		return "", false, nil
	}
	return found[0].ID, true, nil
}

var _ Remote = (*DriveRemote)(nil)
