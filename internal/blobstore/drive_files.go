package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveFiles implements FileAPI against the Google Drive v3 API.
type DriveFiles struct {
	svc *drive.Service
}

// NewDriveFiles creates a Drive client authorized by ts.
func NewDriveFiles(ctx context.Context, ts oauth2.TokenSource) (*DriveFiles, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveFiles{svc: svc}, nil
}

// List implements FileAPI.
func (d *DriveFiles) List(ctx context.Context, q FileQuery) ([]DriveFile, error) {
	res, err := d.svc.Files.List().
		Q(buildQuery(q)).
		Spaces("drive").
		OrderBy("createdTime").
		Fields("files(id, name, mimeType, parents)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	files := make([]DriveFile, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, DriveFile{ID: f.Id, Name: f.Name, MimeType: f.MimeType, Parents: f.Parents})
	}
	return files, nil
}

// Create implements FileAPI.
func (d *DriveFiles) Create(ctx context.Context, meta DriveFile, content []byte) (string, error) {
	call := d.svc.Files.Create(&drive.File{
		Name:     meta.Name,
		MimeType: meta.MimeType,
		Parents:  meta.Parents,
	}).Fields("id").Context(ctx)
	if content != nil {
		call = call.Media(bytes.NewReader(content), googleapi.ContentType(JSONMimeType))
	}

	created, err := call.Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// Update implements FileAPI.
func (d *DriveFiles) Update(ctx context.Context, fileID string, content []byte) error {
	_, err := d.svc.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(JSONMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	return err
}

// Get implements FileAPI.
func (d *DriveFiles) Get(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	return data, nil
}

// buildQuery renders a Drive search query, e.g.
// name = 'finance_data.json' and 'abc' in parents and trashed = false
func buildQuery(q FileQuery) string {
	parts := []string{fmt.Sprintf("name = '%s'", escapeQuery(q.Name))}
	if q.MimeType != "" {
		parts = append(parts, fmt.Sprintf("mimeType = '%s'", escapeQuery(q.MimeType)))
	}
	if q.ParentID != "" {
		parts = append(parts, fmt.Sprintf("'%s' in parents", escapeQuery(q.ParentID)))
	}
	parts = append(parts, "trashed = false")
	return strings.Join(parts, " and ")
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escapeQuery(s string) string {
	return queryEscaper.Replace(s)
}

var _ FileAPI = (*DriveFiles)(nil)
