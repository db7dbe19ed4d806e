package blobstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryFiles is an in-process FileAPI. It backs local runs without a
// cloud account and lets tests count and fail individual calls.
type MemoryFiles struct {
	mu      sync.Mutex
	files   []*memoryFile
	nextID  int
	creates int
	updates int
	fail    map[string]error
}

type memoryFile struct {
	meta    DriveFile
	content []byte
	trashed bool
}

// NewMemoryFiles creates an empty file store.
func NewMemoryFiles() *MemoryFiles {
	return &MemoryFiles{fail: make(map[string]error)}
}

// FailOn makes every later call of op ("list", "create", "update", "get")
// return err. A nil err clears the failure.
func (m *MemoryFiles) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Creates returns the number of successful Create calls.
func (m *MemoryFiles) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// Updates returns the number of successful Update calls.
func (m *MemoryFiles) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Trash hides a file from List, as a user deleting it out-of-band would.
func (m *MemoryFiles) Trash(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.find(fileID); f != nil {
		f.trashed = true
	}
}

// List implements FileAPI.
func (m *MemoryFiles) List(ctx context.Context, q FileQuery) ([]DriveFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["list"]; err != nil {
		return nil, err
	}

	var out []DriveFile
	for _, f := range m.files {
		if f.trashed || f.meta.Name != q.Name {
			continue
		}
		if q.MimeType != "" && f.meta.MimeType != q.MimeType {
			continue
		}
		if q.ParentID != "" && !slices.Contains(f.meta.Parents, q.ParentID) {
			continue
		}
		out = append(out, f.meta)
	}
	return out, nil
}

// Create implements FileAPI.
func (m *MemoryFiles) Create(ctx context.Context, meta DriveFile, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["create"]; err != nil {
		return "", err
	}

	m.nextID++
	meta.ID = fmt.Sprintf("file-%d", m.nextID)
	m.files = append(m.files, &memoryFile{meta: meta, content: append([]byte(nil), content...)})
	m.creates++
	return meta.ID, nil
}

// Update implements FileAPI.
func (m *MemoryFiles) Update(ctx context.Context, fileID string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["update"]; err != nil {
		return err
	}

	f := m.find(fileID)
	if f == nil {
		return fmt.Errorf("file not found: %s", fileID)
	}
	f.content = append([]byte(nil), content...)
	m.updates++
	return nil
}

// Get implements FileAPI.
func (m *MemoryFiles) Get(ctx context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["get"]; err != nil {
		return nil, err
	}

	f := m.find(fileID)
	if f == nil {
		return nil, fmt.Errorf("file not found: %s", fileID)
	}
	return append([]byte(nil), f.content...), nil
}

func (m *MemoryFiles) find(id string) *memoryFile {
	for _, f := range m.files {
		if f.meta.ID == id {
			return f
		}
	}
	return nil
}

var _ FileAPI = (*MemoryFiles)(nil)
