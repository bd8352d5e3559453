package attachments

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"agendas/api/internal/scope"
)

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore keeps attachments in process.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Driver() Driver { return DriverMemory }

func (m *MemoryStore) List(_ context.Context, date scope.Date) ([]File, error) {
	prefix := prefixOf(date)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var files []File
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			files = append(files, fileAt(key, int64(len(obj.data)), obj.contentType, obj.modified))
		}
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

func (m *MemoryStore) Upload(_ context.Context, date scope.Date, name string, body io.Reader, _ int64, contentType string) (File, error) {
	key, err := ObjectPath(date, name)
	if err != nil {
		return File{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return File{}, err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists {
		return File{}, ErrExists
	}
	obj := memoryObject{data: data, contentType: contentType, modified: time.Now().UTC()}
	m.objects[key] = obj
	return fileAt(key, int64(len(data)), contentType, obj.modified), nil
}

func (m *MemoryStore) Open(_ context.Context, objectPath string) (File, io.ReadCloser, error) {
	if _, _, err := ParsePath(objectPath); err != nil {
		return File{}, nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[objectPath]
	m.mu.RUnlock()
	if !ok {
		return File{}, nil, ErrNotFound
	}
	file := fileAt(objectPath, int64(len(obj.data)), obj.contentType, obj.modified)
	return file, io.NopCloser(bytes.NewReader(obj.data)), nil
}
