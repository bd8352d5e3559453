// Package attachments stores the files uploaded for a meeting date. Objects
// live under "<yyyy-mm-dd>/<name>" in a single bucket.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"agendas/api/internal/scope"
)

// Driver identifies a storage backend.
type Driver string

const (
	DriverMinIO  Driver = "minio"
	DriverS3     Driver = "s3"
	DriverMemory Driver = "memory"
)

var (
	ErrExists      = errors.New("attachment already exists")
	ErrNotFound    = errors.New("attachment not found")
	ErrInvalidName = errors.New("invalid attachment name")
)

// File describes one stored attachment.
type File struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// Store is implemented by every backend. Upload never overwrites: an
// existing object yields ErrExists.
type Store interface {
	List(ctx context.Context, date scope.Date) ([]File, error)
	Upload(ctx context.Context, date scope.Date, name string, body io.Reader, size int64, contentType string) (File, error)
	Open(ctx context.Context, objectPath string) (File, io.ReadCloser, error)
	Driver() Driver
}

// SanitizeName reduces an uploaded file name to a single safe path
// element.
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return "", fmt.Errorf("%w: control characters", ErrInvalidName)
	}
	if len(name) > 255 {
		return "", fmt.Errorf("%w: name too long", ErrInvalidName)
	}
	return name, nil
}

// ObjectPath is the key of name within the date's folder.
func ObjectPath(date scope.Date, name string) (string, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	return date.String() + "/" + clean, nil
}

// ParsePath validates an object path received from a client.
func ParsePath(objectPath string) (scope.Date, string, error) {
	folder, name, ok := strings.Cut(objectPath, "/")
	if !ok {
		return scope.Date{}, "", fmt.Errorf("%w: %q", ErrInvalidName, objectPath)
	}
	date, err := scope.ParseDate(folder)
	if err != nil {
		return scope.Date{}, "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	clean, err := SanitizeName(name)
	if err != nil || clean != name {
		return scope.Date{}, "", fmt.Errorf("%w: %q", ErrInvalidName, objectPath)
	}
	return date, name, nil
}

func prefixOf(date scope.Date) string {
	return date.String() + "/"
}

func fileAt(key string, size int64, contentType string, modified time.Time) File {
	return File{
		Name:         path.Base(key),
		Path:         key,
		Size:         size,
		ContentType:  contentType,
		LastModified: modified,
	}
}
