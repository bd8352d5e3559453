package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"agendas/api/internal/scope"
)

// MinIOStore implements Store with the MinIO client.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the endpoint (host:port, no scheme) and
// creates the bucket when missing.
func NewMinIOStore(ctx context.Context, cfg Config) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	store := &MinIOStore{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MinIOStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinIOStore) Driver() Driver { return DriverMinIO }

func (m *MinIOStore) List(ctx context.Context, date scope.Date) ([]File, error) {
	var files []File
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefixOf(date),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", date, obj.Err)
		}
		files = append(files, fileAt(obj.Key, obj.Size, obj.ContentType, obj.LastModified))
	}
	return files, nil
}

func (m *MinIOStore) Upload(ctx context.Context, date scope.Date, name string, body io.Reader, size int64, contentType string) (File, error) {
	key, err := ObjectPath(date, name)
	if err != nil {
		return File{}, err
	}
	_, err = m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return File{}, ErrExists
	}
	if !isMinIONotFound(err) {
		return File{}, fmt.Errorf("stat %s: %w", key, err)
	}

	info, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return File{}, fmt.Errorf("put %s: %w", key, err)
	}
	return fileAt(key, info.Size, contentType, info.LastModified), nil
}

func (m *MinIOStore) Open(ctx context.Context, objectPath string) (File, io.ReadCloser, error) {
	if _, _, err := ParsePath(objectPath); err != nil {
		return File{}, nil, err
	}
	stat, err := m.client.StatObject(ctx, m.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return File{}, nil, ErrNotFound
		}
		return File{}, nil, fmt.Errorf("stat %s: %w", objectPath, err)
	}
	obj, err := m.client.GetObject(ctx, m.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return File{}, nil, fmt.Errorf("get %s: %w", objectPath, err)
	}
	return fileAt(objectPath, stat.Size, stat.ContentType, stat.LastModified), obj, nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}
