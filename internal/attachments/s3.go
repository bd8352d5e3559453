package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"agendas/api/internal/scope"
)

// S3Store implements Store on AWS S3 or any S3-compatible endpoint.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads the default AWS configuration. Static keys in cfg take
// precedence over the default credential chain.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Driver() Driver { return DriverS3 }

func (s *S3Store) List(ctx context.Context, date scope.Date) ([]File, error) {
	prefix := prefixOf(date)
	var files []File
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			files = append(files, fileAt(aws.ToString(obj.Key), aws.ToInt64(obj.Size), "", aws.ToTime(obj.LastModified)))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return files, nil
}

func (s *S3Store) Upload(ctx context.Context, date scope.Date, name string, body io.Reader, size int64, contentType string) (File, error) {
	key, err := ObjectPath(date, name)
	if err != nil {
		return File{}, err
	}
	// S3 has no create-only put; check first.
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err == nil {
		return File{}, ErrExists
	}
	if !isS3NotFound(err) {
		return File{}, fmt.Errorf("head %s: %w", key, err)
	}

	// The SDK signs the payload, so it needs a seekable body.
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return File{}, err
		}
		seeker, size = bytes.NewReader(data), int64(len(data))
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: seeker}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return File{}, fmt.Errorf("put %s: %w", key, err)
	}
	return fileAt(key, max(size, 0), contentType, time.Now().UTC()), nil
}

func (s *S3Store) Open(ctx context.Context, objectPath string) (File, io.ReadCloser, error) {
	if _, _, err := ParsePath(objectPath); err != nil {
		return File{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objectPath})
	if err != nil {
		if isS3NotFound(err) {
			return File{}, nil, ErrNotFound
		}
		return File{}, nil, fmt.Errorf("get %s: %w", objectPath, err)
	}
	file := fileAt(objectPath, aws.ToInt64(out.ContentLength), aws.ToString(out.ContentType), aws.ToTime(out.LastModified))
	return file, out.Body, nil
}

func isS3NotFound(err error) bool {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}
