// Package filestore keeps uploaded document bytes in a private S3-compatible
// bucket and hands out short-lived signed URLs for viewing.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("object not found")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Object is one stored file as reported by List.
type Object struct {
	Path         string
	Size         int64
	LastModified time.Time
}

type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		region: region,
	}, nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket if it doesn't exist. New buckets get no
// public policy.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, objectPath string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// Delete removes an object. Removing a missing object is not an error.
func (s *MinioStore) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// SignedURL returns a GET URL for objectPath valid for ttl. ErrNotFound is
// returned when the object does not exist.
func (s *MinioStore) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat object: %w", err)
	}

	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return url.String(), nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	objects := make([]Object, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		objects = append(objects, Object{Path: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return objects, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping object storage: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// ObjectPath is the storage key for a document's file: the document id
// followed by a sanitised base file name.
func ObjectPath(documentID, filename string) string {
	return documentID + "/" + SanitizeFilename(filename)
}

// SanitizeFilename strips directories and keeps letters, digits, dot, dash
// and underscore. Anything else becomes "_".
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		return "file"
	}
	return name
}
