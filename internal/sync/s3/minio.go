// Package s3 implements the remote write contract on an S3-compatible
// object store (MinIO, AWS S3, R2) through minio-go.
//
// Each mutation id maps to one JSON object under a key prefix. The object's
// version lives in x-amz-meta-base-version; a queued payload carries the
// version it was edited against in its "_version" field.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object store connection settings.
type MinIOConfig struct {
	Endpoint   string // "localhost:9000" or "https://minio.example.com"
	BucketName string
	Prefix     string // key prefix, e.g. "mutations/"
	AccessKey  string
	SecretKey  string
	UseSSL     bool // ignored when Endpoint carries a scheme
	Region     string
}

// MinIOLocalEndpoint returns the default local MinIO endpoint.
func MinIOLocalEndpoint() string {
	return "localhost:9000"
}

// ParseMinIOEndpoint splits an endpoint into the host form minio-go wants
// and whether TLS is used. An explicit scheme wins over useSSL.
func ParseMinIOEndpoint(endpoint string, useSSL bool) (host string, secure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}

	secure = useSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secure = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	endpoint = strings.TrimSuffix(endpoint, "/")
	if endpoint == "" || strings.Contains(endpoint, "/") {
		return "", false, fmt.Errorf("invalid endpoint %q: paths are not supported", endpoint)
	}
	return endpoint, secure, nil
}

// ObjectStore is the slice of object storage the writer needs.
type ObjectStore interface {
	// Head returns the stored version of key, or exists=false.
	Head(ctx context.Context, key string) (version string, exists bool, err error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte, version string) error
}

// minioStore adapts *minio.Client to ObjectStore.
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the configured endpoint. No request is made
// until the first Head, Read or Write.
func NewMinIOStore(cfg *MinIOConfig) (ObjectStore, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	host, secure, err := ParseMinIOEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &minioStore{client: client, bucket: cfg.BucketName}, nil
}

func (s *minioStore) Head(ctx context.Context, key string) (string, bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == 404 || resp.Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, err
	}
	return info.Metadata.Get(versionHeader), true, nil
}

func (s *minioStore) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *minioStore) Write(ctx context.Context, key string, data []byte, version string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{versionMetaKey: version},
		})
	return err
}
