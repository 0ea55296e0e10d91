package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store publishes analysis artifacts to a MinIO/S3 bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
}

// New connects and makes sure the bucket exists.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// WithPrefix stores every object under prefix.
func (s *Store) WithPrefix(prefix string) *Store {
	cp := *s
	cp.prefix = strings.Trim(prefix, "/")
	return &cp
}

// PutJSON implements the ArtifactStore port.
func (s *Store) PutJSON(ctx context.Context, key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode artifact %s: %w", key, err)
	}
	key = objectKey(s.prefix, key)
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", err
	}
	// public URL; a private bucket needs presigned URLs instead
	return objectURL(s.client.EndpointURL(), s.bucketName, key), nil
}

func objectKey(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func objectURL(endpoint *url.URL, bucket, key string) string {
	scheme := "http"
	if endpoint.Scheme != "" {
		scheme = endpoint.Scheme
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint.Host, bucket, key)
}
