// Package objectstore loads and publishes the discovered-schema document
// via an S3-compatible object store, so several service instances can
// share one discovery scan.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sqlsage/sqlsage/internal/schema"
)

var ErrDocumentNotFound = errors.New("objectstore: schema document not found")

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
	ObjectKey       string
	PublicName      string
}

type client interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error
}

type Loader struct {
	client     client
	bucket     string
	key        string
	publicName string
}

func New(cfg Config) (*Loader, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	if strings.TrimSpace(cfg.ObjectKey) == "" {
		return nil, fmt.Errorf("schema object key is required")
	}

	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Loader{
		client:     mc,
		bucket:     strings.TrimSpace(cfg.Bucket),
		key:        joinPrefix(cfg.Prefix, cfg.ObjectKey),
		publicName: cfg.PublicName,
	}, nil
}

func NewWithClient(bucket, key, publicName string, c client) (*Loader, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	return &Loader{client: c, bucket: strings.TrimSpace(bucket), key: strings.TrimSpace(key), publicName: publicName}, nil
}

func (l *Loader) Load(ctx context.Context) (*schema.Catalog, error) {
	reader, err := l.client.Get(ctx, l.bucket, l.key)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get schema document %q: %w", l.key, err)
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read schema document %q: %w", l.key, err)
	}
	return schema.ParseDocument(raw, l.publicName)
}

// Publish uploads a freshly scanned catalog for other instances to load.
func (l *Loader) Publish(ctx context.Context, catalog *schema.Catalog) error {
	raw, err := schema.EncodeDocument(catalog)
	if err != nil {
		return err
	}
	if err := l.client.Put(ctx, l.bucket, l.key, bytes.NewReader(raw), int64(len(raw)), "application/json"); err != nil {
		return fmt.Errorf("put schema document %q: %w", l.key, err)
	}
	return nil
}

func joinPrefix(prefix, key string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if prefix == "" {
		return path.Clean(key)
	}
	return path.Join(path.Clean(prefix), path.Clean(key))
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	clientImpl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &minioClient{client: clientImpl}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	return mapMinioErr(err)
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrDocumentNotFound
		}
	}
	return err
}
