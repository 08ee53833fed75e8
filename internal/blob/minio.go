package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sealedmsg/internal/observability/metrics"
)

// scanPage bounds how many listed objects FindByAttribute looks at before
// picking the most recent ones.
const scanPage = 500

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps blobs in an S3 compatible bucket. Attributes are stored as
// user metadata.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore connects to the bucket and creates it if missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
		logger.Info("created bucket", "bucket", cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *MinioStore) Put(ctx context.Context, data []byte, attrs Attrs) (string, error) {
	addr := Address(data)
	if _, err := s.client.StatObject(ctx, s.bucket, addr, minio.StatObjectOptions{}); err == nil {
		return addr, nil
	}
	contentType := attrs[AttrContentType]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, addr, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("minio put: %w", err)
	}
	metrics.BlobBytes.Observe(float64(len(data)))
	return addr, nil
}

func (s *MinioStore) Get(ctx context.Context, address string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, address, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return data, nil
}

func (s *MinioStore) Stat(ctx context.Context, address string) (Object, error) {
	info, err := s.client.StatObject(ctx, s.bucket, address, minio.StatObjectOptions{})
	if err != nil {
		return Object{}, mapMinioErr(err)
	}
	return Object{Address: info.Key, Size: info.Size, Attrs: userAttrs(info.UserMetadata), ModTime: info.LastModified}, nil
}

func (s *MinioStore) FindByAttribute(ctx context.Context, key, value string, limit int) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objs []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Recursive:    true,
		WithMetadata: true,
		MaxKeys:      scanPage,
	}) {
		if info.Err != nil {
			return "", mapMinioErr(info.Err)
		}
		objs = append(objs, Object{Address: info.Key, Size: info.Size, Attrs: userAttrs(info.UserMetadata), ModTime: info.LastModified})
		if len(objs) >= scanPage {
			break
		}
	}
	return findNewest(objs, key, value, limit)
}

// userAttrs strips the S3 user metadata prefix and lowercases keys.
func userAttrs(md map[string]string) Attrs {
	out := make(Attrs, len(md))
	for k, v := range md {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		out[k] = v
	}
	return out
}

func mapMinioErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
