package result

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectOpts func(c *objectConfig)

type objectConfig struct {
	endpoint        string
	bucket          string
	prefix          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newObjectConfig(opts ...ObjectOpts) *objectConfig {
	cfg := &objectConfig{
		useSSL: true,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// ObjectSaver uploads artifacts to an S3 compatible bucket.
type ObjectSaver struct {
	cfg    *objectConfig
	client *minio.Client
}

func NewObjectSaver(opts ...ObjectOpts) (*ObjectSaver, error) {
	cfg := newObjectConfig(opts...)
	if cfg.endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	if cfg.bucket == "" {
		return nil, fmt.Errorf("object storage bucket is required")
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &ObjectSaver{cfg: cfg, client: minioClient}, nil
}

// Key returns the object key used for name.
func (s *ObjectSaver) Key(name string) string {
	return strings.TrimPrefix(path.Join(s.cfg.prefix, name), "/")
}

func (s *ObjectSaver) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	key := s.Key(name)
	info, err := s.client.PutObject(ctx, s.cfg.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", info.Bucket, info.Key), nil
}

// ParseObjectTarget splits s3://bucket/prefix into its parts. ok is false
// when target is not an s3 URL.
func ParseObjectTarget(target string) (bucket string, prefix string, ok bool) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", false
	}
	return u.Host, strings.Trim(u.Path, "/"), true
}

func WithEndpoint(endpoint string) ObjectOpts {
	return func(c *objectConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) ObjectOpts {
	return func(c *objectConfig) {
		c.bucket = bucket
	}
}

func WithPrefix(prefix string) ObjectOpts {
	return func(c *objectConfig) {
		c.prefix = prefix
	}
}

func WithAccessKey(accessKey string) ObjectOpts {
	return func(c *objectConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) ObjectOpts {
	return func(c *objectConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) ObjectOpts {
	return func(c *objectConfig) {
		c.useSSL = useSSL
	}
}
