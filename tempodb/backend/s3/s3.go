// Package s3 implements the backend contract on any S3-compatible object
// store via minio-go.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/grafana/traceql-engine/tempodb/backend"
)

type Backend struct {
	cfg    *Config
	client *minio.Client
	logger log.Logger
}

var _ backend.Reader = (*Backend)(nil)

func New(cfg *Config, logger log.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	endpoint, secure := parseEndpoint(cfg.Endpoint, cfg.AllowHTTP)
	if endpoint == "" {
		// the credential-chain path may omit the endpoint and rely on the
		// AWS default
		endpoint = "s3.amazonaws.com"
	}

	var creds *credentials.Credentials
	if cfg.UseEnvCredentials {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	} else {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.PoolMaxIdlePerHost
	transport.IdleConnTimeout = cfg.PoolIdleTimeout

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     creds,
		Secure:    secure,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	level.Info(logger).Log("msg", "s3 backend created", "endpoint", endpoint, "bucket", cfg.Bucket, "prefix", cfg.Prefix)

	return &Backend{
		cfg:    cfg,
		client: client,
		logger: logger,
	}, nil
}

func (b *Backend) Read(ctx context.Context, name string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.cfg.Bucket, b.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(name, err)
	}
	defer obj.Close()

	bytes, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(name, err)
	}
	return bytes, nil
}

func (b *Backend) ReadRange(ctx context.Context, name string, offset int64, buf []byte) error {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+int64(len(buf))-1); err != nil {
		return fmt.Errorf("setting range on %s: %w", name, err)
	}

	obj, err := b.client.GetObject(ctx, b.cfg.Bucket, b.objectName(name), opts)
	if err != nil {
		return mapError(name, err)
	}
	defer obj.Close()

	if _, err := io.ReadFull(obj, buf); err != nil {
		return mapError(name, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]backend.ObjectInfo, error) {
	fullPrefix := b.objectName(prefix)

	var objects []backend.ObjectInfo
	for obj := range b.client.ListObjects(ctx, b.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, mapError(prefix, obj.Err)
		}
		objects = append(objects, backend.ObjectInfo{
			Name: strings.TrimPrefix(obj.Key, b.prefixWithSlash()),
			Size: obj.Size,
		})
	}

	return objects, nil
}

func (b *Backend) Shutdown() {}

func (b *Backend) objectName(name string) string {
	if b.cfg.Prefix == "" {
		return name
	}
	return b.cfg.Prefix + "/" + name
}

func (b *Backend) prefixWithSlash() string {
	if b.cfg.Prefix == "" {
		return ""
	}
	return b.cfg.Prefix + "/"
}

func parseEndpoint(endpoint string, allowHTTP bool) (host string, secure bool) {
	secure = true
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		host = strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		host = strings.TrimPrefix(endpoint, "http://")
		secure = !allowHTTP
	default:
		host = endpoint
	}
	return host, secure
}

func mapError(name string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return backend.ErrDoesNotExist
	}
	return fmt.Errorf("s3 %s: %w", name, err)
}
