package artifact

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/config"
)

// MinioClient is the subset of *minio.Client the store uses.
type MinioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioClient connects to an S3-compatible endpoint.
func NewMinioClient(cfg config.MinioConfig) (MinioClient, error) {
	// minio expects the endpoint without a scheme.
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, eris.Wrap(err, "artifact: create minio client")
	}
	return client, nil
}

// Minio stores documents as objects in one bucket.
type Minio struct {
	client MinioClient
	bucket string
}

// NewMinio returns a store for bucket, creating the bucket when missing.
func NewMinio(ctx context.Context, client MinioClient, bucket string) (*Minio, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: check bucket %s", bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "artifact: create bucket %s", bucket)
		}
		zap.L().Info("artifact: created bucket", zap.String("bucket", bucket))
	}
	return &Minio{client: client, bucket: bucket}, nil
}

// Put uploads data as bucket/key.
func (m *Minio) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	name, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	_, err = m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", eris.Wrapf(err, "artifact: upload %s", name)
	}
	return "s3://" + m.bucket + "/" + name, nil
}
