package storage

import (
	"context"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"proin/api/internal/config"
)

type MinioGateway struct {
	client *minio.Client
	bucket string
	host   string
}

func NewMinio(cfg config.StorageConfig) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioGateway{client: client, bucket: cfg.Bucket, host: cfg.PublicHost}, nil
}

func (g *MinioGateway) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	reader, size := readerFor(body)
	_, err := g.client.PutObject(ctx, g.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return PublicURL(g.host, key), nil
}

// Delete returns ErrNotFound when the object is already gone.
func (g *MinioGateway) Delete(ctx context.Context, url string) error {
	key := KeyFromURL(g.host, url)
	if _, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("stat object %s: %w", key, err)
	}
	if err := g.client.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}
