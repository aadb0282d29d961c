package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

const publicBase = "https://storage.googleapis.com"

// GCSUploader writes objects to a Google Cloud Storage bucket through the
// JSON API.
type GCSUploader struct {
	svc          *gcs.Service
	bucket       string
	cacheControl string
	publicBase   string
}

func NewGCSUploader(ctx context.Context, cfg config.StorageConfig, opts ...option.ClientOption) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required for gcs mode")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSUploader{
		svc:          svc,
		bucket:       cfg.Bucket,
		cacheControl: cfg.CacheControl,
		publicBase:   publicBase + "/" + cfg.Bucket,
	}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, localPath string, obj Object) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	object := &gcs.Object{
		Bucket:       u.bucket,
		Name:         obj.Key,
		ContentType:  obj.ContentType,
		CacheControl: u.cacheControl,
		Metadata:     obj.Metadata,
	}
	stored, err := u.svc.Objects.Insert(u.bucket, object).
		Media(f, googleapi.ContentType(obj.ContentType)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", obj.Key, u.bucket, err)
	}
	return u.publicBase + "/" + stored.Name, nil
}
