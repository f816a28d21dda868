package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const minioListLimit = 100

type MinioOptions struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

type MinioProvider struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioProvider connects to MinIO and creates the bucket when missing
func NewMinioProvider(ctx context.Context, opts MinioOptions) (*MinioProvider, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(cctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(cctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", opts.Bucket, err)
		}
		logger.Info("MinIO bucket created", zap.String("bucket", opts.Bucket))
	}

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}

	logger.Info("MinIO storage initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.String("bucket", opts.Bucket))

	return &MinioProvider{
		client:  client,
		bucket:  opts.Bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (p *MinioProvider) Name() string {
	return "minio"
}

// Put writes the object. MinIO has no conditional put here, so
// CollisionReject is a stat before the write.
func (p *MinioProvider) Put(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error) {
	if policy == model.CollisionReject {
		_, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return model.StoredObject{}, fmt.Errorf("%s: %w", key, ErrConflict)
		}
		if mapped := mapMinioError(err); !errors.Is(mapped, ErrNotFound) {
			return model.StoredObject{}, mapped
		}
	}

	info, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "audio/wav",
	})
	if err != nil {
		return model.StoredObject{}, mapMinioError(err)
	}

	created := info.LastModified
	if created.IsZero() {
		created = time.Now()
	}

	return model.StoredObject{
		Key:       key,
		Name:      path.Base(key),
		Size:      info.Size,
		CreatedAt: created,
	}, nil
}

func (p *MinioProvider) PublicURL(ctx context.Context, key string) (string, error) {
	if _, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", mapMinioError(err)
	}
	return p.baseURL + "/" + escapeKey(key), nil
}

// ListPage reads up to one page from the object channel and resumes after
// the last key seen.
func (p *MinioProvider) ListPage(ctx context.Context, namespace, cursor string) (Page, error) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := p.client.ListObjects(lctx, p.bucket, minio.ListObjectsOptions{
		Prefix:     strings.Trim(namespace, "/") + "/",
		StartAfter: cursor,
		MaxKeys:    minioListLimit,
	})

	var page Page
	for obj := range objects {
		if obj.Err != nil {
			return Page{}, mapMinioError(obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		page.Objects = append(page.Objects, model.StoredObject{
			Key:       obj.Key,
			Name:      path.Base(obj.Key),
			Size:      obj.Size,
			CreatedAt: obj.LastModified,
			PublicURL: p.baseURL + "/" + escapeKey(obj.Key),
		})
		if len(page.Objects) == minioListLimit {
			page.Next = obj.Key
			break
		}
	}
	return page, nil
}

func mapMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case resp.Code == "PreconditionFailed":
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 || resp.Code == "SlowDown":
		return Transient(err)
	case resp.StatusCode == 0 && !errors.Is(err, context.Canceled):
		// No response from the server.
		return Transient(err)
	}
	return err
}
