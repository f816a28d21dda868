package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const s3ListLimit = 100

type S3Options struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
}

// S3API is the part of the S3 client the provider uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Provider struct {
	client  S3API
	bucket  string
	baseURL string
}

// NewS3Provider creates a provider for an S3-compatible bucket. Objects are
// expected to be publicly readable under PublicBaseURL, which defaults to
// path-style URLs on the endpoint.
func NewS3Provider(ctx context.Context, opts S3Options) (*S3Provider, error) {
	region := opts.Region
	if region == "" {
		region = "ru-central1"
	}

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", region)
		}
		baseURL = strings.TrimRight(endpoint, "/") + "/" + opts.Bucket
	}

	logger.Info("S3 storage initialized", zap.String("bucket", opts.Bucket))

	return NewS3ProviderWithClient(client, opts.Bucket, baseURL), nil
}

func NewS3ProviderWithClient(client S3API, bucket, publicBaseURL string) *S3Provider {
	return &S3Provider{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (p *S3Provider) Name() string {
	return "s3"
}

// Put writes the object. CollisionReject is enforced by the store itself
// through a conditional write.
func (p *S3Provider) Put(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("audio/wav"),
	}
	if policy == model.CollisionReject {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return model.StoredObject{}, mapS3Error(err)
	}

	logger.Debug("File uploaded to S3", zap.String("key", key))

	obj := model.StoredObject{
		Key:       key,
		Name:      path.Base(key),
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}

	// The write has landed. A failed metadata read must not fail Put, or the
	// retry's conditional write would report this object as a conflict.
	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.Warn("Failed to read uploaded object metadata",
			zap.String("key", key),
			zap.Error(err))
		return obj, nil
	}
	if head.LastModified != nil {
		obj.CreatedAt = *head.LastModified
	}
	return obj, nil
}

// PublicURL checks the object exists and returns its public address
func (p *S3Provider) PublicURL(ctx context.Context, key string) (string, error) {
	if _, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return "", mapS3Error(err)
	}
	return p.baseURL + "/" + escapeKey(key), nil
}

func (p *S3Provider) ListPage(ctx context.Context, namespace, cursor string) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(strings.Trim(namespace, "/") + "/"),
		MaxKeys: aws.Int32(s3ListLimit),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	out, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return Page{}, mapS3Error(err)
	}

	page := Page{Objects: make([]model.StoredObject, 0, len(out.Contents))}
	for _, o := range out.Contents {
		key := aws.ToString(o.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		obj := model.StoredObject{
			Key:       key,
			Name:      path.Base(key),
			Size:      aws.ToInt64(o.Size),
			PublicURL: p.baseURL + "/" + escapeKey(key),
		}
		if o.LastModified != nil {
			obj.CreatedAt = *o.LastModified
		}
		page.Objects = append(page.Objects, obj)
	}
	if aws.ToBool(out.IsTruncated) {
		page.Next = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func mapS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return Transient(err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == 412:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case status == 404:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case status == 429 || status >= 500:
			return Transient(err)
		}
		return err
	}

	// No HTTP response at all: connection refused, reset, DNS.
	var opErr *smithy.OperationError
	if errors.As(err, &opErr) && !errors.Is(err, context.Canceled) {
		return Transient(err)
	}
	return err
}
