package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voicecollect/pkg/apperr"
	"voicecollect/pkg/model"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.HeadObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.ListObjectsV2Output), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestS3Provider_PutReject(t *testing.T) {
	client := new(mockS3)
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "voice/a.wav" && aws.ToString(in.IfNoneMatch) == "*"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{LastModified: aws.Time(modified)}, nil).Once()

	p := NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket/")

	obj, err := p.Put(context.Background(), "voice/a.wav", []byte("RIFF"), model.CollisionReject)
	require.NoError(t, err)
	assert.Equal(t, "a.wav", obj.Name)
	assert.Equal(t, int64(4), obj.Size)
	assert.Equal(t, modified, obj.CreatedAt)

	client.AssertExpectations(t)
}

func TestS3Provider_PutOverwriteIsUnconditional(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return in.IfNoneMatch == nil
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("HeadObject", mock.Anything, mock.Anything).Return(&s3.HeadObjectOutput{}, nil).Once()

	p := NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket")

	_, err := p.Put(context.Background(), "voice/a.wav", []byte("RIFF"), model.CollisionOverwrite)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestS3Provider_PreconditionFailedIsConflict(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}).Once()

	g := newTestGateway(NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket"))

	_, err := g.Upload(context.Background(), "a.wav", []byte("RIFF"), model.CollisionReject)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	client.AssertNumberOfCalls(t, "PutObject", 1)
}

func TestS3Provider_MetadataReadFailureKeepsWrite(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.IfNoneMatch) == "*"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("PutObject", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}).Maybe()
	client.On("HeadObject", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "ServiceUnavailable"}).Once()

	g := newTestGateway(NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket"))

	before := time.Now().UTC()
	obj, err := g.Upload(context.Background(), "a.wav", []byte("RIFF"), model.CollisionReject)
	require.NoError(t, err)
	assert.Equal(t, "a.wav", obj.Name)
	assert.False(t, obj.CreatedAt.Before(before.Add(-time.Second)))
	client.AssertNumberOfCalls(t, "PutObject", 1)
}

func TestS3Provider_SlowDownRetried(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "SlowDown"}).Once()
	client.On("PutObject", mock.Anything, mock.Anything).
		Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("HeadObject", mock.Anything, mock.Anything).Return(&s3.HeadObjectOutput{}, nil)

	g := newTestGateway(NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket"))

	_, err := g.Upload(context.Background(), "a.wav", []byte("RIFF"), model.CollisionOverwrite)
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "PutObject", 2)
}

func TestS3Provider_PublicURL(t *testing.T) {
	client := new(mockS3)
	client.On("HeadObject", mock.Anything, mock.Anything).Return(&s3.HeadObjectOutput{}, nil).Once()
	client.On("HeadObject", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "NotFound"}).Once()

	p := NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket")

	url, err := p.PublicURL(context.Background(), "voice/take one.wav")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.test/bucket/voice/take%20one.wav", url)

	_, err = p.PublicURL(context.Background(), "voice/missing.wav")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Provider_ListPage(t *testing.T) {
	client := new(mockS3)
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "voice/" && in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("voice/"), Size: aws.Int64(0)},
			{Key: aws.String("voice/a.wav"), Size: aws.Int64(10)},
		},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
	}, nil).Once()

	p := NewS3ProviderWithClient(client, "bucket", "https://storage.test/bucket")

	page, err := p.ListPage(context.Background(), "voice", "")
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "https://storage.test/bucket/voice/a.wav", page.Objects[0].PublicURL)
	assert.Equal(t, "next", page.Next)
}

func TestMapMinioError(t *testing.T) {
	assert.ErrorIs(t, mapMinioError(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}), ErrNotFound)
	assert.True(t, IsTransient(mapMinioError(minio.ErrorResponse{Code: "SlowDown", StatusCode: 503})))
	assert.True(t, IsTransient(mapMinioError(errors.New("dial tcp: connection refused"))))
	assert.False(t, IsTransient(mapMinioError(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})))
}
