package s3part

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3API struct {
	mock.Mock
}

func (m *mockS3API) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3API) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.UploadPartOutput)
	return out, args.Error(1)
}

func (m *mockS3API) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.CreateMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockS3API) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.CompleteMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockS3API) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.AbortMultipartUploadOutput)
	return out, args.Error(1)
}

var testSession = multipart.UploadSession{ID: "upload-1", Bucket: "cache-bucket", Key: "archive.tzst"}

type onlyReader struct {
	io.Reader
}

func TestPartClient_UploadPart(t *testing.T) {
	tests := []struct {
		name    string
		content io.Reader
	}{
		{name: "seekable body", content: bytes.NewReader([]byte("part-data"))},
		{name: "plain reader is buffered", content: onlyReader{strings.NewReader("part-data")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockS3API)
			api.On("UploadPart", mock.Anything, mock.MatchedBy(func(in *s3.UploadPartInput) bool {
				body, err := io.ReadAll(in.Body)
				return err == nil &&
					string(body) == "part-data" &&
					aws.ToString(in.UploadId) == "upload-1" &&
					aws.ToString(in.Bucket) == "cache-bucket" &&
					aws.ToString(in.Key) == "archive.tzst" &&
					aws.ToInt32(in.PartNumber) == 3 &&
					aws.ToInt64(in.ContentLength) == 9
			})).Return(&s3.UploadPartOutput{ETag: aws.String(`"etag3"`)}, nil)

			resp, err := NewPartClient(api).UploadPart(context.Background(), testSession, multipart.PartDescriptor{
				PartNumber: 3,
				Content:    tt.content,
				Length:     9,
				Position:   18,
			})
			require.NoError(t, err)
			assert.Equal(t, `"etag3"`, resp.ETag)
			api.AssertExpectations(t)
		})
	}
}

func TestPartClient_UploadPart_Error(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate", Fault: smithy.FaultServer}
	api := new(mockS3API)
	api.On("UploadPart", mock.Anything, mock.Anything).Return(nil, apiErr)

	_, err := NewPartClient(api).UploadPart(context.Background(), testSession, multipart.PartDescriptor{
		PartNumber: 1,
		Content:    bytes.NewReader(nil),
	})

	var s3Err *Error
	require.True(t, errors.As(err, &s3Err))
	assert.Equal(t, "UploadPart", s3Err.Op)
	assert.ErrorIs(t, err, apiErr)
	assert.True(t, multipart.IsRetryable(err))
}

func TestPartClient_WithUploader(t *testing.T) {
	partErr := &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}
	api := new(mockS3API)
	api.On("UploadPart", mock.Anything, mock.MatchedBy(func(in *s3.UploadPartInput) bool {
		return aws.ToInt32(in.PartNumber) == 2
	})).Return(nil, partErr)
	api.On("UploadPart", mock.Anything, mock.Anything).Return(&s3.UploadPartOutput{ETag: aws.String("etag")}, nil)

	uploader := multipart.New(NewPartClient(api), multipart.Config{AllowParallelUploads: true, Concurrency: 2}, log.NewLogger())
	source := multipart.NewSliceSource(
		multipart.PartDescriptor{PartNumber: 1, Content: bytes.NewReader([]byte("a")), Length: 1},
		multipart.PartDescriptor{PartNumber: 2, Content: bytes.NewReader([]byte("b")), Length: 1, Position: 1},
		multipart.PartDescriptor{PartNumber: 3, Content: bytes.NewReader([]byte("c")), Length: 1, Position: 2},
	)

	_, err := uploader.Run(context.Background(), testSession, source)
	failure, ok := multipart.AsPartialFailure(err)
	require.True(t, ok)
	require.Len(t, failure.Retryable, 1)
	assert.Equal(t, 2, failure.Retryable[0].PartNumber)
	assert.True(t, failure.Retryable[0].Retryable())
	assert.Len(t, failure.Committed, 2)
}

func TestLoadConfig(t *testing.T) {
	_, err := LoadConfig(context.Background(), "", "id", "secret", log.NewLogger())
	assert.Error(t, err)

	cfg, err := LoadConfig(context.Background(), "eu-west-1", "id", "secret", log.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)
}
