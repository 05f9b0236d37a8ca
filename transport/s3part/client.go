// Package s3part uploads multipart upload parts to Amazon S3 or S3 compatible storage.
package s3part

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
)

// S3API defines the S3 operations used by this package, so they can be mocked in tests.
// It is a subset of *s3.Client and satisfies manager.UploadAPIClient.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// PartClient uploads single parts with the S3 UploadPart operation.
type PartClient struct {
	api S3API
}

// NewPartClient ...
func NewPartClient(api S3API) *PartClient {
	return &PartClient{api: api}
}

// UploadPart uploads a part of the session and returns its ETag.
func (c *PartClient) UploadPart(ctx context.Context, session multipart.UploadSession, part multipart.PartDescriptor) (*multipart.PartResponse, error) {
	body, err := seekableBody(part.Content)
	if err != nil {
		return nil, fmt.Errorf("read part %d: %w", part.PartNumber, err)
	}

	output, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(session.Bucket),
		Key:           aws.String(session.Key),
		UploadId:      aws.String(session.ID),
		PartNumber:    aws.Int32(int32(part.PartNumber)),
		ContentLength: aws.Int64(part.Length),
		Body:          body,
	})
	if err != nil {
		return nil, newObjectError("UploadPart", session.Bucket, session.Key, err)
	}

	return &multipart.PartResponse{ETag: aws.ToString(output.ETag)}, nil
}

// The SDK needs a seekable body to compute the payload hash and to retry the request.
func seekableBody(content io.Reader) (io.ReadSeeker, error) {
	if rs, ok := content.(io.ReadSeeker); ok {
		return rs, nil
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// LoadConfig loads the AWS configuration for the given region.
// Static credentials are used if both accessKeyID and secretKey are set, otherwise the default credential chain applies.
func LoadConfig(ctx context.Context, region, accessKeyID, secretKey string, logger log.Logger) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

// NewClient creates an S3 client. A non-empty endpoint targets S3 compatible storage with path style addressing.
func NewClient(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}
