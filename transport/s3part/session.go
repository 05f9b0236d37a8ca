package s3part

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	numSessionRetries = 3
	sessionRetryWait  = 5 * time.Second
)

// SessionManager creates, completes and aborts multipart upload sessions.
type SessionManager struct {
	api    S3API
	logger log.Logger

	retries uint
	wait    time.Duration
}

// NewSessionManager ...
func NewSessionManager(api S3API, logger log.Logger) *SessionManager {
	return &SessionManager{
		api:     api,
		logger:  logger,
		retries: numSessionRetries,
		wait:    sessionRetryWait,
	}
}

// Create starts a multipart upload for bucket/key.
func (m *SessionManager) Create(ctx context.Context, bucket, key, contentType string, metadata map[string]string) (multipart.UploadSession, error) {
	if bucket == "" {
		return multipart.UploadSession{}, fmt.Errorf("bucket must not be empty")
	}
	if key == "" {
		return multipart.UploadSession{}, fmt.Errorf("key must not be empty")
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	var uploadID string
	err := retry.Times(m.retries).Wait(m.wait).TryWithAbort(func(attempt uint) (error, bool) {
		output, err := m.api.CreateMultipartUpload(ctx, input)
		if err != nil {
			m.logger.Debugf("Create multipart upload attempt %d failed: %s", attempt+1, err)
			return newObjectError("CreateMultipartUpload", bucket, key, err), !multipart.IsRetryable(err)
		}
		uploadID = aws.ToString(output.UploadId)
		return nil, true
	})
	if err != nil {
		return multipart.UploadSession{}, err
	}

	m.logger.Debugf("Upload ID: %s", uploadID)

	return multipart.UploadSession{
		ID:       uploadID,
		Bucket:   bucket,
		Key:      key,
		Metadata: metadata,
	}, nil
}

// Complete commits the given parts. Parts are sent in ascending part number order.
// It returns the ETag of the assembled object.
func (m *SessionManager) Complete(ctx context.Context, session multipart.UploadSession, parts []multipart.CommitRecord) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no parts to complete upload %s with", session.ID)
	}

	sorted := make([]multipart.CommitRecord, len(parts))
	copy(sorted, parts)
	multipart.SortByPartNumber(sorted)

	completed := make([]types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		})
	}

	var etag string
	err := retry.Times(m.retries).Wait(m.wait).TryWithAbort(func(attempt uint) (error, bool) {
		output, err := m.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(session.Bucket),
			Key:             aws.String(session.Key),
			UploadId:        aws.String(session.ID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		if err != nil {
			m.logger.Debugf("Complete multipart upload attempt %d failed: %s", attempt+1, err)
			return newObjectError("CompleteMultipartUpload", session.Bucket, session.Key, err), !multipart.IsRetryable(err)
		}
		etag = aws.ToString(output.ETag)
		return nil, true
	})

	return etag, err
}

// Abort discards the session and the parts uploaded to it.
// Aborting a session that no longer exists is not an error.
func (m *SessionManager) Abort(ctx context.Context, session multipart.UploadSession) error {
	return retry.Times(m.retries).Wait(m.wait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := m.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(session.Bucket),
			Key:      aws.String(session.Key),
			UploadId: aws.String(session.ID),
		})
		if err != nil {
			if errorCode(err) == "NoSuchUpload" {
				m.logger.Debugf("Upload %s is already gone", session.ID)
				return nil, true
			}
			return newObjectError("AbortMultipartUpload", session.Bucket, session.Key, err), !multipart.IsRetryable(err)
		}
		return nil, true
	})
}

// PutSmallObject uploads an object that fits into a single part with one request.
func PutSmallObject(ctx context.Context, api S3API, bucket, key, contentType string, body io.Reader, size int64) (string, error) {
	uploader := manager.NewUploader(api, func(u *manager.Uploader) {
		u.Concurrency = 1
	})

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	output, err := uploader.Upload(ctx, input)
	if err != nil {
		return "", newObjectError("PutObject", bucket, key, err)
	}

	return aws.ToString(output.ETag), nil
}
