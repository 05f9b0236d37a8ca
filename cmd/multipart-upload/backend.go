package main

import (
	"context"
	"fmt"
	"io"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-multipart/transport/httppart"
	"github.com/bitrise-io/go-multipart/transport/s3part"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// openedUpload is a multipart upload session ready to receive parts.
type openedUpload struct {
	session multipart.UploadSession
	client  multipart.PartClient
	// partSize overrides the requested part size when the storage dictates it.
	partSize int64
}

type uploadRequest struct {
	key         string
	fileName    string
	contentType string
	size        int64
	partSize    int64
}

// backend opens, completes and aborts multipart uploads on a storage service.
type backend interface {
	open(ctx context.Context, req uploadRequest) (openedUpload, error)
	complete(ctx context.Context, session multipart.UploadSession, parts []multipart.CommitRecord) (string, error)
	abort(ctx context.Context, session multipart.UploadSession) error
}

// singlePutter is implemented by backends able to store small objects with one request.
type singlePutter interface {
	putSingle(ctx context.Context, req uploadRequest, body io.Reader) (string, error)
}

type s3Backend struct {
	api      s3part.S3API
	bucket   string
	sessions *s3part.SessionManager
	parts    *s3part.PartClient
}

func newS3Backend(ctx context.Context, cfg config, logger log.Logger) (*s3Backend, error) {
	awsConfig, err := s3part.LoadConfig(ctx, cfg.Region, string(cfg.AccessKeyID), string(cfg.SecretAccessKey), logger)
	if err != nil {
		return nil, err
	}
	client := s3part.NewClient(*awsConfig, cfg.Endpoint)

	return &s3Backend{
		api:      client,
		bucket:   cfg.Bucket,
		sessions: s3part.NewSessionManager(client, logger),
		parts:    s3part.NewPartClient(client),
	}, nil
}

func (b *s3Backend) open(ctx context.Context, req uploadRequest) (openedUpload, error) {
	session, err := b.sessions.Create(ctx, b.bucket, req.key, req.contentType, nil)
	if err != nil {
		return openedUpload{}, err
	}
	return openedUpload{session: session, client: b.parts, partSize: req.partSize}, nil
}

func (b *s3Backend) complete(ctx context.Context, session multipart.UploadSession, parts []multipart.CommitRecord) (string, error) {
	return b.sessions.Complete(ctx, session, parts)
}

func (b *s3Backend) abort(ctx context.Context, session multipart.UploadSession) error {
	return b.sessions.Abort(ctx, session)
}

func (b *s3Backend) putSingle(ctx context.Context, req uploadRequest, body io.Reader) (string, error) {
	return s3part.PutSmallObject(ctx, b.api, b.bucket, req.key, req.contentType, body, req.size)
}

type cacheBackend struct {
	api        *httppart.APIClient
	httpClient *retryablehttp.Client
	logger     log.Logger
}

func newCacheBackend(cfg config, logger log.Logger) *cacheBackend {
	httpClient := retryhttp.NewClient(logger)
	return &cacheBackend{
		api:        httppart.NewAPIClient(httpClient, string(cfg.APIBaseURL), string(cfg.APIAccessToken), logger),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (b *cacheBackend) open(_ context.Context, req uploadRequest) (openedUpload, error) {
	resp, err := b.api.Prepare(httppart.PrepareUploadRequest{
		ObjectKey:   req.key,
		FileName:    req.fileName,
		ContentType: req.contentType,
		SizeInBytes: req.size,
	})
	if err != nil {
		return openedUpload{}, fmt.Errorf("prepare upload: %w", err)
	}

	partSize := req.partSize
	if resp.PartSizeBytes > 0 {
		partSize = resp.PartSizeBytes
	}

	return openedUpload{
		session:  resp.Session(req.key),
		client:   httppart.NewPartClient(b.httpClient, resp.UploadURLs, b.logger),
		partSize: partSize,
	}, nil
}

func (b *cacheBackend) complete(_ context.Context, session multipart.UploadSession, parts []multipart.CommitRecord) (string, error) {
	resp, err := b.api.Acknowledge(session.ID, true, parts)
	if err != nil {
		return "", fmt.Errorf("acknowledge upload: %w", err)
	}
	httppart.LogResponseMessage(resp, b.logger)
	return "", nil
}

func (b *cacheBackend) abort(_ context.Context, session multipart.UploadSession) error {
	if _, err := b.api.Acknowledge(session.ID, false, nil); err != nil {
		return fmt.Errorf("acknowledge failed upload: %w", err)
	}
	return nil
}
