package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-multipart/pool"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader uploads the parts of a multipart upload session in parallel.
type Uploader struct {
	config Config
	client PartClient
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader with the given part client and configuration.
func New(client PartClient, config Config, logger log.Logger) *Uploader {
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config: config,
		client: client,
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Run uploads every part produced by source to the given session and blocks until all of them settled.
//
// If every part succeeded, the returned Outcome lists a commit record per part in completion order.
// If any part failed, the error is a *PartialFailureError holding the committed parts and the failed
// parts with their original errors. Failed parts never stop their siblings.
// Configuration errors are returned before any part is uploaded; a malformed descriptor or a source
// error stops the admission of further parts.
func (u *Uploader) Run(ctx context.Context, session UploadSession, source PartSource) (*Outcome, error) {
	limit, err := u.config.ConcurrencyLimit()
	if err != nil {
		return nil, err
	}
	if u.client == nil {
		return nil, fmt.Errorf("%w: part client is nil", ErrInvalidConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: part source is nil", ErrInvalidConfig)
	}

	u.logger.Debugf("Uploading parts of %s (upload id: %s) with concurrency %d", session.Key, session.ID, limit)

	seen := map[int]bool{}
	next := func() (PartDescriptor, bool, error) {
		part, err := source.Next()
		if errors.Is(err, io.EOF) {
			return PartDescriptor{}, false, nil
		}
		if err != nil {
			return PartDescriptor{}, false, fmt.Errorf("read next part: %w", err)
		}
		if err := validatePart(part); err != nil {
			return PartDescriptor{}, false, err
		}
		if seen[part.PartNumber] {
			return PartDescriptor{}, false, fmt.Errorf("%w: duplicate part number %d", ErrInvalidPart, part.PartNumber)
		}
		seen[part.PartNumber] = true
		return part, true, nil
	}

	upload := func(ctx context.Context, part PartDescriptor) partResult {
		return u.uploadPart(ctx, session, part)
	}

	c := newCollector()
	admitted, err := pool.Run(ctx, limit, next, upload, c.add)
	if err != nil {
		return nil, err
	}

	u.logger.Debugf("Parts of %s settled: %d committed, %d failed", session.Key, len(c.committed), len(c.retryable))

	return c.outcome(session, admitted)
}

func (u *Uploader) uploadPart(ctx context.Context, session UploadSession, part PartDescriptor) (result partResult) {
	u.logger.Debugf("Uploading part %d (%d bytes at offset %d) [finished=%d] [avg=%v]",
		part.PartNumber, part.Length, part.Position, u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	defer func() {
		if r := recover(); r != nil {
			result = u.failed(part, fmt.Errorf("upload part %d panicked: %v", part.PartNumber, r))
		}
	}()

	start := time.Now()
	resp, err := u.client.UploadPart(ctx, session, part)
	if err == nil && (resp == nil || resp.ETag == "") {
		err = fmt.Errorf("upload part %d: %w", part.PartNumber, ErrMissingETag)
	}
	if err != nil {
		return u.failed(part, err)
	}

	took := time.Since(start)
	u.stats.Update(took, part.Length)
	u.logger.Debugf("Part %d uploaded in %v, ETag: %s", part.PartNumber, took.Round(time.Millisecond), resp.ETag)

	return partResult{commit: &CommitRecord{PartNumber: part.PartNumber, ETag: resp.ETag}}
}

func (u *Uploader) failed(part PartDescriptor, err error) partResult {
	u.stats.Fail()
	u.logger.Debugf("Part %d upload failed: %s", part.PartNumber, err)

	return partResult{retry: &RetryCandidate{
		PartNumber: part.PartNumber,
		Length:     part.Length,
		Position:   part.Position,
		Err:        err,
	}}
}

func validatePart(part PartDescriptor) error {
	switch {
	case part.PartNumber < 1:
		return fmt.Errorf("%w: part number must be positive, got %d", ErrInvalidPart, part.PartNumber)
	case part.Length < 0:
		return fmt.Errorf("%w: part %d has negative length %d", ErrInvalidPart, part.PartNumber, part.Length)
	case part.Position < 0:
		return fmt.Errorf("%w: part %d has negative position %d", ErrInvalidPart, part.PartNumber, part.Position)
	case part.Content == nil:
		return fmt.Errorf("%w: part %d has no content", ErrInvalidPart, part.PartNumber)
	}
	return nil
}
