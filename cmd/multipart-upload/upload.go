package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-multipart/analytics"
	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-multipart/output"
	"github.com/bitrise-io/go-multipart/source"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const compressedContentType = "application/zstd"

type uploadTracker interface {
	LogCommitted(upload analytics.Upload)
	LogPartialFailure(upload analytics.Upload, failure *multipart.PartialFailureError)
}

// partSource is a part source whose failed part ranges can be reopened.
type partSource interface {
	multipart.PartSource
	Opener() multipart.ContentOpener
	Close() error
}

type fileUploader struct {
	backend          backend
	mode             string
	config           multipart.Config
	partSize         int64
	retryAttempts    int
	compress         bool
	compressionLevel int
	keyPrefix        string
	spoolDir         string
	tracker          uploadTracker
	logger           log.Logger
}

// upload uploads the file at path. The returned report describes the result even when err is not nil.
func (u *fileUploader) upload(ctx context.Context, path string) (output.Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return failedReport(path, err), err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		return failedReport(path, err), err
	}

	limit, err := u.config.ConcurrencyLimit()
	if err != nil {
		return failedReport(path, err), err
	}

	req := u.request(path, info.Size(), limit)
	u.logger.Printf("Object key: %s", req.key)
	u.logger.Printf("File size: %s", units.HumanSizeWithPrecision(float64(info.Size()), 3))

	if putter, ok := u.backend.(singlePutter); ok && !u.compress && info.Size() < source.MinPartSize {
		return u.putSingle(ctx, putter, path, req)
	}

	opened, err := u.backend.open(ctx, req)
	if err != nil {
		return failedReport(path, err), err
	}
	u.logger.Printf("Part size: %s", units.HumanSizeWithPrecision(float64(opened.partSize), 3))

	src, err := u.openSource(path, opened.partSize)
	if err != nil {
		u.abort(ctx, opened.session)
		report := output.NewReport(opened.session, nil, err)
		report.Path = path
		return report, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	uploader := multipart.New(opened.client, u.config, u.logger)
	startTime := time.Now()
	committed, attempts, err := u.runWithRetries(ctx, uploader, opened.session, src)
	uploadTime := time.Since(startTime).Round(time.Second)

	var etag string
	if err == nil {
		etag, err = u.backend.complete(ctx, opened.session, committed)
	}
	if err != nil {
		u.abort(ctx, opened.session)
	}

	report := output.NewReport(opened.session, &multipart.Outcome{Parts: committed}, err)
	report.Path = path
	report.ETag = etag
	report.Attempts = attempts

	stats := analytics.UploadFromStats(u.mode, uploader.Stats(), uploadTime, attempts, limit)
	if failure, ok := multipart.AsPartialFailure(err); ok {
		u.tracker.LogPartialFailure(stats, failure)
		return report, err
	}
	if err != nil {
		return report, err
	}

	u.tracker.LogCommitted(stats)
	u.logger.Donef("Uploaded %d parts in %s (average part upload time: %s)", len(committed), uploadTime, uploader.Stats().Average().Round(time.Millisecond))
	return report, nil
}

// runWithRetries uploads every part of src, then re-uploads failed parts while they are retryable
// and attempts are left. It returns the parts committed across all attempts.
func (u *fileUploader) runWithRetries(ctx context.Context, uploader *multipart.Uploader, session multipart.UploadSession, src partSource) ([]multipart.CommitRecord, int, error) {
	var committed []multipart.CommitRecord
	var parts multipart.PartSource = src

	for attempt := 1; ; attempt++ {
		outcome, err := uploader.Run(ctx, session, parts)
		if err == nil {
			return multipart.MergeCommitted(committed, outcome.Parts), attempt, nil
		}

		failure, ok := multipart.AsPartialFailure(err)
		if !ok {
			return committed, attempt, err
		}
		committed = multipart.MergeCommitted(committed, failure.Committed)

		if attempt > u.retryAttempts || !allRetryable(failure.Retryable) || ctx.Err() != nil {
			return committed, attempt, &multipart.PartialFailureError{
				SessionID: session.ID,
				Session:   session,
				Committed: committed,
				Retryable: failure.Retryable,
			}
		}

		u.logger.Warnf("%d parts failed (parts: %s), retrying them (%d/%d)", len(failure.Retryable), partNumbers(failure.FailedPartNumbers()), attempt, u.retryAttempts)
		parts = multipart.NewRetrySource(failure, src.Opener())
	}
}

func (u *fileUploader) request(path string, size int64, concurrency int) uploadRequest {
	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if u.compress {
		name += ".zst"
		contentType = compressedContentType
	}

	partSize := u.partSize
	if partSize == 0 {
		partSize = source.OptimalPartSize(size, concurrency)
	}

	return uploadRequest{
		key:         u.keyPrefix + name,
		fileName:    name,
		contentType: contentType,
		size:        size,
		partSize:    partSize,
	}
}

func (u *fileUploader) openSource(path string, partSize int64) (partSource, error) {
	if !u.compress {
		return source.NewFileSource(path, partSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	spool, err := os.CreateTemp(u.spoolDir, "multipart-spool-*.zst")
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	compressed, err := source.NewSpooledCompressedSource(file, partSize, u.compressionLevel, spool)
	if err != nil {
		_ = file.Close()
		_ = spool.Close()
		return nil, err
	}
	return &spooledSource{CompressedSource: compressed, file: file, spool: spool}, nil
}

func (u *fileUploader) putSingle(ctx context.Context, putter singlePutter, path string, req uploadRequest) (output.Report, error) {
	u.logger.Printf("File is smaller than the minimum part size, uploading it with a single request")

	file, err := os.Open(path)
	if err != nil {
		return failedReport(path, err), err
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	session := multipart.UploadSession{Key: req.key}
	etag, err := putter.putSingle(ctx, req, file)
	report := output.NewReport(session, nil, err)
	report.Path = path
	report.ETag = etag
	report.Attempts = 1
	if err != nil {
		return report, err
	}

	u.tracker.LogCommitted(analytics.Upload{Mode: u.mode, Parts: 1, Bytes: req.size, Attempts: 1, Concurrency: 1})
	u.logger.Donef("Uploaded %s", req.key)
	return report, nil
}

func (u *fileUploader) abort(ctx context.Context, session multipart.UploadSession) {
	u.logger.Warnf("Aborting upload %s", session.ID)
	if err := u.backend.abort(ctx, session); err != nil {
		u.logger.Warnf("Failed to abort upload %s: %s", session.ID, err)
	}
}

func allRetryable(candidates []multipart.RetryCandidate) bool {
	for _, c := range candidates {
		if !c.Retryable() {
			return false
		}
	}
	return true
}

func partNumbers(numbers []int) string {
	s := make([]string, 0, len(numbers))
	for _, n := range numbers {
		s = append(s, fmt.Sprint(n))
	}
	return strings.Join(s, ",")
}

func failedReport(path string, err error) output.Report {
	report := output.NewReport(multipart.UploadSession{}, nil, err)
	report.Path = path
	return report
}

// spooledSource owns the input file and the spool of a compressed source.
type spooledSource struct {
	*source.CompressedSource
	file  io.Closer
	spool *os.File
}

func (s *spooledSource) Close() error {
	err := s.CompressedSource.Close()
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	if closeErr := s.spool.Close(); err == nil {
		err = closeErr
	}
	if removeErr := os.Remove(s.spool.Name()); err == nil {
		err = removeErr
	}
	return err
}
