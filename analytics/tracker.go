// Package analytics sends multipart upload events.
package analytics

import (
	"time"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"

	committedEvent      = "multipart_upload_committed"
	partialFailureEvent = "multipart_upload_partial_failure"
)

type eventQueue interface {
	Enqueue(eventName string, properties ...analytics.Properties)
	Wait()
}

// Upload summarizes a finished upload.
type Upload struct {
	Mode        string
	Parts       int
	FailedParts int
	Bytes       int64
	Duration    time.Duration
	Attempts    int
	Concurrency int
}

// UploadFromStats builds an upload summary from the uploader's statistics.
func UploadFromStats(mode string, stats *multipart.Stats, duration time.Duration, attempts, concurrency int) Upload {
	return Upload{
		Mode:        mode,
		Parts:       int(stats.FinishedCount()),
		FailedParts: int(stats.FailedCount()),
		Bytes:       stats.UploadedBytes(),
		Duration:    duration,
		Attempts:    attempts,
		Concurrency: concurrency,
	}
}

// UploadTracker ...
type UploadTracker struct {
	tracker eventQueue
	logger  log.Logger
}

// NewUploadTracker creates a tracker with the build properties read from envRepo.
func NewUploadTracker(envRepo env.Repository, logger log.Logger) *UploadTracker {
	p := analytics.Properties{
		StepExecutionID: envRepo.Get(StepExecutionIDEnvKey),
		"build_slug":    envRepo.Get("BITRISE_BUILD_SLUG"),
		"app_slug":      envRepo.Get("BITRISE_APP_SLUG"),
		"workflow":      envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build":   envRepo.Get("IS_PR") == "true",
	}
	return newUploadTracker(analytics.NewDefaultTracker(logger, p), logger)
}

func newUploadTracker(tracker eventQueue, logger log.Logger) *UploadTracker {
	return &UploadTracker{
		tracker: tracker,
		logger:  logger,
	}
}

// LogCommitted ...
func (t *UploadTracker) LogCommitted(upload Upload) {
	t.tracker.Enqueue(committedEvent, upload.properties())
}

// LogPartialFailure ...
func (t *UploadTracker) LogPartialFailure(upload Upload, failure *multipart.PartialFailureError) {
	properties := upload.properties()
	properties["committed_part_count"] = len(failure.Committed)
	properties["retryable_part_count"] = len(failure.Retryable)
	t.tracker.Enqueue(partialFailureEvent, properties)
}

// Wait blocks until the queued events are sent.
func (t *UploadTracker) Wait() {
	t.logger.Debugf("Waiting for analytics events to be sent")
	t.tracker.Wait()
}

func (u Upload) properties() analytics.Properties {
	return analytics.Properties{
		"mode":              u.Mode,
		"part_count":        u.Parts,
		"failed_part_count": u.FailedParts,
		"upload_size_bytes": u.Bytes,
		"upload_time_s":     u.Duration.Truncate(time.Second).Seconds(),
		"attempt_count":     u.Attempts,
		"concurrency":       u.Concurrency,
	}
}
