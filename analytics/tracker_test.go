package analytics

import (
	"errors"
	"testing"
	"time"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(eventName string, properties ...analytics.Properties) {
	m.Called(eventName, properties)
}

func (m *mockQueue) Wait() {
	m.Called()
}

func TestUploadTracker_LogCommitted(t *testing.T) {
	queue := new(mockQueue)
	queue.On("Enqueue", "multipart_upload_committed", []analytics.Properties{{
		"mode":              "s3",
		"part_count":        5,
		"failed_part_count": 0,
		"upload_size_bytes": int64(1024),
		"upload_time_s":     float64(3),
		"attempt_count":     1,
		"concurrency":       4,
	}}).Return()
	queue.On("Wait").Return()

	tracker := newUploadTracker(queue, log.NewLogger())
	tracker.LogCommitted(Upload{
		Mode:        "s3",
		Parts:       5,
		Bytes:       1024,
		Duration:    3500 * time.Millisecond,
		Attempts:    1,
		Concurrency: 4,
	})
	tracker.Wait()

	queue.AssertExpectations(t)
}

func TestUploadTracker_LogPartialFailure(t *testing.T) {
	queue := new(mockQueue)
	queue.On("Enqueue", "multipart_upload_partial_failure", mock.MatchedBy(func(props []analytics.Properties) bool {
		return len(props) == 1 &&
			props[0]["committed_part_count"] == 3 &&
			props[0]["retryable_part_count"] == 2 &&
			props[0]["mode"] == "cache"
	})).Return()

	failure := &multipart.PartialFailureError{
		SessionID: "upload-1",
		Committed: []multipart.CommitRecord{{PartNumber: 1}, {PartNumber: 3}, {PartNumber: 5}},
		Retryable: []multipart.RetryCandidate{
			{PartNumber: 2, Err: errors.New("boom")},
			{PartNumber: 4, Err: errors.New("boom")},
		},
	}

	newUploadTracker(queue, log.NewLogger()).LogPartialFailure(Upload{Mode: "cache"}, failure)

	queue.AssertExpectations(t)
}

func TestUploadFromStats(t *testing.T) {
	stats := multipart.NewStats()
	stats.Update(time.Second, 100)
	stats.Update(time.Second, 50)
	stats.Fail()

	upload := UploadFromStats("s3", stats, 2*time.Second, 2, 8)
	assert.Equal(t, Upload{
		Mode:        "s3",
		Parts:       2,
		FailedParts: 1,
		Bytes:       150,
		Duration:    2 * time.Second,
		Attempts:    2,
		Concurrency: 8,
	}, upload)
}
