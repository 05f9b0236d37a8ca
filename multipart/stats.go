package multipart

import (
	"sync"
	"time"
)

// Stats tracks part upload metrics for reporting.
type Stats struct {
	sum           time.Duration
	uploadedBytes int64
	finished      int64
	failed        int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful part upload.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.uploadedBytes += size
	s.finished++
}

// Fail records a failed part upload.
func (s *Stats) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// Average returns the average upload duration of successful parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finished)
}

// FinishedCount returns the number of successfully uploaded parts.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// FailedCount returns the number of failed part uploads.
func (s *Stats) FailedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// UploadedBytes returns the total size of successfully uploaded parts.
func (s *Stats) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedBytes
}

// TotalDuration returns the sum of all successful upload durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
