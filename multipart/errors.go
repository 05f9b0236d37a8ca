package multipart

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidConfig is returned before any part is dispatched if the configuration is unusable.
	ErrInvalidConfig = errors.New("invalid multipart upload config")
	// ErrInvalidPart is returned if the part source produced a malformed descriptor.
	ErrInvalidPart = errors.New("invalid part descriptor")
	// ErrMissingETag marks a part whose upload response carried no integrity token.
	ErrMissingETag = errors.New("no ETag in response")
	// ErrIncompleteUpload is returned if the collected records do not cover every admitted part exactly once.
	ErrIncompleteUpload = errors.New("part records do not match the uploaded parts")
	// ErrPartialFailure matches any *PartialFailureError with errors.Is.
	ErrPartialFailure = errors.New("multipart upload partially failed")
)

// PartialFailureError is returned when at least one part failed to upload.
// It carries everything needed to retry only the failed parts.
type PartialFailureError struct {
	SessionID string
	Session   UploadSession
	Committed []CommitRecord
	Retryable []RetryCandidate
}

// Error ...
func (e *PartialFailureError) Error() string {
	failed := make([]int, 0, len(e.Retryable))
	for _, c := range e.Retryable {
		failed = append(failed, c.PartNumber)
	}
	sort.Ints(failed)

	parts := make([]string, 0, len(failed))
	for _, n := range failed {
		parts = append(parts, fmt.Sprintf("%d", n))
	}

	return fmt.Sprintf("upload %s: %d parts committed, %d parts failed (parts: %s)",
		e.SessionID, len(e.Committed), len(e.Retryable), strings.Join(parts, ","))
}

// Is reports whether target is ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// Unwrap returns the error of every failed part.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Retryable))
	for _, c := range e.Retryable {
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	return errs
}

// FailedPartNumbers returns the part numbers of the failed parts in ascending order.
func (e *PartialFailureError) FailedPartNumbers() []int {
	numbers := make([]int, 0, len(e.Retryable))
	for _, c := range e.Retryable {
		numbers = append(numbers, c.PartNumber)
	}
	sort.Ints(numbers)
	return numbers
}

// AsPartialFailure returns the *PartialFailureError in err's chain, if any.
func AsPartialFailure(err error) (*PartialFailureError, bool) {
	var failure *PartialFailureError
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}
