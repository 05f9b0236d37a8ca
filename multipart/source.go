package multipart

import (
	"fmt"
	"io"
	"sort"
)

// SliceSource is a PartSource over descriptors that are already in memory.
type SliceSource struct {
	parts []PartDescriptor
	next  int
}

// NewSliceSource creates a PartSource producing the given parts in order.
func NewSliceSource(parts ...PartDescriptor) *SliceSource {
	return &SliceSource{parts: parts}
}

// Next ...
func (s *SliceSource) Next() (PartDescriptor, error) {
	if s.next >= len(s.parts) {
		return PartDescriptor{}, io.EOF
	}
	part := s.parts[s.next]
	s.next++
	return part, nil
}

// ContentOpener returns the content of the byte range [position, position+length) of the source object.
type ContentOpener func(position, length int64) (io.Reader, error)

// RetrySource produces descriptors for the failed parts of a previous attempt only.
type RetrySource struct {
	candidates []RetryCandidate
	open       ContentOpener
	next       int
}

// NewRetrySource creates a PartSource that re-reads the byte ranges of the parts that failed,
// in ascending part number order. Committed parts are not produced again.
func NewRetrySource(failure *PartialFailureError, open ContentOpener) *RetrySource {
	candidates := make([]RetryCandidate, len(failure.Retryable))
	copy(candidates, failure.Retryable)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PartNumber < candidates[j].PartNumber
	})

	return &RetrySource{
		candidates: candidates,
		open:       open,
	}
}

// Next ...
func (s *RetrySource) Next() (PartDescriptor, error) {
	if s.next >= len(s.candidates) {
		return PartDescriptor{}, io.EOF
	}
	c := s.candidates[s.next]
	s.next++

	content, err := s.open(c.Position, c.Length)
	if err != nil {
		return PartDescriptor{}, fmt.Errorf("open part %d: %w", c.PartNumber, err)
	}

	return PartDescriptor{
		PartNumber: c.PartNumber,
		Content:    content,
		Length:     c.Length,
		Position:   c.Position,
	}, nil
}

// SortByPartNumber sorts commit records in ascending part number order, as required when committing.
func SortByPartNumber(records []CommitRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].PartNumber < records[j].PartNumber
	})
}

// MergeCommitted combines the commit records of two attempts. A part present in both keeps the record from next.
// The result is sorted by part number.
func MergeCommitted(prev, next []CommitRecord) []CommitRecord {
	byNumber := make(map[int]CommitRecord, len(prev)+len(next))
	for _, r := range prev {
		byNumber[r.PartNumber] = r
	}
	for _, r := range next {
		byNumber[r.PartNumber] = r
	}

	merged := make([]CommitRecord, 0, len(byNumber))
	for _, r := range byNumber {
		merged = append(merged, r)
	}
	SortByPartNumber(merged)
	return merged
}
