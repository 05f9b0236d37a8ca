// Package multipart uploads the parts of a multipart upload session with bounded concurrency.
// It collects an integrity token for every part that succeeded and a retry candidate for
// every part that failed, and reports either the full part list or a partial failure.
package multipart

import (
	"context"
	"io"
)

// PartDescriptor describes a single part of the object being uploaded.
type PartDescriptor struct {
	// PartNumber is the 1-based number of the part within the upload session.
	PartNumber int
	// Content is the part body. It is read once per upload attempt.
	Content io.Reader
	// Length is the size of the part in bytes.
	Length int64
	// Position is the byte offset of the part within the source object.
	Position int64
}

// UploadSession identifies an in-progress multipart upload at the storage service.
type UploadSession struct {
	ID     string
	Bucket string
	Key    string
	// Metadata is echoed back unchanged on partial failure, so the caller can rebuild the request.
	Metadata map[string]string
}

// CommitRecord is the result of a successful part upload.
type CommitRecord struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// RetryCandidate is the result of a failed part upload.
type RetryCandidate struct {
	PartNumber int
	Length     int64
	Position   int64
	Err        error
}

// Retryable reports whether the failure looks transient.
func (c RetryCandidate) Retryable() bool {
	return IsRetryable(c.Err)
}

// Outcome is the result of a fully committed batch.
// Parts are in completion order, not part number order.
type Outcome struct {
	Parts []CommitRecord
}

// PartResponse is what the storage service returned for a part.
type PartResponse struct {
	ETag string
}

// PartSource produces the parts of an upload lazily. Next returns io.EOF once every part was produced.
type PartSource interface {
	Next() (PartDescriptor, error)
}

// PartClient performs the remote upload part call.
type PartClient interface {
	UploadPart(ctx context.Context, session UploadSession, part PartDescriptor) (*PartResponse, error)
}
