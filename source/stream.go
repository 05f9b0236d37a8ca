package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-multipart/multipart"
)

// ByteSliceSource provides parts from pre-loaded byte slices.
type ByteSliceSource struct {
	chunks   [][]byte
	next     int
	position int64
}

// NewByteSliceSource creates a part source from byte slices, one part per slice.
func NewByteSliceSource(chunks [][]byte) *ByteSliceSource {
	return &ByteSliceSource{chunks: chunks}
}

// Next ...
func (s *ByteSliceSource) Next() (multipart.PartDescriptor, error) {
	if s.next >= len(s.chunks) {
		return multipart.PartDescriptor{}, io.EOF
	}

	chunk := s.chunks[s.next]
	s.next++
	part := multipart.PartDescriptor{
		PartNumber: s.next,
		Content:    bytes.NewReader(chunk),
		Length:     int64(len(chunk)),
		Position:   s.position,
	}
	s.position += int64(len(chunk))

	return part, nil
}

// StreamSource reads parts from a stream of unknown length.
// Each part is buffered in memory; the uploader pulls parts only when it has a free slot,
// so at most concurrency parts are buffered at once.
type StreamSource struct {
	reader   io.Reader
	partSize int64
	next     int
	position int64
	done     bool
}

// NewStreamSource creates a part source that cuts reader into partSize sized parts.
func NewStreamSource(reader io.Reader, partSize int64) *StreamSource {
	return &StreamSource{
		reader:   reader,
		partSize: partSize,
	}
}

// Next ...
func (s *StreamSource) Next() (multipart.PartDescriptor, error) {
	if s.done {
		return multipart.PartDescriptor{}, io.EOF
	}
	if s.partSize <= 0 {
		return multipart.PartDescriptor{}, fmt.Errorf("part size must be positive, got %d", s.partSize)
	}
	if s.next >= MaxParts {
		return multipart.PartDescriptor{}, fmt.Errorf("stream exceeds the maximum of %d parts of %d bytes", MaxParts, s.partSize)
	}

	buf := make([]byte, s.partSize)
	n, err := io.ReadFull(s.reader, buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		return multipart.PartDescriptor{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil:
		return multipart.PartDescriptor{}, fmt.Errorf("read part %d: %w", s.next+1, err)
	}

	s.next++
	part := multipart.PartDescriptor{
		PartNumber: s.next,
		Content:    bytes.NewReader(buf[:n]),
		Length:     int64(n),
		Position:   s.position,
	}
	s.position += int64(n)

	return part, nil
}

// BytesRead returns the number of bytes consumed from the stream so far.
func (s *StreamSource) BytesRead() int64 {
	return s.position
}
