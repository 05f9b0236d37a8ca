// Package source provides part sources for multipart uploads.
// Sources produce part descriptors lazily, so only the parts the uploader
// currently works on are held in memory.
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-multipart/multipart"
)

// FileSource partitions a file on disk into parts.
// Part contents are section readers over the file, safe for parallel reads.
type FileSource struct {
	file     *os.File
	size     int64
	partSize int64
	numParts int
	next     int
}

// NewFileSource creates a part source that splits the file at path into partSize sized parts.
// The last part holds the remainder.
func NewFileSource(path string, partSize int64) (*FileSource, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	numParts := PartCount(info.Size(), partSize)
	if numParts > MaxParts {
		_ = file.Close()
		return nil, fmt.Errorf("%s would be split into %d parts, the maximum is %d", path, numParts, MaxParts)
	}

	return &FileSource{
		file:     file,
		size:     info.Size(),
		partSize: partSize,
		numParts: numParts,
	}, nil
}

// Next ...
func (s *FileSource) Next() (multipart.PartDescriptor, error) {
	if s.next >= s.numParts {
		return multipart.PartDescriptor{}, io.EOF
	}

	position := int64(s.next) * s.partSize
	length := s.partSize
	if position+length > s.size {
		length = s.size - position
	}
	s.next++

	return multipart.PartDescriptor{
		PartNumber: s.next,
		Content:    io.NewSectionReader(s.file, position, length),
		Length:     length,
		Position:   position,
	}, nil
}

// NumParts returns the total number of parts.
func (s *FileSource) NumParts() int {
	return s.numParts
}

// Size returns the size of the file.
func (s *FileSource) Size() int64 {
	return s.size
}

// Opener returns a content opener over the same file, for re-reading the ranges of failed parts.
func (s *FileSource) Opener() multipart.ContentOpener {
	return func(position, length int64) (io.Reader, error) {
		if position < 0 || length < 0 || position+length > s.size {
			return nil, fmt.Errorf("range %d+%d is outside of the file (size %d)", position, length, s.size)
		}
		return io.NewSectionReader(s.file, position, length), nil
	}
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
