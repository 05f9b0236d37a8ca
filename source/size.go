package source

import (
	"fmt"

	"github.com/docker/go-units"
)

const (
	// MaxParts is the maximum number of parts of a single multipart upload.
	MaxParts = 10000
	// MinPartSize is the minimum size of every part but the last one.
	MinPartSize = 5 * 1024 * 1024
	// MaxPartSize is the maximum size of a single part.
	MaxPartSize = 5 * 1024 * 1024 * 1024
)

// OptimalPartSize calculates optimal part size based on total size and concurrency.
func OptimalPartSize(totalSize int64, concurrency int) int64 {
	if concurrency < 1 {
		concurrency = 1
	}
	return int64(optimalPartSize(uint64(totalSize), 8*1024*1024, 100*1024*1024, uint64(concurrency)))
}

func optimalPartSize(totalSize, min, max, concurrency uint64) uint64 {
	cs := totalSize / concurrency

	// Reduce part size for very large parts to improve parallelism
	if cs >= 100*1024*1024 {
		cs = cs / 2
	}

	if cs < min {
		cs = min
	}

	if max > 0 && cs > max {
		cs = max
	}

	// Stay below the part count limit for huge objects
	if fit := (totalSize + MaxParts - 1) / MaxParts; cs < fit {
		cs = fit
	}

	return cs
}

// ParsePartSize parses a human readable size like "8MB" or "16MiB" into bytes.
func ParsePartSize(s string) (int64, error) {
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse part size %q: %w", s, err)
	}
	if size < MinPartSize {
		return 0, fmt.Errorf("part size %s is below the minimum of %s", units.BytesSize(float64(size)), units.BytesSize(MinPartSize))
	}
	if size > MaxPartSize {
		return 0, fmt.Errorf("part size %s is above the maximum of %s", units.BytesSize(float64(size)), units.BytesSize(MaxPartSize))
	}
	return size, nil
}

// PartCount returns the number of parts a totalSize sized object is split into.
func PartCount(totalSize, partSize int64) int {
	if totalSize <= 0 || partSize <= 0 {
		return 0
	}
	return int((totalSize + partSize - 1) / partSize)
}
