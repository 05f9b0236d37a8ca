package multipart

import (
	"fmt"
	"runtime"
)

// Config holds configuration for the multipart uploader.
type Config struct {
	// AllowParallelUploads enables concurrent part uploads.
	// If false, parts are uploaded one at a time in source order.
	AllowParallelUploads bool

	// Concurrency is the maximum number of parallel part uploads.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AllowParallelUploads: true,
		Concurrency:          DefaultConcurrency(),
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

// ConcurrencyLimit returns the number of part uploads allowed in flight at once.
func (c Config) ConcurrencyLimit() (int, error) {
	if !c.AllowParallelUploads {
		return 1, nil
	}
	if c.Concurrency < 1 {
		return 0, fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	return c.Concurrency, nil
}

// Validate ...
func (c Config) Validate() error {
	_, err := c.ConcurrencyLimit()
	return err
}
