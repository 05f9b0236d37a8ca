package source

import (
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/klauspost/compress/zstd"
)

// CompressedSource compresses a stream with zstd on the fly and cuts the compressed stream into parts.
type CompressedSource struct {
	*StreamSource
	pipe  *io.PipeReader
	spool *os.File
}

// NewCompressedSource creates a part source over the zstd compressed form of reader.
// level is a zstd compression level (1-22); 0 selects the default level.
func NewCompressedSource(reader io.Reader, partSize int64, level int) (*CompressedSource, error) {
	pr, err := compress(reader, level)
	if err != nil {
		return nil, err
	}

	return &CompressedSource{
		StreamSource: NewStreamSource(pr, partSize),
		pipe:         pr,
	}, nil
}

// NewSpooledCompressedSource works like NewCompressedSource, and also writes the compressed
// stream to spool, so the ranges of failed parts can be reopened with Opener.
func NewSpooledCompressedSource(reader io.Reader, partSize int64, level int, spool *os.File) (*CompressedSource, error) {
	pr, err := compress(reader, level)
	if err != nil {
		return nil, err
	}

	return &CompressedSource{
		StreamSource: NewStreamSource(io.TeeReader(pr, spool), partSize),
		pipe:         pr,
		spool:        spool,
	}, nil
}

func compress(reader io.Reader, level int) (*io.PipeReader, error) {
	opts := []zstd.EOption{}
	if level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}

	pr, pw := io.Pipe()
	encoder, err := zstd.NewWriter(pw, opts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	go func() {
		_, err := io.Copy(encoder, reader)
		if closeErr := encoder.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	return pr, nil
}

// Opener returns a content opener over the spooled compressed stream.
// Only ranges of parts already produced by Next can be opened.
func (s *CompressedSource) Opener() multipart.ContentOpener {
	return func(position, length int64) (io.Reader, error) {
		if s.spool == nil {
			return nil, fmt.Errorf("compressed source has no spool to reopen parts from")
		}
		if position < 0 || length < 0 || position+length > s.BytesRead() {
			return nil, fmt.Errorf("range %d+%d was not produced yet (%d bytes read)", position, length, s.BytesRead())
		}
		return io.NewSectionReader(s.spool, position, length), nil
	}
}

// Close stops the compression. Parts already produced stay readable.
func (s *CompressedSource) Close() error {
	return s.pipe.Close()
}
