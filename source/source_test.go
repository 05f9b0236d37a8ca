package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, source multipart.PartSource) ([]multipart.PartDescriptor, [][]byte) {
	t.Helper()

	var parts []multipart.PartDescriptor
	var contents [][]byte
	for {
		part, err := source.Next()
		if errors.Is(err, io.EOF) {
			return parts, contents
		}
		require.NoError(t, err)

		data, err := io.ReadAll(part.Content)
		require.NoError(t, err)
		parts = append(parts, part)
		contents = append(contents, data)
	}
}

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "test.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestFileSource(t *testing.T) {
	path, data := writeTestFile(t, 100)

	source, err := NewFileSource(path, 30)
	require.NoError(t, err)
	defer source.Close()

	assert.Equal(t, 4, source.NumParts())
	assert.Equal(t, int64(100), source.Size())

	parts, contents := drain(t, source)
	require.Len(t, parts, 4)
	for i, part := range parts {
		assert.Equal(t, i+1, part.PartNumber)
		assert.Equal(t, int64(i*30), part.Position)
	}
	assert.Equal(t, int64(10), parts[3].Length)
	assert.Equal(t, data, bytes.Join(contents, nil))

	content, err := source.Opener()(30, 30)
	require.NoError(t, err)
	second, err := io.ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, data[30:60], second)

	_, err = source.Opener()(90, 30)
	assert.Error(t, err)
}

func TestFileSource_Errors(t *testing.T) {
	path, _ := writeTestFile(t, 10)

	_, err := NewFileSource(path, 0)
	assert.Error(t, err)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing"), 10)
	assert.Error(t, err)
}

func TestFileSource_EmptyFile(t *testing.T) {
	path, _ := writeTestFile(t, 0)

	source, err := NewFileSource(path, 10)
	require.NoError(t, err)
	defer source.Close()

	parts, _ := drain(t, source)
	assert.Empty(t, parts)
}

func TestByteSliceSource(t *testing.T) {
	source := NewByteSliceSource([][]byte{
		[]byte("first chunk"),
		[]byte("second chunk with more data"),
		[]byte("third"),
	})

	parts, contents := drain(t, source)
	require.Len(t, parts, 3)
	assert.Equal(t, []int64{0, 11, 38}, []int64{parts[0].Position, parts[1].Position, parts[2].Position})
	assert.Equal(t, int64(27), parts[1].Length)
	assert.Equal(t, "third", string(contents[2]))
}

func TestStreamSource(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		partSize  int64
		wantParts int
		wantLast  int64
	}{
		{name: "empty stream", size: 0, partSize: 10, wantParts: 0},
		{name: "exact multiple", size: 30, partSize: 10, wantParts: 3, wantLast: 10},
		{name: "remainder", size: 25, partSize: 10, wantParts: 3, wantLast: 5},
		{name: "smaller than a part", size: 3, partSize: 10, wantParts: 1, wantLast: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte("x"), tt.size)
			source := NewStreamSource(bytes.NewReader(data), tt.partSize)

			parts, contents := drain(t, source)
			require.Len(t, parts, tt.wantParts)
			if tt.wantParts > 0 {
				assert.Equal(t, tt.wantLast, parts[len(parts)-1].Length)
			}
			assert.Equal(t, data, append([]byte{}, bytes.Join(contents, nil)...))
			assert.Equal(t, int64(tt.size), source.BytesRead())
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestStreamSource_ReadError(t *testing.T) {
	source := NewStreamSource(failingReader{}, 10)
	_, err := source.Next()
	assert.ErrorContains(t, err, "disk on fire")
}

func TestCompressedSource(t *testing.T) {
	data := bytes.Repeat([]byte("multipart upload payload "), 4096)

	source, err := NewCompressedSource(bytes.NewReader(data), 1024, 3)
	require.NoError(t, err)
	defer source.Close()

	parts, contents := drain(t, source)
	require.NotEmpty(t, parts)

	decoder, err := zstd.NewReader(bytes.NewReader(bytes.Join(contents, nil)))
	require.NoError(t, err)
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)
	assert.Less(t, source.BytesRead(), int64(len(data)))
}

func TestSpooledCompressedSource_Opener(t *testing.T) {
	data := bytes.Repeat([]byte("spooled payload "), 4096)
	spool, err := os.CreateTemp(t.TempDir(), "spool")
	require.NoError(t, err)
	defer spool.Close()

	source, err := NewSpooledCompressedSource(bytes.NewReader(data), 512, 0, spool)
	require.NoError(t, err)
	defer source.Close()

	_, err = source.Opener()(0, 1)
	assert.Error(t, err, "nothing was produced yet")

	parts, contents := drain(t, source)
	require.Greater(t, len(parts), 1)

	last := parts[len(parts)-1]
	reopened, err := source.Opener()(last.Position, last.Length)
	require.NoError(t, err)
	got, err := io.ReadAll(reopened)
	require.NoError(t, err)
	assert.Equal(t, contents[len(contents)-1], got)
}

func TestCompressedSource_OpenerWithoutSpool(t *testing.T) {
	source, err := NewCompressedSource(bytes.NewReader([]byte("data")), 512, 0)
	require.NoError(t, err)
	defer source.Close()

	drain(t, source)
	_, err = source.Opener()(0, 1)
	assert.Error(t, err)
}

func TestParsePartSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "8MB", want: 8 * 1024 * 1024},
		{input: "16MiB", want: 16 * 1024 * 1024},
		{input: "1GB", want: 1024 * 1024 * 1024},
		{input: "1MB", wantErr: true},
		{input: "6GB", wantErr: true},
		{input: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePartSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptimalPartSize(t *testing.T) {
	tests := []struct {
		name        string
		totalSize   int64
		concurrency int
		minExpected int64
		maxExpected int64
	}{
		{
			name:        "small file",
			totalSize:   10 * 1024 * 1024,
			concurrency: 4,
			minExpected: 8 * 1024 * 1024,
			maxExpected: 10 * 1024 * 1024,
		},
		{
			name:        "large file",
			totalSize:   1024 * 1024 * 1024,
			concurrency: 10,
			minExpected: 8 * 1024 * 1024,
			maxExpected: 100 * 1024 * 1024,
		},
		{
			name:        "huge file stays below the part limit",
			totalSize:   2 * 1024 * 1024 * 1024 * 1024,
			concurrency: 20,
			minExpected: 100 * 1024 * 1024,
			maxExpected: 300 * 1024 * 1024,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := OptimalPartSize(tt.totalSize, tt.concurrency)
			assert.GreaterOrEqual(t, result, tt.minExpected)
			assert.LessOrEqual(t, result, tt.maxExpected)
			assert.LessOrEqual(t, PartCount(tt.totalSize, result), MaxParts)
		})
	}
}

func TestPartCount(t *testing.T) {
	assert.Equal(t, 0, PartCount(0, 10))
	assert.Equal(t, 1, PartCount(10, 10))
	assert.Equal(t, 2, PartCount(11, 10))
	assert.Equal(t, 0, PartCount(10, 0))
}

func TestLocator_LocalPath(t *testing.T) {
	locator := NewLocator(pathutil.NewPathProvider(), pathutil.NewPathModifier(), log.NewLogger())
	dir := t.TempDir()

	got, err := locator.LocalPath(context.Background(), "file://"+filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.bin"), got)

	got, err = locator.LocalPath(context.Background(), filepath.Join(dir, "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.bin"), got)
}

func TestLocator_Download(t *testing.T) {
	content := bytes.Repeat([]byte("remote archive "), 10000)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "archive.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer svr.Close()

	locator := NewLocator(pathutil.NewPathProvider(), pathutil.NewPathModifier(), log.NewLogger())
	localPath, err := locator.LocalPath(context.Background(), svr.URL+"/files/archive.bin")
	require.NoError(t, err)
	assert.Equal(t, "archive.bin", filepath.Base(localPath))

	downloaded, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
}

type recordingClient struct {
	mu    sync.Mutex
	parts map[int][]byte
}

func (c *recordingClient) UploadPart(_ context.Context, _ multipart.UploadSession, part multipart.PartDescriptor) (*multipart.PartResponse, error) {
	data, err := io.ReadAll(part.Content)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts[part.PartNumber] = data
	return &multipart.PartResponse{ETag: fmt.Sprintf("%x", len(data))}, nil
}

func TestFileSource_UploadsWholeFile(t *testing.T) {
	path, data := writeTestFile(t, 1000)
	source, err := NewFileSource(path, 64)
	require.NoError(t, err)
	defer source.Close()

	client := &recordingClient{parts: map[int][]byte{}}
	uploader := multipart.New(client, multipart.Config{AllowParallelUploads: true, Concurrency: 4}, log.NewLogger())

	outcome, err := uploader.Run(context.Background(), multipart.UploadSession{ID: "id"}, source)
	require.NoError(t, err)
	require.Len(t, outcome.Parts, source.NumParts())

	var reassembled []byte
	for i := 1; i <= source.NumParts(); i++ {
		reassembled = append(reassembled, client.parts[i]...)
	}
	assert.Equal(t, data, reassembled)
}
