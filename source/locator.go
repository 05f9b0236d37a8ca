package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/melbahja/got"
)

const (
	fileScheme = "file://"
)

// Locator resolves the location of an upload source to a local file path.
// Local paths (optionally using the `file://` scheme) are made absolute,
// remote http(s) URLs are downloaded to a temporary directory first.
type Locator struct {
	httpClient   *http.Client
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	logger       log.Logger
}

// NewLocator ...
func NewLocator(pathProvider pathutil.PathProvider, pathModifier pathutil.PathModifier, logger log.Logger) *Locator {
	return &Locator{
		httpClient:   retryhttp.NewClient(logger).StandardClient(),
		pathProvider: pathProvider,
		pathModifier: pathModifier,
		logger:       logger,
	}
}

// LocalPath returns the local file path for the given location.
func (l *Locator) LocalPath(ctx context.Context, location string) (string, error) {
	if IsRemote(location) {
		return l.download(ctx, location)
	}

	return l.pathModifier.AbsPath(strings.TrimPrefix(location, fileScheme))
}

func (l *Locator) download(ctx context.Context, location string) (string, error) {
	tmpDir, err := l.pathProvider.CreateTempDir("multipart-source")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	parsedURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %s: %w", location, err)
	}
	fileName := filepath.Base(parsedURL.Path)
	if fileName == "." || fileName == "/" {
		fileName = "source"
	}

	localPath := filepath.Join(tmpDir, fileName)
	l.logger.Debugf("Downloading %s to %s", location, localPath)

	downloader := got.New()
	downloader.Client = l.httpClient
	if err := downloader.Do(got.NewDownload(ctx, location, localPath)); err != nil {
		return "", fmt.Errorf("failed to download file from %s: %w", location, err)
	}

	return localPath, nil
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
