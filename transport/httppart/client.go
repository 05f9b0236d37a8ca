// Package httppart uploads multipart upload parts to presigned URLs over HTTP.
package httppart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodySize = 1024

// UploadURL is a presigned URL for uploading a single part.
type UploadURL struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// StatusError is returned when the storage service answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error ...
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode ...
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// PartClient uploads parts with a PUT (or the URL's method) to their presigned URL.
type PartClient struct {
	httpClient *retryablehttp.Client
	urls       map[int]UploadURL
	logger     log.Logger
}

// NewPartClient creates a part client for the given URLs; urls[i] is used for part i+1.
func NewPartClient(httpClient *retryablehttp.Client, urls []UploadURL, logger log.Logger) *PartClient {
	byPartNumber := make(map[int]UploadURL, len(urls))
	for i, u := range urls {
		byPartNumber[i+1] = u
	}

	// Keep the last response of exhausted retries, so the status code reaches the caller
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &PartClient{
		httpClient: httpClient,
		urls:       byPartNumber,
		logger:     logger,
	}
}

// UploadPart uploads a part and returns the ETag header of the response.
func (c *PartClient) UploadPart(ctx context.Context, session multipart.UploadSession, part multipart.PartDescriptor) (*multipart.PartResponse, error) {
	uploadURL, ok := c.urls[part.PartNumber]
	if !ok {
		return nil, fmt.Errorf("no upload URL for part %d of upload %s", part.PartNumber, session.ID)
	}

	body, err := rewindableBody(part.Content)
	if err != nil {
		return nil, fmt.Errorf("read part %d: %w", part.PartNumber, err)
	}

	method := uploadURL.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, uploadURL.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range uploadURL.Headers {
		req.Header.Set(k, v)
	}

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", fmt.Sprintf("%d", part.Length))
	req.ContentLength = part.Length

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Part %d request dump: %s", part.PartNumber, string(dump))

	resp, err := c.httpClient.Do(req)
	if resp != nil {
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				c.logger.Printf(err.Error())
			}
		}(resp.Body)
	}
	if err != nil && resp == nil {
		return nil, fmt.Errorf("upload part %d: %w", part.PartNumber, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, unwrapError(resp)
	}

	return &multipart.PartResponse{ETag: resp.Header.Get("ETag")}, nil
}

func rewindableBody(content io.Reader) (interface{}, error) {
	if rs, ok := content.(io.ReadSeeker); ok {
		return rs, nil
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func unwrapError(resp *http.Response) error {
	errorBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(errorBody)}
}
