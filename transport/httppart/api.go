package httppart

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// PrepareUploadRequest asks the upload API for a new multipart upload.
type PrepareUploadRequest struct {
	ObjectKey   string `json:"object_key"`
	FileName    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeInBytes int64  `json:"size_in_bytes"`
}

// PrepareUploadResponse describes the multipart upload created by the upload API.
type PrepareUploadResponse struct {
	ID                string      `json:"id"`
	UploadURLs        []UploadURL `json:"urls"`
	PartSizeBytes     int64       `json:"chunk_size_bytes"`
	PartCount         int         `json:"chunk_count"`
	LastPartSizeBytes int64       `json:"last_chunk_size_bytes"`
}

// Session returns the upload session for the prepared upload.
func (r PrepareUploadResponse) Session(key string) multipart.UploadSession {
	return multipart.UploadSession{
		ID:  r.ID,
		Key: key,
	}
}

type acknowledgeRequest struct {
	Successful bool     `json:"successful"`
	Etags      []string `json:"etags"`
}

// AcknowledgeResponse is the upload API's answer to an acknowledged upload.
type AcknowledgeResponse struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// APIClient talks to an upload API that hands out presigned part URLs.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient ...
func NewAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *APIClient {
	return &APIClient{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// Prepare creates a multipart upload and returns the presigned URLs of its parts.
func (c *APIClient) Prepare(requestBody PrepareUploadRequest) (PrepareUploadResponse, error) {
	url := fmt.Sprintf("%s/multipart-upload", c.baseURL)

	body, err := json.Marshal(requestBody)
	if err != nil {
		return PrepareUploadResponse{}, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return PrepareUploadResponse{}, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PrepareUploadResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return PrepareUploadResponse{}, unwrapError(resp)
	}

	var response PrepareUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return PrepareUploadResponse{}, err
	}

	if len(response.UploadURLs) != response.PartCount {
		return PrepareUploadResponse{}, fmt.Errorf("part count mismatch: %d parts, but %d URLs provided", response.PartCount, len(response.UploadURLs))
	}

	return response, nil
}

// Acknowledge finishes the upload. On success the part ETags are sent in part number order.
func (c *APIClient) Acknowledge(uploadID string, successful bool, parts []multipart.CommitRecord) (AcknowledgeResponse, error) {
	url := fmt.Sprintf("%s/multipart-upload/%s/acknowledge", c.baseURL, uploadID)

	sorted := make([]multipart.CommitRecord, len(parts))
	copy(sorted, parts)
	multipart.SortByPartNumber(sorted)

	etags := make([]string, 0, len(sorted))
	for _, p := range sorted {
		etags = append(etags, p.ETag)
	}

	body, err := json.Marshal(acknowledgeRequest{
		Successful: successful,
		Etags:      etags,
	})
	if err != nil {
		return AcknowledgeResponse{}, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPatch, url, body)
	if err != nil {
		return AcknowledgeResponse{}, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))

	dump, err := httputil.DumpRequest(req.Request, true)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Acknowledge request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AcknowledgeResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return AcknowledgeResponse{}, unwrapError(resp)
	}

	var response AcknowledgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return AcknowledgeResponse{}, err
	}
	return response, nil
}

// LogResponseMessage prints the API's message with the logger function matching its severity.
func LogResponseMessage(response AcknowledgeResponse, logger log.Logger) {
	if response.Message == "" || response.Severity == "" {
		return
	}

	var loggerFn func(format string, v ...interface{})
	switch response.Severity {
	case "debug":
		loggerFn = logger.Debugf
	case "info":
		loggerFn = logger.Infof
	case "warning":
		loggerFn = logger.Warnf
	case "error":
		loggerFn = logger.Errorf
	default:
		loggerFn = logger.Printf
	}

	loggerFn("\n")
	loggerFn(response.Message)
	loggerFn("\n")
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}
