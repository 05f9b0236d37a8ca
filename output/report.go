// Package output writes upload reports and exposes them to subsequent steps.
package output

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-utils/fileutil"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Report statuses.
const (
	StatusCommitted      = "committed"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
)

// FailedPart is a part that did not commit.
type FailedPart struct {
	PartNumber int    `json:"part_number"`
	Position   int64  `json:"position"`
	Length     int64  `json:"length"`
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

// Report is the JSON document describing a finished upload.
type Report struct {
	Path      string                   `json:"path,omitempty"`
	SessionID string                   `json:"session_id"`
	Bucket    string                   `json:"bucket,omitempty"`
	Key       string                   `json:"key"`
	Status    string                   `json:"status"`
	ETag      string                   `json:"etag,omitempty"`
	Attempts  int                      `json:"attempts"`
	Committed []multipart.CommitRecord `json:"committed_parts"`
	Failed    []FailedPart             `json:"failed_parts"`
	Error     string                   `json:"error,omitempty"`
}

// NewReport describes the result of an upload session.
// A nil err means the outcome's parts were all committed.
func NewReport(session multipart.UploadSession, outcome *multipart.Outcome, err error) Report {
	report := Report{
		SessionID: session.ID,
		Bucket:    session.Bucket,
		Key:       session.Key,
		Committed: []multipart.CommitRecord{},
		Failed:    []FailedPart{},
	}

	if err == nil {
		report.Status = StatusCommitted
		if outcome != nil {
			report.Committed = append(report.Committed, outcome.Parts...)
		}
		multipart.SortByPartNumber(report.Committed)
		return report
	}

	report.Error = err.Error()

	failure, ok := multipart.AsPartialFailure(err)
	if !ok {
		report.Status = StatusFailed
		return report
	}

	report.Status = StatusPartialFailure
	report.Committed = append(report.Committed, failure.Committed...)
	for _, c := range failure.Retryable {
		report.Failed = append(report.Failed, FailedPart{
			PartNumber: c.PartNumber,
			Position:   c.Position,
			Length:     c.Length,
			Error:      errorString(c.Err),
			Retryable:  c.Retryable(),
		})
	}
	multipart.SortByPartNumber(report.Committed)
	return report
}

// ExportReport writes the report as JSON to path and exposes path under envKey.
func ExportReport(path string, report Report, envKey string, envRepo env.Repository) error {
	return export(path, report, envKey, envRepo)
}

// ExportReports works like ExportReport for the reports of several uploads, written as a JSON array.
func ExportReports(path string, reports []Report, envKey string, envRepo env.Repository) error {
	if reports == nil {
		reports = []Report{}
	}
	return export(path, reports, envKey, envRepo)
}

func export(path string, v interface{}, envKey string, envRepo env.Repository) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := fileutil.WriteBytesToFile(path, content); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if envKey == "" {
		return nil
	}
	return envRepo.Set(envKey, path)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
