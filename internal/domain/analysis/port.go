package analysis

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrUnknownJob is returned by backends that cannot find the job id.
var ErrUnknownJob = errors.New("analysis job not found")

// Status of a remote analysis job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// ParseStatus maps the service vocabulary (ready/completed, running, queued...) onto Status.
// Unknown values are treated as pending.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ready", "completed", "complete", "done", "success":
		return StatusReady
	case "processing", "running", "in_progress":
		return StatusProcessing
	case "failed", "error":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Upload is one file handed to the analysis service.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Report is what FetchResult / Status return. Result is only set when Status is ready.
type Report struct {
	Status   Status
	Progress float64
	Result   *Result
}

// Service port for the remote AI analysis backend.
type Service interface {
	Submit(ctx context.Context, u Upload, isPublic bool) (jobID string, err error)
	FetchResult(ctx context.Context, jobID string) (Report, error)
	Status(ctx context.Context, jobID string) (Report, error)
}
