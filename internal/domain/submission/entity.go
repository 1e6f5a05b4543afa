package submission

import (
	"time"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/content"
)

// State of a submission in the pipeline.
type State string

const (
	StateIdle        State = "idle"
	StateSubmitted   State = "submitted"
	StateAnalyzing   State = "analyzing"
	StatePublishing  State = "publishing"
	StateRegistering State = "registering"
	StateConfirmed   State = "confirmed"
	StateFailed      State = "failed"
)

// Visibility of the dataset on the ledger.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) IsPublic() bool { return v != VisibilityPrivate }

// ParseVisibility defaults to public.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case "", VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	default:
		return "", &Error{Kind: KindValidation, Err: errorf("unknown visibility %q", s)}
	}
}

// FileInfo describes the submitted file. Ref locates the bytes (a local path), never the bytes themselves.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Ref      string `json:"ref"`
}

// ErrorDescriptor is the persisted, user-facing description of the last failure.
type ErrorDescriptor struct {
	Kind    Kind   `json:"kind"`
	Stage   State  `json:"stage"`
	Message string `json:"message"`
}

// Submission is the aggregate driven through the pipeline.
type Submission struct {
	ID         string     `json:"id"`
	Generation string     `json:"generation"`
	File       FileInfo   `json:"file"`
	Visibility Visibility `json:"visibility"`

	AnalysisJobID  string           `json:"analysis_job_id,omitempty"`
	AnalysisResult *analysis.Result `json:"analysis_result,omitempty"`
	MetadataCID    content.ID       `json:"metadata_cid,omitempty"`
	LedgerTxHandle string           `json:"ledger_tx_handle,omitempty"`

	State     State            `json:"state"`
	Progress  float64          `json:"progress"`
	LastError *ErrorDescriptor `json:"last_error,omitempty"`
}

// Idle returns a fresh idle submission
func Idle() Submission { return Submission{State: StateIdle} }

// Update is what observers receive after every persisted change.
type Update struct {
	SubmissionID string           `json:"submission_id,omitempty"`
	State        State            `json:"state"`
	Progress     float64          `json:"progress"`
	LastError    *ErrorDescriptor `json:"last_error,omitempty"`
}

func (s Submission) Update() Update {
	return Update{SubmissionID: s.ID, State: s.State, Progress: s.Progress, LastError: s.LastError}
}

// Handoff carries the final result to the downstream consumer after confirmation.
type Handoff struct {
	SubmissionID  string          `json:"submission_id"`
	File          FileInfo        `json:"file"`
	Visibility    Visibility      `json:"visibility"`
	AnalysisJobID string          `json:"analysis_job_id"`
	MetadataCID   content.ID      `json:"metadata_cid"`
	TxHandle      string          `json:"tx_handle"`
	BlockNumber   uint64          `json:"block_number"`
	ExplorerURL   string          `json:"explorer_url,omitempty"`
	Result        analysis.Result `json:"result"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
}
