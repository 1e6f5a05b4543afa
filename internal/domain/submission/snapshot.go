package submission

import (
	"fmt"

	"github.com/bryanwahyu/filescope/internal/domain/content"
)

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 1

// Snapshot is the minimal durable record of pipeline progress. It holds
// neither the file bytes nor the analysis result.
type Snapshot struct {
	Version        int              `json:"v"`
	SubmissionID   string           `json:"submission_id"`
	Generation     string           `json:"generation"`
	State          State            `json:"state"`
	Progress       float64          `json:"progress"`
	AnalysisJobID  string           `json:"analysis_job_id,omitempty"`
	FileName       string           `json:"file_name"`
	FileSize       int64            `json:"file_size"`
	FileMimeType   string           `json:"file_mime_type"`
	FileRef        string           `json:"file_ref"`
	Visibility     Visibility       `json:"visibility"`
	MetadataCID    content.ID       `json:"metadata_cid,omitempty"`
	LedgerTxHandle string           `json:"ledger_tx_handle,omitempty"`
	LastError      *ErrorDescriptor `json:"last_error,omitempty"`
}

// SnapshotOf captures s for persistence.
func SnapshotOf(s Submission) Snapshot {
	return Snapshot{
		Version:        SnapshotVersion,
		SubmissionID:   s.ID,
		Generation:     s.Generation,
		State:          s.State,
		Progress:       s.Progress,
		AnalysisJobID:  s.AnalysisJobID,
		FileName:       s.File.Name,
		FileSize:       s.File.Size,
		FileMimeType:   s.File.MimeType,
		FileRef:        s.File.Ref,
		Visibility:     s.Visibility,
		MetadataCID:    s.MetadataCID,
		LedgerTxHandle: s.LedgerTxHandle,
		LastError:      s.LastError,
	}
}

// Restore rebuilds the submission (without its result) and checks that the
// identifiers each state depends on are present. A snapshot that fails the
// check yields ErrRecoveryCorruption.
func (sn Snapshot) Restore() (Submission, error) {
	s := Submission{
		ID:         sn.SubmissionID,
		Generation: sn.Generation,
		File: FileInfo{
			Name:     sn.FileName,
			Size:     sn.FileSize,
			MimeType: sn.FileMimeType,
			Ref:      sn.FileRef,
		},
		Visibility:     sn.Visibility,
		AnalysisJobID:  sn.AnalysisJobID,
		MetadataCID:    sn.MetadataCID,
		LedgerTxHandle: sn.LedgerTxHandle,
		State:          sn.State,
		Progress:       sn.Progress,
		LastError:      sn.LastError,
	}
	if sn.Version != SnapshotVersion {
		return s, corrupt("snapshot version %d, want %d", sn.Version, SnapshotVersion)
	}
	if sn.SubmissionID == "" || sn.Generation == "" {
		return s, corrupt("snapshot has no submission id")
	}
	if sn.LedgerTxHandle != "" && sn.MetadataCID == "" {
		return s, corrupt("tx handle without metadata cid")
	}

	switch sn.State {
	case StateSubmitted, StateAnalyzing, StatePublishing:
		// Submitted without a job id cannot be identified without re-submitting.
		if sn.AnalysisJobID == "" {
			return s, corrupt("%s snapshot without analysis job id", sn.State)
		}
		if sn.State == StateSubmitted {
			s.State = StateAnalyzing
		}
	case StateRegistering:
		if sn.AnalysisJobID == "" || sn.MetadataCID == "" {
			return s, corrupt("registering snapshot without job id or metadata cid")
		}
	case StateConfirmed:
	case StateFailed:
		if sn.LastError == nil {
			return s, corrupt("failed snapshot without error")
		}
	default:
		return s, corrupt("unexpected snapshot state %q", sn.State)
	}
	return s, nil
}

func corrupt(format string, args ...any) error {
	return &Error{Kind: KindRecoveryCorrupted, Err: fmt.Errorf(format, args...)}
}
