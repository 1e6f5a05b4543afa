package submission

import (
	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/content"
)

// Progress milestones per state.
const (
	ProgressSubmitted   = 0
	ProgressAnalyzing   = 80 // ceiling while polling
	ProgressPublishing  = 85
	ProgressRegistering = 95
	ProgressConfirmed   = 100
)

// Event drives Transition.
type Event interface {
	Name() string
}

type (
	// Submitted starts a new lifetime from Idle.
	Submitted struct {
		ID         string
		Generation string
		File       FileInfo
		Visibility Visibility
		MaxSize    int64
	}
	JobAccepted struct{ JobID string }
	SubmitFailed struct{ Err error }
	// PollProgressed carries the poller's percentage (0..100).
	PollProgressed struct {
		Status  analysis.Status
		Percent float64
	}
	AnalysisCompleted struct{ Result analysis.Result }
	// AnalysisFailed is raised during recovery when the job is known to have failed remotely.
	AnalysisFailed struct{ Err error }
	// ResultRestored re-attaches a result fetched by job id, without changing state.
	ResultRestored struct{ Result analysis.Result }
	Published      struct{ CID content.ID }
	PublishFailed  struct{ Err error }
	TxSubmitted    struct{ Handle string }
	Confirmed      struct{}
	LedgerFailed   struct{ Err error }
	Retried        struct{}
	Reset          struct{}
	Acknowledged   struct{}
)

func (Submitted) Name() string         { return "submitted" }
func (JobAccepted) Name() string       { return "job_accepted" }
func (SubmitFailed) Name() string      { return "submit_failed" }
func (PollProgressed) Name() string    { return "poll_progressed" }
func (AnalysisCompleted) Name() string { return "analysis_completed" }
func (AnalysisFailed) Name() string    { return "analysis_failed" }
func (ResultRestored) Name() string    { return "result_restored" }
func (Published) Name() string         { return "published" }
func (PublishFailed) Name() string     { return "publish_failed" }
func (TxSubmitted) Name() string       { return "tx_submitted" }
func (Confirmed) Name() string         { return "confirmed" }
func (LedgerFailed) Name() string      { return "ledger_failed" }
func (Retried) Name() string           { return "retried" }
func (Reset) Name() string             { return "reset" }
func (Acknowledged) Name() string      { return "acknowledged" }

// Transition applies ev to s. It is pure: on error s is returned unchanged.
func Transition(s Submission, ev Event) (Submission, error) {
	if s.State == "" {
		s.State = StateIdle
	}
	next := s

	switch e := ev.(type) {
	case Submitted:
		if s.State != StateIdle {
			return s, ErrBusy
		}
		if err := Validate(e.File, e.MaxSize); err != nil {
			return s, err
		}
		if e.ID == "" || e.Generation == "" {
			return s, invalid(s.State, ev)
		}
		next = Submission{
			ID:         e.ID,
			Generation: e.Generation,
			File:       e.File,
			Visibility: e.Visibility,
			State:      StateSubmitted,
			Progress:   ProgressSubmitted,
		}
		if next.Visibility == "" {
			next.Visibility = VisibilityPublic
		}

	case JobAccepted:
		if s.State != StateSubmitted || e.JobID == "" {
			return s, invalid(s.State, ev)
		}
		if s.AnalysisJobID != "" && s.AnalysisJobID != e.JobID {
			return s, invalid(s.State, ev)
		}
		next.AnalysisJobID = e.JobID
		next.State = StateAnalyzing

	case SubmitFailed:
		if s.State != StateSubmitted {
			return s, invalid(s.State, ev)
		}
		next = fail(next, KindAnalysisSubmit, e.Err)

	case PollProgressed:
		if s.State != StateAnalyzing {
			return s, invalid(s.State, ev)
		}
		pct := e.Percent
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		next.Progress = raise(s.Progress, pct*ProgressAnalyzing/100)

	case AnalysisCompleted:
		if s.State != StateAnalyzing {
			return s, invalid(s.State, ev)
		}
		res := e.Result
		next.AnalysisResult = &res
		next.State = StatePublishing
		next.Progress = raise(s.Progress, ProgressPublishing)

	case AnalysisFailed:
		if s.State != StateSubmitted && s.State != StateAnalyzing {
			return s, invalid(s.State, ev)
		}
		next = fail(next, KindAnalysisSubmit, e.Err)

	case ResultRestored:
		if s.AnalysisJobID == "" || s.AnalysisResult != nil {
			return s, invalid(s.State, ev)
		}
		switch s.State {
		case StatePublishing, StateRegistering, StateConfirmed, StateFailed:
		default:
			return s, invalid(s.State, ev)
		}
		res := e.Result
		next.AnalysisResult = &res

	case Published:
		if s.State != StatePublishing || s.AnalysisResult == nil || e.CID == "" {
			return s, invalid(s.State, ev)
		}
		next.MetadataCID = e.CID
		next.State = StateRegistering
		next.Progress = raise(s.Progress, ProgressRegistering)

	case PublishFailed:
		if s.State != StatePublishing {
			return s, invalid(s.State, ev)
		}
		next = fail(next, KindPublish, e.Err)

	case TxSubmitted:
		if s.State != StateRegistering || s.MetadataCID == "" || e.Handle == "" || s.LedgerTxHandle != "" {
			return s, invalid(s.State, ev)
		}
		next.LedgerTxHandle = e.Handle

	case Confirmed:
		if s.State != StateRegistering || s.LedgerTxHandle == "" {
			return s, invalid(s.State, ev)
		}
		next.State = StateConfirmed
		next.Progress = ProgressConfirmed
		next.LastError = nil

	case LedgerFailed:
		if s.State != StateRegistering {
			return s, invalid(s.State, ev)
		}
		next = fail(next, KindLedger, e.Err)

	case Retried:
		if s.State != StateFailed || s.LastError == nil {
			return s, invalid(s.State, ev)
		}
		switch s.LastError.Kind {
		case KindPublish:
			if s.AnalysisJobID == "" {
				return s, ErrNotRetryable
			}
			next.State = StatePublishing
		case KindLedger:
			if s.MetadataCID == "" {
				return s, ErrNotRetryable
			}
			// the rejected transaction is dead, a fresh one is submitted
			next.LedgerTxHandle = ""
			next.State = StateRegistering
		default:
			return s, ErrNotRetryable
		}
		next.LastError = nil

	case Reset:
		if s.State != StateFailed {
			return s, invalid(s.State, ev)
		}
		next = Idle()

	case Acknowledged:
		if s.State != StateConfirmed {
			return s, invalid(s.State, ev)
		}
		next = Idle()

	default:
		return s, invalid(s.State, ev)
	}
	return next, nil
}

func fail(s Submission, kind Kind, err error) Submission {
	s.LastError = Describe(kind, s.State, err)
	s.State = StateFailed
	return s
}

func raise(prev, v float64) float64 {
	if v > prev {
		return v
	}
	return prev
}
