package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/ledger"
	"github.com/bryanwahyu/filescope/internal/domain/records"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/logging"
	"github.com/bryanwahyu/filescope/internal/observability"
)

var errStale = errors.New("stale response discarded")

// Machine drives one submission at a time through the pipeline. Every change
// goes through domain.Transition, is persisted, and only then reaches observers.
// Machine is safe for concurrent use.
type Machine struct {
	Analysis  analysis.Service
	Files     domain.FileOpener
	Poller    *Poller
	Publisher *Publisher
	Ledger    ledger.Client
	Session   *Session
	// Metadata rebuilds the result of an already published submission from
	// its metadata document, so what gets confirmed matches what was published.
	Metadata *Reader
	// Records is optional; confirmed submissions are indexed when set.
	Records     records.Repository
	Clock       clock.Clock
	Log         *zap.Logger
	MaxFileSize int64

	mu        sync.Mutex
	current   domain.Submission
	running   bool
	observers []observerEntry
	nextObsID int
}

type observerEntry struct {
	id int
	o  domain.Observer
}

//
// ==== observation ====
//

// Current returns the in-memory submission.
func (m *Machine) Current() domain.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

// Observe registers o for every persisted update. Call cancel to unsubscribe.
func (m *Machine) Observe(o domain.Observer) (cancel func()) {
	m.mu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers = append(m.observers, observerEntry{id: id, o: o})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.observers {
			if e.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

//
// ==== commands ====
//

// Start validates the file and records a new Submitted lifetime. Nothing is
// persisted when validation fails.
func (m *Machine) Start(ctx context.Context, file domain.FileInfo, vis domain.Visibility) error {
	if !m.acquire() {
		return domain.ErrBusy
	}
	defer m.release()

	_, err := m.apply(ctx, "", domain.Submitted{
		ID:         uuid.NewString(),
		Generation: uuid.NewString(),
		File:       file,
		Visibility: vis,
		MaxSize:    m.MaxFileSize,
	})
	return err
}

// Submit is Start followed by Run.
func (m *Machine) Submit(ctx context.Context, file domain.FileInfo, vis domain.Visibility) error {
	if err := m.Start(ctx, file, vis); err != nil {
		return err
	}
	return m.Run(ctx)
}

// Run drives the current submission until it is Confirmed, Failed or Idle.
// Pipeline failures become states; Run only returns context and persistence
// errors, or a ledger transport error that leaves the submission resumable.
func (m *Machine) Run(ctx context.Context) error {
	if !m.acquire() {
		return domain.ErrBusy
	}
	defer m.release()
	return m.drive(ctx)
}

// Resume restores the persisted submission and continues it. A confirmed
// submission's handoff record is returned (and consumed) instead.
func (m *Machine) Resume(ctx context.Context) (*domain.Handoff, error) {
	if !m.acquire() {
		return nil, domain.ErrBusy
	}
	defer m.release()

	if cur := m.Current(); cur.State != domain.StateIdle {
		return nil, domain.ErrBusy
	}
	h, cont, err := m.recoverSession(ctx)
	if err != nil || !cont {
		return h, err
	}
	return nil, m.drive(ctx)
}

// Retry re-enters the failed stage, reusing the job id, result and CID already held.
func (m *Machine) Retry(ctx context.Context) error {
	if !m.acquire() {
		return domain.ErrBusy
	}
	defer m.release()

	if err := m.rearm(ctx); err != nil {
		return err
	}
	return m.drive(ctx)
}

// Rearm is the synchronous half of Retry: the failed stage is re-entered and
// persisted, a later Run drives it.
func (m *Machine) Rearm(ctx context.Context) error {
	if !m.acquire() {
		return domain.ErrBusy
	}
	defer m.release()
	return m.rearm(ctx)
}

func (m *Machine) rearm(ctx context.Context) error {
	cur := m.Current()
	if cur.State != domain.StateFailed {
		return fmt.Errorf("%w: retry from %s", domain.ErrInvalidTransition, cur.State)
	}
	_, err := m.apply(ctx, cur.Generation, domain.Retried{})
	return err
}

// Reset abandons a failed submission. From Idle it drops a snapshot that a
// failed recovery left behind.
func (m *Machine) Reset(ctx context.Context) error {
	if !m.acquire() {
		return domain.ErrBusy
	}
	defer m.release()

	cur := m.Current()
	if cur.State == domain.StateIdle {
		if err := m.Session.Clear(ctx); err != nil {
			return err
		}
		m.setIdle(nil)
		return nil
	}
	_, err := m.apply(ctx, cur.Generation, domain.Reset{})
	return err
}

// Acknowledge consumes the handoff of a confirmed submission and returns to Idle.
func (m *Machine) Acknowledge(ctx context.Context) (*domain.Handoff, error) {
	if !m.acquire() {
		return nil, domain.ErrBusy
	}
	defer m.release()

	cur := m.Current()
	if cur.State != domain.StateConfirmed {
		return nil, fmt.Errorf("%w: acknowledge from %s", domain.ErrInvalidTransition, cur.State)
	}
	h, err := m.Session.LoadHandoff(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Session.ClearHandoff(ctx); err != nil {
		return nil, err
	}
	if _, err := m.apply(ctx, cur.Generation, domain.Acknowledged{}); err != nil {
		return nil, err
	}
	return h, nil
}

//
// ==== stages ====
//

func (m *Machine) drive(ctx context.Context) error {
	observability.SetInFlight(true)
	defer observability.SetInFlight(false)

	for {
		cur := m.Current()
		var err error
		switch cur.State {
		case domain.StateSubmitted:
			err = m.submitStage(ctx, cur)
		case domain.StateAnalyzing:
			err = m.analyzeStage(ctx, cur)
		case domain.StatePublishing:
			err = m.publishStage(ctx, cur)
		case domain.StateRegistering:
			err = m.registerStage(ctx, cur)
		default:
			return nil
		}
		if errors.Is(err, errStale) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *Machine) submitStage(ctx context.Context, cur domain.Submission) error {
	ctx, span := observability.StartSpan(ctx, "submission.submit", attribute.String("submission.id", cur.ID))
	defer span.End()

	jobID, err := m.submitFile(ctx, cur)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		m.logger().Warn("analysis submit failed", zap.String("submission_id", cur.ID), zap.Error(err))
		_, err = m.apply(ctx, cur.Generation, domain.SubmitFailed{Err: err})
		return err
	}
	m.logger().Info("analysis job accepted", zap.String("submission_id", cur.ID), zap.String("job_id", jobID))
	_, err = m.apply(ctx, cur.Generation, domain.JobAccepted{JobID: jobID})
	return err
}

func (m *Machine) submitFile(ctx context.Context, cur domain.Submission) (string, error) {
	rc, err := m.Files.Open(ctx, cur.File.Ref)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", cur.File.Name, err)
	}
	defer rc.Close()

	return m.Analysis.Submit(ctx, analysis.Upload{
		Name:     cur.File.Name,
		MimeType: cur.File.MimeType,
		Size:     cur.File.Size,
		Body:     rc,
	}, cur.Visibility.IsPublic())
}

func (m *Machine) analyzeStage(ctx context.Context, cur domain.Submission) error {
	ctx, span := observability.StartSpan(ctx, "submission.analyze", attribute.String("analysis.job_id", cur.AnalysisJobID))
	defer span.End()

	res, err := m.Poller.PollUntilComplete(ctx, cur.AnalysisJobID, func(st analysis.Status, pct float64) {
		if _, err := m.apply(ctx, cur.Generation, domain.PollProgressed{Status: st, Percent: pct}); err != nil && !errors.Is(err, errStale) {
			m.logger().Warn("record poll progress", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Bool("analysis.synthetic", res.Synthetic))
	_, err = m.apply(ctx, cur.Generation, domain.AnalysisCompleted{Result: res})
	return err
}

func (m *Machine) publishStage(ctx context.Context, cur domain.Submission) error {
	ctx, span := observability.StartSpan(ctx, "submission.publish", attribute.String("submission.id", cur.ID))
	defer span.End()

	if cur.AnalysisResult == nil {
		if err := m.restoreResult(ctx, cur); err != nil {
			return err
		}
		cur = m.Current()
	}

	cid, err := m.Publisher.Publish(ctx, cur.File, *cur.AnalysisResult)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		m.logger().Warn("publish failed", zap.String("submission_id", cur.ID), zap.Error(err))
		_, err = m.apply(ctx, cur.Generation, domain.PublishFailed{Err: err})
		return err
	}
	_, err = m.apply(ctx, cur.Generation, domain.Published{CID: cid})
	return err
}

func (m *Machine) registerStage(ctx context.Context, cur domain.Submission) error {
	ctx, span := observability.StartSpan(ctx, "submission.register", attribute.String("content.cid", cur.MetadataCID.String()))
	defer span.End()

	handle := cur.LedgerTxHandle
	if handle == "" {
		cid := cur.MetadataCID.String()
		h, err := m.Ledger.Register(ctx, cid, cid, cur.Visibility.IsPublic())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			span.RecordError(err)
			m.logger().Warn("ledger registration failed", zap.String("submission_id", cur.ID), zap.Error(err))
			_, err = m.apply(ctx, cur.Generation, domain.LedgerFailed{Err: err})
			return err
		}
		if _, err := m.apply(ctx, cur.Generation, domain.TxSubmitted{Handle: h}); err != nil {
			return err
		}
		handle = h
	}

	conf, err := m.Ledger.AwaitConfirmation(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ledger.ErrRejected) {
			span.RecordError(err)
			_, err = m.apply(ctx, cur.Generation, domain.LedgerFailed{Err: err})
			return err
		}
		return fmt.Errorf("await confirmation of %s: %w", handle, err)
	}
	return m.confirm(ctx, cur.Generation, conf)
}

// confirm writes the handoff record, then moves to Confirmed.
func (m *Machine) confirm(ctx context.Context, gen string, conf ledger.Confirmation) error {
	cur := m.Current()
	if cur.Generation != gen {
		return errStale
	}
	if cur.AnalysisResult == nil {
		if err := m.restoreResult(ctx, cur); err != nil {
			return err
		}
		cur = m.Current()
	}

	h := domain.Handoff{
		SubmissionID:  cur.ID,
		File:          cur.File,
		Visibility:    cur.Visibility,
		AnalysisJobID: cur.AnalysisJobID,
		MetadataCID:   cur.MetadataCID,
		TxHandle:      conf.TxHandle,
		BlockNumber:   conf.BlockNumber,
		ExplorerURL:   conf.ExplorerURL,
		Result:        *cur.AnalysisResult,
		ConfirmedAt:   m.clock().Now().UTC(),
	}
	if h.TxHandle == "" {
		h.TxHandle = cur.LedgerTxHandle
	}
	if err := m.Session.SaveHandoff(context.WithoutCancel(ctx), h); err != nil {
		return err
	}
	if _, err := m.apply(ctx, gen, domain.Confirmed{}); err != nil {
		return err
	}
	m.logger().Info("submission confirmed",
		zap.String("submission_id", h.SubmissionID),
		zap.String("metadata_cid", h.MetadataCID.String()),
		zap.String("tx", h.TxHandle),
		zap.Uint64("block", h.BlockNumber),
	)
	m.index(ctx, h)
	return nil
}

func (m *Machine) index(ctx context.Context, h domain.Handoff) {
	if m.Records == nil {
		return
	}
	p := &records.Publication{
		MetadataCID:  h.MetadataCID.String(),
		SubmissionID: h.SubmissionID,
		TxHandle:     h.TxHandle,
		BlockNumber:  h.BlockNumber,
		ExplorerURL:  h.ExplorerURL,
		FileName:     h.File.Name,
		FileSize:     h.File.Size,
		MimeType:     h.File.MimeType,
		Visibility:   string(h.Visibility),
		QualityScore: h.Result.Quality.Overall,
		AnomalyCount: h.Result.Anomalies.Total,
		BiasScore:    h.Result.Bias.Overall,
		Synthetic:    h.Result.Synthetic,
		ConfirmedAt:  h.ConfirmedAt,
	}
	if err := m.Records.Save(context.WithoutCancel(ctx), p); err != nil {
		m.logger().Error("index publication", zap.String("metadata_cid", p.MetadataCID), zap.Error(err))
	}
}

// restoreResult re-attaches the analysis result after a restart.
func (m *Machine) restoreResult(ctx context.Context, cur domain.Submission) error {
	res, err := m.resultOf(ctx, cur)
	if err != nil {
		return &domain.Error{Kind: domain.KindRecovery, Stage: cur.State, Err: err}
	}
	_, err = m.apply(ctx, cur.Generation, domain.ResultRestored{Result: res})
	return err
}

// resultOf reads the published metadata once a CID exists; only an
// unpublished submission asks the analysis service again.
func (m *Machine) resultOf(ctx context.Context, cur domain.Submission) (analysis.Result, error) {
	if cur.MetadataCID == "" {
		return m.fetchResult(ctx, cur.AnalysisJobID)
	}
	if m.Metadata == nil {
		return analysis.Result{}, fmt.Errorf("no metadata reader to restore %s", cur.MetadataCID)
	}
	doc, err := m.Metadata.Dereference(ctx, cur.MetadataCID)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("dereference %s: %w", cur.MetadataCID, err)
	}
	return doc.Analysis, nil
}

// fetchResult asks once. A job that is no longer ready yields the same
// fallback the poller would have produced.
func (m *Machine) fetchResult(ctx context.Context, jobID string) (analysis.Result, error) {
	rep, err := m.Analysis.FetchResult(ctx, jobID)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("fetch result of job %s: %w", jobID, err)
	}
	switch {
	case rep.Status == analysis.StatusReady && rep.Result != nil:
		return *rep.Result, nil
	case rep.Status == analysis.StatusFailed:
		return analysis.Fallback(analysis.FallbackAnalysisFailed), nil
	default:
		return analysis.Fallback(analysis.FallbackPollExhausted), nil
	}
}

//
// ==== state plumbing ====
//

// apply runs ev through Transition against the live submission. gen guards
// against responses that belong to an older lifetime ("" skips the check).
// The new state is kept in memory even when persisting fails, but observers
// are only told about persisted states.
func (m *Machine) apply(ctx context.Context, gen string, ev domain.Event) (domain.Submission, error) {
	m.mu.Lock()
	cur := m.currentLocked()
	if gen != "" && cur.Generation != gen {
		m.mu.Unlock()
		m.logger().Debug("discarding stale event", zap.String("event", ev.Name()), zap.String("generation", gen))
		return cur, errStale
	}
	next, err := domain.Transition(cur, ev)
	if err != nil {
		m.mu.Unlock()
		return cur, err
	}
	m.current = next
	perr := m.persist(ctx, next)
	obs := m.observerList()
	m.mu.Unlock()

	if perr != nil {
		m.logger().Error("persist submission", zap.String("event", ev.Name()), zap.Error(perr))
		return next, perr
	}
	if next.State != cur.State {
		observability.RecordTransition(string(next.State))
	}
	notify(obs, next.Update())
	return next, nil
}

// persist writes through even when ctx is already cancelled.
func (m *Machine) persist(ctx context.Context, s domain.Submission) error {
	ctx = context.WithoutCancel(ctx)
	if s.State == domain.StateIdle {
		return m.Session.Clear(ctx)
	}
	return m.Session.Save(ctx, domain.SnapshotOf(s))
}

// setIdle replaces the live submission with an idle one carrying desc.
func (m *Machine) setIdle(desc *domain.ErrorDescriptor) {
	m.mu.Lock()
	m.current = domain.Idle()
	m.current.LastError = desc
	u := m.current.Update()
	obs := m.observerList()
	m.mu.Unlock()
	notify(obs, u)
}

// restore installs a recovered submission and persists it.
func (m *Machine) restore(ctx context.Context, s domain.Submission) error {
	m.mu.Lock()
	m.current = s
	err := m.persist(ctx, s)
	obs := m.observerList()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	notify(obs, s.Update())
	return nil
}

func (m *Machine) currentLocked() domain.Submission {
	if m.current.State == "" {
		m.current = domain.Idle()
	}
	return m.current
}

func (m *Machine) observerList() []domain.Observer {
	out := make([]domain.Observer, 0, len(m.observers))
	for _, e := range m.observers {
		out = append(out, e.o)
	}
	return out
}

func notify(obs []domain.Observer, u domain.Update) {
	for _, o := range obs {
		o.OnUpdate(u)
	}
}

func (m *Machine) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Machine) release() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Machine) logger() *zap.Logger { return logging.OrNop(m.Log).Named("machine") }

func (m *Machine) clock() clock.Clock {
	if m.Clock == nil {
		return clock.New()
	}
	return m.Clock
}
