package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apprecords "github.com/bryanwahyu/filescope/internal/application/records"
	appsub "github.com/bryanwahyu/filescope/internal/application/submission"
	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/content"
	"github.com/bryanwahyu/filescope/internal/domain/records"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/middleware"
)

// Spool stages uploaded files where the pipeline can re-open them.
type Spool interface {
	Stage(name string, r io.Reader, limit int64) (ref string, size int64, err error)
	Release(ref string) error
}

type Options struct {
	APIKeys        map[string]string
	AllowedOrigins []string
	RateCapacity   int
	RatePerSecond  int
	Checks         map[string]middleware.HealthChecker
}

// Router serves the submission pipeline over HTTP. Pipeline runs started by
// requests continue in the background on ctx passed to NewRouter.
type Router struct {
	machine *appsub.Machine
	records *apprecords.Service
	reader  *appsub.Reader
	spool   Spool
	maxSize int64
	log     *zap.Logger

	ctx context.Context
	wg  sync.WaitGroup

	mux chi.Router
}

func NewRouter(ctx context.Context, machine *appsub.Machine, recs *apprecords.Service, reader *appsub.Reader, spool Spool, opts Options, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	maxSize := machine.MaxFileSize
	if maxSize <= 0 {
		maxSize = domain.DefaultMaxFileSize
	}
	r := &Router{
		machine: machine,
		records: recs,
		reader:  reader,
		spool:   spool,
		maxSize: maxSize,
		log:     log.Named("httpserver"),
		ctx:     ctx,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateCapacity > 0 && opts.RatePerSecond > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateCapacity, opts.RatePerSecond, ctx.Done()))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checks))
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/submissions", r.wrap(r.handleSubmit))
		rt.Post("/submissions/resume", r.wrap(r.handleResume))
		rt.Get("/submissions/current", r.wrap(r.handleCurrent))
		rt.Post("/submissions/current/retry", r.wrap(r.handleRetry))
		rt.Post("/submissions/current/reset", r.wrap(r.handleReset))
		rt.Post("/submissions/current/ack", r.wrap(r.handleAck))

		rt.Get("/analyses/{cid}", r.wrap(r.handleAnalysis))

		rt.Get("/records/latest", r.wrap(r.handleLatest))
		rt.Get("/records/browse", r.wrap(r.handleBrowse))
		rt.Get("/records/{cid}", r.wrap(r.handleRecord))
	})

	r.mux = mux
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) { r.mux.ServeHTTP(w, req) }

// Wait blocks until background pipeline runs return.
func (r *Router) Wait() { r.wg.Wait() }

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks request parsing problems
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var (
			br     badRequest
			tooBig *http.MaxBytesError
		)
		switch {
		case errors.As(err, &br), errors.Is(err, domain.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &tooBig):
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, domain.ErrBusy),
			errors.Is(err, domain.ErrNotRetryable),
			errors.Is(err, domain.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, records.ErrNotFound),
			errors.Is(err, content.ErrNotFound),
			errors.Is(err, domain.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, apprecords.ErrDisabled):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// background runs fn detached from the request.
func (r *Router) background(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("background run stopped", zap.String("op", name), zap.Error(err))
		}
	}()
}

//
// ==== submissions ====
//

// submissionView is the JSON shape of the current submission.
type submissionView struct {
	domain.Update
	File          *domain.FileInfo `json:"file,omitempty"`
	Visibility    string           `json:"visibility,omitempty"`
	AnalysisJobID string           `json:"analysis_job_id,omitempty"`
	MetadataCID   string           `json:"metadata_cid,omitempty"`
	MetadataURI   string           `json:"metadata_uri,omitempty"`
	TxHandle      string           `json:"tx_handle,omitempty"`
	Result        *analysis.Result `json:"result,omitempty"`
}

func viewOf(s domain.Submission) submissionView {
	v := submissionView{
		Update:        s.Update(),
		Visibility:    string(s.Visibility),
		AnalysisJobID: s.AnalysisJobID,
		MetadataCID:   s.MetadataCID.String(),
		TxHandle:      s.LedgerTxHandle,
		Result:        s.AnalysisResult,
	}
	if s.State != domain.StateIdle {
		f := s.File
		f.Ref = ""
		v.File = &f
	}
	if s.MetadataCID != "" {
		v.MetadataURI = s.MetadataCID.URI()
	}
	return v
}

// POST /v1/submissions
// multipart: file, visibility (public|private)
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	if r.machine.Current().State != domain.StateIdle {
		return domain.ErrBusy
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.maxSize+(1<<20))
	mr, err := req.MultipartReader()
	if err != nil {
		return badRequest{"expected multipart/form-data body"}
	}

	var (
		file       domain.FileInfo
		visibility string
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.release(file.Ref)
			return fmt.Errorf("read multipart: %w", err)
		}
		switch part.FormName() {
		case "file":
			if file.Ref != "" {
				part.Close()
				continue
			}
			name := middleware.SanitizeFileName(part.FileName())
			if name == "" {
				part.Close()
				return badRequest{"file part needs a file name"}
			}
			ref, size, err := r.spool.Stage(name, part, r.maxSize)
			part.Close()
			if err != nil {
				return err
			}
			file = domain.FileInfo{Name: name, Size: size, MimeType: domain.DetectMime(name), Ref: ref}
		case "visibility":
			b, _ := io.ReadAll(io.LimitReader(part, 64))
			visibility = string(b)
			part.Close()
		default:
			part.Close()
		}
	}
	if file.Ref == "" {
		return badRequest{"missing file part"}
	}

	vis, err := middleware.ValidateVisibility(visibility)
	if err != nil {
		r.release(file.Ref)
		return err
	}
	if err := r.machine.Start(req.Context(), file, vis); err != nil {
		r.release(file.Ref)
		return err
	}
	r.background("run", r.machine.Run)
	return writeJSON(w, http.StatusAccepted, viewOf(r.machine.Current()))
}

// GET /v1/submissions/current
func (r *Router) handleCurrent(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, viewOf(r.machine.Current()))
}

// POST /v1/submissions/resume
func (r *Router) handleResume(w http.ResponseWriter, req *http.Request) error {
	if r.machine.Current().State != domain.StateIdle {
		return domain.ErrBusy
	}
	r.background("resume", func(ctx context.Context) error {
		h, err := r.machine.Resume(ctx)
		if h != nil {
			r.log.Info("handoff consumed on resume",
				zap.String("submission_id", h.SubmissionID),
				zap.String("metadata_cid", h.MetadataCID.String()))
			r.release(h.File.Ref)
		}
		return err
	})
	return writeJSON(w, http.StatusAccepted, map[string]string{"status": "resuming"})
}

// POST /v1/submissions/current/retry
func (r *Router) handleRetry(w http.ResponseWriter, req *http.Request) error {
	if err := r.machine.Rearm(req.Context()); err != nil {
		return err
	}
	r.background("retry", r.machine.Run)
	return writeJSON(w, http.StatusAccepted, viewOf(r.machine.Current()))
}

// POST /v1/submissions/current/reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	ref := r.machine.Current().File.Ref
	if err := r.machine.Reset(req.Context()); err != nil {
		return err
	}
	r.release(ref)
	return writeJSON(w, http.StatusOK, viewOf(r.machine.Current()))
}

// POST /v1/submissions/current/ack
func (r *Router) handleAck(w http.ResponseWriter, req *http.Request) error {
	h, err := r.machine.Acknowledge(req.Context())
	if err != nil {
		return err
	}
	if h == nil {
		return domain.ErrNotFound
	}
	r.release(h.File.Ref)
	h.File.Ref = ""
	return writeJSON(w, http.StatusOK, h)
}

func (r *Router) release(ref string) {
	if ref == "" {
		return
	}
	if err := r.spool.Release(ref); err != nil {
		r.log.Warn("failed to release spooled file", zap.String("ref", ref), zap.Error(err))
	}
}

//
// ==== published analyses & records ====
//

// GET /v1/analyses/{cid}
func (r *Router) handleAnalysis(w http.ResponseWriter, req *http.Request) error {
	id, err := middleware.ValidateCID(chi.URLParam(req, "cid"))
	if err != nil {
		return badRequest{err.Error()}
	}
	doc, err := r.reader.Dereference(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, doc)
}

// GET /v1/records/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.records.Latest(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*records.Publication{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/records/browse?quality_min=&bias_max=&search=&page=&page_size=
func (r *Router) handleBrowse(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	qmin, err := middleware.ParseQualityMin(q.Get("quality_min"))
	if err != nil {
		return badRequest{err.Error()}
	}
	bmax, err := middleware.ParseBiasMax(q.Get("bias_max"))
	if err != nil {
		return badRequest{err.Error()}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	res, err := r.records.Browse(req.Context(), records.BrowseQuery{
		QualityMin: qmin,
		BiasMax:    bmax,
		Search:     middleware.SanitizeString(q.Get("search")),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /v1/records/{cid}
func (r *Router) handleRecord(w http.ResponseWriter, req *http.Request) error {
	id, err := middleware.ValidateCID(chi.URLParam(req, "cid"))
	if err != nil {
		return badRequest{err.Error()}
	}
	p, err := r.records.Get(req.Context(), id.String())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, p)
}
