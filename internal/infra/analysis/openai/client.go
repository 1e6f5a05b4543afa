package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
)

const (
	maxTokens      = 2048
	defaultModel   = "gpt-4o-mini"
	sampleBytes    = 64 << 10
	defaultTimeout = 3 * time.Minute
	finishedJobs   = 256

	// Source marks results scored by this backend.
	Source = "openai"
)

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type job struct {
	status   analysis.Status
	progress float64
	result   *analysis.Result
	err      error
}

// Analyzer runs analysis jobs in-process against a chat completion model.
// Jobs live in memory only, a restart forgets them. Finished jobs are kept
// in an LRU so old ones fall out and report ErrUnknownJob.
type Analyzer struct {
	api     completer
	Model   string
	Timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	jobs     map[string]*job
	finished *lru.Cache[string, *job]
	wg       sync.WaitGroup
}

func NewAnalyzer(apiKey, model string, log *zap.Logger) *Analyzer {
	return newAnalyzer(openai.NewClient(apiKey), model, log)
}

func newAnalyzer(api completer, model string, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	finished, _ := lru.New[string, *job](finishedJobs)
	return &Analyzer{
		api:      api,
		Model:    model,
		Timeout:  defaultTimeout,
		log:      log.Named("analysis.openai"),
		jobs:     map[string]*job{},
		finished: finished,
	}
}

// Submit samples the upload and schedules the model call. The upload body is
// only read before Submit returns.
func (a *Analyzer) Submit(ctx context.Context, u analysis.Upload, isPublic bool) (string, error) {
	buf, err := io.ReadAll(io.LimitReader(u.Body, sampleBytes+1))
	if err != nil {
		return "", fmt.Errorf("read sample of %s: %w", u.Name, err)
	}
	truncated := len(buf) > sampleBytes
	if truncated {
		buf = buf[:sampleBytes]
	}

	id := uuid.NewString()
	a.mu.Lock()
	a.jobs[id] = &job{status: analysis.StatusPending}
	a.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Timeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		a.run(runCtx, id, u, buf, truncated)
	}()

	a.log.Info("analysis job scheduled", zap.String("job_id", id), zap.String("file", u.Name), zap.Bool("truncated", truncated))
	return id, nil
}

func (a *Analyzer) run(ctx context.Context, id string, u analysis.Upload, sample []byte, truncated bool) {
	a.update(id, func(j *job) { j.status, j.progress = analysis.StatusProcessing, 10 })

	p := profileSample(u.MimeType, sample, truncated)
	res, err := a.score(ctx, u, p, string(sample))
	if err != nil {
		a.log.Warn("analysis job failed", zap.String("job_id", id), zap.Error(err))
		a.done(id, func(j *job) { j.status, j.err = analysis.StatusFailed, err })
		return
	}
	if res.Dataset.Rows == 0 && res.Dataset.Columns == 0 {
		res.Dataset = analysis.DatasetStats{Rows: p.Rows, Columns: p.Columns}
	}
	res.Source = Source
	a.done(id, func(j *job) { j.status, j.progress, j.result = analysis.StatusReady, 100, &res })
	a.log.Info("analysis job ready", zap.String("job_id", id), zap.Float64("quality", res.Quality.Overall))
}

func (a *Analyzer) score(ctx context.Context, u analysis.Upload, p profile, sample string) (analysis.Result, error) {
	model := a.Model
	if model == "" {
		model = defaultModel
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(u.Name, u.MimeType, u.Size, p, sample)},
		},
	}
	// reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := a.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return analysis.Result{}, errors.New("chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	return analysis.Normalize([]byte(content))
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func (a *Analyzer) update(id string, fn func(*job)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if j, ok := a.jobs[id]; ok {
		fn(j)
	}
}

// done applies the final update and moves the job out of the running set.
func (a *Analyzer) done(id string, fn func(*job)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.jobs[id]
	if !ok {
		return
	}
	fn(j)
	delete(a.jobs, id)
	a.finished.Add(id, j)
}

func (a *Analyzer) report(id string) (analysis.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.jobs[id]
	if !ok {
		j, ok = a.finished.Get(id)
	}
	if !ok {
		return analysis.Report{}, fmt.Errorf("job %s: %w", id, analysis.ErrUnknownJob)
	}
	rep := analysis.Report{Status: j.status, Progress: j.progress}
	if j.result != nil {
		res := *j.result
		rep.Result = &res
	}
	return rep, nil
}

func (a *Analyzer) FetchResult(ctx context.Context, jobID string) (analysis.Report, error) {
	return a.report(jobID)
}

func (a *Analyzer) Status(ctx context.Context, jobID string) (analysis.Report, error) {
	rep, err := a.report(jobID)
	rep.Result = nil
	return rep, err
}

// Wait blocks until every scheduled job has finished.
func (a *Analyzer) Wait() { a.wg.Wait() }
