package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
)

const maxResponseBytes = 8 << 20

// Client talks to the remote FileScope analysis API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("analysis.httpapi")
	return c
}

// APIError is a non-2xx answer from the analysis API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Submit streams the upload as multipart (file, is_public) to POST /analyze.
func (c *Client) Submit(ctx context.Context, u analysis.Upload, isPublic bool) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, u, isPublic))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var body struct {
		AnalysisID string `json:"analysis_id"`
		ID         string `json:"id"`
		JobID      string `json:"job_id"`
	}
	if err := c.do(req, "analyze", &body); err != nil {
		pr.Close()
		return "", err
	}
	for _, id := range []string{body.AnalysisID, body.JobID, body.ID} {
		if id != "" {
			c.log.Info("analysis submitted", zap.String("job_id", id), zap.String("file", u.Name))
			return id, nil
		}
	}
	return "", fmt.Errorf("analyze: response carried no analysis id")
}

func writeForm(mw *multipart.Writer, u analysis.Upload, isPublic bool) error {
	part, err := mw.CreateFormFile("file", u.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, u.Body); err != nil {
		return fmt.Errorf("stream %s: %w", u.Name, err)
	}
	if err := mw.WriteField("is_public", strconv.FormatBool(isPublic)); err != nil {
		return err
	}
	return mw.Close()
}

// FetchResult calls GET /results/{id}. A body without a status field that
// still normalizes is taken as a ready result.
func (c *Client) FetchResult(ctx context.Context, jobID string) (analysis.Report, error) {
	req, err := c.get(ctx, "/results/"+url.PathEscape(jobID))
	if err != nil {
		return analysis.Report{}, err
	}
	var raw map[string]json.RawMessage
	if err := c.do(req, "results", &raw); err != nil {
		return analysis.Report{}, err
	}

	rep := reportFrom(raw)
	if hasField(raw, "status") && rep.Status != analysis.StatusReady {
		return rep, nil
	}

	doc := resultDocument(raw)
	if doc == nil {
		// completed but the document is not materialized yet
		if rep.Status == analysis.StatusReady {
			rep.Status = analysis.StatusProcessing
		}
		return rep, nil
	}
	res, err := analysis.Normalize(doc)
	if err != nil {
		return analysis.Report{}, fmt.Errorf("results %s: %w", jobID, err)
	}
	rep.Status = analysis.StatusReady
	rep.Result = &res
	rep.Progress = 100
	return rep, nil
}

// Status calls GET /status/{id}.
func (c *Client) Status(ctx context.Context, jobID string) (analysis.Report, error) {
	req, err := c.get(ctx, "/status/"+url.PathEscape(jobID))
	if err != nil {
		return analysis.Report{}, err
	}
	var raw map[string]json.RawMessage
	if err := c.do(req, "status", &raw); err != nil {
		return analysis.Report{}, err
	}
	return reportFrom(raw), nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, analysis.ErrUnknownJob)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func reportFrom(raw map[string]json.RawMessage) analysis.Report {
	var rep analysis.Report
	var status string
	if v, ok := raw["status"]; ok {
		_ = json.Unmarshal(v, &status)
	}
	rep.Status = analysis.ParseStatus(status)
	if v, ok := raw["progress"]; ok {
		var p float64
		if json.Unmarshal(v, &p) == nil {
			rep.Progress = p
		}
	}
	return rep
}

// resultDocument picks the analysis payload out of a results response.
func resultDocument(raw map[string]json.RawMessage) []byte {
	for _, k := range []string{"result", "results", "data"} {
		if v, ok := raw[k]; ok && len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	for _, k := range []string{"quality", "quality_score", "quality_analysis"} {
		if hasField(raw, k) {
			b, _ := json.Marshal(raw)
			return b
		}
	}
	return nil
}

func hasField(raw map[string]json.RawMessage, k string) bool {
	_, ok := raw[k]
	return ok
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil {
		for _, m := range []string{e.Message, e.Error, e.Detail} {
			if m != "" {
				return m
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
