package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/raulk/clock"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/content"
	"github.com/bryanwahyu/filescope/internal/domain/ledger"
	"github.com/bryanwahyu/filescope/internal/domain/records"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/infra/kv"
)

// steppingClock answers every After immediately, advancing the mock by the
// requested duration, so elapsed mock time equals the sum of waits.
type steppingClock struct {
	*clock.Mock
	mu    sync.Mutex
	waits int
}

func newSteppingClock() *steppingClock {
	m := clock.NewMock()
	m.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return &steppingClock{Mock: m}
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits++
	c.mu.Unlock()
	c.Mock.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now()
	return ch
}

func (c *steppingClock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

type fetchStep struct {
	rep analysis.Report
	err error
}

// fakeAnalysis replays scripted FetchResult steps; the last step repeats.
type fakeAnalysis struct {
	mu         sync.Mutex
	jobID      string
	submitErr  error
	submits    int
	fetches    int
	statuses   int
	steps      []fetchStep
	status     analysis.Report
	statusErr  error
	lastPublic bool
	onFetch    func(n int)
}

func (f *fakeAnalysis) Submit(ctx context.Context, u analysis.Upload, isPublic bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastPublic = isPublic
	if _, err := io.Copy(io.Discard, u.Body); err != nil {
		return "", err
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.jobID, nil
}

func (f *fakeAnalysis) FetchResult(ctx context.Context, jobID string) (analysis.Report, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	step := fetchStep{rep: analysis.Report{Status: analysis.StatusPending}}
	if len(f.steps) > 0 {
		i := n - 1
		if i >= len(f.steps) {
			i = len(f.steps) - 1
		}
		step = f.steps[i]
	}
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return step.rep, step.err
}

func (f *fakeAnalysis) Status(ctx context.Context, jobID string) (analysis.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	return f.status, f.statusErr
}

func (f *fakeAnalysis) counts() (submits, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.fetches
}

func ready(score float64) fetchStep {
	return fetchStep{rep: analysis.Report{
		Status: analysis.StatusReady,
		Result: &analysis.Result{Quality: analysis.Quality{Overall: score}, Source: analysis.ShapeFlat},
	}}
}

func processing() fetchStep {
	return fetchStep{rep: analysis.Report{Status: analysis.StatusProcessing}}
}

type memFiles map[string][]byte

func (m memFiles) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	b, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("no such file %s", ref)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// fakeStore hands out CIDs from ids in order, or computes them when ids runs out.
type fakeStore struct {
	mu    sync.Mutex
	ids   []content.ID
	fail  map[int]error
	puts  []string
	blobs map[content.ID][]byte
}

func (s *fakeStore) Put(ctx context.Context, name, contentType string, r io.Reader) (content.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.puts)
	s.puts = append(s.puts, name)
	if err := s.fail[n]; err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	var id content.ID
	if len(s.ids) > 0 {
		id, s.ids = s.ids[0], s.ids[1:]
	} else if id, err = content.Compute(data); err != nil {
		return "", err
	}
	if s.blobs == nil {
		s.blobs = map[content.ID][]byte{}
	}
	s.blobs[id] = data
	return id, nil
}

func (s *fakeStore) Get(ctx context.Context, id content.ID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, content.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeLedger struct {
	mu          sync.Mutex
	handle      string
	registerErr error
	awaitErrs   []error
	registers   int
	awaits      []string
	lastArgs    [3]any
}

func (l *fakeLedger) Register(ctx context.Context, datasetCID, analysisCID string, isPublic bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registers++
	l.lastArgs = [3]any{datasetCID, analysisCID, isPublic}
	if l.registerErr != nil {
		return "", l.registerErr
	}
	return l.handle, nil
}

func (l *fakeLedger) AwaitConfirmation(ctx context.Context, txHandle string) (ledger.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.awaits = append(l.awaits, txHandle)
	if len(l.awaitErrs) > 0 {
		err := l.awaitErrs[0]
		l.awaitErrs = l.awaitErrs[1:]
		if err != nil {
			return ledger.Confirmation{}, err
		}
	}
	return ledger.Confirmation{TxHandle: txHandle, BlockNumber: 7, ExplorerURL: "https://explorer/tx/" + txHandle}, nil
}

type memRecords struct {
	mu    sync.Mutex
	saved []*records.Publication
}

func (r *memRecords) Save(ctx context.Context, p *records.Publication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, p)
	return nil
}

func (r *memRecords) Get(ctx context.Context, cid string) (*records.Publication, error) {
	return nil, records.ErrNotFound
}

func (r *memRecords) Latest(ctx context.Context, limit int) ([]*records.Publication, error) {
	return nil, nil
}

func (r *memRecords) Browse(ctx context.Context, q records.BrowseQuery) ([]*records.Publication, int, error) {
	return nil, 0, nil
}

// failingKV fails writes while broken is set.
type failingKV struct {
	*kv.Store
	mu     sync.Mutex
	broken bool
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

type recorder struct {
	mu      sync.Mutex
	updates []domain.Update
}

func (r *recorder) OnUpdate(u domain.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) states() []domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.State, 0, len(r.updates))
	for _, u := range r.updates {
		if len(out) == 0 || out[len(out)-1] != u.State {
			out = append(out, u.State)
		}
	}
	return out
}

func (r *recorder) progress() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Progress)
	}
	return out
}

func (r *recorder) last() domain.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}
