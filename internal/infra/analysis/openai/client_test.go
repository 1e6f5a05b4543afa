package openai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	request openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.request = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: f.reply}},
	}}, nil
}

const csvSample = "name,age,region\nann,31,north\nbob,,south\n"

func upload() analysis.Upload {
	return analysis.Upload{Name: "poll.csv", MimeType: "text/csv", Size: int64(len(csvSample)), Body: strings.NewReader(csvSample)}
}

func TestAnalyzerReady(t *testing.T) {
	api := &fakeCompleter{reply: `{"quality":{"overall":87,"completeness":80,"consistency":90,"accuracy":88,"validity":91},
		"anomalies":{"total":1,"warning":1,"findings":[{"column":"age","type":"missing","severity":"warning","message":"empty age"}]},
		"bias":{"overall":70,"scores":[{"name":"region","score":70,"status":"warning"}]},
		"insights":[{"type":"summary","title":"Small sample","description":"two rows"}]}`}
	a := newAnalyzer(api, "gpt-4o-mini", nil)

	id, err := a.Submit(context.Background(), upload(), true)
	require.NoError(t, err)
	a.Wait()

	rep, err := a.FetchResult(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusReady, rep.Status)
	require.NotNil(t, rep.Result)
	assert.Equal(t, 87.0, rep.Result.Quality.Overall)
	assert.Equal(t, Source, rep.Result.Source)
	assert.Equal(t, analysis.DatasetStats{Rows: 2, Columns: 3}, rep.Result.Dataset, "stats come from the local profile")

	st, err := a.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusReady, st.Status)
	assert.Nil(t, st.Result)

	assert.Equal(t, maxTokens, api.request.MaxTokens)
	assert.Contains(t, api.request.Messages[1].Content, "Columns: name, age, region")
}

func TestAnalyzerReasoningModelUsesCompletionTokens(t *testing.T) {
	api := &fakeCompleter{reply: `{"quality":{"overall":50}}`}
	a := newAnalyzer(api, "o3-mini", nil)
	_, err := a.Submit(context.Background(), upload(), false)
	require.NoError(t, err)
	a.Wait()

	assert.Equal(t, maxTokens, api.request.MaxCompletionTokens)
	assert.Zero(t, api.request.MaxTokens)
}

func TestAnalyzerFailures(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeCompleter
	}{
		{"api error", &fakeCompleter{err: errors.New("rate limited")}},
		{"unknown document", &fakeCompleter{reply: `{"hello":"world"}`}},
		{"not json", &fakeCompleter{reply: "sorry"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAnalyzer(tt.api, "", nil)
			id, err := a.Submit(context.Background(), upload(), false)
			require.NoError(t, err)
			a.Wait()

			rep, err := a.FetchResult(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, analysis.StatusFailed, rep.Status)
			assert.Nil(t, rep.Result)
		})
	}
}

func TestAnalyzerEvictsOldFinishedJobs(t *testing.T) {
	a := newAnalyzer(&fakeCompleter{reply: `{"quality":{"overall":50}}`}, "", nil)
	a.finished, _ = lru.New[string, *job](2)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := a.Submit(context.Background(), upload(), false)
		require.NoError(t, err)
		a.Wait()
		ids = append(ids, id)
	}

	assert.Empty(t, a.jobs, "finished jobs leave the running set")
	_, err := a.FetchResult(context.Background(), ids[0])
	assert.ErrorIs(t, err, analysis.ErrUnknownJob)
	for _, id := range ids[1:] {
		rep, err := a.FetchResult(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, analysis.StatusReady, rep.Status)
	}
}

func TestAnalyzerUnknownJob(t *testing.T) {
	a := newAnalyzer(&fakeCompleter{}, "", nil)
	_, err := a.FetchResult(context.Background(), "nope")
	assert.ErrorIs(t, err, analysis.ErrUnknownJob)
	_, err = a.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, analysis.ErrUnknownJob)
}

func TestProfileSample(t *testing.T) {
	p := profileSample("application/json", []byte(`[{"b":1,"a":null},{"a":"x","b":2}]`), false)
	assert.Equal(t, 2, p.Rows)
	assert.Equal(t, []string{"a", "b"}, p.Header)
	assert.InDelta(t, 0.25, p.EmptyRatio, 1e-9)

	p = profileSample("text/csv", []byte("a,b\n1,2\n3,\"unterminated"), true)
	assert.Equal(t, 2, p.Columns)
	assert.True(t, p.Truncated)
}
