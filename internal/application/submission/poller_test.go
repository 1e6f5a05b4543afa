package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
)

func TestPollerReturnsReadyResult(t *testing.T) {
	svc := &fakeAnalysis{steps: []fetchStep{processing(), processing(), ready(87)}}
	clk := newSteppingClock()
	p := &Poller{Service: svc, Clock: clk}

	var seen []float64
	res, err := p.PollUntilComplete(context.Background(), "42", func(_ analysis.Status, pct float64) {
		seen = append(seen, pct)
	})
	require.NoError(t, err)
	assert.Equal(t, 87.0, res.Quality.Overall)
	assert.False(t, res.Synthetic)
	assert.Equal(t, 2, clk.Waits())
	require.Len(t, seen, 2)
	assert.Less(t, seen[0], seen[1])
}

func TestPollerExhaustionIsBounded(t *testing.T) {
	svc := &fakeAnalysis{steps: []fetchStep{processing()}}
	clk := newSteppingClock()
	start := clk.Now()
	p := &Poller{Service: svc, Clock: clk}

	var last float64
	res, err := p.PollUntilComplete(context.Background(), "42", func(_ analysis.Status, pct float64) { last = pct })
	require.NoError(t, err)

	_, fetches := svc.counts()
	assert.Equal(t, DefaultPollAttempts, fetches)
	assert.LessOrEqual(t, clk.Now().Sub(start), time.Duration(DefaultPollAttempts)*DefaultPollInterval)
	assert.Equal(t, 100.0, last)

	assert.True(t, res.Synthetic)
	assert.Equal(t, float64(analysis.FallbackQualityScore), res.Quality.Overall)
	assert.Equal(t, analysis.FallbackPollExhausted, res.FallbackReason)
}

func TestPollerTransientErrorsCountAgainstBudget(t *testing.T) {
	svc := &fakeAnalysis{steps: []fetchStep{{err: errors.New("502 bad gateway")}}}
	p := &Poller{Service: svc, Clock: newSteppingClock(), MaxAttempts: 3}

	res, err := p.PollUntilComplete(context.Background(), "42", nil)
	require.NoError(t, err, "transient errors never fail the pipeline")
	assert.True(t, res.Synthetic)
	_, fetches := svc.counts()
	assert.Equal(t, 3, fetches)
}

func TestPollerRecoversAfterTransientError(t *testing.T) {
	svc := &fakeAnalysis{steps: []fetchStep{{err: errors.New("timeout")}, ready(70)}}
	p := &Poller{Service: svc, Clock: newSteppingClock()}

	res, err := p.PollUntilComplete(context.Background(), "42", nil)
	require.NoError(t, err)
	assert.Equal(t, 70.0, res.Quality.Overall)
}

func TestPollerRemoteFailureEndsEarly(t *testing.T) {
	svc := &fakeAnalysis{steps: []fetchStep{processing(), {rep: analysis.Report{Status: analysis.StatusFailed}}}}
	p := &Poller{Service: svc, Clock: newSteppingClock()}

	res, err := p.PollUntilComplete(context.Background(), "42", nil)
	require.NoError(t, err)
	assert.True(t, res.Synthetic)
	assert.Equal(t, analysis.FallbackAnalysisFailed, res.FallbackReason)
	_, fetches := svc.counts()
	assert.Equal(t, 2, fetches)
}

func TestPollerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeAnalysis{steps: []fetchStep{processing()}}
	svc.onFetch = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	p := &Poller{Service: svc, Clock: newSteppingClock()}

	_, err := p.PollUntilComplete(ctx, "42", nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, fetches := svc.counts()
	assert.Equal(t, 2, fetches)
}

func TestPercentFor(t *testing.T) {
	assert.InDelta(t, 25.0, percentFor(3, 12, 0), 0.001)
	assert.Equal(t, 60.0, percentFor(3, 12, 60))
	assert.Equal(t, 100.0, percentFor(12, 12, 150))
}
