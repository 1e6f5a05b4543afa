package submission

import (
	"context"
	"time"

	"github.com/raulk/clock"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/logging"
	"github.com/bryanwahyu/filescope/internal/observability"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollAttempts = 12
)

// ProgressFunc receives the status of each non-final poll and a percentage in [0,100].
type ProgressFunc func(status analysis.Status, percent float64)

// Poller waits for an analysis job with a fixed interval and a bounded number
// of attempts. It never fails the pipeline: exhaustion and remote failure both
// yield a synthetic fallback result.
type Poller struct {
	Service     analysis.Service
	Clock       clock.Clock
	Interval    time.Duration
	MaxAttempts int
	Log         *zap.Logger
}

// PollUntilComplete returns the normalized result, or the fallback. The only
// error it returns is the context's.
func (p *Poller) PollUntilComplete(ctx context.Context, jobID string, onProgress ProgressFunc) (analysis.Result, error) {
	interval, attempts := p.Interval, p.MaxAttempts
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := logging.OrNop(p.Log).With(zap.String("job_id", jobID))

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return analysis.Result{}, err
		}

		rep, err := p.Service.FetchResult(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return analysis.Result{}, ctx.Err()
			}
			terr := &domain.Error{Kind: domain.KindTransientPoll, Stage: domain.StateAnalyzing, Err: err}
			log.Warn("poll attempt failed", zap.Int("attempt", attempt), zap.Error(terr))
			observability.RecordPollAttempt("error")

		case rep.Status == analysis.StatusReady && rep.Result != nil:
			observability.RecordPollAttempt("ready")
			log.Info("analysis ready", zap.Int("attempt", attempt), zap.String("source", rep.Result.Source))
			return *rep.Result, nil

		case rep.Status == analysis.StatusFailed:
			observability.RecordPollAttempt("failed")
			observability.RecordFallback(analysis.FallbackAnalysisFailed)
			log.Warn("analysis failed remotely, using fallback result", zap.Int("attempt", attempt))
			return analysis.Fallback(analysis.FallbackAnalysisFailed), nil

		default:
			observability.RecordPollAttempt(string(rep.Status))
			if onProgress != nil {
				onProgress(rep.Status, percentFor(attempt, attempts, rep.Progress))
			}
		}

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return analysis.Result{}, ctx.Err()
		case <-clk.After(interval):
		}
	}

	observability.RecordFallback(analysis.FallbackPollExhausted)
	log.Warn("analysis polling exhausted, using fallback result", zap.Int("attempts", attempts))
	return analysis.Fallback(analysis.FallbackPollExhausted), nil
}

// percentFor interpolates over the attempt budget; a higher service-reported value wins.
func percentFor(attempt, attempts int, reported float64) float64 {
	pct := float64(attempt) * 100 / float64(attempts)
	if reported > pct {
		pct = reported
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}
