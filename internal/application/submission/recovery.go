package submission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
)

// recoverSession rebuilds the live submission from the session. The bool
// reports whether the pipeline should be driven afterwards. Adapter failures
// are surfaced to observers as a recovery error and the snapshot is kept;
// only context errors are returned.
func (m *Machine) recoverSession(ctx context.Context) (*domain.Handoff, bool, error) {
	snap, err := m.Session.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRecoveryCorruption) {
			return nil, false, m.discard(ctx, "", err)
		}
		return nil, false, m.surface(ctx, "", err)
	}
	if snap == nil {
		return nil, false, nil
	}

	sub, err := snap.Restore()
	if err != nil {
		return nil, false, m.discard(ctx, snap.State, err)
	}
	log := m.logger().With(zap.String("submission_id", sub.ID), zap.String("state", string(sub.State)))
	log.Info("recovering submission")

	switch sub.State {
	case domain.StateConfirmed:
		return m.recoverConfirmed(ctx)

	case domain.StateAnalyzing:
		rep, err := m.Analysis.Status(ctx, sub.AnalysisJobID)
		if err != nil {
			return nil, false, m.surface(ctx, sub.State, err)
		}
		switch rep.Status {
		case analysis.StatusReady:
			res, err := m.fetchResult(ctx, sub.AnalysisJobID)
			if err != nil {
				return nil, false, m.surface(ctx, sub.State, err)
			}
			if err := m.restore(ctx, sub); err != nil {
				return nil, false, m.surface(ctx, sub.State, err)
			}
			if _, err := m.apply(ctx, sub.Generation, domain.AnalysisCompleted{Result: res}); err != nil {
				return nil, false, err
			}
		case analysis.StatusFailed:
			if err := m.restore(ctx, sub); err != nil {
				return nil, false, m.surface(ctx, sub.State, err)
			}
			if _, err := m.apply(ctx, sub.Generation, domain.AnalysisFailed{
				Err: fmt.Errorf("analysis job %s failed", sub.AnalysisJobID),
			}); err != nil {
				return nil, false, err
			}
			if err := m.Session.Clear(ctx); err != nil {
				log.Warn("clear snapshot of failed analysis", zap.Error(err))
			}
			return nil, false, nil
		default:
			if err := m.restore(ctx, sub); err != nil {
				return nil, false, m.surface(ctx, sub.State, err)
			}
		}

	case domain.StatePublishing, domain.StateRegistering:
		res, err := m.resultOf(ctx, sub)
		if err != nil {
			return nil, false, m.surface(ctx, sub.State, err)
		}
		sub.AnalysisResult = &res
		if err := m.restore(ctx, sub); err != nil {
			return nil, false, m.surface(ctx, sub.State, err)
		}

	case domain.StateFailed:
		// waits for an explicit Retry or Reset
		if err := m.restore(ctx, sub); err != nil {
			return nil, false, m.surface(ctx, sub.State, err)
		}
		return nil, false, nil
	}
	return nil, true, nil
}

// recoverConfirmed hands the confirmed result over and clears the session.
func (m *Machine) recoverConfirmed(ctx context.Context) (*domain.Handoff, bool, error) {
	h, err := m.Session.LoadHandoff(ctx)
	if err != nil && !errors.Is(err, domain.ErrRecoveryCorruption) {
		return nil, false, m.surface(ctx, domain.StateConfirmed, err)
	}
	if err != nil {
		m.logger().Warn("dropping unreadable handoff", zap.Error(err))
		h = nil
	}
	if err := m.Session.ClearHandoff(ctx); err != nil {
		return nil, false, m.surface(ctx, domain.StateConfirmed, err)
	}
	if err := m.Session.Clear(ctx); err != nil {
		return nil, false, m.surface(ctx, domain.StateConfirmed, err)
	}
	m.setIdle(nil)
	return h, false, nil
}

// discard drops a snapshot that cannot be resumed.
func (m *Machine) discard(ctx context.Context, stage domain.State, cause error) error {
	m.logger().Warn("discarding unrecoverable snapshot", zap.Error(cause))
	if err := m.Session.Clear(ctx); err != nil {
		m.logger().Error("clear snapshot", zap.Error(err))
	}
	m.setIdle(domain.Describe(domain.KindRecoveryCorrupted, stage, cause))
	return nil
}

// surface reports a recovery failure without raising it. The snapshot stays
// so a later Resume can try again.
func (m *Machine) surface(ctx context.Context, stage domain.State, cause error) error {
	if err := ctx.Err(); err != nil {
		m.setIdle(nil)
		return err
	}
	m.logger().Warn("recovery failed, snapshot kept", zap.String("stage", string(stage)), zap.Error(cause))
	m.setIdle(domain.Describe(domain.KindRecovery, stage, cause))
	return nil
}
