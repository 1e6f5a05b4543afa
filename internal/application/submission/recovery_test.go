package submission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/infra/kv"
)

func TestResumeMidAnalysisDoesNotResubmit(t *testing.T) {
	store := kv.NewMemory()

	// first process dies while polling
	h1 := newHarness(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	h1.svc.steps = []fetchStep{processing()}
	h1.svc.onFetch = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	err := h1.m.Submit(ctx, pollCSV, domain.VisibilityPublic)
	require.ErrorIs(t, err, context.Canceled)

	snap := h1.snapshot(t)
	require.NotNil(t, snap)
	assert.Equal(t, domain.StateAnalyzing, snap.State)
	assert.Equal(t, "42", snap.AnalysisJobID)

	// second process: the job has completed meanwhile
	h2 := newHarness(t, store)
	h2.svc.status = analysis.Report{Status: analysis.StatusReady}
	h2.svc.steps = []fetchStep{ready(87)}

	handoff, err := h2.m.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, handoff)

	submits, _ := h2.svc.counts()
	assert.Equal(t, 0, submits)
	cur := h2.m.Current()
	assert.Equal(t, domain.StateConfirmed, cur.State)
	assert.Equal(t, "42", cur.AnalysisJobID)
	assert.Equal(t, 87.0, cur.AnalysisResult.Quality.Overall)
	assert.Equal(t, domain.StatePublishing, h2.rec.states()[1], "completed job advances straight to publishing")
}

func TestResumeStillProcessingContinuesPolling(t *testing.T) {
	store := kv.NewMemory()
	h1 := newHarness(t, store)
	require.NoError(t, h1.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g",
		State: domain.StateAnalyzing, AnalysisJobID: "42", Progress: 30,
		FileName: pollCSV.Name, FileSize: pollCSV.Size, FileMimeType: pollCSV.MimeType, FileRef: pollCSV.Ref,
		Visibility: domain.VisibilityPublic,
	}))

	h1.svc.status = analysis.Report{Status: analysis.StatusProcessing}
	h1.svc.steps = []fetchStep{processing(), ready(64)}
	_, err := h1.m.Resume(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StateConfirmed, h1.m.Current().State)
	assert.Equal(t, 64.0, h1.m.Current().AnalysisResult.Quality.Overall)
	assertMonotonic(t, h1.rec.progress())
	assert.Equal(t, 30.0, h1.rec.progress()[0])
}

func TestResumeNothingPersisted(t *testing.T) {
	h := newHarness(t, nil)
	handoff, err := h.m.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, handoff)
	assert.Equal(t, domain.StateIdle, h.m.Current().State)
	assert.Empty(t, h.rec.updates)
}

func TestResumeConfirmedConsumesHandoff(t *testing.T) {
	store := kv.NewMemory()
	h1 := newHarness(t, store)
	h1.svc.steps = []fetchStep{ready(87)}
	require.NoError(t, h1.m.Submit(context.Background(), pollCSV, domain.VisibilityPublic))

	h2 := newHarness(t, store)
	handoff, err := h2.m.Resume(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handoff)
	assert.Equal(t, 87.0, handoff.Result.Quality.Overall)
	assert.Equal(t, "0xdead", handoff.TxHandle)

	assert.Equal(t, domain.StateIdle, h2.m.Current().State)
	assert.Nil(t, h2.snapshot(t))
	left, err := h2.session.LoadHandoff(context.Background())
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestResumeConfirmedWithoutHandoff(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g", State: domain.StateConfirmed,
	}))
	handoff, err := h.m.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, handoff)
	assert.Nil(t, h.snapshot(t))
}

func TestResumeCorruptSnapshotIsCleared(t *testing.T) {
	cases := map[string]func(h *harness){
		"undecodable": func(h *harness) {
			require.NoError(t, h.kv.Set(context.Background(), h.session.SnapshotKey(), []byte("{not json")))
		},
		"submitted without job id": func(h *harness) {
			require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
				Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g", State: domain.StateSubmitted,
			}))
		},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			seed(h)

			handoff, err := h.m.Resume(context.Background())
			require.NoError(t, err)
			assert.Nil(t, handoff)

			cur := h.m.Current()
			assert.Equal(t, domain.StateIdle, cur.State)
			require.NotNil(t, cur.LastError)
			assert.Equal(t, domain.KindRecoveryCorrupted, cur.LastError.Kind)
			assert.Nil(t, h.snapshot(t))
			submits, _ := h.svc.counts()
			assert.Equal(t, 0, submits)
		})
	}
}

func TestResumeAdapterErrorKeepsSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g",
		State: domain.StateAnalyzing, AnalysisJobID: "42",
		FileName: pollCSV.Name, FileSize: pollCSV.Size, FileMimeType: pollCSV.MimeType, FileRef: pollCSV.Ref,
	}))
	h.svc.statusErr = errors.New("connection refused")

	_, err := h.m.Resume(context.Background())
	require.NoError(t, err, "recovery errors are surfaced, not raised")
	cur := h.m.Current()
	assert.Equal(t, domain.StateIdle, cur.State)
	require.NotNil(t, cur.LastError)
	assert.Equal(t, domain.KindRecovery, cur.LastError.Kind)
	assert.Equal(t, domain.KindRecovery, h.rec.last().LastError.Kind)
	require.NotNil(t, h.snapshot(t), "snapshot kept for a later attempt")

	// service is back
	h.svc.statusErr = nil
	h.svc.status = analysis.Report{Status: analysis.StatusReady}
	h.svc.steps = []fetchStep{ready(87)}
	_, err = h.m.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, h.m.Current().State)
}

func TestResumeRemoteFailureFailsAndClears(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g",
		State: domain.StateAnalyzing, AnalysisJobID: "42",
		FileName: pollCSV.Name, FileSize: pollCSV.Size, FileMimeType: pollCSV.MimeType, FileRef: pollCSV.Ref,
	}))
	h.svc.status = analysis.Report{Status: analysis.StatusFailed}

	_, err := h.m.Resume(context.Background())
	require.NoError(t, err)
	cur := h.m.Current()
	assert.Equal(t, domain.StateFailed, cur.State)
	assert.Equal(t, domain.KindAnalysisSubmit, cur.LastError.Kind)
	assert.Nil(t, h.snapshot(t))

	require.NoError(t, h.m.Reset(context.Background()))
	assert.Equal(t, domain.StateIdle, h.m.Current().State)
}

func TestResumePublishingRefetchesResultOnce(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g",
		State: domain.StatePublishing, AnalysisJobID: "42", Progress: 85,
		FileName: pollCSV.Name, FileSize: pollCSV.Size, FileMimeType: pollCSV.MimeType, FileRef: pollCSV.Ref,
	}))
	h.svc.steps = []fetchStep{ready(91)}

	_, err := h.m.Resume(context.Background())
	require.NoError(t, err)
	cur := h.m.Current()
	assert.Equal(t, domain.StateConfirmed, cur.State)
	assert.Equal(t, 91.0, cur.AnalysisResult.Quality.Overall)
	submits, fetches := h.svc.counts()
	assert.Equal(t, 0, submits)
	assert.Equal(t, 1, fetches)
}

func TestResumeRegisteringKeepsPublishedResult(t *testing.T) {
	store := kv.NewMemory()

	// polling exhausts, the fallback is published, then the RPC drops
	h1 := newHarness(t, store)
	h1.svc.steps = []fetchStep{processing()}
	h1.ledger.awaitErrs = []error{errors.New("rpc timeout")}
	err := h1.m.Submit(context.Background(), pollCSV, domain.VisibilityPublic)
	require.Error(t, err)
	published := h1.m.Current()
	require.Equal(t, domain.StateRegistering, published.State)
	require.True(t, published.AnalysisResult.Synthetic)

	// the job finished for real in the meantime
	h2 := newHarness(t, store)
	h2.svc.steps = []fetchStep{ready(60)}
	h2.m.Metadata, err = NewReader(h1.store, 0)
	require.NoError(t, err)

	_, err = h2.m.Resume(context.Background())
	require.NoError(t, err)
	cur := h2.m.Current()
	require.Equal(t, domain.StateConfirmed, cur.State)
	assert.Equal(t, published.MetadataCID, cur.MetadataCID)
	assert.Equal(t, published.AnalysisResult.Quality.Overall, cur.AnalysisResult.Quality.Overall)
	assert.True(t, cur.AnalysisResult.Synthetic)

	handoff, err := h2.session.LoadHandoff(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handoff)
	assert.Equal(t, published.AnalysisResult.Quality.Overall, handoff.Result.Quality.Overall)
	assert.True(t, handoff.Result.Synthetic)

	require.Len(t, h2.records.saved, 1)
	assert.Equal(t, published.AnalysisResult.Quality.Overall, h2.records.saved[0].QualityScore)
	assert.True(t, h2.records.saved[0].Synthetic)

	_, fetches := h2.svc.counts()
	assert.Equal(t, 0, fetches, "a published result is never fetched again")
}

func TestResumeRegisteringWithUnreadableMetadataSurfaces(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g",
		State: domain.StateRegistering, AnalysisJobID: "42", Progress: 90,
		MetadataCID: "bafkreimissing", LedgerTxHandle: "0xdead",
		FileName: pollCSV.Name, FileSize: pollCSV.Size, FileMimeType: pollCSV.MimeType, FileRef: pollCSV.Ref,
		Visibility: domain.VisibilityPublic,
	}))

	_, err := h.m.Resume(context.Background())
	require.NoError(t, err)
	cur := h.m.Current()
	assert.Equal(t, domain.StateIdle, cur.State)
	require.NotNil(t, cur.LastError)
	assert.Equal(t, domain.KindRecovery, cur.LastError.Kind)
	assert.NotNil(t, h.snapshot(t))
	assert.Empty(t, h.ledger.awaits)
}

func TestResumeFailedWaitsForRetry(t *testing.T) {
	store := kv.NewMemory()
	h1 := newHarness(t, store)
	h1.svc.steps = []fetchStep{ready(87)}
	h1.store.fail = map[int]error{0: errors.New("gateway down")}
	require.NoError(t, h1.m.Submit(context.Background(), pollCSV, domain.VisibilityPublic))
	require.Equal(t, domain.StateFailed, h1.m.Current().State)

	h2 := newHarness(t, store)
	h2.svc.steps = []fetchStep{ready(87)}
	_, err := h2.m.Resume(context.Background())
	require.NoError(t, err)
	cur := h2.m.Current()
	assert.Equal(t, domain.StateFailed, cur.State)
	assert.Nil(t, cur.AnalysisResult)

	require.NoError(t, h2.m.Retry(context.Background()))
	cur = h2.m.Current()
	assert.Equal(t, domain.StateConfirmed, cur.State)
	assert.Equal(t, 87.0, cur.AnalysisResult.Quality.Overall)
	submits, fetches := h2.svc.counts()
	assert.Equal(t, 0, submits)
	assert.Equal(t, 1, fetches)
}

func TestResetFromIdleDropsLeftoverSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Save(context.Background(), domain.Snapshot{
		Version: domain.SnapshotVersion, SubmissionID: "s", Generation: "g",
		State: domain.StateAnalyzing, AnalysisJobID: "42",
	}))
	h.svc.statusErr = errors.New("down")
	_, err := h.m.Resume(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h.snapshot(t))

	require.NoError(t, h.m.Reset(context.Background()))
	assert.Nil(t, h.snapshot(t))
	assert.Nil(t, h.m.Current().LastError)
}
