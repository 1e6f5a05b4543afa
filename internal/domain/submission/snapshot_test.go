package submission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore(t *testing.T) {
	base := Snapshot{Version: SnapshotVersion, SubmissionID: "s", Generation: "g", FileName: "poll.csv", FileSize: 3, FileMimeType: "text/csv"}

	with := func(mut func(*Snapshot)) Snapshot {
		sn := base
		mut(&sn)
		return sn
	}

	cases := []struct {
		name      string
		snap      Snapshot
		wantState State
		corrupt   bool
	}{
		{"analyzing", with(func(s *Snapshot) { s.State = StateAnalyzing; s.AnalysisJobID = "42" }), StateAnalyzing, false},
		{"submitted with job id resumes analyzing", with(func(s *Snapshot) { s.State = StateSubmitted; s.AnalysisJobID = "42" }), StateAnalyzing, false},
		{"submitted without job id", with(func(s *Snapshot) { s.State = StateSubmitted }), "", true},
		{"analyzing without job id", with(func(s *Snapshot) { s.State = StateAnalyzing }), "", true},
		{"registering without cid", with(func(s *Snapshot) { s.State = StateRegistering; s.AnalysisJobID = "42" }), "", true},
		{"registering", with(func(s *Snapshot) {
			s.State = StateRegistering
			s.AnalysisJobID = "42"
			s.MetadataCID = "bafy"
			s.LedgerTxHandle = "0x1"
		}), StateRegistering, false},
		{"tx without cid", with(func(s *Snapshot) { s.State = StateConfirmed; s.LedgerTxHandle = "0x1" }), "", true},
		{"failed without error", with(func(s *Snapshot) { s.State = StateFailed }), "", true},
		{"idle is never persisted", with(func(s *Snapshot) { s.State = StateIdle }), "", true},
		{"old version", with(func(s *Snapshot) { s.Version = 0; s.State = StateConfirmed }), "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := tc.snap.Restore()
			if tc.corrupt {
				assert.ErrorIs(t, err, ErrRecoveryCorruption)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantState, s.State)
			assert.Equal(t, "poll.csv", s.File.Name)
		})
	}
}

func TestSnapshotOmitsResult(t *testing.T) {
	s := mustApply(t, submitted(t), JobAccepted{JobID: "42"}, AnalysisCompleted{})
	raw, err := json.Marshal(SnapshotOf(s))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "quality")
	assert.Contains(t, string(raw), `"analysis_job_id":"42"`)
}

func TestErrorMatchesKind(t *testing.T) {
	err := &Error{Kind: KindPublish, Stage: StatePublishing, Err: assert.AnError}
	assert.ErrorIs(t, err, ErrPublish)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, ErrLedger)
	assert.Contains(t, err.Error(), "publishing")
}

func TestParseVisibility(t *testing.T) {
	v, err := ParseVisibility("")
	require.NoError(t, err)
	assert.True(t, v.IsPublic())

	v, err = ParseVisibility("private")
	require.NoError(t, err)
	assert.False(t, v.IsPublic())

	_, err = ParseVisibility("secret")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, MimeCSV, DetectMime("poll.CSV"))
	assert.Equal(t, MimeXLSX, DetectMime("book.xlsx"))
	assert.Equal(t, MimeUnknown, DetectMime("notes.txt"))
}
