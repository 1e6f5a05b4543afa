package postgres

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/filescope/internal/domain/records"
	"github.com/bryanwahyu/filescope/internal/domain/submission"
)

func TestKVStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewKVStore(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT v FROM filescope_kv WHERE k=$1;`)).
		WithArgs("filescope/session/snapshot").
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow([]byte(`{"v":1}`)))
	v, err := s.Get(ctx, "filescope/session/snapshot")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(v))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT v FROM filescope_kv WHERE k=$1;`)).
		WithArgs("filescope/session/handoff").
		WillReturnRows(sqlmock.NewRows([]string{"v"}))
	_, err = s.Get(ctx, "filescope/session/handoff")
	assert.ErrorIs(t, err, submission.ErrNotFound)

	mock.ExpectExec(`INSERT INTO filescope_kv`).
		WithArgs("filescope/session/snapshot", []byte("x"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Set(ctx, "filescope/session/snapshot", []byte("x")))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM filescope_kv WHERE k=$1;`)).
		WithArgs("filescope/session/snapshot").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Delete(ctx, "filescope/session/snapshot"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

var columns = []string{"metadata_cid", "submission_id", "tx_handle", "block_number", "explorer_url",
	"file_name", "file_size", "mime_type", "visibility", "quality_score", "anomaly_count", "bias_score",
	"synthetic", "confirmed_at"}

func samplePublication() *domain.Publication {
	return &domain.Publication{
		MetadataCID: "bafyabc", SubmissionID: "s-1", TxHandle: "0xdead", BlockNumber: 12,
		FileName: "poll.csv", FileSize: 8, MimeType: "text/csv", Visibility: "public",
		QualityScore: 87, AnomalyCount: 2, BiasScore: 70,
		ConfirmedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func row(p *domain.Publication) []driver.Value {
	return []driver.Value{p.MetadataCID, p.SubmissionID, p.TxHandle, int64(p.BlockNumber), p.ExplorerURL,
		p.FileName, p.FileSize, p.MimeType, p.Visibility, p.QualityScore, int64(p.AnomalyCount), p.BiasScore,
		p.Synthetic, p.ConfirmedAt}
}

func TestPublicationRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewPublicationRepository(db)
	ctx := context.Background()
	p := samplePublication()

	mock.ExpectExec(`INSERT INTO filescope_publications`).
		WithArgs(p.MetadataCID, p.SubmissionID, p.TxHandle, int64(12), "",
			"poll.csv", int64(8), "text/csv", "public", 87.0, int64(2), 70.0, false, p.ConfirmedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, r.Save(ctx, p))

	mock.ExpectQuery(`FROM filescope_publications WHERE metadata_cid=\$1`).
		WithArgs("bafyabc").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row(p)...))
	got, err := r.Get(ctx, "bafyabc")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	mock.ExpectQuery(`FROM filescope_publications WHERE metadata_cid=\$1`).
		WithArgs("bafymissing").
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = r.Get(ctx, "bafymissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectQuery(`ORDER BY confirmed_at DESC`).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row(p)...))
	list, err := r.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM filescope_publications WHERE visibility='public' AND quality_score >= \$1;`).
		WithArgs(80.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	list, total, err := r.Browse(ctx, domain.BrowseQuery{QualityMin: 80, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS filescope_kv`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS filescope_publications`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_publications_confirmed`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_publications_browse`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicationBrowseFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewPublicationRepository(db)
	ctx := context.Background()
	p := samplePublication()
	biasMax := 30.0

	where := `WHERE visibility='public' AND quality_score >= \$1 AND bias_score <= \$2 AND file_name ILIKE \$3`
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM filescope_publications ` + where).
		WithArgs(50.0, 30.0, `%po\_ll\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(11)))
	mock.ExpectQuery(where + `\s+ORDER BY quality_score DESC, confirmed_at DESC\s+LIMIT \$4 OFFSET \$5`).
		WithArgs(50.0, 30.0, `%po\_ll\%%`, int64(10), int64(10)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row(p)...))

	list, total, err := r.Browse(ctx, domain.BrowseQuery{QualityMin: 50, BiasMax: &biasMax, Search: "po_ll%", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, list, 1)
	assert.Equal(t, p, list[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
