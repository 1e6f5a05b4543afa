package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/bryanwahyu/filescope/internal/domain/records"
)

type PublicationRepository struct {
	db *sql.DB
}

func NewPublicationRepository(db *sql.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

const publicationColumns = `metadata_cid, submission_id, tx_handle, block_number, explorer_url,
  file_name, file_size, mime_type, visibility, quality_score, anomaly_count, bias_score,
  synthetic, confirmed_at`

// Save inserts a publication; saving the same metadata CID again updates it.
func (r *PublicationRepository) Save(ctx context.Context, p *domain.Publication) error {
	const q = `
INSERT INTO filescope_publications (` + publicationColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  tx_handle=VALUES(tx_handle), block_number=VALUES(block_number), explorer_url=VALUES(explorer_url),
  visibility=VALUES(visibility), confirmed_at=VALUES(confirmed_at);
`
	confirmedAt := p.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		p.MetadataCID, p.SubmissionID, p.TxHandle, p.BlockNumber, p.ExplorerURL,
		stringOrDash(p.FileName), p.FileSize, stringOrDash(p.MimeType), p.Visibility,
		p.QualityScore, p.AnomalyCount, p.BiasScore, p.Synthetic, confirmedAt,
	)
	return err
}

func (r *PublicationRepository) Get(ctx context.Context, metadataCID string) (*domain.Publication, error) {
	const q = `SELECT ` + publicationColumns + ` FROM filescope_publications WHERE metadata_cid=?;`
	p, err := scanPublication(r.db.QueryRowContext(ctx, q, metadataCID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// Latest returns the most recently confirmed publications of any visibility.
func (r *PublicationRepository) Latest(ctx context.Context, limit int) ([]*domain.Publication, error) {
	const q = `
SELECT ` + publicationColumns + `
FROM filescope_publications
ORDER BY confirmed_at DESC, metadata_cid DESC
LIMIT ?;
`
	limit, _ = pageOffset(1, limit)
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Browse pages through public publications at or above QualityMin, best first,
// and counts every match.
func (r *PublicationRepository) Browse(ctx context.Context, bq domain.BrowseQuery) ([]*domain.Publication, int, error) {
	where := "visibility='public' AND quality_score >= ?"
	args := []any{bq.QualityMin}
	if bq.BiasMax != nil {
		where += " AND bias_score <= ?"
		args = append(args, *bq.BiasMax)
	}
	if bq.Search != "" {
		where += " AND file_name LIKE ?"
		args = append(args, "%"+escapeLike(bq.Search)+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filescope_publications WHERE `+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	q := `
SELECT ` + publicationColumns + `
FROM filescope_publications
WHERE ` + where + `
ORDER BY quality_score DESC, confirmed_at DESC
LIMIT ? OFFSET ?;
`
	limit, offset := pageOffset(bq.Page, bq.PageSize)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	list, err := collect(rows)
	return list, total, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublication(s rowScanner) (*domain.Publication, error) {
	var p domain.Publication
	if err := s.Scan(
		&p.MetadataCID, &p.SubmissionID, &p.TxHandle, &p.BlockNumber, &p.ExplorerURL,
		&p.FileName, &p.FileSize, &p.MimeType, &p.Visibility,
		&p.QualityScore, &p.AnomalyCount, &p.BiasScore, &p.Synthetic, &p.ConfirmedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func collect(rows *sql.Rows) ([]*domain.Publication, error) {
	defer rows.Close()
	var out []*domain.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
