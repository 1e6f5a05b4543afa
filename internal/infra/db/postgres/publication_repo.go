package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

// Save inserts or updates a publication
func (r *PublicationRepository) Save(ctx context.Context, p *domain.Publication) error {
	const q = `
INSERT INTO filescope_publications (` + publicationColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (metadata_cid) DO UPDATE SET
  tx_handle=EXCLUDED.tx_handle,
  block_number=EXCLUDED.block_number,
  explorer_url=EXCLUDED.explorer_url,
  visibility=EXCLUDED.visibility,
  confirmed_at=EXCLUDED.confirmed_at;
`
	confirmedAt := p.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		p.MetadataCID, p.SubmissionID, p.TxHandle, int64(p.BlockNumber), p.ExplorerURL,
		stringOrDash(p.FileName), p.FileSize, stringOrDash(p.MimeType), p.Visibility,
		p.QualityScore, p.AnomalyCount, p.BiasScore, p.Synthetic, confirmedAt,
	)
	return err
}

func (r *PublicationRepository) Get(ctx context.Context, metadataCID string) (*domain.Publication, error) {
	const q = `SELECT ` + publicationColumns + ` FROM filescope_publications WHERE metadata_cid=$1;`
	p, err := scanPublication(r.db.QueryRowContext(ctx, q, metadataCID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func (r *PublicationRepository) Latest(ctx context.Context, limit int) ([]*domain.Publication, error) {
	const q = `
SELECT ` + publicationColumns + `
FROM filescope_publications
ORDER BY confirmed_at DESC, metadata_cid DESC
LIMIT $1;
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
	where := "visibility='public' AND quality_score >= $1"
	args := []any{bq.QualityMin}
	if bq.BiasMax != nil {
		args = append(args, *bq.BiasMax)
		where += fmt.Sprintf(" AND bias_score <= $%d", len(args))
	}
	if bq.Search != "" {
		args = append(args, "%"+escapeLike(bq.Search)+"%")
		where += fmt.Sprintf(" AND file_name ILIKE $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filescope_publications WHERE `+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	limit, offset := pageOffset(bq.Page, bq.PageSize)
	q := fmt.Sprintf(`
SELECT `+publicationColumns+`
FROM filescope_publications
WHERE `+where+`
ORDER BY quality_score DESC, confirmed_at DESC
LIMIT $%d OFFSET $%d;
`, len(args)+1, len(args)+2)
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
	var (
		p     domain.Publication
		block int64
	)
	if err := s.Scan(
		&p.MetadataCID, &p.SubmissionID, &p.TxHandle, &block, &p.ExplorerURL,
		&p.FileName, &p.FileSize, &p.MimeType, &p.Visibility,
		&p.QualityScore, &p.AnomalyCount, &p.BiasScore, &p.Synthetic, &p.ConfirmedAt,
	); err != nil {
		return nil, err
	}
	p.BlockNumber = uint64(block)
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
