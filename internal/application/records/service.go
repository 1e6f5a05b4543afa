package records

import (
	"context"
	"errors"
	"strings"

	domain "github.com/bryanwahyu/filescope/internal/domain/records"
)

// ErrDisabled is returned when no publication index is configured.
var ErrDisabled = errors.New("publication records are disabled")

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service answers "latest" and "browse" queries over confirmed publications.
type Service struct {
	repo domain.Repository
}

func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Latest returns the N most recently confirmed publications.
func (s *Service) Latest(ctx context.Context, limit int) ([]*domain.Publication, error) {
	if s.repo == nil {
		return nil, ErrDisabled
	}
	return s.repo.Latest(ctx, clampLimit(limit))
}

// Browse lists public publications filtered by quality, bias and file name.
func (s *Service) Browse(ctx context.Context, q domain.BrowseQuery) (domain.Page, error) {
	if s.repo == nil {
		return domain.Page{}, ErrDisabled
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	q.PageSize = clampLimit(q.PageSize)
	if q.QualityMin < 0 {
		q.QualityMin = 0
	}
	q.Search = strings.TrimSpace(q.Search)
	list, total, err := s.repo.Browse(ctx, q)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.NewPage(list, q.Page, q.PageSize, total), nil
}

// Get ambil 1 publication by metadata CID
func (s *Service) Get(ctx context.Context, metadataCID string) (*domain.Publication, error) {
	if s.repo == nil {
		return nil, ErrDisabled
	}
	return s.repo.Get(ctx, metadataCID)
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
