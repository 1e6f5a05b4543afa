package records

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("publication not found")

// Repository port for the publication index.
type Repository interface {
	Save(ctx context.Context, p *Publication) error
	Get(ctx context.Context, metadataCID string) (*Publication, error)
	Latest(ctx context.Context, limit int) ([]*Publication, error)
	// Browse returns one page and the number of matches across all pages.
	Browse(ctx context.Context, q BrowseQuery) ([]*Publication, int, error)
}
