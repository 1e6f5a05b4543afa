package submission

import (
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bryanwahyu/filescope/internal/domain/content"
)

const maxMetadataBytes = 8 << 20

// Reader dereferences published metadata documents, caching by CID.
// Entries never expire: a CID always names the same bytes.
type Reader struct {
	fetcher content.Fetcher
	cache   *lru.Cache[content.ID, content.MetadataDocument]
}

func NewReader(fetcher content.Fetcher, size int) (*Reader, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[content.ID, content.MetadataDocument](size)
	if err != nil {
		return nil, err
	}
	return &Reader{fetcher: fetcher, cache: cache}, nil
}

// Dereference returns the metadata document stored under id.
func (r *Reader) Dereference(ctx context.Context, id content.ID) (content.MetadataDocument, error) {
	if doc, ok := r.cache.Get(id); ok {
		return doc, nil
	}
	rc, err := r.fetcher.Get(ctx, id)
	if err != nil {
		return content.MetadataDocument{}, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxMetadataBytes))
	if err != nil {
		return content.MetadataDocument{}, fmt.Errorf("read %s: %w", id, err)
	}
	doc, err := content.DecodeMetadata(raw)
	if err != nil {
		return content.MetadataDocument{}, err
	}
	r.cache.Add(id, doc)
	return doc, nil
}
