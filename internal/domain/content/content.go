package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrNotFound          = errors.New("content not found")
	ErrMissingCredential = errors.New("content store credential not configured")
)

// ID is a content identifier (CID) returned by the content-addressed store.
type ID string

func (id ID) String() string { return string(id) }

// URI in ipfs:// form
func (id ID) URI() string { return "ipfs://" + string(id) }

var rawPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Compute derives the CIDv1 (raw codec, sha2-256) of data.
func Compute(data []byte) (ID, error) {
	c, err := rawPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("compute cid: %w", err)
	}
	return ID(c.String()), nil
}

// FromSHA256 builds the same CID as Compute from an already computed sha2-256 digest.
func FromSHA256(digest []byte) (ID, error) {
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("encode multihash: %w", err)
	}
	return ID(cid.NewCidV1(cid.Raw, mh).String()), nil
}

// Parse validates s as a CID and returns its canonical string form.
func Parse(s string) (ID, error) {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid cid %q: %w", s, err)
	}
	return ID(c.String()), nil
}

// Store uploads opaque bytes and returns their content id.
type Store interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (ID, error)
}

// Fetcher reads content back by id. Returns ErrNotFound when missing.
type Fetcher interface {
	Get(ctx context.Context, id ID) (io.ReadCloser, error)
}
