package content

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
)

func TestComputeIsStableAndParses(t *testing.T) {
	a, err := Compute([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	b, err := Compute([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a.String(), "bafk", "CIDv1 raw codec renders as bafk...")

	parsed, err := Parse(" " + a.String() + " ")
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Equal(t, "ipfs://"+a.String(), a.URI())

	other, err := Compute([]byte("different"))
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestFromSHA256MatchesCompute(t *testing.T) {
	data := []byte("a,b\n1,2\n")
	sum := sha256.Sum256(data)
	fromDigest, err := FromSHA256(sum[:])
	require.NoError(t, err)
	computed, err := Compute(data)
	require.NoError(t, err)
	assert.Equal(t, computed, fromDigest)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-cid")
	require.Error(t, err)
}

func TestMetadataEncodingIsDeterministic(t *testing.T) {
	res := analysis.Result{Quality: analysis.Quality{Overall: 87}, Dataset: analysis.DatasetStats{Rows: 3, Columns: 2}}
	d1 := BuildMetadata("poll.csv", 10, "text/csv", "bafyfile", res)
	d2 := BuildMetadata("poll.csv", 10, "text/csv", "bafyfile", res)

	b1, err := d1.Encode()
	require.NoError(t, err)
	b2, err := d2.Encode()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	back, err := DecodeMetadata(b1)
	require.NoError(t, err)
	assert.Equal(t, ID("bafyfile"), back.File.CID)
	assert.Equal(t, "ipfs://bafyfile", back.File.URI)
	assert.Equal(t, 87.0, back.Analysis.Quality.Overall)
	require.Len(t, back.Attributes, 11)
	assert.Equal(t, "Quality Score", back.Attributes[0].TraitType)
	assert.Equal(t, 87.0, back.Attributes[0].Value)
}
