package content

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
)

// MetadataDocument is the published description of one analyzed dataset.
// It carries no timestamps so the same inputs always encode to the same bytes.
type MetadataDocument struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	File        FileReference   `json:"file"`
	Analysis    analysis.Result `json:"analysis"`
	Attributes  []Attribute     `json:"attributes"`
}

type FileReference struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	CID      ID     `json:"cid"`
	URI      string `json:"uri"`
}

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// BuildMetadata assembles the metadata document for a published file.
func BuildMetadata(name string, size int64, mimeType string, fileCID ID, res analysis.Result) MetadataDocument {
	return MetadataDocument{
		Name:        "FileScope analysis: " + name,
		Description: fmt.Sprintf("Quality analysis of %s (quality score %s)", name, strconv.FormatFloat(res.Quality.Overall, 'f', -1, 64)),
		File: FileReference{
			Name:     name,
			Size:     size,
			MimeType: mimeType,
			CID:      fileCID,
			URI:      fileCID.URI(),
		},
		Analysis: res,
		Attributes: []Attribute{
			{TraitType: "Quality Score", Value: res.Quality.Overall},
			{TraitType: "Completeness", Value: res.Quality.Completeness},
			{TraitType: "Consistency", Value: res.Quality.Consistency},
			{TraitType: "Accuracy", Value: res.Quality.Accuracy},
			{TraitType: "Validity", Value: res.Quality.Validity},
			{TraitType: "Anomalies", Value: res.Anomalies.Total},
			{TraitType: "Bias Score", Value: res.Bias.Overall},
			{TraitType: "File Type", Value: mimeType},
			{TraitType: "Rows", Value: res.Dataset.Rows},
			{TraitType: "Columns", Value: res.Dataset.Columns},
			{TraitType: "Synthetic", Value: res.Synthetic},
		},
	}
}

// Encode returns the canonical JSON bytes of the document.
func (d MetadataDocument) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeMetadata parses a published metadata document.
func DecodeMetadata(raw []byte) (MetadataDocument, error) {
	var d MetadataDocument
	if err := json.Unmarshal(raw, &d); err != nil {
		return MetadataDocument{}, fmt.Errorf("decode metadata document: %w", err)
	}
	return d, nil
}
