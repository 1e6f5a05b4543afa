package submission

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/content"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/logging"
	"github.com/bryanwahyu/filescope/internal/observability"
)

const metadataContentType = "application/json"

// Publisher uploads the raw file and then its metadata document.
type Publisher struct {
	Store content.Store
	Files domain.FileOpener
	Log   *zap.Logger
}

// Publish returns the metadata CID. Either both uploads succeed or an error is returned.
func (p *Publisher) Publish(ctx context.Context, file domain.FileInfo, res analysis.Result) (content.ID, error) {
	log := logging.OrNop(p.Log).With(zap.String("file", file.Name))

	fileCID, err := p.putFile(ctx, file)
	if err != nil {
		observability.RecordUpload("error")
		return "", err
	}
	observability.RecordUpload("ok")
	log.Debug("file uploaded", zap.String("cid", fileCID.String()))

	doc := content.BuildMetadata(file.Name, file.Size, file.MimeType, fileCID, res)
	raw, err := doc.Encode()
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	metaCID, err := p.Store.Put(ctx, file.Name+".metadata.json", metadataContentType, bytes.NewReader(raw))
	if err != nil {
		observability.RecordUpload("error")
		return "", fmt.Errorf("upload metadata: %w", err)
	}
	observability.RecordUpload("ok")
	log.Info("metadata published", zap.String("file_cid", fileCID.String()), zap.String("metadata_cid", metaCID.String()))
	return metaCID, nil
}

func (p *Publisher) putFile(ctx context.Context, file domain.FileInfo) (content.ID, error) {
	rc, err := p.Files.Open(ctx, file.Ref)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()

	id, err := p.Store.Put(ctx, file.Name, file.MimeType, rc)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", file.Name, err)
	}
	return id, nil
}
