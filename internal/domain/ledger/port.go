package ledger

import (
	"context"
	"errors"
)

// ErrRejected means the chain explicitly reported the transaction as failed.
// Anything else (pending, transport errors) is not a rejection.
var ErrRejected = errors.New("ledger transaction rejected")

// Confirmation is the ledger's acknowledgment that a transaction is final.
type Confirmation struct {
	TxHandle    string `json:"tx_handle"`
	BlockNumber uint64 `json:"block_number"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// Client port for the on-chain registry.
type Client interface {
	Register(ctx context.Context, datasetCID, analysisCID string, isPublic bool) (txHandle string, err error)
	AwaitConfirmation(ctx context.Context, txHandle string) (Confirmation, error)
}
