package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/ledger"
)

const registryABI = `[{"type":"function","name":"registerSubmission","stateMutability":"nonpayable",
"inputs":[{"name":"datasetCid","type":"string"},{"name":"analysisCid","type":"string"},{"name":"isPublic","type":"bool"}],
"outputs":[]}]`

const registerMethod = "registerSubmission"

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type contractTransactor interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	ExplorerURL     string
}

// Client registers submissions on an EVM registry contract (FVM included)
// and waits for their receipts.
type Client struct {
	contract    contractTransactor
	receipts    receiptReader
	auth        *bind.TransactOpts
	explorerURL string

	// receipt polling backoff
	MinDelay time.Duration
	MaxDelay time.Duration

	log *zap.Logger
}

// Dial connects to the JSON-RPC endpoint and binds the registry contract.
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = eth.ChainID(ctx); err != nil {
			eth.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, eth, eth, eth)

	c := newClient(contract, eth, auth, cfg.ExplorerURL, log)
	c.log.Info("ledger client ready",
		zap.String("contract", cfg.ContractAddress),
		zap.String("from", auth.From.Hex()),
		zap.String("chain_id", chainID.String()))
	return c, nil
}

func newClient(contract contractTransactor, receipts receiptReader, auth *bind.TransactOpts, explorerURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		contract:    contract,
		receipts:    receipts,
		auth:        auth,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		MinDelay:    2 * time.Second,
		MaxDelay:    30 * time.Second,
		log:         log.Named("ledger.evm"),
	}
}

// Register sends registerSubmission(datasetCid, analysisCid, isPublic) and
// returns the transaction hash without waiting for it to be mined.
func (c *Client) Register(ctx context.Context, datasetCID, analysisCID string, isPublic bool) (string, error) {
	if datasetCID == "" || analysisCID == "" {
		return "", fmt.Errorf("register: empty cid: %w", ledger.ErrRejected)
	}
	opts := *c.auth
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, registerMethod, datasetCID, analysisCID, isPublic)
	if err != nil {
		return "", fmt.Errorf("send %s: %w", registerMethod, err)
	}
	handle := tx.Hash().Hex()
	c.log.Info("registration sent", zap.String("tx", handle), zap.String("cid", analysisCID), zap.Bool("public", isPublic))
	return handle, nil
}

// AwaitConfirmation polls for the receipt until it is mined or ctx ends.
// A missing receipt means still pending; RPC errors are retried.
func (c *Client) AwaitConfirmation(ctx context.Context, handle string) (ledger.Confirmation, error) {
	if !txHashPattern.MatchString(handle) {
		return ledger.Confirmation{}, fmt.Errorf("malformed tx handle %q: %w", handle, ledger.ErrRejected)
	}
	hash := common.HexToHash(handle)
	b := &backoff.Backoff{Min: c.MinDelay, Max: c.MaxDelay, Factor: 2, Jitter: true}
	log := c.log.With(zap.String("tx", handle))

	for {
		receipt, err := c.receipts.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return ledger.Confirmation{}, fmt.Errorf("tx %s reverted in block %s: %w", handle, receipt.BlockNumber, ledger.ErrRejected)
			}
			conf := ledger.Confirmation{TxHandle: handle, ExplorerURL: c.explorerLink(handle)}
			if receipt.BlockNumber != nil {
				conf.BlockNumber = receipt.BlockNumber.Uint64()
			}
			log.Info("registration confirmed", zap.Uint64("block", conf.BlockNumber))
			return conf, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
			log.Debug("receipt pending")
		default:
			if ctx.Err() != nil {
				return ledger.Confirmation{}, ctx.Err()
			}
			log.Warn("receipt lookup failed", zap.Error(err))
		}

		t := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			t.Stop()
			return ledger.Confirmation{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) explorerLink(handle string) string {
	if c.explorerURL == "" {
		return ""
	}
	return c.explorerURL + "/tx/" + handle
}
