// Package evm binds the ledger interfaces to a deployed record contract over
// JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

// Backend is what the client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Transactor produces signing options for an identity.
type Transactor interface {
	TransactOpts(ctx context.Context, identity common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

// Client is a ledger.Client over one deployed contract.
type Client struct {
	address    common.Address
	chainID    *big.Int
	backend    Backend
	contract   *bind.BoundContract
	transactor Transactor
	poll       time.Duration
	logger     *slog.Logger
}

type Option func(*Client)

// WithPollInterval sets how often AwaitConfirmation asks for the receipt.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.poll = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func New(address common.Address, chainID contracts.NetworkID, backend Backend, transactor Transactor, opts ...Option) *Client {
	c := &Client{
		address:    address,
		chainID:    new(big.Int).SetUint64(uint64(chainID)),
		backend:    backend,
		contract:   bind.NewBoundContract(address, ParsedABI, backend, backend, backend),
		transactor: transactor,
		poll:       time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to rpcURL and reads the chain id from the node.
func Dial(ctx context.Context, rpcURL string, address common.Address, transactor Transactor, opts ...Option) (*Client, contracts.NetworkID, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, 0, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, 0, fmt.Errorf("evm: chain id: %w", err)
	}
	network := contracts.NetworkID(id.Uint64())
	return New(address, network, eth, transactor, opts...), network, nil
}

func (c *Client) Address() common.Address { return c.address }

// Close releases the backend connection when the backend holds one.
func (c *Client) Close() error {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) (any, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if isMissingToken(err) {
			return nil, fmt.Errorf("%w: %w", ledger.ErrNotFound, err)
		}
		return nil, fmt.Errorf("evm: %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("evm: %s: empty result", method)
	}
	return out[0], nil
}

// isMissingToken recognises the ERC-721 revert for an id that was never
// minted.
func isMissingToken(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ERC721NonexistentToken") || strings.Contains(msg, "nonexistent token")
}

func (c *Client) OwnedRecordIDs(ctx context.Context, identity common.Address) ([]contracts.RecordID, error) {
	raw, err := c.call(ctx, "getStudentTokens", identity)
	if err != nil {
		return nil, err
	}
	ids := *abi.ConvertType(raw, new([]*big.Int)).(*[]*big.Int)
	out := make([]contracts.RecordID, 0, len(ids))
	for _, id := range ids {
		if !id.IsUint64() {
			return nil, fmt.Errorf("evm: record id %s out of range", id)
		}
		out = append(out, contracts.RecordID(id.Uint64()))
	}
	return out, nil
}

func (c *Client) RecordLabel(ctx context.Context, id contracts.RecordID) (string, error) {
	raw, err := c.call(ctx, "getQuizSubject", recordArg(id))
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(raw, new(string)).(*string), nil
}

func (c *Client) EncryptedValueHandle(ctx context.Context, id contracts.RecordID) (contracts.Handle, error) {
	return c.handle(ctx, "getEncryptedScore", id)
}

func (c *Client) EncryptedFlagHandle(ctx context.Context, id contracts.RecordID) (contracts.Handle, error) {
	return c.handle(ctx, "getEncryptedPassStatus", id)
}

func (c *Client) handle(ctx context.Context, method string, id contracts.RecordID) (contracts.Handle, error) {
	raw, err := c.call(ctx, method, recordArg(id))
	if err != nil {
		return contracts.Handle{}, err
	}
	return contracts.Handle(*abi.ConvertType(raw, new([32]byte)).(*[32]byte)), nil
}

func (c *Client) RecordCount(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}
	n := *abi.ConvertType(raw, new(*big.Int)).(**big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("evm: total supply %s out of range", n)
	}
	return n.Uint64(), nil
}

func (c *Client) SubmitEncryptedValue(ctx context.Context, identity common.Address, handle contracts.Handle, proof []byte, label, contentRef string) (ledger.TxRef, error) {
	opts, err := c.transactor.TransactOpts(ctx, identity, c.chainID)
	if err != nil {
		return ledger.TxRef{}, err
	}
	tx, err := c.contract.Transact(opts, "submitScore", identity, [32]byte(handle), proof, label, contentRef)
	if err != nil {
		return ledger.TxRef{}, fmt.Errorf("evm: submitScore: %w", err)
	}
	c.logger.DebugContext(ctx, "transaction sent", "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return ledger.TxRef{Hash: tx.Hash()}, nil
}

// AwaitConfirmation polls for the receipt until it is mined or ctx ends.
func (c *Client) AwaitConfirmation(ctx context.Context, ref ledger.TxRef) (ledger.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		r, err := c.backend.TransactionReceipt(ctx, ref.Hash)
		if err == nil {
			return ledger.Receipt{
				TxRef:       ref,
				Status:      ledger.Status(r.Status),
				BlockNumber: r.BlockNumber.Uint64(),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return ledger.Receipt{}, fmt.Errorf("evm: receipt %s: %w", ref, err)
		}
		select {
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func recordArg(id contracts.RecordID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

var _ ledger.Client = (*Client)(nil)
