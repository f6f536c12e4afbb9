package crypto

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownAccount is returned when the wallet holds no key for an identity.
var ErrUnknownAccount = errors.New("crypto: unknown account")

// ErrRejected is returned when the account owner declined to sign.
var ErrRejected = errors.New("crypto: signature rejected")

// Wallet holds signers for several identities.
type Wallet struct {
	mu       sync.RWMutex
	signers  map[common.Address]*SecpSigner
	rejected map[common.Address]bool
}

// NewWallet creates a new empty Wallet.
func NewWallet(signers ...*SecpSigner) *Wallet {
	w := &Wallet{
		signers:  make(map[common.Address]*SecpSigner),
		rejected: make(map[common.Address]bool),
	}
	for _, s := range signers {
		w.AddKey(s)
	}
	return w
}

// AddKey adds a signer to the wallet.
func (w *Wallet) AddKey(s *SecpSigner) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signers[s.Address()] = s
}

// RevokeKey removes the key for addr.
func (w *Wallet) RevokeKey(addr common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.signers, addr)
}

// SetRejecting makes every signature request for addr fail with ErrRejected,
// the way a user declining a wallet prompt does.
func (w *Wallet) SetRejecting(addr common.Address, reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejected[addr] = reject
}

// Accounts returns the held addresses in byte order.
func (w *Wallet) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, 0, len(w.signers))
	for a := range w.signers {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

// Signer returns the signer for addr.
func (w *Wallet) Signer(addr common.Address) (*SecpSigner, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.signers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	return s, nil
}

// SignAuthorization signs payload as identity.
func (w *Wallet) SignAuthorization(ctx context.Context, identity common.Address, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, err := w.Signer(identity)
	if err != nil {
		return "", err
	}
	w.mu.RLock()
	rejected := w.rejected[identity]
	w.mu.RUnlock()
	if rejected {
		return "", ErrRejected
	}
	return s.SignText(payload)
}

// TransactOpts returns transaction options signing as identity on chainID.
func (w *Wallet) TransactOpts(ctx context.Context, identity common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	s, err := w.Signer(identity)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.PrivateKey(), chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor for %s: %w", identity.Hex(), err)
	}
	opts.Context = ctx
	return opts, nil
}
