// Package fhe defines the encryption and decryption providers used by the
// workflows. Cryptographic internals live behind these interfaces.
package fhe

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

// ErrMissingResult is returned when a provider answers without a plaintext
// for a requested handle.
var ErrMissingResult = errors.New("fhe: handle missing from result")

// EncryptedInput is a ciphertext handle plus the proof the ledger verifies
// on submission.
type EncryptedInput struct {
	Handle contracts.Handle `json:"handle"`
	Proof  hexutil.Bytes    `json:"input_proof"`
}

// HandleRef names a ciphertext and the ledger address that holds it.
type HandleRef struct {
	Handle  contracts.Handle `json:"handle"`
	Address common.Address   `json:"contract_address"`
}

// Encryptor turns a plaintext into an input bound to target and identity.
type Encryptor interface {
	Encrypt(ctx context.Context, target, identity common.Address, value uint64) (EncryptedInput, error)
}

// Decryptor releases plaintexts for handles covered by a capability.
type Decryptor interface {
	Decrypt(ctx context.Context, refs []HandleRef, capability *contracts.Capability) (map[contracts.Handle]uint64, error)
}

// Provider is both.
type Provider interface {
	Encryptor
	Decryptor
}
