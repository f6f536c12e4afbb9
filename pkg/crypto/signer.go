// Package crypto provides identity signing (secp256k1, EIP-191), signature
// recovery, canonical payload encoding and holder keypairs for decryption
// capabilities.
package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs on behalf of one ledger identity.
type Signer interface {
	Address() common.Address
	// SignText signs data as an EIP-191 personal message and returns the
	// 0x-prefixed 65-byte signature.
	SignText(data []byte) (string, error)
}

// SecpSigner implementation.
type SecpSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSecpSigner generates a fresh key.
func NewSecpSigner() (*SecpSigner, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewSecpSignerFromKey(key), nil
}

// NewSecpSignerFromHex loads a hex-encoded private key, with or without 0x.
func NewSecpSignerFromHex(hexKey string) (*SecpSigner, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := gethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSecpSignerFromKey(key), nil
}

func NewSecpSignerFromKey(key *ecdsa.PrivateKey) *SecpSigner {
	return &SecpSigner{key: key, addr: gethcrypto.PubkeyToAddress(key.PublicKey)}
}

func (s *SecpSigner) Address() common.Address { return s.addr }

func (s *SecpSigner) SignText(data []byte) (string, error) {
	sig, err := gethcrypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return "", fmt.Errorf("sign failed: %w", err)
	}
	sig[gethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// PrivateKey exposes the key to transaction builders.
func (s *SecpSigner) PrivateKey() *ecdsa.PrivateKey { return s.key }
