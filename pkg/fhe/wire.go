package fhe

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
)

// Relayer wire types. Plaintexts leave the relayer only sealed to the
// capability's holder key; the holder private key is never sent.

type VersionResponse struct {
	Version string `json:"version"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type InputProofRequest struct {
	ContractAddress common.Address `json:"contract_address"`
	UserAddress     common.Address `json:"user_address"`
	Value           uint64         `json:"value"`
}

type UserDecryptRequest struct {
	Handles           []HandleRef      `json:"handles"`
	PublicKey         hexutil.Bytes    `json:"public_key"`
	Signature         string           `json:"signature"`
	ContractAddresses []common.Address `json:"contract_addresses"`
	UserAddress       common.Address   `json:"user_address"`
	StartTimestamp    int64            `json:"start_timestamp"`
	DurationDays      int              `json:"duration_days"`
}

// NewUserDecryptRequest carries the signed, public fields of c.
func NewUserDecryptRequest(refs []HandleRef, c *contracts.Capability) UserDecryptRequest {
	return UserDecryptRequest{
		Handles:           refs,
		PublicKey:         c.HolderPublicKey,
		Signature:         c.Signature,
		ContractAddresses: c.Addresses,
		UserAddress:       c.Identity,
		StartTimestamp:    c.StartTimestamp,
		DurationDays:      c.DurationDays,
	}
}

// Capability rebuilds the public part of the capability.
func (r UserDecryptRequest) Capability() *contracts.Capability {
	return &contracts.Capability{
		HolderPublicKey: r.PublicKey,
		Signature:       r.Signature,
		Addresses:       r.ContractAddresses,
		Identity:        r.UserAddress,
		StartTimestamp:  r.StartTimestamp,
		DurationDays:    r.DurationDays,
	}
}

type UserDecryptResponse struct {
	Results map[contracts.Handle]hexutil.Bytes `json:"results"`
}

// SealValue encodes v and seals it to holderPub.
func SealValue(holderPub []byte, v uint64) ([]byte, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return crypto.SealToHolder(holderPub, buf[:])
}

// OpenResults opens every sealed result with the capability's holder key and
// checks that each requested handle is present.
func OpenResults(refs []HandleRef, sealed map[contracts.Handle]hexutil.Bytes, c *contracts.Capability) (map[contracts.Handle]uint64, error) {
	out := make(map[contracts.Handle]uint64, len(refs))
	for _, ref := range refs {
		box, ok := sealed[ref.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingResult, ref.Handle)
		}
		plain, err := crypto.OpenAsHolder(c.HolderPublicKey, c.HolderPrivateKey, box)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ref.Handle, err)
		}
		if len(plain) != 8 {
			return nil, fmt.Errorf("open %s: unexpected plaintext length %d", ref.Handle, len(plain))
		}
		out[ref.Handle] = binary.BigEndian.Uint64(plain)
	}
	return out, nil
}
