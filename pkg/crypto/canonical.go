package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

// CanonicalMarshal marshals v into RFC 8785 canonical JSON.
func CanonicalMarshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the keccak256 digest of the canonical form of v.
func CanonicalHash(v any) (common.Hash, error) {
	data, err := CanonicalMarshal(v)
	if err != nil {
		return common.Hash{}, err
	}
	return gethcrypto.Keccak256Hash(data), nil
}
