package capabilities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
)

// Verification errors.
var (
	ErrExpired        = errors.New("capabilities: expired")
	ErrNotYetValid    = errors.New("capabilities: not yet valid")
	ErrBadSignature   = errors.New("capabilities: signature does not match identity")
	ErrAddressOutside = errors.New("capabilities: address not authorized")
)

// Authorization is the document an identity signs to issue a capability.
type Authorization struct {
	PublicKey         string   `json:"publicKey"`
	ContractAddresses []string `json:"contractAddresses"`
	StartTimestamp    int64    `json:"startTimestamp"`
	DurationDays      int      `json:"durationDays"`
}

// AuthorizationFor builds the signed document of c.
func AuthorizationFor(c *contracts.Capability) Authorization {
	addrs := make([]string, 0, len(c.Addresses))
	for _, a := range contracts.NewCapabilityKey(c.Addresses, c.Identity).Addresses {
		addrs = append(addrs, strings.ToLower(a.Hex()))
	}
	return Authorization{
		PublicKey:         hexutil.Encode(c.HolderPublicKey),
		ContractAddresses: addrs,
		StartTimestamp:    c.StartTimestamp,
		DurationDays:      c.DurationDays,
	}
}

// Payload returns the canonical bytes that get signed.
func (a Authorization) Payload() ([]byte, error) {
	return crypto.CanonicalMarshal(a)
}

// Verify checks that c is signed by its identity, that now falls inside
// its validity window and that it covers every address in addrs.
func Verify(c *contracts.Capability, now time.Time, addrs ...common.Address) error {
	if c == nil {
		return ErrUnavailable
	}
	if now.Before(time.Unix(c.StartTimestamp, 0)) {
		return ErrNotYetValid
	}
	if !c.IsValid(now) {
		return ErrExpired
	}
	for _, a := range addrs {
		if !c.Covers(a) {
			return fmt.Errorf("%w: %s", ErrAddressOutside, a.Hex())
		}
	}
	payload, err := AuthorizationFor(c).Payload()
	if err != nil {
		return err
	}
	ok, err := crypto.VerifyText(c.Identity, c.Signature, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}
