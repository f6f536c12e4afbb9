package contracts

import (
	"bytes"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultCapabilityDays is the validity window of a freshly issued capability.
const DefaultCapabilityDays = 365

// Capability is a time-boxed authorization to request plaintext for
// ciphertexts held by a set of ledger addresses on behalf of one identity.
// A capability is never mutated after issue, only replaced.
type Capability struct {
	HolderPublicKey  hexutil.Bytes    `json:"public_key"`
	HolderPrivateKey hexutil.Bytes    `json:"private_key"`
	Signature        string           `json:"signature"`
	Addresses        []common.Address `json:"contract_addresses"`
	Identity         common.Address   `json:"user_address"`
	StartTimestamp   int64            `json:"start_timestamp"`
	DurationDays     int              `json:"duration_days"`
}

// ValidUntil returns the end of the validity window.
func (c *Capability) ValidUntil() time.Time {
	return time.Unix(c.StartTimestamp, 0).Add(time.Duration(c.DurationDays) * 24 * time.Hour)
}

// IsValid reports whether now falls before the end of the validity window.
func (c *Capability) IsValid(now time.Time) bool {
	if c == nil {
		return false
	}
	return now.Before(c.ValidUntil())
}

// Covers reports whether addr is part of the authorized address set.
func (c *Capability) Covers(addr common.Address) bool {
	return slices.Contains(c.Addresses, addr)
}

// Key returns the cache key this capability was issued for.
func (c *Capability) Key() CapabilityKey {
	return NewCapabilityKey(c.Addresses, c.Identity)
}

// CapabilityKey identifies a capability by its address set and identity.
// Addresses are sorted and deduplicated so that set order does not matter.
type CapabilityKey struct {
	Addresses []common.Address
	Identity  common.Address
}

// NewCapabilityKey normalizes addresses into a key.
func NewCapabilityKey(addresses []common.Address, identity common.Address) CapabilityKey {
	set := slices.Clone(addresses)
	slices.SortFunc(set, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return CapabilityKey{Addresses: slices.Compact(set), Identity: identity}
}

// String renders the key as "identity|addr1,addr2" in lower case.
func (k CapabilityKey) String() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(k.Identity.Hex()))
	b.WriteByte('|')
	for i, a := range k.Addresses {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strings.ToLower(a.Hex()))
	}
	return b.String()
}
