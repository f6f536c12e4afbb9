package contracts

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkID identifies a ledger network (an EVM chain id).
type NetworkID uint64

func (n NetworkID) String() string { return strconv.FormatUint(uint64(n), 10) }

// Epoch is the (network, identity) pair active when a workflow began.
// It is a comparison value, not a counter.
type Epoch struct {
	Network  NetworkID      `json:"network"`
	Identity common.Address `json:"identity"`
}

// Equal reports whether both epochs name the same network and identity.
func (e Epoch) Equal(o Epoch) bool {
	return e.Network == o.Network && e.Identity == o.Identity
}

// HasIdentity reports whether an identity is connected.
func (e Epoch) HasIdentity() bool {
	return e.Identity != (common.Address{})
}

func (e Epoch) String() string {
	return fmt.Sprintf("%s/%s", e.Network, e.Identity.Hex())
}
