package contracts

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HandleLength is the size in bytes of a ciphertext handle.
const HandleLength = 32

// Handle is an opaque reference to a ciphertext stored on the ledger.
// The zero handle means "absent".
type Handle [HandleLength]byte

// HexToHandle parses a hex string, left-padding short input.
func HexToHandle(s string) Handle {
	return Handle(common.HexToHash(s))
}

// BytesToHandle right-aligns b into a handle, cropping from the left.
func BytesToHandle(b []byte) Handle {
	return Handle(common.BytesToHash(b))
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) Bytes() []byte { return h[:] }

func (h Handle) Hex() string { return hexutil.Encode(h[:]) }

func (h Handle) String() string { return h.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Handle", input, h[:])
}
