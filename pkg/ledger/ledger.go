// Package ledger defines the ledger collaborator the workflows talk to: read
// calls over owned encrypted records and the state-changing submission with
// its confirmation.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

var (
	// ErrNotFound is returned for unknown record ids.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrReverted is returned when a submitted transaction failed on chain.
	ErrReverted = errors.New("ledger: transaction reverted")
)

// TxRef references a submitted transaction.
type TxRef struct {
	Hash common.Hash `json:"hash"`
}

func (r TxRef) String() string { return r.Hash.Hex() }

// Status of a confirmed transaction.
type Status uint64

const (
	StatusFailed     Status = 0
	StatusSuccessful Status = 1
)

func (s Status) String() string {
	if s == StatusSuccessful {
		return "success"
	}
	return "failed"
}

// Receipt is the confirmation of a submitted transaction.
type Receipt struct {
	TxRef       TxRef  `json:"tx"`
	Status      Status `json:"status"`
	BlockNumber uint64 `json:"block_number"`
}

// Check returns ErrReverted for a failed receipt.
func (r Receipt) Check() error {
	if r.Status != StatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, r.TxRef)
	}
	return nil
}

// Reader is the read side of the ledger.
type Reader interface {
	OwnedRecordIDs(ctx context.Context, identity common.Address) ([]contracts.RecordID, error)
	RecordLabel(ctx context.Context, id contracts.RecordID) (string, error)
	// EncryptedValueHandle returns the zero handle when the record has none.
	EncryptedValueHandle(ctx context.Context, id contracts.RecordID) (contracts.Handle, error)
	EncryptedFlagHandle(ctx context.Context, id contracts.RecordID) (contracts.Handle, error)
	RecordCount(ctx context.Context) (uint64, error)
}

// Writer is the state-changing side of the ledger.
type Writer interface {
	SubmitEncryptedValue(ctx context.Context, identity common.Address, handle contracts.Handle, proof []byte, label, contentRef string) (TxRef, error)
	AwaitConfirmation(ctx context.Context, tx TxRef) (Receipt, error)
}

// Client is one deployed record ledger.
type Client interface {
	Reader
	Writer
	// Address is the ledger address that owns the ciphertexts.
	Address() common.Address
}
