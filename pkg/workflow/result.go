package workflow

import (
	"errors"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

var (
	ErrOutOfRange       = errors.New("workflow: value out of range")
	ErrEmptyLabel       = errors.New("workflow: label is required")
	ErrNothingToDecrypt = errors.New("workflow: nothing to decrypt")
	ErrNoIdentity       = errors.New("workflow: no active identity")
	ErrNotDeployed      = errors.New("workflow: ledger not deployed on network")
)

// Status classifies how a workflow run ended.
type Status int

const (
	// StatusCompleted means the result was committed.
	StatusCompleted Status = iota
	// StatusBusy means a run of the same class was in flight; nothing happened.
	StatusBusy
	// StatusNoop means the requested state already holds.
	StatusNoop
	// StatusPrecondition means the run could not start (nothing to decrypt,
	// no identity, no deployment). Informational.
	StatusPrecondition
	// StatusInvalid means input validation failed before any round trip.
	StatusInvalid
	// StatusDiscarded means the context changed mid-flight and the result
	// was dropped.
	StatusDiscarded
	// StatusFailed means a round trip failed or no capability was available.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusBusy:
		return "busy"
	case StatusNoop:
		return "noop"
	case StatusPrecondition:
		return "precondition"
	case StatusInvalid:
		return "invalid"
	case StatusDiscarded:
		return "discarded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what every entry point returns. Errors never escape as panics
// or bare error returns; they are carried here.
type Result struct {
	Status  Status
	Message string
	Err     error

	Record     *contracts.Record // decrypt
	Receipt    *ledger.Receipt   // submit
	Generation uint64            // refresh
	Records    int               // refresh
}

// OK reports whether the desired state holds after the run.
func (r Result) OK() bool {
	return r.Status == StatusCompleted || r.Status == StatusNoop
}
