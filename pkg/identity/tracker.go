// Package identity tracks the active network and identity and answers whether
// a workflow's captured epoch is still the one in effect.
package identity

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

// Source supplies the currently active network and identity.
type Source interface {
	Current() contracts.Epoch
}

// Tracker is a pure predicate over the live Source. It holds no state of its
// own: every call consults the source at call time.
type Tracker struct {
	src Source
}

// NewTracker wraps src.
func NewTracker(src Source) *Tracker {
	return &Tracker{src: src}
}

// Capture returns the epoch active right now.
func (t *Tracker) Capture() contracts.Epoch {
	return t.src.Current()
}

// SameNetwork reports whether n is still the active network.
func (t *Tracker) SameNetwork(n contracts.NetworkID) bool {
	return t.src.Current().Network == n
}

// SameIdentity reports whether id is still the active identity.
func (t *Tracker) SameIdentity(id common.Address) bool {
	return t.src.Current().Identity == id
}

// Stale reports whether e no longer matches the active network and identity.
// Workflows call it after every suspension and discard their result when it
// returns true.
func (t *Tracker) Stale(e contracts.Epoch) bool {
	cur := t.src.Current()
	return cur.Network != e.Network || cur.Identity != e.Identity
}
