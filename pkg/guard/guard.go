// Package guard provides single-flight admission per workflow class.
//
// A class that is already in flight rejects new entries; the caller drops
// the request rather than queueing it. Every successful Try* returns a
// release func which must be deferred.
package guard

import (
	"sync"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

// Class names a workflow class.
type Class int

const (
	Refresh Class = iota
	Submit
	Decrypt
)

func (c Class) String() string {
	switch c {
	case Refresh:
		return "refresh"
	case Submit:
		return "submit"
	case Decrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// Flags is a point-in-time view of the guard.
type Flags struct {
	Refreshing       bool                `json:"refreshing"`
	Submitting       bool                `json:"submitting"`
	Decrypting       bool                `json:"decrypting"`
	DecryptingRecord *contracts.RecordID `json:"decrypting_record,omitempty"`
}

// Guard owns the in-flight state of one controller.
type Guard struct {
	mu         sync.Mutex
	refreshing bool
	submitting bool
	decrypting bool
	record     contracts.RecordID
}

// New returns an idle guard.
func New() *Guard {
	return &Guard{}
}

// TryRefresh admits one refresh at a time.
func (g *Guard) TryRefresh() (release func(), ok bool) {
	return g.try(&g.refreshing, nil)
}

// TrySubmit admits one submission at a time.
func (g *Guard) TrySubmit() (release func(), ok bool) {
	return g.try(&g.submitting, nil)
}

// TryDecrypt admits one decryption system-wide and records which record it
// targets.
func (g *Guard) TryDecrypt(id contracts.RecordID) (release func(), ok bool) {
	return g.try(&g.decrypting, func() { g.record = id })
}

func (g *Guard) try(flag *bool, onAcquire func()) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if *flag {
		return func() {}, false
	}
	*flag = true
	if onAcquire != nil {
		onAcquire()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			*flag = false
			if flag == &g.decrypting {
				g.record = 0
			}
			g.mu.Unlock()
		})
	}, true
}

// Busy reports whether class c is in flight.
func (g *Guard) Busy(c Class) bool {
	f := g.Flags()
	switch c {
	case Refresh:
		return f.Refreshing
	case Submit:
		return f.Submitting
	default:
		return f.Decrypting
	}
}

// DecryptingRecord reports whether id is the record currently being decrypted.
func (g *Guard) DecryptingRecord(id contracts.RecordID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decrypting && g.record == id
}

// Flags returns a snapshot of all classes.
func (g *Guard) Flags() Flags {
	g.mu.Lock()
	defer g.mu.Unlock()
	f := Flags{
		Refreshing: g.refreshing,
		Submitting: g.submitting,
		Decrypting: g.decrypting,
	}
	if g.decrypting {
		id := g.record
		f.DecryptingRecord = &id
	}
	return f
}
