// Package records holds the owned-record view as immutable snapshots.
//
// Readers load a snapshot and never see it change underneath them. Writers
// either swap in a whole new snapshot (Replace) or build a modified copy of
// the current one (Merge); no snapshot is ever mutated in place.
package records

import (
	"errors"
	"slices"
	"sync/atomic"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

// ErrNotFound is returned when a record id is not in the current snapshot.
var ErrNotFound = errors.New("records: not found")

// ErrEpochChanged is returned by Merge when the snapshot belongs to a
// different epoch than the caller's.
var ErrEpochChanged = errors.New("records: epoch changed")

// Snapshot is one immutable generation of the record map.
type Snapshot struct {
	Generation uint64
	Epoch      contracts.Epoch
	records    map[contracts.RecordID]contracts.Record
}

// Get returns the record with the given id.
func (s *Snapshot) Get(id contracts.RecordID) (contracts.Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.records) }

// List returns the records sorted by id.
func (s *Snapshot) List() []contracts.Record {
	out := make([]contracts.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b contracts.Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Cache publishes snapshots through an atomic pointer.
type Cache struct {
	cur atomic.Pointer[Snapshot]
}

// NewCache returns a cache holding an empty generation-0 snapshot.
func NewCache() *Cache {
	c := &Cache{}
	c.cur.Store(&Snapshot{records: map[contracts.RecordID]contracts.Record{}})
	return c
}

// Snapshot returns the current generation.
func (c *Cache) Snapshot() *Snapshot {
	return c.cur.Load()
}

// Replace installs recs as a new generation for epoch. Decrypted fields from
// the previous generation are carried over when the epoch and the handles
// match, so a refresh never loses plaintext already obtained.
func (c *Cache) Replace(epoch contracts.Epoch, recs []contracts.Record) *Snapshot {
	for {
		prev := c.cur.Load()
		next := &Snapshot{
			Generation: prev.Generation + 1,
			Epoch:      epoch,
			records:    make(map[contracts.RecordID]contracts.Record, len(recs)),
		}
		sameEpoch := prev.Epoch.Equal(epoch)
		for _, r := range recs {
			if old, ok := prev.records[r.ID]; ok && sameEpoch {
				r = r.CarryClear(old)
			}
			next.records[r.ID] = r
		}
		if c.cur.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Reset installs an empty generation for epoch.
func (c *Cache) Reset(epoch contracts.Epoch) *Snapshot {
	return c.Replace(epoch, nil)
}

// Merge applies fn to record id and publishes the result as a new generation.
// fn receives a copy and reports whether it changed anything; when it did
// not, no generation is published. Merge retries if another writer published
// in between.
func (c *Cache) Merge(epoch contracts.Epoch, id contracts.RecordID, fn func(contracts.Record) (contracts.Record, bool)) (contracts.Record, bool, error) {
	for {
		prev := c.cur.Load()
		if !prev.Epoch.Equal(epoch) {
			return contracts.Record{}, false, ErrEpochChanged
		}
		r, ok := prev.records[id]
		if !ok {
			return contracts.Record{}, false, ErrNotFound
		}
		updated, changed := fn(r)
		if !changed {
			return r, false, nil
		}
		next := &Snapshot{
			Generation: prev.Generation + 1,
			Epoch:      prev.Epoch,
			records:    make(map[contracts.RecordID]contracts.Record, len(prev.records)),
		}
		for k, v := range prev.records {
			next.records[k] = v
		}
		next.records[id] = updated
		if c.cur.CompareAndSwap(prev, next) {
			return updated, true, nil
		}
	}
}

// ApplyClear sets field f of record id from plain unless it is already set.
func (c *Cache) ApplyClear(epoch contracts.Epoch, id contracts.RecordID, f contracts.Field, plain uint64) (contracts.Record, bool, error) {
	return c.Merge(epoch, id, func(r contracts.Record) (contracts.Record, bool) {
		return r.WithClear(f, plain)
	})
}
