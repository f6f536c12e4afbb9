package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

// Refresh reloads the owned records of the active identity and swaps them in
// as one new generation. Records whose fetch fails are left out.
func (c *Controller) Refresh(ctx context.Context) Result {
	release, ok := c.guard.TryRefresh()
	if !ok {
		return Result{Status: StatusBusy}
	}
	defer release()

	ctx, r := c.start(ctx, "refresh")
	return r.finish(ctx, c.refresh(ctx, r))
}

func (c *Controller) refresh(ctx context.Context, r *run) Result {
	dep, res := r.deployment()
	if res != nil {
		if res.Status == StatusPrecondition {
			// nothing can be owned without an identity or a ledger
			c.records.Reset(r.epoch)
		}
		return *res
	}

	ids, err := dep.Ledger.OwnedRecordIDs(ctx, r.epoch.Identity)
	if err != nil {
		return failed("list owned records", err)
	}

	fetched := make([]*contracts.Record, len(ids))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := fetchRecord(ctx, dep.Ledger, id)
			if err != nil {
				r.logger.WarnContext(ctx, "record fetch failed, omitting", "record_id", uint64(id), "error", err)
				return nil
			}
			fetched[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	if r.stale() {
		return r.discard()
	}

	recs := make([]contracts.Record, 0, len(fetched))
	for _, rec := range fetched {
		if rec != nil {
			recs = append(recs, *rec)
		}
	}
	snap := c.records.Replace(r.epoch, recs)

	return Result{
		Status:     StatusCompleted,
		Message:    fmt.Sprintf("loaded %d records", snap.Len()),
		Generation: snap.Generation,
		Records:    snap.Len(),
	}
}

// fetchRecord loads the label and both handles of id concurrently.
func fetchRecord(ctx context.Context, l ledger.Reader, id contracts.RecordID) (contracts.Record, error) {
	rec := contracts.Record{ID: id}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rec.Label, err = l.RecordLabel(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		rec.ValueHandle, err = l.EncryptedValueHandle(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		rec.FlagHandle, err = l.EncryptedFlagHandle(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return contracts.Record{}, err
	}
	return rec, nil
}
