package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
	"github.com/Mindburn-Labs/scorevault/pkg/records"
)

// DecryptValue decrypts the value field of record id.
func (c *Controller) DecryptValue(ctx context.Context, id contracts.RecordID) Result {
	return c.Decrypt(ctx, id, contracts.FieldValue)
}

// DecryptFlag decrypts the flag field of record id.
func (c *Controller) DecryptFlag(ctx context.Context, id contracts.RecordID) Result {
	return c.Decrypt(ctx, id, contracts.FieldFlag)
}

// Decrypt obtains the plaintext of field on record id and merges it into the
// record. A field that already holds a plaintext is left alone and no round
// trip happens.
func (c *Controller) Decrypt(ctx context.Context, id contracts.RecordID, field contracts.Field) Result {
	if rec, ok := c.Record(id); ok && rec.Decrypted(field) {
		res := alreadyDecrypted(rec, field)
		c.reporter.Report(ctx, Message{Time: c.clock(), Workflow: "decrypt", Level: LevelInfo, Text: res.Message})
		return res
	}

	release, ok := c.guard.TryDecrypt(id)
	if !ok {
		return Result{Status: StatusBusy}
	}
	defer release()

	ctx, r := c.start(ctx, "decrypt")
	r.logger = r.logger.With("record_id", uint64(id), "field", field.String())
	return r.finish(ctx, c.decrypt(ctx, r, id, field))
}

func (c *Controller) decrypt(ctx context.Context, r *run, id contracts.RecordID, field contracts.Field) Result {
	snap := c.records.Snapshot()
	rec, ok := snap.Get(id)
	if !ok || !snap.Epoch.Equal(r.epoch) {
		return precondition(fmt.Errorf("%w: record %d is not loaded", ErrNothingToDecrypt, id))
	}
	if rec.Decrypted(field) {
		return alreadyDecrypted(rec, field)
	}
	handle := rec.Handle(field)
	if handle.IsZero() {
		return precondition(fmt.Errorf("%w: record %d has no encrypted %s", ErrNothingToDecrypt, id, field))
	}

	dep, res := r.deployment()
	if res != nil {
		return *res
	}
	target := dep.Ledger.Address()

	capability, err := c.caps.Acquire(ctx, []common.Address{target}, r.epoch.Identity, capabilities.UnlessStale(r.stale))
	if err != nil {
		if errors.Is(err, capabilities.ErrUnavailable) {
			return failed("unable to obtain decryption capability", err)
		}
		return failed("capability acquisition failed", err)
	}
	if r.stale() {
		return r.discard()
	}

	r.info(ctx, "decrypting record %d %s", id, field)
	plain, err := dep.Decryptor.Decrypt(ctx, []fhe.HandleRef{{Handle: handle, Address: target}}, capability)
	if err != nil {
		return failed("decryption failed", err)
	}
	v, ok := plain[handle]
	if !ok {
		return failed("decryption failed", fmt.Errorf("%w: %s", fhe.ErrMissingResult, handle))
	}
	if r.stale() {
		return r.discard()
	}

	updated, changed, err := c.records.ApplyClear(r.epoch, id, field, v)
	switch {
	case errors.Is(err, records.ErrEpochChanged), errors.Is(err, records.ErrNotFound):
		return r.discard()
	case err != nil:
		return failed("merge failed", err)
	case !changed:
		return alreadyDecrypted(updated, field)
	}
	return Result{
		Status:  StatusCompleted,
		Message: fmt.Sprintf("record %d %s decrypted", id, field),
		Record:  &updated,
	}
}

func alreadyDecrypted(rec contracts.Record, field contracts.Field) Result {
	return Result{
		Status:  StatusNoop,
		Message: fmt.Sprintf("record %d %s already decrypted", rec.ID, field),
		Record:  &rec,
	}
}
