package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Submission is a plaintext value to encrypt and record on the ledger.
type Submission struct {
	Value      int64
	Label      string
	ContentRef string
}

// Submit encrypts s.Value, submits it to the ledger, waits for confirmation
// and then refreshes the owned records. Out-of-range values are rejected
// before any round trip.
func (c *Controller) Submit(ctx context.Context, s Submission) Result {
	release, ok := c.guard.TrySubmit()
	if !ok {
		return Result{Status: StatusBusy}
	}
	defer release()

	ctx, r := c.start(ctx, "submit")
	return r.finish(ctx, c.submit(ctx, r, s))
}

func (c *Controller) validate(s Submission) (Submission, *Result) {
	if s.Value < c.minValue || s.Value > c.maxValue {
		return s, &Result{
			Status:  StatusInvalid,
			Message: fmt.Sprintf("value must be between %d and %d", c.minValue, c.maxValue),
			Err:     fmt.Errorf("%w: %d", ErrOutOfRange, s.Value),
		}
	}
	s.Label = norm.NFC.String(strings.TrimSpace(s.Label))
	if s.Label == "" {
		return s, &Result{Status: StatusInvalid, Message: "label is required", Err: ErrEmptyLabel}
	}
	if s.ContentRef == "" {
		s.ContentRef = "urn:uuid:" + uuid.NewString()
	}
	return s, nil
}

func (c *Controller) submit(ctx context.Context, r *run, s Submission) Result {
	s, invalid := c.validate(s)
	if invalid != nil {
		return *invalid
	}
	dep, res := r.deployment()
	if res != nil {
		return *res
	}
	target := dep.Ledger.Address()

	r.info(ctx, "encrypting value for %s", target.Hex())
	input, err := dep.Encryptor.Encrypt(ctx, target, r.epoch.Identity, uint64(s.Value))
	if err != nil {
		return failed("encryption failed", err)
	}
	if r.stale() {
		return r.discard()
	}

	r.info(ctx, "submitting encrypted value %q", s.Label)
	tx, err := dep.Ledger.SubmitEncryptedValue(ctx, r.epoch.Identity, input.Handle, input.Proof, s.Label, s.ContentRef)
	if err != nil {
		return failed("submission failed", err)
	}

	r.info(ctx, "waiting for tx %s", tx)
	receipt, err := dep.Ledger.AwaitConfirmation(ctx, tx)
	if err != nil {
		return failed("confirmation failed", err)
	}
	if r.stale() {
		return r.discard()
	}
	if err := receipt.Check(); err != nil {
		return Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("submission completed status=%s", receipt.Status),
			Err:     err,
			Receipt: &receipt,
		}
	}

	// a refresh already in flight makes this one a no-op
	c.Refresh(ctx)

	return Result{
		Status:  StatusCompleted,
		Message: fmt.Sprintf("submission completed status=%s", receipt.Status),
		Receipt: &receipt,
	}
}
