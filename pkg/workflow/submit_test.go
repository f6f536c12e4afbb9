package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

func TestSubmit_OutOfRangeNeverRoundTrips(t *testing.T) {
	for _, v := range []int64{-1, 101, -1 << 40, 1 << 40} {
		h := newHarness(t)
		res := h.ctrl.Submit(context.Background(), Submission{Value: v, Label: "X"})

		assert.Equal(t, StatusInvalid, res.Status, "value %d", v)
		assert.ErrorIs(t, res.Err, ErrOutOfRange)
		assert.Zero(t, h.fhe.count("Encrypt"))
		assert.Zero(t, h.ledger.count("SubmitEncryptedValue"))
		require.Len(t, h.errorMessages(), 1)
		assert.Equal(t, "value must be between 0 and 100", h.errorMessages()[0].Text)
		assert.False(t, h.ctrl.Flags().Submitting)
	}
}

func TestSubmit_BoundsAreInclusive(t *testing.T) {
	h := newHarness(t)
	for _, v := range []int64{0, 100} {
		res := h.ctrl.Submit(context.Background(), Submission{Value: v, Label: "edge"})
		assert.Equal(t, StatusCompleted, res.Status, "value %d", v)
	}
}

func TestSubmit_CustomBounds(t *testing.T) {
	h := newHarness(t, WithBounds(10, 20))
	assert.Equal(t, StatusInvalid, h.ctrl.Submit(context.Background(), Submission{Value: 5, Label: "x"}).Status)
	assert.Equal(t, StatusCompleted, h.ctrl.Submit(context.Background(), Submission{Value: 15, Label: "x"}).Status)
}

func TestSubmit_LabelRequired(t *testing.T) {
	h := newHarness(t)
	res := h.ctrl.Submit(context.Background(), Submission{Value: 50, Label: "   "})
	assert.Equal(t, StatusInvalid, res.Status)
	assert.ErrorIs(t, res.Err, ErrEmptyLabel)
	assert.Zero(t, h.fhe.count("Encrypt"))
}

func TestSubmit_CompletesAndRefreshes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.ctrl.Submit(ctx, Submission{Value: 85, Label: "Cafe\u0301"})
	require.Equal(t, StatusCompleted, res.Status, res.Message)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, ledger.StatusSuccessful, res.Receipt.Status)
	assert.Equal(t, "submission completed status=success", res.Message)

	recs := h.ctrl.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Caf\u00e9", recs[0].Label, "label is NFC normalized")
	assert.False(t, recs[0].ValueHandle.IsZero())
	assert.Equal(t, 1, h.ledger.count("OwnedRecordIDs"))
	assert.False(t, h.ctrl.Flags().Submitting)

	var texts []string
	for _, m := range h.log.Entries() {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "submission completed status=success")
	assert.Contains(t, texts, "loaded 1 records")
}

func TestSubmit_RevertedReceipt(t *testing.T) {
	h := newHarness(t)
	h.ledger.status = ledger.StatusFailed

	res := h.ctrl.Submit(context.Background(), Submission{Value: 85, Label: "X"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ledger.ErrReverted)
	assert.Equal(t, "submission completed status=failed", res.Message)
	assert.Zero(t, h.ledger.count("OwnedRecordIDs"))
}

func TestSubmit_RevertedReceiptAfterIdentitySwitchIsSilent(t *testing.T) {
	h := newHarness(t)
	h.ledger.status = ledger.StatusFailed
	h.ledger.hook("AwaitConfirmation", func() { h.session.SwitchIdentity(h.bob) })

	res := h.ctrl.Submit(context.Background(), Submission{Value: 85, Label: "X"})
	assert.Equal(t, StatusDiscarded, res.Status)
	assert.Nil(t, res.Receipt)
	assert.Empty(t, h.errorMessages())
	assert.True(t, h.ctrl.CanSubmit())
}

func TestSubmit_RoundTripFailuresReleaseGuard(t *testing.T) {
	for _, step := range []string{"Encrypt", "SubmitEncryptedValue", "AwaitConfirmation"} {
		t.Run(step, func(t *testing.T) {
			h := newHarness(t)
			boom := errors.New(step + " failed")
			if step == "Encrypt" {
				h.fhe.fail(step, boom)
			} else {
				h.ledger.fail(step, boom)
			}

			res := h.ctrl.Submit(context.Background(), Submission{Value: 50, Label: "X"})
			assert.Equal(t, StatusFailed, res.Status)
			assert.ErrorIs(t, res.Err, boom)
			assert.Len(t, h.errorMessages(), 1)
			assert.False(t, h.ctrl.Flags().Submitting)
			assert.True(t, h.ctrl.CanSubmit())
		})
	}
}

// Submitting under one identity and switching to another before the
// confirmation arrives drops the result and skips the follow-up refresh.
func TestSubmit_IdentitySwitchBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.hook("AwaitConfirmation", func() { h.session.SwitchIdentity(h.bob) })

	res := h.ctrl.Submit(ctx, Submission{Value: 85, Label: "X"})
	assert.Equal(t, StatusDiscarded, res.Status)
	assert.Zero(t, h.ledger.count("OwnedRecordIDs"), "no refresh triggered by a stale submission")
	assert.Empty(t, h.ctrl.Records())
	assert.Empty(t, h.errorMessages())

	require.Equal(t, StatusCompleted, h.ctrl.Refresh(ctx).Status)
	assert.Empty(t, h.ctrl.Records(), "nothing added to the new identity's view")
}

func TestSubmit_IdentitySwitchAfterEncrypt(t *testing.T) {
	h := newHarness(t)
	h.fhe.hook("Encrypt", func() { h.session.SwitchIdentity(h.bob) })

	res := h.ctrl.Submit(context.Background(), Submission{Value: 10, Label: "X"})
	assert.Equal(t, StatusDiscarded, res.Status)
	assert.Zero(t, h.ledger.count("SubmitEncryptedValue"))
}

func TestSubmit_SecondCallWhileInFlightIsNoop(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.fhe.hook("Encrypt", func() {
		close(entered)
		<-unblock
	})

	done := make(chan Result)
	go func() { done <- h.ctrl.Submit(context.Background(), Submission{Value: 1, Label: "a"}) }()
	<-entered

	assert.False(t, h.ctrl.CanSubmit())
	assert.Equal(t, StatusBusy, h.ctrl.Submit(context.Background(), Submission{Value: 2, Label: "b"}).Status)

	close(unblock)
	assert.Equal(t, StatusCompleted, (<-done).Status)
	assert.Equal(t, 1, h.fhe.count("Encrypt"))
}

func TestSubmit_DefaultContentRef(t *testing.T) {
	h := newHarness(t)
	s, invalid := h.ctrl.validate(Submission{Value: 1, Label: " x "})
	require.Nil(t, invalid)
	assert.Equal(t, "x", s.Label)
	assert.Regexp(t, `^urn:uuid:[0-9a-f-]{36}$`, s.ContentRef)

	s, invalid = h.ctrl.validate(Submission{Value: 1, Label: "x", ContentRef: "ipfs://cid"})
	require.Nil(t, invalid)
	assert.Equal(t, "ipfs://cid", s.ContentRef)
}
