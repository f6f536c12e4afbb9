package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
)

func loaded(t *testing.T, h *harness) {
	t.Helper()
	require.Equal(t, StatusCompleted, h.ctrl.Refresh(context.Background()).Status)
}

// Record 7 with value handle 0xABC decrypts to 42 once; the second call
// is answered locally.
func TestDecrypt_ValueThenNoop(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0xABC")
	h.ledger.put(7, fakeRecord{owner: h.alice, label: "X", value: handle})
	h.fhe.set(handle, 42)
	loaded(t, h)
	ctx := context.Background()

	res := h.ctrl.DecryptValue(ctx, 7)
	require.Equal(t, StatusCompleted, res.Status, res.Message)
	require.NotNil(t, res.Record.Value)
	assert.Equal(t, uint64(42), *res.Record.Value)

	rec, ok := h.ctrl.Record(7)
	require.True(t, ok)
	assert.Equal(t, uint64(42), *rec.Value)

	again := h.ctrl.DecryptValue(ctx, 7)
	assert.Equal(t, StatusNoop, again.Status)
	assert.Equal(t, "record 7 value already decrypted", again.Message)
	assert.Equal(t, 1, h.fhe.count("Decrypt"))
	assert.Equal(t, int32(1), h.signer.calls.Load())

	rec, _ = h.ctrl.Record(7)
	assert.Equal(t, uint64(42), *rec.Value)
}

func TestDecrypt_RepeatedCallsNeverChangeValue(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0x01")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: handle})
	h.fhe.set(handle, 10)
	loaded(t, h)
	ctx := context.Background()

	require.Equal(t, StatusCompleted, h.ctrl.DecryptValue(ctx, 1).Status)
	h.fhe.set(handle, 99)
	for i := 0; i < 5; i++ {
		assert.Equal(t, StatusNoop, h.ctrl.DecryptValue(ctx, 1).Status)
	}
	rec, _ := h.ctrl.Record(1)
	assert.Equal(t, uint64(10), *rec.Value)
}

func TestDecrypt_Flag(t *testing.T) {
	h := newHarness(t)
	vh, fh := contracts.HexToHandle("0x01"), contracts.HexToHandle("0x02")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: vh, flag: fh})
	h.fhe.set(vh, 85)
	h.fhe.set(fh, 1)
	loaded(t, h)
	ctx := context.Background()

	require.Equal(t, StatusCompleted, h.ctrl.DecryptFlag(ctx, 1).Status)
	require.Equal(t, StatusCompleted, h.ctrl.DecryptValue(ctx, 1).Status)

	rec, _ := h.ctrl.Record(1)
	require.NotNil(t, rec.Flag)
	assert.True(t, *rec.Flag)
	assert.Equal(t, uint64(85), *rec.Value)
	assert.Equal(t, int32(1), h.signer.calls.Load(), "cached capability reused")
}

func TestDecrypt_Preconditions(t *testing.T) {
	h := newHarness(t)
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X"})
	ctx := context.Background()

	res := h.ctrl.DecryptValue(ctx, 1)
	assert.Equal(t, StatusPrecondition, res.Status, "not loaded yet")
	assert.ErrorIs(t, res.Err, ErrNothingToDecrypt)

	loaded(t, h)
	res = h.ctrl.DecryptValue(ctx, 1)
	assert.Equal(t, StatusPrecondition, res.Status)
	assert.ErrorIs(t, res.Err, ErrNothingToDecrypt)
	assert.Equal(t, "nothing to decrypt: record 1 has no encrypted value", res.Message)
	assert.Empty(t, h.errorMessages())
	assert.Zero(t, h.signer.calls.Load())
	assert.False(t, h.ctrl.Flags().Decrypting)
}

func TestDecrypt_CapabilityUnavailable(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0x01")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: handle})
	h.fhe.set(handle, 5)
	loaded(t, h)
	h.wallet.SetRejecting(h.alice, true)

	res := h.ctrl.DecryptValue(context.Background(), 1)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "unable to obtain decryption capability")
	assert.Zero(t, h.fhe.count("Decrypt"))
	assert.False(t, h.ctrl.Flags().Decrypting)
	assert.True(t, h.ctrl.CanDecrypt(1, contracts.FieldValue))

	h.wallet.SetRejecting(h.alice, false)
	assert.Equal(t, StatusCompleted, h.ctrl.DecryptValue(context.Background(), 1).Status)
}

func TestDecrypt_ProviderFailure(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0x01")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: handle})
	loaded(t, h)

	res := h.ctrl.DecryptValue(context.Background(), 1)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, fhe.ErrMissingResult)

	h.fhe.fail("Decrypt", errors.New("relayer down"))
	res = h.ctrl.DecryptValue(context.Background(), 1)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Len(t, h.errorMessages(), 2)
}

func TestDecrypt_DiscardedWhenIdentitySwitches(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0x01")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: handle})
	h.fhe.set(handle, 77)
	loaded(t, h)

	h.fhe.hook("Decrypt", func() { h.session.SwitchIdentity(h.bob) })
	res := h.ctrl.DecryptValue(context.Background(), 1)
	assert.Equal(t, StatusDiscarded, res.Status)
	assert.Empty(t, h.errorMessages())

	h.fhe.hook("Decrypt", nil)
	h.session.SwitchIdentity(h.alice)
	rec, ok := h.ctrl.Record(1)
	require.True(t, ok)
	assert.Nil(t, rec.Value, "stale plaintext must not be merged")
}

func TestDecrypt_SwitchDuringSigningLeavesCapabilitiesUntouched(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0x01")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: handle})
	h.fhe.set(handle, 77)
	loaded(t, h)

	h.signer.after = func() { h.session.SwitchIdentity(h.bob) }
	res := h.ctrl.DecryptValue(context.Background(), 1)
	assert.Equal(t, StatusDiscarded, res.Status)
	assert.Equal(t, int32(1), h.signer.calls.Load())
	assert.Equal(t, 0, h.caps.Len())
	assert.Equal(t, 0, h.fhe.count("Decrypt"))
	assert.Empty(t, h.errorMessages())
}

func TestDecrypt_DiscardedWhenRefreshReplacesEpoch(t *testing.T) {
	h := newHarness(t)
	handle := contracts.HexToHandle("0x01")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: handle})
	h.fhe.set(handle, 77)
	loaded(t, h)

	// network flips and back during the round trip; the record map now
	// belongs to a refresh on the other network
	h.fhe.hook("Decrypt", func() {
		h.session.SwitchNetwork(1)
		h.ctrl.Refresh(context.Background())
		h.session.SwitchNetwork(testNetwork)
	})
	res := h.ctrl.DecryptValue(context.Background(), 1)
	assert.Equal(t, StatusDiscarded, res.Status)
}

func TestDecrypt_SecondCallWhileInFlightIsNoop(t *testing.T) {
	h := newHarness(t)
	a, b := contracts.HexToHandle("0x01"), contracts.HexToHandle("0x02")
	h.ledger.put(1, fakeRecord{owner: h.alice, label: "X", value: a})
	h.ledger.put(2, fakeRecord{owner: h.alice, label: "Y", value: b})
	h.fhe.set(a, 1)
	h.fhe.set(b, 2)
	loaded(t, h)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.fhe.hook("Decrypt", func() {
		close(entered)
		<-unblock
	})

	done := make(chan Result)
	go func() { done <- h.ctrl.DecryptValue(context.Background(), 1) }()
	<-entered

	flags := h.ctrl.Flags()
	assert.True(t, flags.Decrypting)
	require.NotNil(t, flags.DecryptingRecord)
	assert.Equal(t, contracts.RecordID(1), *flags.DecryptingRecord)
	assert.Equal(t, StatusBusy, h.ctrl.DecryptValue(context.Background(), 2).Status)
	assert.False(t, h.ctrl.CanDecrypt(2, contracts.FieldValue))

	close(unblock)
	assert.Equal(t, StatusCompleted, (<-done).Status)
	assert.Equal(t, 1, h.fhe.count("Decrypt"))
}
