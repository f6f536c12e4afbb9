package crypto

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecpSigner_SignAndRecover(t *testing.T) {
	s, err := NewSecpSigner()
	require.NoError(t, err)

	msg := []byte(`{"durationDays":365}`)
	sig, err := s.SignText(msg)
	require.NoError(t, err)

	ok, err := VerifyText(s.Address(), sig, msg)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyText(s.Address(), sig, []byte("tampered"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = RecoverText("0x1234", msg)
	assert.Error(t, err)
}

func TestNewSecpSignerFromHex(t *testing.T) {
	// first hardhat development account
	s, err := NewSecpSignerFromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	_, err = NewSecpSignerFromHex("zz")
	assert.Error(t, err)
}

func TestCanonicalMarshal_SortsKeys(t *testing.T) {
	out, err := CanonicalMarshal(map[string]any{"b": 1, "a": "<x>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1}`, string(out))

	h1, err := CanonicalHash(map[string]int{"x": 1, "y": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]int{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHolderSealRoundTrip(t *testing.T) {
	pub, priv, err := GenerateHolderKey()
	require.NoError(t, err)

	sealed, err := SealToHolder(pub, []byte("42"))
	require.NoError(t, err)

	plain, err := OpenAsHolder(pub, priv, sealed)
	require.NoError(t, err)
	assert.Equal(t, "42", string(plain))

	otherPub, otherPriv, err := GenerateHolderKey()
	require.NoError(t, err)
	_, err = OpenAsHolder(otherPub, otherPriv, sealed)
	assert.ErrorIs(t, err, ErrSealedOpen)

	_, err = SealToHolder([]byte{1}, nil)
	assert.Error(t, err)
}

func TestWallet(t *testing.T) {
	s, err := NewSecpSigner()
	require.NoError(t, err)
	w := NewWallet(s)
	ctx := context.Background()

	assert.Equal(t, []common.Address{s.Address()}, w.Accounts())

	sig, err := w.SignAuthorization(ctx, s.Address(), []byte("payload"))
	require.NoError(t, err)
	ok, err := VerifyText(s.Address(), sig, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, ok)

	w.SetRejecting(s.Address(), true)
	_, err = w.SignAuthorization(ctx, s.Address(), []byte("payload"))
	assert.ErrorIs(t, err, ErrRejected)

	_, err = w.SignAuthorization(ctx, common.HexToAddress("0x01"), nil)
	assert.ErrorIs(t, err, ErrUnknownAccount)

	opts, err := w.TransactOpts(ctx, s.Address(), big.NewInt(31337))
	require.NoError(t, err)
	assert.Equal(t, s.Address(), opts.From)

	w.RevokeKey(s.Address())
	assert.Empty(t, w.Accounts())
}
