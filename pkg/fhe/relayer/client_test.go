package relayer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
	"github.com/Mindburn-Labs/scorevault/pkg/devnet"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
)

var secret = []byte("relayer-test-secret")

func startRelayer(t *testing.T) (*devnet.Network, *httptest.Server) {
	t.Helper()
	n, db, err := devnet.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(devnet.NewServer(n, devnet.WithJWTSecret(secret)))
	t.Cleanup(srv.Close)
	return n, srv
}

func newClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	token, err := NewToken(secret, "tester", time.Minute)
	require.NoError(t, err)
	return New(url, append([]Option{WithToken(token)}, opts...)...)
}

func TestCheckVersion(t *testing.T) {
	_, srv := startRelayer(t)
	ctx := context.Background()

	require.NoError(t, newClient(t, srv.URL).CheckVersion(ctx))

	err := newClient(t, srv.URL, WithConstraint("^1.0")).CheckVersion(ctx)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestEncryptSubmitDecrypt(t *testing.T) {
	n, srv := startRelayer(t)
	ctx := context.Background()
	c := newClient(t, srv.URL)

	owner, err := crypto.NewSecpSigner()
	require.NoError(t, err)

	in, err := c.Encrypt(ctx, n.Address(), owner.Address(), 72)
	require.NoError(t, err)
	tx, err := n.SubmitEncryptedValue(ctx, owner.Address(), in.Handle, in.Proof, "Chemistry", "ipfs://x")
	require.NoError(t, err)
	receipt, err := n.AwaitConfirmation(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, receipt.Check())

	ids, err := n.OwnedRecordIDs(ctx, owner.Address())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	vh, err := n.EncryptedValueHandle(ctx, ids[0])
	require.NoError(t, err)
	fh, err := n.EncryptedFlagHandle(ctx, ids[0])
	require.NoError(t, err)

	caps := capabilities.New(capabilities.NewMemoryStorage(), crypto.NewWallet(owner))
	capability, err := caps.Acquire(ctx, []common.Address{n.Address()}, owner.Address())
	require.NoError(t, err)

	refs := []fhe.HandleRef{{Handle: vh, Address: n.Address()}, {Handle: fh, Address: n.Address()}}
	got, err := c.Decrypt(ctx, refs, capability)
	require.NoError(t, err)
	assert.Equal(t, map[contracts.Handle]uint64{vh: 72, fh: 1}, got)
}

func TestDecrypt_ForeignCapabilityIsForbidden(t *testing.T) {
	n, srv := startRelayer(t)
	ctx := context.Background()
	c := newClient(t, srv.URL)

	owner, err := crypto.NewSecpSigner()
	require.NoError(t, err)
	other, err := crypto.NewSecpSigner()
	require.NoError(t, err)

	in, err := c.Encrypt(ctx, n.Address(), owner.Address(), 10)
	require.NoError(t, err)
	_, err = n.SubmitEncryptedValue(ctx, owner.Address(), in.Handle, in.Proof, "x", "y")
	require.NoError(t, err)
	ids, err := n.OwnedRecordIDs(ctx, owner.Address())
	require.NoError(t, err)
	vh, err := n.EncryptedValueHandle(ctx, ids[0])
	require.NoError(t, err)

	caps := capabilities.New(capabilities.NewMemoryStorage(), crypto.NewWallet(other))
	capability, err := caps.Acquire(ctx, []common.Address{n.Address()}, other.Address())
	require.NoError(t, err)

	_, err = c.Decrypt(ctx, []fhe.HandleRef{{Handle: vh, Address: n.Address()}}, capability)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	n, srv := startRelayer(t)

	_, err := New(srv.URL).Encrypt(context.Background(), n.Address(), n.Address(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestRateLimitHonoursContext(t *testing.T) {
	_, srv := startRelayer(t)
	c := newClient(t, srv.URL, WithRateLimit(0.001, 1))

	ctx := context.Background()
	_, err := c.Version(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = c.Version(short)
	assert.Error(t, err)
}

func TestDecrypt_MissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{}}`))
	}))
	defer srv.Close()

	pub, priv, err := crypto.GenerateHolderKey()
	require.NoError(t, err)
	capability := &contracts.Capability{HolderPublicKey: pub, HolderPrivateKey: priv}

	_, err = New(srv.URL).Decrypt(context.Background(), []fhe.HandleRef{{Handle: contracts.HexToHandle("0x01")}}, capability)
	assert.ErrorIs(t, err, fhe.ErrMissingResult)
}
