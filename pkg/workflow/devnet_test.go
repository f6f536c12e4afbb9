package workflow

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
	"github.com/Mindburn-Labs/scorevault/pkg/devnet"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe/relayer"
	"github.com/Mindburn-Labs/scorevault/pkg/identity"
)

func TestEndToEndOnDevnet(t *testing.T) {
	ctx := context.Background()
	n, db, err := devnet.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(devnet.NewServer(n))
	t.Cleanup(srv.Close)
	client := relayer.New(srv.URL)
	require.NoError(t, client.CheckVersion(ctx))

	owner, err := crypto.NewSecpSigner()
	require.NoError(t, err)
	session := identity.NewSession(n.ChainID(), owner.Address())
	caps := capabilities.New(capabilities.NewMemoryStorage(), crypto.NewWallet(owner))
	resolver := StaticResolver{n.ChainID(): {Ledger: n, Encryptor: client, Decryptor: client}}
	ctrl := New(resolver, caps, identity.NewTracker(session))

	for _, s := range []Submission{{Value: 85, Label: "Algebra"}, {Value: 40, Label: "History"}} {
		res := ctrl.Submit(ctx, s)
		require.Equal(t, StatusCompleted, res.Status, res.Message)
	}

	recs := ctrl.Records()
	require.Len(t, recs, 2)

	for _, rec := range recs {
		require.Equal(t, StatusCompleted, ctrl.DecryptValue(ctx, rec.ID).Status)
		require.Equal(t, StatusCompleted, ctrl.DecryptFlag(ctx, rec.ID).Status)
	}

	first, _ := ctrl.Record(recs[0].ID)
	second, _ := ctrl.Record(recs[1].ID)
	assert.Equal(t, uint64(85), *first.Value)
	assert.True(t, *first.Flag)
	assert.Equal(t, uint64(40), *second.Value)
	assert.False(t, *second.Flag)

	count, err := ctrl.RecordCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}
