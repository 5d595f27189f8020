package keys_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/keys"
)

func newManager(t *testing.T) *keys.Manager {
	t.Helper()
	return keys.NewManager(cache.NewMemory(), 24*time.Hour, zap.NewNop())
}

func TestCurrentSigningKeyCreatesOnFirstUse(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	private, kid, err := manager.CurrentSigningKey(ctx)
	require.NoError(t, err)
	require.NotNil(t, private)
	require.NotEmpty(t, kid)

	// Second call resolves the same key instead of creating another.
	again, kidAgain, err := manager.CurrentSigningKey(ctx)
	require.NoError(t, err)
	require.Equal(t, kid, kidAgain)
	require.Equal(t, private.N, again.N)
}

func TestRotateKeepsOldKeyVerifiable(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	_, oldKid, err := manager.CurrentSigningKey(ctx)
	require.NoError(t, err)

	newKid, err := manager.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldKid, newKid)

	_, currentKid, err := manager.CurrentSigningKey(ctx)
	require.NoError(t, err)
	require.Equal(t, newKid, currentKid)

	// The rotated-out key must stay resolvable for verification.
	public, err := manager.KeyByKid(ctx, oldKid)
	require.NoError(t, err)
	require.NotNil(t, public)
}

func TestKeyByKidUnknown(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	_, err := manager.KeyByKid(ctx, "nope")
	require.ErrorIs(t, err, keys.ErrKeyNotFound)
}

func TestJWKSListsCurrentAndPrevious(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	_, oldKid, err := manager.CurrentSigningKey(ctx)
	require.NoError(t, err)

	newKid, err := manager.Rotate(ctx)
	require.NoError(t, err)

	set, err := manager.JWKS(ctx)
	require.NoError(t, err)

	var kids []string
	for _, key := range set.Keys {
		kids = append(kids, key.KeyID)
		require.Equal(t, "sig", key.Use)
		require.True(t, key.Valid())
	}
	require.Contains(t, kids, newKid)
	require.Contains(t, kids, oldKid)
}
