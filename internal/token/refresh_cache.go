package token

import (
	"context"
	"time"

	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/domain"
)

const refreshPrefix = "refresh:"

var _ RefreshStore = (*CacheRefreshStore)(nil)

// CacheRefreshStore keeps refresh tokens in the TTL store. Revocation is a
// single atomic delete, so rotate-on-use cannot double-spend a token.
type CacheRefreshStore struct {
	store cache.Store
}

// NewCacheRefreshStore wires the cache-backed refresh store.
func NewCacheRefreshStore(store cache.Store) *CacheRefreshStore {
	return &CacheRefreshStore{store: store}
}

func (c *CacheRefreshStore) Save(ctx context.Context, record domain.RefreshToken, ttl time.Duration) error {
	return c.store.Set(ctx, refreshPrefix+record.Token, record, ttl)
}

func (c *CacheRefreshStore) Find(ctx context.Context, token string) (domain.RefreshToken, bool, error) {
	var record domain.RefreshToken
	ok, err := c.store.Get(ctx, refreshPrefix+token, &record)
	if err != nil || !ok {
		return domain.RefreshToken{}, false, err
	}
	return record, true, nil
}

func (c *CacheRefreshStore) Revoke(ctx context.Context, token string) (bool, error) {
	return c.store.Delete(ctx, refreshPrefix+token)
}
