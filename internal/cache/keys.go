package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/store"
)

// ErrKeyNotFound is returned by Validate for a key absent from the cache.
var ErrKeyNotFound = errors.New("cache: api key not found")

type keySnapshot struct {
	byValue map[string]*store.ApiKey
}

// KeyCache caches API key records, indexed by key value for O(1)
// validation.
type KeyCache struct {
	client      *store.Client
	snap        atomic.Pointer[keySnapshot]
	initialized atomic.Bool
	lastRefresh atomic.Int64 // unix millis
}

// NewKeyCache creates an API key cache with an empty snapshot.
func NewKeyCache(client *store.Client) *KeyCache {
	c := &KeyCache{client: client}
	c.snap.Store(&keySnapshot{byValue: map[string]*store.ApiKey{}})
	return c
}

// Refresh performs a full reload and atomic swap; the previous snapshot is
// kept on failure.
func (c *KeyCache) Refresh(ctx context.Context) error {
	keys, err := c.client.APIKeys(ctx)
	if err != nil {
		logging.Warn("API key cache refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	byValue := make(map[string]*store.ApiKey, len(keys))
	for _, key := range keys {
		byValue[key.KeyValue] = key
	}

	c.snap.Store(&keySnapshot{byValue: byValue})
	c.initialized.Store(true)
	c.lastRefresh.Store(time.Now().UnixMilli())
	logging.Info("API key cache refreshed", zap.Int("keys", len(keys)))
	return nil
}

// Validate looks up a key by value. It never blocks and never reaches the
// network; unknown keys fail with ErrKeyNotFound. Whether the record is
// usable (active, unexpired) is the caller's judgment.
func (c *KeyCache) Validate(keyValue string) (*store.ApiKey, error) {
	key, ok := c.snap.Load().byValue[keyValue]
	if !ok {
		logging.Debug("API key not found in cache", zap.String("key", store.MaskKey(keyValue)))
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Initialized reports whether a refresh has ever succeeded.
func (c *KeyCache) Initialized() bool {
	return c.initialized.Load()
}

// Stats returns the cache's refresh state.
func (c *KeyCache) Stats() Stats {
	return Stats{
		Initialized: c.initialized.Load(),
		Size:        len(c.snap.Load().byValue),
		LastRefresh: time.UnixMilli(c.lastRefresh.Load()),
	}
}

// Run refreshes the cache on a fixed interval until ctx is canceled.
func (c *KeyCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
