package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceKeyPrefix = "inventory:balance:"

// BalanceCache keeps recently read balances in Redis. Each entry is a hash
// holding the row version and the JSON balance; writes never replace a newer
// version, so a read that raced a commit cannot put an older row back.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// setIfNewer stores ARGV[2] at version ARGV[1] unless the cached version is higher.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// NewBalanceCache instantiates the cache helper.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func cacheKey(key BalanceKey) string {
	return balanceKeyPrefix + key.ItemID + ":" + key.WarehouseID + ":" + key.LocationID
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, key BalanceKey) (Balance, bool, error) {
	if c == nil || c.client == nil {
		return Balance{}, false, nil
	}
	payload, err := c.client.HGet(ctx, cacheKey(key), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	var bal Balance
	if err := json.Unmarshal(payload, &bal); err != nil {
		return Balance{}, false, err
	}
	return bal, true, nil
}

// Set stores bal unless a newer version is already cached.
func (c *BalanceCache) Set(ctx context.Context, bal Balance) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	return setIfNewer.Run(ctx, c.client, []string{cacheKey(bal.Key())}, bal.Version, raw, c.ttl.Milliseconds()).Err()
}

// Store writes committed balances, keeping the newest version of each key.
func (c *BalanceCache) Store(ctx context.Context, balances ...Balance) error {
	for _, bal := range balances {
		if err := c.Set(ctx, bal); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate removes the given keys.
func (c *BalanceCache) Invalidate(ctx context.Context, keys ...BalanceKey) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, cacheKey(k))
	}
	return c.client.Del(ctx, names...).Err()
}
