package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// stockCacheKey / stockCacheTTL follow the teacher's redisx key-format
// convention but point at stock visibility instead of order status.
const (
	stockCacheKey = "stock:%s"
	stockCacheTTL = 5 * time.Second
)

// Cache is a read-through layer in front of Engine.GetStock for the
// HTTP edge's hot read path. It is never authoritative: a cached value
// only affects what a reader is shown, never what the engine itself
// enforces. A stale entry is served until it expires after
// stockCacheTTL.
type Cache struct {
	rdb *redis.Client
	eng *Engine
}

func NewCache(rdb *redis.Client, eng *Engine) *Cache {
	return &Cache{rdb: rdb, eng: eng}
}

func (c *Cache) Available(ctx context.Context, product string) (int, error) {
	key := fmt.Sprintf(stockCacheKey, product)
	if v, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			return n, nil
		}
	}
	n := c.eng.GetStock(product)
	_ = c.rdb.Set(ctx, key, n, stockCacheTTL).Err()
	return n, nil
}

// Invalidate drops the cached value so the next read re-populates from
// the engine. It is called after each successful reservation and after
// an admin stock change; release paths (rollback, stock.released, the
// TTL sweep) do not call it, so a release shows up only once the
// cached entry expires.
func (c *Cache) Invalidate(ctx context.Context, product string) {
	_ = c.rdb.Del(ctx, fmt.Sprintf(stockCacheKey, product)).Err()
}
