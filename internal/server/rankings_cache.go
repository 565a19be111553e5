package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maprally/api/internal/maprally"
)

// rankingsCache keeps rendered ranking pages in Redis, keyed per bucket and
// sort order. A nil cache (tests without Redis) degrades to direct SQL.
type rankingsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func newRankingsCache(rdb *redis.Client, ttl time.Duration) *rankingsCache {
	if rdb == nil {
		return nil
	}
	return &rankingsCache{rdb: rdb, ttl: ttl}
}

func rankingsKey(gameType string, period maprally.Period, periodKey, sortBy string) string {
	return fmt.Sprintf("rankings:%s:%s:%s:%s", gameType, period, periodKey, sortBy)
}

func (c *rankingsCache) get(ctx context.Context, key string) ([]RankingItem, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var items []RankingItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *rankingsCache) set(ctx context.Context, key string, items []RankingItem) {
	if c == nil {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	// Cache failures only cost a SQL read.
	c.rdb.Set(ctx, key, data, c.ttl)
}

// invalidate drops both sort variants of a bucket after recomputation.
func (c *rankingsCache) invalidate(ctx context.Context, gameType string, period maprally.Period, periodKey string) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx,
		rankingsKey(gameType, period, periodKey, "best"),
		rankingsKey(gameType, period, periodKey, "total"),
	)
}
