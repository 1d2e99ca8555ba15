package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerPulse/internal/app/model"
)

// TTLs configures expiry per entry kind.
type TTLs struct {
	Location   time.Duration
	Device     time.Duration
	Stats      time.Duration
	Owner      time.Duration
	DayCounter time.Duration
	SeenMarker time.Duration
}

// AnalyticsCache holds derived, expendable state. A miss is reported as
// ok=false with a nil error; losing any entry only forces recomputation.
type AnalyticsCache interface {
	GetLocation(ctx context.Context, key string) (id int64, ok bool, err error)
	SetLocation(ctx context.Context, key string, id int64) error
	GetDevice(ctx context.Context, key string) (id int64, ok bool, err error)
	SetDevice(ctx context.Context, key string, id int64) error

	GetStats(ctx context.Context, resourceID string) (*model.StatsView, bool, error)
	SetStats(ctx context.Context, resourceID string, stats *model.StatsView) error
	InvalidateStats(ctx context.Context, resourceID string) error

	// IncrementDayClicks atomically bumps the per-day counter and returns the
	// new value.
	IncrementDayClicks(ctx context.Context, resourceID, date string) (int64, error)
	GetDayClicks(ctx context.Context, resourceID, date string) (int64, error)

	GetOwner(ctx context.Context, resourceID string) (string, bool, error)
	SetOwner(ctx context.Context, resourceID, ownerID string) error

	// MarkSeen records an ingested bus event id; Seen reports whether it was
	// recorded before.
	MarkSeen(ctx context.Context, eventID string) error
	Seen(ctx context.Context, eventID string) (bool, error)
}

type redisAnalyticsCache struct {
	rdb  *redis.Client
	ttls TTLs
}

// NewRedisAnalyticsCache returns a Redis-backed AnalyticsCache.
func NewRedisAnalyticsCache(rdb *redis.Client, ttls TTLs) AnalyticsCache {
	return &redisAnalyticsCache{rdb: rdb, ttls: ttls}
}

func locationKey(key string) string               { return "location:" + key }
func deviceKey(key string) string                 { return "device:" + key }
func statsKey(resourceID string) string           { return "click_stats:" + resourceID }
func dayClicksKey(resourceID, date string) string { return "today_clicks:" + resourceID + ":" + date }
func ownerKey(resourceID string) string           { return "url_owner:" + resourceID }
func seenKey(eventID string) string               { return "click_seen:" + eventID }

func (c *redisAnalyticsCache) GetLocation(ctx context.Context, key string) (int64, bool, error) {
	return c.getInt(ctx, locationKey(key))
}

func (c *redisAnalyticsCache) SetLocation(ctx context.Context, key string, id int64) error {
	return c.rdb.Set(ctx, locationKey(key), id, c.ttls.Location).Err()
}

func (c *redisAnalyticsCache) GetDevice(ctx context.Context, key string) (int64, bool, error) {
	return c.getInt(ctx, deviceKey(key))
}

func (c *redisAnalyticsCache) SetDevice(ctx context.Context, key string, id int64) error {
	return c.rdb.Set(ctx, deviceKey(key), id, c.ttls.Device).Err()
}

func (c *redisAnalyticsCache) GetStats(ctx context.Context, resourceID string) (*model.StatsView, bool, error) {
	raw, err := c.rdb.Get(ctx, statsKey(resourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stats model.StatsView
	if err := json.Unmarshal(raw, &stats); err != nil {
		// A corrupt snapshot is treated as a miss and dropped.
		_ = c.rdb.Del(ctx, statsKey(resourceID)).Err()
		return nil, false, nil
	}
	return &stats, true, nil
}

func (c *redisAnalyticsCache) SetStats(ctx context.Context, resourceID string, stats *model.StatsView) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("cache: marshal stats: %w", err)
	}
	return c.rdb.Set(ctx, statsKey(resourceID), raw, c.ttls.Stats).Err()
}

func (c *redisAnalyticsCache) InvalidateStats(ctx context.Context, resourceID string) error {
	return c.rdb.Del(ctx, statsKey(resourceID)).Err()
}

func (c *redisAnalyticsCache) IncrementDayClicks(ctx context.Context, resourceID, date string) (int64, error) {
	key := dayClicksKey(resourceID, date)

	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.ttls.DayCounter)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *redisAnalyticsCache) GetDayClicks(ctx context.Context, resourceID, date string) (int64, error) {
	n, _, err := c.getInt(ctx, dayClicksKey(resourceID, date))
	return n, err
}

func (c *redisAnalyticsCache) GetOwner(ctx context.Context, resourceID string) (string, bool, error) {
	owner, err := c.rdb.Get(ctx, ownerKey(resourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func (c *redisAnalyticsCache) SetOwner(ctx context.Context, resourceID, ownerID string) error {
	return c.rdb.Set(ctx, ownerKey(resourceID), ownerID, c.ttls.Owner).Err()
}

func (c *redisAnalyticsCache) MarkSeen(ctx context.Context, eventID string) error {
	return c.rdb.Set(ctx, seenKey(eventID), 1, c.ttls.SeenMarker).Err()
}

func (c *redisAnalyticsCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, seenKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisAnalyticsCache) getInt(ctx context.Context, key string) (int64, bool, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
