package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
)

// historyTTL bounds cache memory for groups that go quiet.
const historyTTL = 24 * time.Hour

// RedisHistoryCache keeps a capped per-group list of recent messages,
// newest at the head. Postgres remains the source of truth; a cold or
// unreachable cache only costs a database read.
type RedisHistoryCache struct {
	rdb   *redis.Client
	limit int64
}

func NewRedisHistoryCache(rdb *redis.Client, limit int) *RedisHistoryCache {
	return &RedisHistoryCache{
		rdb:   rdb,
		limit: int64(limit),
	}
}

func (c *RedisHistoryCache) key(groupID int64) string {
	return "chat:history:" + strconv.FormatInt(groupID, 10)
}

// Append pushes a persisted message onto the group's list and trims it
// to the configured cap.
func (c *RedisHistoryCache) Append(ctx context.Context, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := c.key(msg.GroupID)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, c.limit-1)
	pipe.Expire(ctx, key, historyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit cached messages for the group, oldest
// first. An empty result means the cache is cold, not that the group
// has no messages.
func (c *RedisHistoryCache) Recent(ctx context.Context, groupID int64, limit int) ([]domain.Message, error) {
	n := int64(limit)
	if n <= 0 || n > c.limit {
		n = c.limit
	}
	raw, err := c.rdb.LRange(ctx, c.key(groupID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	// List is newest-first; callers want send order.
	msgs := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
