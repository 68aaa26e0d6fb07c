package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// DefaultRetryKeyPrefix — префикс ключей очереди повторов в Redis.
const DefaultRetryKeyPrefix = "dagflow:retry:"

// popDueScript атомарно забирает наступившие записи.
// KEYS[1] — ZSET по времени, KEYS[2] — HASH с записями.
// ARGV[1] — граница времени в мс, ARGV[2] — лимит (0 без лимита),
// ARGV[3] — префикс индексов run'ов.
var popDueScript = redis.NewScript(`
local ids
local limit = tonumber(ARGV[2])
if limit > 0 then
  ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, limit)
else
  ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
local out = {}
for _, id in ipairs(ids) do
  local v = redis.call('HGET', KEYS[2], id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[2], id)
  redis.call('SREM', ARGV[3] .. string.match(id, '^[^:]+'), id)
  if v then
    table.insert(out, v)
  end
end
return out
`)

// removeRunScript атомарно удаляет записи run'а по его индексу.
// KEYS[1] — ZSET по времени, KEYS[2] — HASH с записями, KEYS[3] — индекс run'а.
var removeRunScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[3])
local n = 0
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  n = n + redis.call('HDEL', KEYS[2], id)
end
redis.call('DEL', KEYS[3])
return n
`)

// RedisRetryQueue — очередь повторов в Redis.
//
// ZSET хранит ключи записей с ExecuteAt в мс как score,
// HASH хранит сами записи в JSON, SET на каждый run — ключи его записей.
type RedisRetryQueue struct {
	client   redis.UniversalClient
	dueKey   string
	dataKey  string
	runIndex string
}

// NewRedisRetryQueue создаёт очередь. Пустой prefix заменяется DefaultRetryKeyPrefix.
func NewRedisRetryQueue(client redis.UniversalClient, prefix string) *RedisRetryQueue {
	if prefix == "" {
		prefix = DefaultRetryKeyPrefix
	}
	return &RedisRetryQueue{
		client:   client,
		dueKey:   prefix + "due",
		dataKey:  prefix + "entries",
		runIndex: prefix + "run:",
	}
}

func (q *RedisRetryQueue) runKey(runID uuid.UUID) string {
	return q.runIndex + runID.String()
}

// Schedule добавляет или заменяет запись.
func (q *RedisRetryQueue) Schedule(ctx context.Context, entry domain.RetryEntry) error {
	raw, err := xjson.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal retry entry: %w", err)
	}

	key := entry.Key()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.dueKey, redis.Z{Score: float64(entry.ExecuteAt.UnixMilli()), Member: key})
		pipe.HSet(ctx, q.dataKey, key, raw)
		pipe.SAdd(ctx, q.runKey(entry.RunID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry %s: %w", key, err)
	}
	return nil
}

// PopDue забирает до limit записей с ExecuteAt <= now в порядке времени.
func (q *RedisRetryQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryEntry, error) {
	raws, err := popDueScript.Run(ctx, q.client,
		[]string{q.dueKey, q.dataKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		max(limit, 0),
		q.runIndex,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pop due retries: %w", err)
	}

	entries := make([]domain.RetryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry domain.RetryEntry
		if err := xjson.Unmarshal([]byte(raw), &entry); err != nil {
			return entries, fmt.Errorf("unmarshal retry entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RemoveRun удаляет все записи run'а.
func (q *RedisRetryQueue) RemoveRun(ctx context.Context, runID uuid.UUID) (int, error) {
	n, err := removeRunScript.Run(ctx, q.client,
		[]string{q.dueKey, q.dataKey, q.runKey(runID)},
	).Int()
	if err != nil {
		return 0, fmt.Errorf("remove retries of run %s: %w", runID, err)
	}
	return n, nil
}

// Len возвращает количество записей.
func (q *RedisRetryQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.dueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count retries: %w", err)
	}
	return int(n), nil
}
