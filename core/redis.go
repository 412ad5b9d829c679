package core

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobQueue is the reliable queue used by the API and the import worker.
// Reserved items stay in a processing set until acked, so a crashed worker
// does not lose them.
type JobQueue interface {
	Enqueue(ctx context.Context, value string) error
	Reserve(ctx context.Context, visibility time.Duration) (string, error)
	Ack(ctx context.Context, value string) error
	Remove(ctx context.Context, value string) error
	RequeueExpired(ctx context.Context, now time.Time) ([]string, error)
}

// RedisClientRaw exposes the subset used for metrics and heartbeats.
type RedisClientRaw interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd
}

// NewRedisClient returns a go-redis client from URL (e.g. redis://localhost:6379/0).
// It does not dial; use PingRedis to check connectivity.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return redis.NewClient(opts), nil
}

// PingRedis checks connectivity with a short timeout.
func PingRedis(ctx context.Context, client redis.Cmdable) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// RPOP + ZADD so the job is not lost if a worker dies before ack.
var reserveScript = redis.NewScript(`
local v = redis.call('RPOP', KEYS[1])
if v then
  redis.call('ZADD', KEYS[2], ARGV[1], v)
end
return v
`)

var requeueScript = redis.NewScript(`
local vals = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #vals > 0 then
  redis.call('ZREM', KEYS[1], unpack(vals))
  redis.call('LPUSH', KEYS[2], unpack(vals))
end
return vals
`)

// RedisQueue implements JobQueue with a pending list and a processing sorted
// set scored by visibility deadline in unix milliseconds.
type RedisQueue struct {
	client        redis.Cmdable
	pendingKey    string
	processingKey string
}

func NewRedisQueue(client redis.Cmdable, pendingKey, processingKey string) *RedisQueue {
	return &RedisQueue{client: client, pendingKey: pendingKey, processingKey: processingKey}
}

// Enqueue pushes a value to the head of the pending list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, value string) error {
	return q.client.LPush(ctx, q.pendingKey, value).Err()
}

// Reserve moves the oldest pending item into the processing set. It returns
// redis.Nil when the queue is empty.
func (q *RedisQueue) Reserve(ctx context.Context, visibility time.Duration) (string, error) {
	expireScore := float64(time.Now().Add(visibility).UnixMilli())
	res, err := reserveScript.Run(ctx, q.client, []string{q.pendingKey, q.processingKey}, expireScore).Result()
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", redis.Nil
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	return "", errors.New("unexpected reserve response type")
}

// Ack removes a processing item after handling.
func (q *RedisQueue) Ack(ctx context.Context, value string) error {
	return q.client.ZRem(ctx, q.processingKey, value).Err()
}

// Remove drops every occurrence of value from both the pending list and the processing set.
func (q *RedisQueue) Remove(ctx context.Context, value string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.pendingKey, 0, value)
		pipe.ZRem(ctx, q.processingKey, value)
		return nil
	})
	return err
}

// RequeueExpired moves items whose deadline has passed back to pending and returns them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) ([]string, error) {
	score := float64(now.UnixMilli())
	res, err := requeueScript.Run(ctx, q.client, []string{q.processingKey, q.pendingKey}, score).Result()
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	rawVals, ok := res.([]interface{})
	if !ok {
		return nil, errors.New("unexpected requeue response type")
	}
	out := make([]string, 0, len(rawVals))
	for _, v := range rawVals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}
