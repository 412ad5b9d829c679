package core

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var errQueueUnavailable = &AppError{Kind: KindUnavailable, Message: "queue unavailable"}

// QueueMetrics is a point-in-time view of the import queue.
type QueueMetrics struct {
	Pending          int64 `json:"pending"`
	Processing       int64 `json:"processing"`
	ExpiredCandidate int64 `json:"expiredCandidate"`
}

// QueueInspector reads queue depth and worker heartbeats from Redis for the admin API.
type QueueInspector struct {
	redis         RedisClientRaw
	pendingKey    string
	processingKey string
}

func NewQueueInspector(client RedisClientRaw, pendingKey, processingKey string) *QueueInspector {
	return &QueueInspector{redis: client, pendingKey: pendingKey, processingKey: processingKey}
}

func unavailable(err error) error {
	return &AppError{Kind: KindUnavailable, Message: errQueueUnavailable.Message, Err: err}
}

// Queue returns pending and processing counts plus how many reservations have
// passed their visibility deadline.
func (s *QueueInspector) Queue(ctx context.Context) (QueueMetrics, error) {
	now := time.Now().UnixMilli()
	pending, err := s.redis.LLen(ctx, s.pendingKey).Result()
	if err != nil {
		return QueueMetrics{}, unavailable(err)
	}
	processing, err := s.redis.ZCard(ctx, s.processingKey).Result()
	if err != nil {
		return QueueMetrics{}, unavailable(err)
	}
	expired, err := s.redis.ZCount(ctx, s.processingKey, "-inf", strconv.FormatInt(now, 10)).Result()
	if err != nil {
		return QueueMetrics{}, unavailable(err)
	}
	return QueueMetrics{Pending: pending, Processing: processing, ExpiredCandidate: expired}, nil
}

// Workers returns every live heartbeat ordered by worker id. Entries that
// expire between SCAN and GET are skipped.
func (s *QueueInspector) Workers(ctx context.Context) ([]WorkerHeartbeat, error) {
	iter := s.redis.Scan(ctx, 0, WorkerHeartbeatPrefix+"*", 100).Iterator()
	res := []WorkerHeartbeat{}
	for iter.Next(ctx) {
		val, err := s.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(err)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].WorkerID < res[j].WorkerID })
	return res, nil
}

func (s *QueueInspector) WorkerByID(ctx context.Context, id string) (*WorkerHeartbeat, error) {
	val, err := s.redis.Get(ctx, WorkerHeartbeatKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFoundError("worker")
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var hb WorkerHeartbeat
	if err := json.Unmarshal([]byte(val), &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}

// QueueOverview combines queue depth and workers.
type QueueOverview struct {
	Queue   QueueMetrics      `json:"queue"`
	Workers []WorkerHeartbeat `json:"workers"`
}

func (s *QueueInspector) Overview(ctx context.Context) (QueueOverview, error) {
	q, err := s.Queue(ctx)
	if err != nil {
		return QueueOverview{}, err
	}
	workers, err := s.Workers(ctx)
	if err != nil {
		return QueueOverview{}, err
	}
	return QueueOverview{Queue: q, Workers: workers}, nil
}
