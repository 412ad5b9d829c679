package core

import (
	"context"
	"encoding/json"
	"runtime"
	"time"
)

const (
	WorkerHeartbeatPrefix = "bh:imports:worker:"
	WorkerHeartbeatTTL    = 45 * time.Second
)

// WorkerHeartbeatKey returns the Redis key holding the heartbeat of worker id.
func WorkerHeartbeatKey(id string) string {
	return WorkerHeartbeatPrefix + id
}

// WorkerHeartbeat is the liveness record an import worker refreshes in Redis.
// The key expires after WorkerHeartbeatTTL, so a dead worker disappears on its own.
type WorkerHeartbeat struct {
	WorkerID       string    `json:"workerId"`
	Hostname       string    `json:"hostname"`
	PID            int       `json:"pid"`
	Concurrency    int       `json:"concurrency"`
	UptimeSeconds  int64     `json:"uptimeSeconds"`
	Status         string    `json:"status"` // starting|idle|busy
	RunningCount   int       `json:"runningCount"`
	RunningJobs    []string  `json:"runningJobs,omitempty"`
	ProcessedTotal int64     `json:"processedTotal"`
	FailedTotal    int64     `json:"failedTotal"`
	LastError      string    `json:"lastError,omitempty"`
	HeapBytes      uint64    `json:"heapBytes"`
	NumGoroutine   int       `json:"numGoroutine"`
	StartedAt      time.Time `json:"startedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (h *WorkerHeartbeat) refreshRuntimeStats() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.HeapBytes = ms.HeapAlloc
	h.NumGoroutine = runtime.NumGoroutine()
}

// SaveHeartbeat stores hb as JSON with WorkerHeartbeatTTL.
func SaveHeartbeat(ctx context.Context, client RedisClientRaw, hb WorkerHeartbeat) error {
	hb.UpdatedAt = time.Now()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, WorkerHeartbeatKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err()
}
