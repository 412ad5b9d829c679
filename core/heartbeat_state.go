package core

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxReportedJobs = 3

// HeartbeatState aggregates one worker process's counters and publishes them
// periodically.
type HeartbeatState struct {
	mu      sync.Mutex
	hb      WorkerHeartbeat
	running map[string]time.Time
	every   time.Duration
	log     *zap.Logger
}

func NewHeartbeatState(workerID string, concurrency int, every time.Duration, log *zap.Logger) *HeartbeatState {
	if log == nil {
		log = zap.NewNop()
	}
	if every <= 0 {
		every = 5 * time.Second
	}
	hostname, _ := os.Hostname()
	now := time.Now()
	return &HeartbeatState{
		hb: WorkerHeartbeat{
			WorkerID:    workerID,
			Hostname:    hostname,
			PID:         os.Getpid(),
			Concurrency: concurrency,
			Status:      "starting",
			StartedAt:   now,
			UpdatedAt:   now,
		},
		running: make(map[string]time.Time),
		every:   every,
		log:     log,
	}
}

// Run publishes immediately and then on every tick until ctx is done.
func (s *HeartbeatState) Run(ctx context.Context, client RedisClientRaw) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	s.publish(ctx, client)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(ctx, client)
		}
	}
}

// Ready flips a starting worker to idle once its loops are running.
func (s *HeartbeatState) Ready() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hb.Status == "starting" {
		s.hb.Status = "idle"
	}
}

func (s *HeartbeatState) JobStarted(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = time.Now()
	s.syncRunningLocked()
}

func (s *HeartbeatState) JobFinished(jobID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
	s.hb.ProcessedTotal++
	if err != nil {
		s.hb.FailedTotal++
		s.hb.LastError = err.Error()
	}
	s.syncRunningLocked()
}

// syncRunningLocked reports the oldest jobs first. Caller holds mu.
func (s *HeartbeatState) syncRunningLocked() {
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.running[ids[i]].Before(s.running[ids[j]]) })
	if len(ids) > maxReportedJobs {
		ids = ids[:maxReportedJobs]
	}
	s.hb.RunningJobs = ids
	s.hb.RunningCount = len(s.running)
	if s.hb.RunningCount > 0 {
		s.hb.Status = "busy"
	} else {
		s.hb.Status = "idle"
	}
}

// Snapshot returns a copy of the current heartbeat.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb := s.hb
	hb.RunningJobs = append([]string(nil), s.hb.RunningJobs...)
	hb.UptimeSeconds = int64(time.Since(hb.StartedAt).Seconds())
	return hb
}

func (s *HeartbeatState) publish(ctx context.Context, client RedisClientRaw) {
	hb := s.Snapshot()
	hb.refreshRuntimeStats()
	if err := SaveHeartbeat(ctx, client, hb); err != nil && ctx.Err() == nil {
		s.log.Warn("heartbeat publish failed", zap.Error(err))
	}
}
