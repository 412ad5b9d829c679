package core

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// DependencyCheck pings one backing service.
type DependencyCheck func(ctx context.Context) error

// SystemStatus is the admin dashboard summary.
type SystemStatus struct {
	Dependencies map[string]string `json:"dependencies"`
	Queue        *QueueMetrics     `json:"queue,omitempty"`
	Workers      struct {
		Active int `json:"active"`
		Total  int `json:"total"`
	} `json:"workers"`
	Memory struct {
		UsedBytes  uint64 `json:"usedBytes"`
		TotalBytes uint64 `json:"totalBytes"`
	} `json:"memory"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// CollectSystemStatus is best-effort: a failing dependency is reported, not returned.
func CollectSystemStatus(ctx context.Context, checks map[string]DependencyCheck, queue *QueueInspector, startedAt time.Time) SystemStatus {
	st := SystemStatus{Dependencies: make(map[string]string, len(checks))}
	for name, check := range checks {
		st.Dependencies[name] = "ok"
		if err := check(ctx); err != nil {
			st.Dependencies[name] = "unavailable"
		}
	}

	if queue != nil {
		if qm, err := queue.Queue(ctx); err == nil {
			st.Queue = &qm
		}
		if workers, err := queue.Workers(ctx); err == nil {
			st.Workers.Total = len(workers)
			for _, w := range workers {
				if w.Status != "starting" {
					st.Workers.Active++
				}
			}
		}
	}

	st.Memory.UsedBytes, st.Memory.TotalBytes = readMemInfo("/proc/meminfo")
	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return st
}

// readMemInfo returns host used and total bytes, or zeros when path is unreadable.
func readMemInfo(path string) (used, total uint64) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = parseKiBLine(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = parseKiBLine(line)
		}
	}
	if memTotal == 0 {
		return 0, 0
	}
	if memAvailable <= memTotal {
		used = memTotal - memAvailable
	}
	return used * 1024, memTotal * 1024
}

func parseKiBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
