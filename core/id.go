package core

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewWorkerID identifies one import worker process: host, pid and a random suffix
// so restarts on the same host never collide.
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()[:8])
}
