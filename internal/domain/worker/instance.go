// Package worker provides the worker instance entity and its status machine.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/blackms/swarm-core/internal/shared"
)

// Instance is a single stateful execution unit. It runs at most one subtask.
// Status changes only through Begin, Complete and Fail.
type Instance struct {
	mu           sync.RWMutex
	id           string
	role         shared.AgentRole
	capabilities []string
	resources    shared.Resources
	status       shared.WorkerStatus
	progress     int
	currentTask  string
	createdAt    int64
	updatedAt    int64
	cancel       context.CancelFunc

	// Performance counters
	completed     int
	failed        int
	totalDuration int64
}

// New creates an idle Instance from config.
func New(config shared.WorkerConfig) *Instance {
	now := shared.Now()
	return &Instance{
		id:           config.ID,
		role:         config.Role,
		capabilities: append([]string(nil), config.Capabilities...),
		resources:    config.Resources,
		status:       shared.WorkerStatusIdle,
		createdAt:    now,
		updatedAt:    now,
	}
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// Role returns the instance role.
func (i *Instance) Role() shared.AgentRole { return i.role }

// Resources returns the reserved resources.
func (i *Instance) Resources() shared.Resources { return i.resources }

// Status returns the current status.
func (i *Instance) Status() shared.WorkerStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Begin moves an idle instance to working. cancel aborts the execution and
// is invoked by Cancel.
func (i *Instance) Begin(taskID string, cancel context.CancelFunc) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status != shared.WorkerStatusIdle {
		return shared.NewInvalidStateError(
			fmt.Sprintf("worker %s is %s, execute requires idle", i.id, i.status),
			map[string]interface{}{"workerId": i.id, "status": string(i.status)},
		)
	}
	i.status = shared.WorkerStatusWorking
	i.progress = 0
	i.currentTask = taskID
	i.cancel = cancel
	i.updatedAt = shared.Now()
	return nil
}

// SetProgress records progress while working. Lower values are ignored.
func (i *Instance) SetProgress(percent int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status != shared.WorkerStatusWorking || percent <= i.progress {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	i.progress = percent
	i.updatedAt = shared.Now()
	return true
}

// Complete moves a working instance to completed.
func (i *Instance) Complete(durationMs int64) bool {
	return i.settle(shared.WorkerStatusCompleted, durationMs)
}

// Fail moves a working instance to failed.
func (i *Instance) Fail(durationMs int64) bool {
	return i.settle(shared.WorkerStatusFailed, durationMs)
}

func (i *Instance) settle(status shared.WorkerStatus, durationMs int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status != shared.WorkerStatusWorking {
		return false
	}
	i.status = status
	if status == shared.WorkerStatusCompleted {
		i.progress = 100
		i.completed++
	} else {
		i.failed++
	}
	i.totalDuration += durationMs
	i.cancel = nil
	i.updatedAt = shared.Now()
	return true
}

// Cancel aborts an in-flight execution, if any.
func (i *Instance) Cancel() {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Report returns a status and progress snapshot.
func (i *Instance) Report() shared.StatusReport {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return shared.StatusReport{Status: i.status, Progress: i.progress}
}

// Snapshot returns a copy of the instance state.
func (i *Instance) Snapshot() shared.WorkerInstance {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return shared.WorkerInstance{
		ID:          i.id,
		Role:        i.role,
		Status:      i.status,
		Progress:    i.progress,
		CurrentTask: i.currentTask,
		Resources:   i.resources,
		CreatedAt:   i.createdAt,
		UpdatedAt:   i.updatedAt,
	}
}

// Performance returns the execution counters of this instance.
func (i *Instance) Performance() shared.AgentPerformance {
	i.mu.RLock()
	defer i.mu.RUnlock()

	perf := shared.AgentPerformance{
		TasksCompleted: i.completed,
		TasksFailed:    i.failed,
	}
	if total := i.completed + i.failed; total > 0 {
		perf.SuccessRate = float64(i.completed) / float64(total)
		perf.AvgDurationMs = float64(i.totalDuration) / float64(total)
	}
	return perf
}
