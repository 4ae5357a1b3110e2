package pool

import (
	"context"
	"time"

	"github.com/blackms/swarm-core/internal/shared"
)

// Executor runs the opaque behavior of a subtask on a worker. Implementations
// must return when ctx is done and may call shared.ReportProgress.
type Executor interface {
	Execute(ctx context.Context, w shared.WorkerInstance, subtask shared.Subtask) (interface{}, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, w shared.WorkerInstance, subtask shared.Subtask) (interface{}, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, w shared.WorkerInstance, subtask shared.Subtask) (interface{}, error) {
	return f(ctx, w, subtask)
}

// EchoExecutor acknowledges each subtask with a summary of what was run.
func EchoExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, w shared.WorkerInstance, subtask shared.Subtask) (interface{}, error) {
		shared.ReportProgress(ctx, 100)
		return map[string]interface{}{
			"workerId": w.ID,
			"role":     string(w.Role),
			"taskId":   subtask.TaskID,
			"index":    subtask.Index,
		}, nil
	})
}

// DelayExecutor waits for d before delegating to next, honoring ctx.
func DelayExecutor(d time.Duration, next Executor) Executor {
	if next == nil {
		next = EchoExecutor()
	}
	return ExecutorFunc(func(ctx context.Context, w shared.WorkerInstance, subtask shared.Subtask) (interface{}, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		return next.Execute(ctx, w, subtask)
	})
}
