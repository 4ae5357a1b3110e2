// Package pool manages the lifecycle of disposable worker instances.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/blackms/swarm-core/internal/domain/agent"
	"github.com/blackms/swarm-core/internal/domain/worker"
	"github.com/blackms/swarm-core/internal/infrastructure/events"
	"github.com/blackms/swarm-core/internal/shared"
)

// Config holds the pool ceilings.
type Config struct {
	MaxWorkers       int              `json:"maxWorkers" yaml:"max_workers" mapstructure:"max_workers"`
	MaxCPU           float64          `json:"maxCpu" yaml:"max_cpu" mapstructure:"max_cpu"`
	MaxMemory        float64          `json:"maxMemory" yaml:"max_memory" mapstructure:"max_memory"`
	DefaultResources shared.Resources `json:"defaultResources" yaml:"default_resources" mapstructure:"default_resources"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 16,
		MaxCPU:     16,
		MaxMemory:  64,
		DefaultResources: shared.Resources{
			CPUShare:    1,
			MemoryShare: 2,
		},
	}
}

// Stats is a read model over the pool.
type Stats struct {
	Live            int     `json:"live"`
	Idle            int     `json:"idle"`
	Working         int     `json:"working"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Capacity        int     `json:"capacity"`
	CPUReserved     float64 `json:"cpuReserved"`
	MemoryReserved  float64 `json:"memoryReserved"`
	TotalSpawned    int64   `json:"totalSpawned"`
	TotalTerminated int64   `json:"totalTerminated"`
}

// Pool owns the live worker instances. Table mutations are serialized by
// mu; executor bodies run outside of it.
type Pool struct {
	mu             sync.Mutex
	config         Config
	live           map[string]*worker.Instance
	reservedCPU    float64
	reservedMemory float64

	executor Executor
	health   *RoleHealth
	registry *agent.Registry
	bus      *events.EventBus
	logger   *slog.Logger

	totalSpawned    int64
	totalTerminated int64
}

// Option configures the Pool.
type Option func(*Pool)

// WithExecutor sets the executor that runs subtasks.
func WithExecutor(e Executor) Option {
	return func(p *Pool) {
		if e != nil {
			p.executor = e
		}
	}
}

// WithRegistry registers spawned workers with the coordinator registry.
func WithRegistry(r *agent.Registry) Option {
	return func(p *Pool) {
		p.registry = r
	}
}

// WithEventBus publishes worker lifecycle events.
func WithEventBus(bus *events.EventBus) Option {
	return func(p *Pool) {
		p.bus = bus
	}
}

// WithHealthConfig sets the role health thresholds.
func WithHealthConfig(config HealthConfig) Option {
	return func(p *Pool) {
		p.health = NewRoleHealth(config)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Pool.
func New(config Config, opts ...Option) *Pool {
	p := &Pool{
		config:   config,
		live:     make(map[string]*worker.Instance),
		executor: EchoExecutor(),
		health:   NewRoleHealth(DefaultHealthConfig()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pool")
	p.health.SetOnAlert(func(alert HealthAlert) {
		p.logger.Warn("role health changed", "role", alert.Role, "from", alert.From, "to", alert.To, "severity", alert.Severity)
	})
	return p
}

// RoleHealth returns the per-role execution health tracker.
func (p *Pool) RoleHealth() *RoleHealth {
	return p.health
}

// Config returns the pool configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Spawn creates an idle worker and adds it to the live set.
func (p *Pool) Spawn(config shared.WorkerConfig) (shared.WorkerInstance, error) {
	if config.ID == "" {
		return shared.WorkerInstance{}, shared.NewValidationError("worker id is required", nil)
	}
	if config.Role == "" {
		return shared.WorkerInstance{}, shared.NewValidationError("worker role is required", map[string]interface{}{"id": config.ID})
	}
	res := config.Resources
	if res.CPUShare < 0 || res.MemoryShare < 0 || math.IsNaN(res.CPUShare) || math.IsNaN(res.MemoryShare) {
		return shared.WorkerInstance{}, shared.NewInvalidResourceError("resource shares must be non-negative", map[string]interface{}{
			"id":          config.ID,
			"cpuShare":    res.CPUShare,
			"memoryShare": res.MemoryShare,
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.live[config.ID]; exists {
		return shared.WorkerInstance{}, shared.NewDuplicateIDError(config.ID)
	}
	if p.config.MaxWorkers > 0 && len(p.live) >= p.config.MaxWorkers {
		return shared.WorkerInstance{}, shared.NewInvalidResourceError("pool is at its worker ceiling", map[string]interface{}{
			"id":         config.ID,
			"maxWorkers": p.config.MaxWorkers,
		})
	}
	if p.reservedCPU+res.CPUShare > p.config.MaxCPU || p.reservedMemory+res.MemoryShare > p.config.MaxMemory {
		return shared.WorkerInstance{}, shared.NewInvalidResourceError("requested resources exceed the pool ceiling", map[string]interface{}{
			"id":             config.ID,
			"cpuShare":       res.CPUShare,
			"memoryShare":    res.MemoryShare,
			"cpuReserved":    p.reservedCPU,
			"memoryReserved": p.reservedMemory,
		})
	}

	if p.registry != nil {
		if _, err := p.registry.Register(shared.AgentRegistration{
			ID:   config.ID,
			Role: config.Role,
			Kind: shared.AgentKindWorker,
		}); err != nil {
			return shared.WorkerInstance{}, err
		}
	}

	inst := worker.New(config)
	p.live[config.ID] = inst
	p.reservedCPU += res.CPUShare
	p.reservedMemory += res.MemoryShare
	p.totalSpawned++

	p.logger.Debug("worker spawned", "id", config.ID, "role", config.Role)
	if p.bus != nil {
		p.bus.EmitWorkerSpawned(config.ID, config.Role)
	}

	return inst.Snapshot(), nil
}

type execOutcome struct {
	value interface{}
	err   error
}

// Execute runs subtask on an idle worker and blocks until it settles or
// ctx is done. Executor failures are returned inside the WorkerResult; only
// misuse (unknown or non-idle worker) is returned as an error.
func (p *Pool) Execute(ctx context.Context, workerID string, subtask shared.Subtask) (shared.WorkerResult, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Begin runs under mu so a concurrent Terminate either removes the worker
	// first or finds the cancel func installed.
	p.mu.Lock()
	inst, ok := p.live[workerID]
	if !ok {
		p.mu.Unlock()
		return shared.WorkerResult{}, shared.NewInvalidStateError(
			fmt.Sprintf("worker %s is not live", workerID),
			map[string]interface{}{"workerId": workerID},
		)
	}
	err := inst.Begin(subtask.TaskID, cancel)
	p.mu.Unlock()
	if err != nil {
		return shared.WorkerResult{}, err
	}
	p.emitStatus(workerID, shared.WorkerStatusWorking, subtask.TaskID)

	execCtx = shared.WithProgress(execCtx, func(percent int) {
		inst.SetProgress(percent)
	})

	start := time.Now()
	done := make(chan execOutcome, 1)
	snapshot := inst.Snapshot()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: shared.NewExecutionError(
					fmt.Sprintf("executor panicked: %v", r),
					map[string]interface{}{"workerId": workerID},
				)}
			}
		}()
		v, err := p.executor.Execute(execCtx, snapshot, subtask)
		done <- execOutcome{value: v, err: err}
	}()

	var out execOutcome
	select {
	case out = <-done:
	case <-execCtx.Done():
		out = execOutcome{err: execCtx.Err()}
	}

	duration := time.Since(start).Milliseconds()
	result := shared.WorkerResult{
		WorkerID:   workerID,
		Role:       inst.Role(),
		DurationMs: duration,
	}

	if out.err == nil {
		value := out.value
		if value == nil {
			value = map[string]interface{}{"taskId": subtask.TaskID, "role": string(subtask.Role)}
		}
		inst.Complete(duration)
		result.Success = true
		result.Result = value
		p.health.Record(result.Role, result)
		p.emitStatus(workerID, shared.WorkerStatusCompleted, subtask.TaskID)
		return result, nil
	}

	cause := classify(ctx, out.err, workerID, subtask.TaskID)
	inst.Fail(duration)
	result.Error = cause.Error()
	result.ErrorCode = shared.ErrorCode(cause)
	p.health.Record(result.Role, result)
	p.logger.Debug("worker failed", "id", workerID, "task", subtask.TaskID, "error", cause)
	p.emitStatus(workerID, shared.WorkerStatusFailed, subtask.TaskID)
	return result, nil
}

// classify maps context errors onto the error taxonomy.
func classify(parent context.Context, err error, workerID, taskID string) error {
	details := map[string]interface{}{"workerId": workerID, "taskId": taskID}
	switch {
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return shared.NewTimeoutError("execution exceeded the task deadline", details)
	case errors.Is(err, context.Canceled):
		return shared.NewSwarmError("execution was cancelled", shared.CodeCancelled, details)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.NewTimeoutError("execution exceeded its deadline", details)
	}
	return err
}

// ReportStatus returns a status snapshot without blocking on execution.
func (p *Pool) ReportStatus(workerID string) (shared.StatusReport, error) {
	inst, ok := p.lookup(workerID)
	if !ok {
		return shared.StatusReport{}, shared.NewInvalidStateError(
			fmt.Sprintf("worker %s is not live", workerID),
			map[string]interface{}{"workerId": workerID},
		)
	}
	return inst.Report(), nil
}

// Terminate removes a worker from the live set and releases its resources.
// An in-flight execution is cancelled. Unknown ids are ignored.
func (p *Pool) Terminate(workerID string) {
	p.mu.Lock()
	inst, ok := p.live[workerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.live, workerID)
	res := inst.Resources()
	p.reservedCPU = math.Max(0, p.reservedCPU-res.CPUShare)
	p.reservedMemory = math.Max(0, p.reservedMemory-res.MemoryShare)
	p.totalTerminated++
	if len(p.live) == 0 {
		p.reservedCPU, p.reservedMemory = 0, 0
	}
	p.mu.Unlock()

	inst.Cancel()
	if p.registry != nil {
		p.registry.Unregister(workerID)
	}

	p.logger.Debug("worker terminated", "id", workerID)
	if p.bus != nil {
		p.bus.EmitWorkerTerminated(workerID)
	}
}

// Shutdown terminates every live worker.
func (p *Pool) Shutdown() {
	for _, w := range p.List() {
		p.Terminate(w.ID)
	}
}

// Get returns a snapshot of one worker.
func (p *Pool) Get(workerID string) (shared.WorkerInstance, bool) {
	inst, ok := p.lookup(workerID)
	if !ok {
		return shared.WorkerInstance{}, false
	}
	return inst.Snapshot(), true
}

// Performance returns the execution counters of a live worker.
func (p *Pool) Performance(workerID string) (shared.AgentPerformance, bool) {
	inst, ok := p.lookup(workerID)
	if !ok {
		return shared.AgentPerformance{}, false
	}
	return inst.Performance(), true
}

// List returns snapshots of all live workers ordered by creation time.
func (p *Pool) List() []shared.WorkerInstance {
	p.mu.Lock()
	out := make([]shared.WorkerInstance, 0, len(p.live))
	for _, inst := range p.live {
		out = append(out, inst.Snapshot())
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats returns the pool read model.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Live:            len(p.live),
		Capacity:        p.config.MaxWorkers,
		CPUReserved:     p.reservedCPU,
		MemoryReserved:  p.reservedMemory,
		TotalSpawned:    p.totalSpawned,
		TotalTerminated: p.totalTerminated,
	}
	for _, inst := range p.live {
		switch inst.Status() {
		case shared.WorkerStatusIdle:
			stats.Idle++
		case shared.WorkerStatusWorking:
			stats.Working++
		case shared.WorkerStatusCompleted:
			stats.Completed++
		case shared.WorkerStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Load reports how many more default-sized workers the pool can admit.
func (p *Pool) Load() shared.LoadSnapshot {
	stats := p.Stats()

	free := math.MaxInt
	if p.config.MaxWorkers > 0 {
		free = p.config.MaxWorkers - stats.Live
	}
	if share := p.config.DefaultResources.CPUShare; share > 0 {
		free = minInt(free, int(math.Floor((p.config.MaxCPU-stats.CPUReserved)/share+1e-9)))
	}
	if share := p.config.DefaultResources.MemoryShare; share > 0 {
		free = minInt(free, int(math.Floor((p.config.MaxMemory-stats.MemoryReserved)/share+1e-9)))
	}
	if free < 0 {
		free = 0
	}

	return shared.LoadSnapshot{
		Live:         stats.Live,
		Idle:         stats.Idle,
		Working:      stats.Working,
		IdleCapacity: free,
		Capacity:     p.config.MaxWorkers,
	}
}

func (p *Pool) lookup(workerID string) (*worker.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.live[workerID]
	return inst, ok
}

func (p *Pool) emitStatus(workerID string, status shared.WorkerStatus, taskID string) {
	if p.bus != nil {
		p.bus.EmitWorkerStatus(workerID, status, taskID)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
