package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/blackms/swarm-core/internal/domain/agent"
	"github.com/blackms/swarm-core/internal/domain/task"
	"github.com/blackms/swarm-core/internal/infrastructure/cache"
	"github.com/blackms/swarm-core/internal/infrastructure/events"
	"github.com/blackms/swarm-core/internal/infrastructure/pool"
	"github.com/blackms/swarm-core/internal/shared"
)

// SwarmCoordinator wires the Queen, the worker pool and the monitor around a
// shared registry and event bus.
type SwarmCoordinator struct {
	mu          sync.Mutex
	initialized bool

	eventBus *events.EventBus
	ownsBus  bool
	registry *agent.Registry
	catalog  *agent.Catalog
	pool     *pool.Pool
	cache    *cache.AnalysisCache
	queen    *Queen
	monitor  *Monitor
	logger   *slog.Logger
}

// Options holds configuration options for SwarmCoordinator.
type Options struct {
	Queen    QueenConfig
	Pool     pool.Config
	Monitor  MonitorConfig
	Executor pool.Executor
	Schemas  map[shared.TaskType]task.Schema
	Logger   *slog.Logger
	EventBus *events.EventBus
}

// DefaultOptions returns options with every component at its defaults.
func DefaultOptions() Options {
	return Options{
		Queen:   DefaultQueenConfig(),
		Pool:    pool.DefaultConfig(),
		Monitor: DefaultMonitorConfig(),
	}
}

// New creates a new SwarmCoordinator.
func New(opts Options) (*SwarmCoordinator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eventBus := opts.EventBus
	ownsBus := false
	if eventBus == nil {
		eventBus = events.New()
		ownsBus = true
	}

	registry := agent.NewRegistry(agent.WithEmitter(eventBus))
	catalog := agent.NewCatalog()
	analysisCache := cache.NewAnalysisCache()

	schemas := opts.Schemas
	if schemas == nil {
		schemas = task.DefaultSchemas()
	}

	workers := pool.New(opts.Pool,
		pool.WithExecutor(opts.Executor),
		pool.WithRegistry(registry),
		pool.WithEventBus(eventBus),
		pool.WithLogger(logger),
	)

	queen, err := NewQueen(opts.Queen, workers, registry,
		WithCatalog(catalog),
		WithValidator(task.NewValidator(schemas)),
		WithAnalysisCache(analysisCache),
		WithQueenEventBus(eventBus),
		WithQueenLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &SwarmCoordinator{
		eventBus: eventBus,
		ownsBus:  ownsBus,
		registry: registry,
		catalog:  catalog,
		pool:     workers,
		cache:    analysisCache,
		queen:    queen,
		monitor:  NewMonitor(opts.Monitor, queen, registry, workers, eventBus, logger),
		logger:   logger.With("component", "swarm"),
	}, nil
}

// Initialize registers the Queen and starts the monitor.
func (sc *SwarmCoordinator) Initialize() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.initialized {
		return nil
	}
	if err := sc.queen.Register(shared.WorkerConfig{ID: sc.queen.ID(), Role: shared.AgentRoleQueen}); err != nil {
		return err
	}
	sc.monitor.Start()
	sc.monitor.Trigger()
	sc.initialized = true

	sc.logger.Info("swarm initialized", "queen", sc.queen.ID())
	return nil
}

// Shutdown waits for background waves, terminates every worker and stops
// the monitor.
func (sc *SwarmCoordinator) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.queen.Close()
	sc.pool.Shutdown()
	sc.monitor.Stop()
	sc.registry.Unregister(sc.queen.ID())
	if sc.ownsBus {
		sc.eventBus.Close()
	}
	sc.initialized = false

	sc.logger.Info("swarm shut down",
		"dropped_events", sc.eventBus.Dropped(),
		"recomputations", sc.monitor.Recomputations(),
	)
	return nil
}

// SubmitTask is the ingress contract.
func (sc *SwarmCoordinator) SubmitTask(ctx context.Context, t shared.Task) (shared.Submission, error) {
	return sc.queen.SubmitTask(ctx, t)
}

// Await blocks until a submitted task settles.
func (sc *SwarmCoordinator) Await(ctx context.Context, ref string) (TaskReport, error) {
	return sc.queen.Await(ctx, ref)
}

// Process runs a task synchronously.
func (sc *SwarmCoordinator) Process(ctx context.Context, t shared.Task) (TaskReport, error) {
	return sc.queen.Process(ctx, t)
}

// Snapshot returns the current swarm metrics.
func (sc *SwarmCoordinator) Snapshot() shared.SwarmMetrics {
	return sc.monitor.Snapshot()
}

// ListAgents returns the registered agents.
func (sc *SwarmCoordinator) ListAgents() []shared.AgentView {
	return sc.monitor.ListAgents()
}

// Subscribe returns a channel of egress events.
func (sc *SwarmCoordinator) Subscribe() (<-chan shared.Event, func()) {
	return sc.monitor.Subscribe()
}

// RoleHealth returns execution health aggregated per role.
func (sc *SwarmCoordinator) RoleHealth() []pool.RoleMetrics {
	return sc.pool.RoleHealth().All()
}

// RoleAlerts returns up to limit of the most recent role health changes.
func (sc *SwarmCoordinator) RoleAlerts(limit int) []pool.HealthAlert {
	return sc.pool.RoleHealth().Alerts(limit)
}

// Queen returns the Queen.
func (sc *SwarmCoordinator) Queen() *Queen {
	return sc.queen
}

// Pool returns the worker pool.
func (sc *SwarmCoordinator) Pool() *pool.Pool {
	return sc.pool
}

// Monitor returns the monitor.
func (sc *SwarmCoordinator) Monitor() *Monitor {
	return sc.monitor
}

// Catalog returns the role catalog.
func (sc *SwarmCoordinator) Catalog() *agent.Catalog {
	return sc.catalog
}

// GetEventBus returns the event bus.
func (sc *SwarmCoordinator) GetEventBus() *events.EventBus {
	return sc.eventBus
}
