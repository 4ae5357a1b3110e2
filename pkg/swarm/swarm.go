// Package swarm provides the public API for swarm-core.
//
// A Swarm accepts tasks, decides how many workers of which roles each task
// needs, runs them as one wave and reports health metrics.
//
// Example:
//
//	s, err := swarm.New(swarm.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Shutdown()
//
//	sub, err := s.SubmitTask(ctx, swarm.Task{
//	    ID:      "build-1",
//	    Type:    swarm.TaskTypeBuild,
//	    Payload: map[string]interface{}{"files": 3},
//	})
package swarm

import (
	"context"
	"log/slog"
	"os"

	"github.com/blackms/swarm-core/internal/application/coordinator"
	"github.com/blackms/swarm-core/internal/config"
	"github.com/blackms/swarm-core/internal/domain/agent"
	"github.com/blackms/swarm-core/internal/domain/task"
	"github.com/blackms/swarm-core/internal/infrastructure/pool"
	"github.com/blackms/swarm-core/internal/logging"
	"github.com/blackms/swarm-core/internal/shared"
)

// Re-export types for public API
type (
	// Configuration
	Config = config.Config

	// Task types
	Task         = shared.Task
	TaskType     = shared.TaskType
	TaskState    = shared.TaskState
	TaskAnalysis = shared.TaskAnalysis
	TaskReport   = coordinator.TaskReport
	Submission   = shared.Submission
	WaveOutcome  = shared.WaveOutcome
	Subtask      = shared.Subtask
	WorkerResult = shared.WorkerResult

	// Agent types
	AgentRole        = shared.AgentRole
	AgentKind        = shared.AgentKind
	AgentView        = shared.AgentView
	AgentPerformance = shared.AgentPerformance
	WorkerInstance   = shared.WorkerInstance

	// Decision types
	Decision        = shared.Decision
	DecisionOutcome = shared.DecisionOutcome
	FailureRecord   = shared.FailureRecord

	// Metrics and events
	SwarmMetrics = shared.SwarmMetrics
	Event        = shared.Event
	EventType    = shared.EventType

	// Execution
	Executor     = pool.Executor
	ExecutorFunc = pool.ExecutorFunc
	RoleMetrics  = pool.RoleMetrics
	HealthAlert  = pool.HealthAlert

	// Catalog
	RoleSpec   = agent.RoleSpec
	RosterRule = agent.Rule

	// Errors
	SwarmError = shared.SwarmError
)

// Re-export constants
const (
	TaskTypeBuild    = shared.TaskTypeBuild
	TaskTypeTest     = shared.TaskTypeTest
	TaskTypeReview   = shared.TaskTypeReview
	TaskTypeResearch = shared.TaskTypeResearch
	TaskTypeDesign   = shared.TaskTypeDesign
	TaskTypeDeploy   = shared.TaskTypeDeploy

	TaskStateCompleted       = shared.TaskStateCompleted
	TaskStatePartiallyFailed = shared.TaskStatePartiallyFailed
	TaskStateRejected        = shared.TaskStateRejected
	TaskStateDeferred        = shared.TaskStateDeferred

	OutcomeProceed = shared.OutcomeProceed
	OutcomeReject  = shared.OutcomeReject
	OutcomeDefer   = shared.OutcomeDefer

	EventMetricsUpdate  = shared.EventMetricsUpdate
	EventAgentsUpdate   = shared.EventAgentsUpdate
	EventTopologyChange = shared.EventTopologyChange
)

// Re-export sentinel errors
var (
	ErrInvalidTask     = shared.ErrInvalidTask
	ErrDuplicateID     = shared.ErrDuplicateID
	ErrInvalidResource = shared.ErrInvalidResource
	ErrInvalidState    = shared.ErrInvalidState
	ErrTimeout         = shared.ErrTimeout
	ErrValidation      = shared.ErrValidation
	ErrCoordination    = shared.ErrCoordination
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads configuration from path, the environment and defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ReportProgress lets an Executor report completion percentage.
func ReportProgress(ctx context.Context, percent int) {
	shared.ReportProgress(ctx, percent)
}

// Option configures a Swarm.
type Option func(*coordinator.Options)

// WithExecutor sets the behavior workers run.
func WithExecutor(e Executor) Option {
	return func(o *coordinator.Options) {
		o.Executor = e
	}
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(o *coordinator.Options) {
		o.Logger = l
	}
}

// Swarm wraps the internal coordinator for public use.
type Swarm struct {
	internal *coordinator.SwarmCoordinator
}

// New creates and starts a Swarm.
func New(cfg Config, opts ...Option) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := Options(cfg)
	for _, opt := range opts {
		opt(&o)
	}

	coord, err := coordinator.New(o)
	if err != nil {
		return nil, err
	}
	if err := coord.Initialize(); err != nil {
		return nil, err
	}
	return &Swarm{internal: coord}, nil
}

// Options maps configuration onto coordinator options.
func Options(cfg Config) coordinator.Options {
	queen := coordinator.DefaultQueenConfig()
	if cfg.Queen.ID != "" {
		queen.ID = cfg.Queen.ID
	}
	queen.MaxConcurrentAgents = cfg.Queen.MaxConcurrentAgents
	queen.WaitBudget = cfg.Queen.WaitBudget
	queen.TaskTimeout = cfg.Queen.TaskTimeout
	queen.CapacityWeight = cfg.Queen.CapacityWeight
	queen.RoleMatchWeight = cfg.Queen.RoleMatchWeight
	queen.RetainSettled = cfg.Queen.RetainSettled
	queen.WorkerResources = shared.Resources{
		CPUShare:    cfg.Pool.DefaultCPUShare,
		MemoryShare: cfg.Pool.DefaultMemoryShare,
	}

	schemas := make(map[shared.TaskType]task.Schema, len(cfg.Queen.Schemas))
	for t, required := range cfg.Queen.Schemas {
		schemas[shared.TaskType(t)] = task.Schema{Required: append([]string(nil), required...)}
	}

	return coordinator.Options{
		Queen: queen,
		Pool: pool.Config{
			MaxWorkers:       cfg.Pool.MaxWorkers,
			MaxCPU:           cfg.Pool.MaxCPU,
			MaxMemory:        cfg.Pool.MaxMemory,
			DefaultResources: queen.WorkerResources,
		},
		Monitor: coordinator.MonitorConfig{
			ConsensusWindow:    cfg.Monitor.ConsensusWindow,
			ConsensusThreshold: cfg.Monitor.ConsensusThreshold,
			Interval:           cfg.Monitor.Interval,
		},
		Schemas: schemas,
		Logger:  logging.New(cfg.Log, os.Stderr),
	}
}

// SubmitTask analyzes t, decides, and on proceed starts its wave in the
// background.
func (s *Swarm) SubmitTask(ctx context.Context, t Task) (Submission, error) {
	return s.internal.SubmitTask(ctx, t)
}

// Await blocks until the task identified by ref settles.
func (s *Swarm) Await(ctx context.Context, ref string) (TaskReport, error) {
	return s.internal.Await(ctx, ref)
}

// Process runs t to completion on the calling goroutine.
func (s *Swarm) Process(ctx context.Context, t Task) (TaskReport, error) {
	return s.internal.Process(ctx, t)
}

// Snapshot returns the current swarm metrics.
func (s *Swarm) Snapshot() SwarmMetrics {
	return s.internal.Snapshot()
}

// ListAgents returns every registered agent.
func (s *Swarm) ListAgents() []AgentView {
	return s.internal.ListAgents()
}

// Subscribe returns a channel of metrics, agents and topology events and a
// function that ends the subscription.
func (s *Swarm) Subscribe() (<-chan Event, func()) {
	return s.internal.Subscribe()
}

// SetRule replaces how tasks of taskType map to worker roles.
func (s *Swarm) SetRule(taskType TaskType, rule RosterRule) error {
	return s.internal.Queen().SetRule(taskType, rule)
}

// SetSchema replaces the payload fields tasks of taskType must carry.
func (s *Swarm) SetSchema(taskType TaskType, required ...string) error {
	return s.internal.Queen().SetSchema(taskType, required...)
}

// RoleAlerts returns up to limit of the most recent role health changes;
// limit <= 0 returns all that are kept.
func (s *Swarm) RoleAlerts(limit int) []HealthAlert {
	return s.internal.RoleAlerts(limit)
}

// RegisterRole adds or replaces a worker role.
func (s *Swarm) RegisterRole(spec RoleSpec) error {
	return s.internal.Queen().RegisterRole(spec)
}

// RoleHealth returns execution health aggregated per worker role.
func (s *Swarm) RoleHealth() []RoleMetrics {
	return s.internal.RoleHealth()
}

// Decisions returns the decision log.
func (s *Swarm) Decisions() []Decision {
	return s.internal.Queen().Decisions()
}

// Failures returns the failure log.
func (s *Swarm) Failures() []FailureRecord {
	return s.internal.Queen().Failures()
}

// Shutdown stops the swarm.
func (s *Swarm) Shutdown() error {
	return s.internal.Shutdown()
}

// Internal returns the internal coordinator (for advanced usage).
func (s *Swarm) Internal() *coordinator.SwarmCoordinator {
	return s.internal
}
