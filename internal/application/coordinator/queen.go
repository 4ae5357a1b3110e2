// Package coordinator provides swarm coordination functionality.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/blackms/swarm-core/internal/domain/agent"
	"github.com/blackms/swarm-core/internal/domain/task"
	"github.com/blackms/swarm-core/internal/infrastructure/cache"
	"github.com/blackms/swarm-core/internal/infrastructure/events"
	"github.com/blackms/swarm-core/internal/shared"
)

// WorkerPool is the capability set the Queen drives.
type WorkerPool interface {
	Spawn(config shared.WorkerConfig) (shared.WorkerInstance, error)
	Execute(ctx context.Context, workerID string, subtask shared.Subtask) (shared.WorkerResult, error)
	ReportStatus(workerID string) (shared.StatusReport, error)
	Terminate(workerID string)
	Load() shared.LoadSnapshot
}

// QueenConfig holds configuration for the Queen.
type QueenConfig struct {
	ID string

	// Decision policy
	MaxConcurrentAgents int           // Default: 4
	WaitBudget          time.Duration // Default: 5s
	CapacityWeight      float64       // Default: 0.6
	RoleMatchWeight     float64       // Default: 0.4

	// Wave settings
	TaskTimeout     time.Duration // Default: 30s
	SettleGrace     time.Duration // Time to collect results after the deadline
	WorkerResources shared.Resources

	// RetainSettled bounds how many settled task records stay available to
	// Await and TaskState; the oldest are dropped first. 0 keeps them all.
	RetainSettled int // Default: 1024
}

// DefaultQueenConfig returns the default Queen configuration.
func DefaultQueenConfig() QueenConfig {
	return QueenConfig{
		ID:                  "queen",
		MaxConcurrentAgents: 4,
		WaitBudget:          5 * time.Second,
		CapacityWeight:      0.6,
		RoleMatchWeight:     0.4,
		TaskTimeout:         30 * time.Second,
		SettleGrace:         250 * time.Millisecond,
		RetainSettled:       1024,
		WorkerResources: shared.Resources{
			CPUShare:    1,
			MemoryShare: 2,
		},
	}
}

// DecisionContext is the input to MakeDecision.
type DecisionContext struct {
	Analysis shared.TaskAnalysis
	Load     shared.LoadSnapshot
	Waited   time.Duration
}

// QueenState is a read-only snapshot of the Queen.
type QueenState struct {
	ID           string            `json:"id"`
	Role         shared.AgentRole  `json:"role"`
	ActiveAgents int               `json:"activeAgents"`
	Decisions    []shared.Decision `json:"decisions"`
}

// Counters are the running task counters kept by the Queen.
type Counters struct {
	TotalTasks      int64 `json:"totalTasks"`
	CompletedTasks  int64 `json:"completedTasks"`
	SettledWaves    int64 `json:"settledWaves"`
	PartialWaves    int64 `json:"partialWaves"`
	TotalResponseMs int64 `json:"totalResponseMs"`
}

// AvgResponseTimeMs returns the mean wave duration.
func (c Counters) AvgResponseTimeMs() float64 {
	if c.SettledWaves == 0 {
		return 0
	}
	return float64(c.TotalResponseMs) / float64(c.SettledWaves)
}

// Queen analyzes tasks, decides on allocation and drives worker waves.
type Queen struct {
	config    QueenConfig
	pool      WorkerPool
	registry  *agent.Registry
	catalog   *agent.Catalog
	validator *task.Validator
	cache     *cache.AnalysisCache
	bus       *events.EventBus
	logger    *slog.Logger

	mu          sync.RWMutex
	decisions   []shared.Decision
	failures    []shared.FailureRecord
	decisionSeq uint64
	failureSeq  uint64
	counters    Counters
	tasks       map[string]*taskRecord
	settled     []string
	firstSeen   map[string]deferral

	// reserved counts worker slots promised to proceed decisions whose
	// workers are not spawned yet. admitMu serializes reading the pool
	// load with taking or converting a reservation.
	admitMu  sync.Mutex
	reserved int

	// Background waves started by SubmitTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QueenOption configures the Queen.
type QueenOption func(*Queen)

// WithCatalog sets the role catalog.
func WithCatalog(c *agent.Catalog) QueenOption {
	return func(q *Queen) {
		if c != nil {
			q.catalog = c
		}
	}
}

// WithValidator sets the task validator.
func WithValidator(v *task.Validator) QueenOption {
	return func(q *Queen) {
		if v != nil {
			q.validator = v
		}
	}
}

// WithAnalysisCache sets the analysis cache.
func WithAnalysisCache(c *cache.AnalysisCache) QueenOption {
	return func(q *Queen) {
		if c != nil {
			q.cache = c
		}
	}
}

// WithQueenEventBus publishes Queen events on bus.
func WithQueenEventBus(bus *events.EventBus) QueenOption {
	return func(q *Queen) {
		q.bus = bus
	}
}

// WithQueenLogger sets the logger.
func WithQueenLogger(l *slog.Logger) QueenOption {
	return func(q *Queen) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueen creates a Queen driving pool. The registry is shared with the
// pool and owned by the caller.
func NewQueen(config QueenConfig, pool WorkerPool, registry *agent.Registry, opts ...QueenOption) (*Queen, error) {
	if pool == nil {
		return nil, shared.NewValidationError("worker pool is required", nil)
	}
	if registry == nil {
		return nil, shared.NewValidationError("agent registry is required", nil)
	}
	if config.ID == "" {
		config.ID = DefaultQueenConfig().ID
	}
	if config.MaxConcurrentAgents <= 0 {
		return nil, shared.NewValidationError("max concurrent agents must be positive", map[string]interface{}{
			"maxConcurrentAgents": config.MaxConcurrentAgents,
		})
	}
	if config.CapacityWeight < 0 || config.RoleMatchWeight < 0 || config.CapacityWeight+config.RoleMatchWeight == 0 {
		return nil, shared.NewValidationError("confidence weights must be non-negative and not both zero", nil)
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = DefaultQueenConfig().TaskTimeout
	}
	if config.SettleGrace <= 0 {
		config.SettleGrace = DefaultQueenConfig().SettleGrace
	}
	if config.RetainSettled < 0 {
		config.RetainSettled = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queen{
		config:    config,
		pool:      pool,
		registry:  registry,
		catalog:   agent.NewCatalog(),
		validator: task.NewValidator(nil),
		cache:     cache.NewAnalysisCache(),
		logger:    slog.Default(),
		tasks:     make(map[string]*taskRecord),
		firstSeen: make(map[string]deferral),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queen", "queen", config.ID)
	return q, nil
}

// ID returns the Queen id.
func (q *Queen) ID() string {
	return q.config.ID
}

// Config returns the Queen configuration.
func (q *Queen) Config() QueenConfig {
	return q.config
}

// Register records the Queen itself as an active agent.
func (q *Queen) Register(config shared.WorkerConfig) error {
	id := config.ID
	if id == "" {
		id = q.config.ID
	}
	if id != q.config.ID {
		return shared.NewValidationError("queen registration id does not match its configuration", map[string]interface{}{
			"id":       id,
			"expected": q.config.ID,
		})
	}
	_, err := q.registry.Register(shared.AgentRegistration{
		ID:   id,
		Role: shared.AgentRoleQueen,
		Kind: shared.AgentKindQueen,
	})
	return err
}

// GetState returns a snapshot of the Queen.
func (q *Queen) GetState() QueenState {
	return QueenState{
		ID:           q.config.ID,
		Role:         shared.AgentRoleQueen,
		ActiveAgents: q.ActiveAgents(),
		Decisions:    q.Decisions(),
	}
}

// ActiveAgents counts the registered queen plus live workers that are idle
// or working. Settled workers awaiting teardown are not active.
func (q *Queen) ActiveAgents() int {
	load := q.pool.Load()
	return q.registry.CountByKind(shared.AgentKindQueen) + load.Idle + load.Working
}

// Reserved returns the worker slots held for admitted waves that have not
// spawned their workers yet.
func (q *Queen) Reserved() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.reserved
}

// decide reads the pool load net of outstanding reservations, records a
// decision and, on proceed, reserves the wave's slots.
func (q *Queen) decide(analysis shared.TaskAnalysis, waited time.Duration) (shared.Decision, int) {
	q.admitMu.Lock()
	defer q.admitMu.Unlock()

	load := q.pool.Load()
	q.mu.RLock()
	load.IdleCapacity = max(load.IdleCapacity-q.reserved, 0)
	q.mu.RUnlock()

	decision := q.RecordDecision(q.MakeDecision(DecisionContext{
		Analysis: analysis,
		Load:     load,
		Waited:   waited,
	}))
	if decision.Outcome != shared.OutcomeProceed {
		return decision, 0
	}

	slots := int(analysis.AgentCount)
	q.mu.Lock()
	q.reserved += slots
	q.mu.Unlock()
	return decision, slots
}

func (q *Queen) release(slots int) {
	if slots <= 0 {
		return
	}
	q.mu.Lock()
	q.reserved = max(q.reserved-slots, 0)
	q.mu.Unlock()
}

// spawn starts one worker. While the wave still holds reserved slots the
// spawn and the release of one slot happen under admitMu, so a concurrent
// decision never counts the slot twice.
func (q *Queen) spawn(config shared.WorkerConfig, held *int) error {
	if *held > 0 {
		q.admitMu.Lock()
		defer q.admitMu.Unlock()
	}
	if _, err := q.pool.Spawn(config); err != nil {
		return err
	}
	if *held > 0 {
		q.release(1)
		*held--
	}
	return nil
}

// ============================================================================
// Analysis
// ============================================================================

// AnalyzeTask derives the worker shape of a task. Results are memoized by
// task signature; concurrent calls for one signature compute once.
func (q *Queen) AnalyzeTask(ctx context.Context, t shared.Task) (shared.TaskAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return shared.TaskAnalysis{}, err
	}
	if err := q.validator.Validate(t); err != nil {
		return shared.TaskAnalysis{}, err
	}
	signature, err := task.Signature(t)
	if err != nil {
		return shared.TaskAnalysis{}, err
	}

	analysis, _, err := q.cache.GetOrCompute(signature, func() (shared.TaskAnalysis, error) {
		roster, err := q.catalog.Roster(t)
		if err != nil {
			return shared.TaskAnalysis{}, err
		}
		return shared.TaskAnalysis{
			TaskType:   t.Type,
			Signature:  signature,
			AgentCount: uint(len(roster)),
			AgentTypes: agent.Kinds(roster),
			Roster:     roster,
		}, nil
	})
	if err != nil {
		return shared.TaskAnalysis{}, err
	}
	analysis.TaskID = t.ID
	return analysis, nil
}

// CacheStats returns the analysis cache counters.
func (q *Queen) CacheStats() cache.Stats {
	return q.cache.Stats()
}

// SetRule replaces the roster rule for a task type. Memoized analyses are
// dropped since they may have been produced by the old rule.
func (q *Queen) SetRule(taskType shared.TaskType, rule agent.Rule) error {
	if taskType == "" || rule == nil {
		return shared.NewValidationError("task type and rule are required", nil)
	}
	q.catalog.SetRule(taskType, rule)
	q.cache.Purge()
	q.logger.Info("roster rule replaced", "type", taskType)
	return nil
}

// SetSchema replaces the payload fields required for a task type.
func (q *Queen) SetSchema(taskType shared.TaskType, required ...string) error {
	if taskType == "" {
		return shared.NewValidationError("task type is required", nil)
	}
	q.validator.SetSchema(taskType, task.Schema{Required: required})
	return nil
}

// RegisterRole adds or replaces a role in the catalog. A registered role
// counts as known when scoring decisions.
func (q *Queen) RegisterRole(spec agent.RoleSpec) error {
	if spec.Role == "" {
		return shared.NewValidationError("role is required", nil)
	}
	q.catalog.Register(spec)
	return nil
}

// ============================================================================
// Decision
// ============================================================================

// MakeDecision applies the allocation policy. It is a pure function of its
// input: reject above the concurrency ceiling, defer while capacity is short
// and the wait budget lasts, proceed otherwise.
func (q *Queen) MakeDecision(dc DecisionContext) shared.Decision {
	count := int(dc.Analysis.AgentCount)
	decision := shared.Decision{
		TaskID:     dc.Analysis.TaskID,
		Confidence: q.confidence(dc),
		DecidedAt:  shared.Now(),
	}

	switch {
	case count == 0:
		decision.Outcome = shared.OutcomeReject
		decision.Reason = "analysis requested no workers"
	case count > q.config.MaxConcurrentAgents:
		decision.Outcome = shared.OutcomeReject
		decision.Reason = fmt.Sprintf("requested %d agents exceeds ceiling of %d", count, q.config.MaxConcurrentAgents)
	case dc.Load.IdleCapacity < count && dc.Waited < q.config.WaitBudget:
		decision.Outcome = shared.OutcomeDefer
		decision.Reason = fmt.Sprintf("idle capacity %d below %d requested agents", dc.Load.IdleCapacity, count)
	default:
		decision.Outcome = shared.OutcomeProceed
	}
	return decision
}

// confidence = CapacityWeight*idleRatio + RoleMatchWeight*roleMatchRatio,
// normalized by the weight sum and rounded to four decimals.
func (q *Queen) confidence(dc DecisionContext) float64 {
	count := int(dc.Analysis.AgentCount)

	idleRatio := 1.0
	if count > 0 {
		idleRatio = math.Min(float64(max(dc.Load.IdleCapacity, 0))/float64(count), 1)
	}

	kinds := dc.Analysis.AgentTypes
	if len(kinds) == 0 {
		kinds = agent.Kinds(dc.Analysis.Roster)
	}
	roleMatch := 1.0
	if len(kinds) > 0 {
		known := 0
		for _, k := range kinds {
			if q.catalog.Known(k) {
				known++
			}
		}
		roleMatch = float64(known) / float64(len(kinds))
	}

	weights := q.config.CapacityWeight + q.config.RoleMatchWeight
	score := (q.config.CapacityWeight*idleRatio + q.config.RoleMatchWeight*roleMatch) / weights
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*10000) / 10000
}

// RecordDecision appends decision to the log and assigns its sequence.
// A proceed decision counts as a new task.
func (q *Queen) RecordDecision(decision shared.Decision) shared.Decision {
	q.mu.Lock()
	q.decisionSeq++
	decision.Seq = q.decisionSeq
	if decision.DecidedAt == 0 {
		decision.DecidedAt = shared.Now()
	}
	q.decisions = append(q.decisions, decision)
	if decision.Outcome == shared.OutcomeProceed {
		q.counters.TotalTasks++
	}
	q.mu.Unlock()

	q.logger.Debug("decision recorded",
		"seq", decision.Seq,
		"task", decision.TaskID,
		"outcome", decision.Outcome,
		"confidence", decision.Confidence,
	)
	if q.bus != nil {
		q.bus.EmitDecisionRecorded(decision)
	}
	return decision
}

// RecordFailure appends a failure to the log.
func (q *Queen) RecordFailure(agentID, taskID string, err error) shared.FailureRecord {
	if err == nil {
		err = shared.NewExecutionError("unspecified failure", nil)
	}
	return q.recordFailure(agentID, taskID, shared.ErrorCode(err), err.Error())
}

func (q *Queen) recordFailure(agentID, taskID, code, message string) shared.FailureRecord {
	q.mu.Lock()
	q.failureSeq++
	record := shared.FailureRecord{
		Seq:        q.failureSeq,
		AgentID:    agentID,
		TaskID:     taskID,
		Code:       code,
		Message:    message,
		RecordedAt: shared.Now(),
	}
	q.failures = append(q.failures, record)
	q.mu.Unlock()

	q.logger.Warn("failure recorded", "agent", agentID, "task", taskID, "code", code, "error", message)
	if q.bus != nil {
		q.bus.EmitFailureRecorded(record)
	}
	return record
}

// Decisions returns a copy of the decision log.
func (q *Queen) Decisions() []shared.Decision {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]shared.Decision(nil), q.decisions...)
}

// RecentDecisions returns up to n of the most recent decisions.
func (q *Queen) RecentDecisions(n int) []shared.Decision {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if n <= 0 || n > len(q.decisions) {
		n = len(q.decisions)
	}
	return append([]shared.Decision(nil), q.decisions[len(q.decisions)-n:]...)
}

// Failures returns a copy of the failure log.
func (q *Queen) Failures() []shared.FailureRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]shared.FailureRecord(nil), q.failures...)
}

// Counters returns the running task counters.
func (q *Queen) Counters() Counters {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.counters
}

// ============================================================================
// Coordination
// ============================================================================

type waveResult struct {
	index  int
	result shared.WorkerResult
}

// CoordinateAgents runs one wave: it spawns a worker per role, executes a
// subtask on each concurrently and waits until all settle or the task
// timeout elapses. Every spawned worker is terminated before returning.
// Spawn errors abort the wave and are returned; execution errors are
// reported in the outcome.
func (q *Queen) CoordinateAgents(ctx context.Context, t shared.Task, roles []shared.AgentRole) (*shared.WaveOutcome, error) {
	return q.coordinate(ctx, t, roles, 0)
}

// coordinate runs a wave that holds held reserved slots. Each spawn converts
// one slot; whatever is left is released when the wave returns.
func (q *Queen) coordinate(ctx context.Context, t shared.Task, roles []shared.AgentRole, held int) (*shared.WaveOutcome, error) {
	defer func() { q.release(held) }()

	if len(roles) == 0 {
		return nil, shared.NewValidationError("at least one role is required", map[string]interface{}{"taskId": t.ID})
	}

	started := time.Now()
	waveCtx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
	defer cancel()

	ids := make([]string, 0, len(roles))
	defer func() {
		for _, id := range ids {
			q.pool.Terminate(id)
		}
	}()

	for _, role := range roles {
		id := shared.GenerateID(string(role))
		err := q.spawn(shared.WorkerConfig{
			ID:           id,
			Role:         role,
			Capabilities: q.catalog.Capabilities(role),
			Resources:    q.config.WorkerResources,
		}, &held)
		if err != nil {
			q.RecordFailure(q.config.ID, t.ID, err)
			return nil, err
		}
		ids = append(ids, id)
	}

	q.logger.Info("wave started", "task", t.ID, "workers", len(ids))
	if q.bus != nil {
		q.bus.EmitWaveStarted(t.ID, len(ids))
	}

	resCh := make(chan waveResult, len(ids))
	for i, id := range ids {
		go func(i int, id string) {
			subtask := shared.Subtask{TaskID: t.ID, Index: i, Role: roles[i], Task: t.Clone()}
			res, err := q.pool.Execute(waveCtx, id, subtask)
			if err != nil {
				res = shared.WorkerResult{
					WorkerID:  id,
					Role:      roles[i],
					Error:     err.Error(),
					ErrorCode: shared.ErrorCode(err),
				}
			}
			resCh <- waveResult{index: i, result: res}
		}(i, id)
	}

	results := make([]shared.WorkerResult, len(ids))
	collected := make([]bool, len(ids))
	q.collect(waveCtx, resCh, results, collected)

	for i, ok := range collected {
		if ok {
			continue
		}
		cause := unsettled(waveCtx, ids[i], t.ID)
		results[i] = shared.WorkerResult{
			WorkerID:   ids[i],
			Role:       roles[i],
			Error:      cause.Error(),
			ErrorCode:  shared.ErrorCode(cause),
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	outcome := &shared.WaveOutcome{
		TaskID:    t.ID,
		State:     shared.TaskStateCompleted,
		Results:   results,
		StartedAt: started.UnixMilli(),
	}
	for _, res := range results {
		if !res.Success {
			outcome.State = shared.TaskStatePartiallyFailed
			q.recordFailure(res.WorkerID, t.ID, res.ErrorCode, res.Error)
		}
	}
	outcome.SettledAt = shared.Now()
	outcome.DurationMs = time.Since(started).Milliseconds()

	q.settle(outcome)
	return outcome, nil
}

// unsettled is the cause recorded for a worker that never reported.
func unsettled(waveCtx context.Context, workerID, taskID string) error {
	details := map[string]interface{}{"workerId": workerID, "taskId": taskID}
	if errors.Is(waveCtx.Err(), context.DeadlineExceeded) {
		return shared.NewTimeoutError("worker did not settle before the task deadline", details)
	}
	return shared.NewSwarmError("wave was cancelled before the worker settled", shared.CodeCancelled, details)
}

// collect gathers wave results until all arrive. After the deadline it keeps
// draining for SettleGrace so workers that observed the deadline themselves
// report their own status.
func (q *Queen) collect(ctx context.Context, resCh <-chan waveResult, results []shared.WorkerResult, collected []bool) {
	remaining := len(results)
	for remaining > 0 {
		select {
		case r := <-resCh:
			results[r.index] = r.result
			collected[r.index] = true
			remaining--
		case <-ctx.Done():
			grace := time.NewTimer(q.config.SettleGrace)
			defer grace.Stop()
			for remaining > 0 {
				select {
				case r := <-resCh:
					results[r.index] = r.result
					collected[r.index] = true
					remaining--
				case <-grace.C:
					return
				}
			}
			return
		}
	}
}

func (q *Queen) settle(outcome *shared.WaveOutcome) {
	q.mu.Lock()
	q.counters.SettledWaves++
	q.counters.TotalResponseMs += outcome.DurationMs
	if outcome.State == shared.TaskStateCompleted {
		if q.counters.CompletedTasks < q.counters.TotalTasks {
			q.counters.CompletedTasks++
		}
	} else {
		q.counters.PartialWaves++
	}
	q.mu.Unlock()

	q.logger.Info("wave settled",
		"task", outcome.TaskID,
		"state", outcome.State,
		"workers", len(outcome.Results),
		"failed", outcome.Failed(),
		"duration_ms", outcome.DurationMs,
	)
	if q.bus != nil {
		q.bus.EmitWaveSettled(*outcome)
	}
}

// Close cancels background waves and waits for them to settle.
func (q *Queen) Close() {
	q.cancel()
	q.wg.Wait()
}
