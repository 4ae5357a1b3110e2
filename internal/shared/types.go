// Package shared provides the data model shared across the swarm core.
package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Task Types
// ============================================================================

// TaskType identifies the kind of work a task describes.
type TaskType string

const (
	TaskTypeBuild    TaskType = "build"
	TaskTypeTest     TaskType = "test"
	TaskTypeReview   TaskType = "review"
	TaskTypeResearch TaskType = "research"
	TaskTypeDesign   TaskType = "design"
	TaskTypeDeploy   TaskType = "deploy"
)

// Task is a unit of work submitted by a caller. It is immutable once submitted.
type Task struct {
	ID          string                 `json:"id"`
	Type        TaskType               `json:"type"`
	Description string                 `json:"description,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	t.Payload = ClonePayload(t.Payload)
	return t
}

// TaskAnalysis is the worker shape derived from a task.
type TaskAnalysis struct {
	TaskID     string      `json:"taskId"`
	TaskType   TaskType    `json:"taskType"`
	Signature  string      `json:"signature"`
	AgentCount uint        `json:"agentCount"`
	AgentTypes []AgentRole `json:"agentTypes"`
	Roster     []AgentRole `json:"roster"`
}

// Clone returns a copy whose slices do not alias the receiver.
func (a TaskAnalysis) Clone() TaskAnalysis {
	a.AgentTypes = append([]AgentRole(nil), a.AgentTypes...)
	a.Roster = append([]AgentRole(nil), a.Roster...)
	return a
}

// TaskState is the lifecycle state of a task inside the Queen.
type TaskState string

const (
	TaskStateReceived        TaskState = "received"
	TaskStateAnalyzed        TaskState = "analyzed"
	TaskStateRejected        TaskState = "rejected"
	TaskStateDeferred        TaskState = "deferred"
	TaskStateCoordinating    TaskState = "coordinating"
	TaskStateCompleted       TaskState = "completed"
	TaskStatePartiallyFailed TaskState = "partially-failed"
)

// IsTerminal reports whether no further transition can happen from s.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateRejected, TaskStateDeferred, TaskStateCompleted, TaskStatePartiallyFailed:
		return true
	}
	return false
}

// ============================================================================
// Agent Types
// ============================================================================

// AgentRole is the role tag a worker (or the queen) is spawned with.
type AgentRole string

const (
	AgentRoleQueen           AgentRole = "queen"
	AgentRoleProgrammer      AgentRole = "programmer"
	AgentRoleTester          AgentRole = "tester"
	AgentRoleReviewer        AgentRole = "reviewer"
	AgentRoleSecurityAuditor AgentRole = "security-auditor"
	AgentRoleResearcher      AgentRole = "researcher"
	AgentRoleAnalyst         AgentRole = "analyst"
	AgentRoleArchitect       AgentRole = "architect"
	AgentRoleDevOps          AgentRole = "devops"
	AgentRoleGeneralist      AgentRole = "generalist"
)

// AgentKind distinguishes the coordinating agent from disposable workers.
type AgentKind string

const (
	AgentKindQueen  AgentKind = "queen"
	AgentKindWorker AgentKind = "worker"
)

// AgentRegistration records an agent known to the coordinator.
type AgentRegistration struct {
	ID           string    `json:"id"`
	Role         AgentRole `json:"role"`
	Kind         AgentKind `json:"kind"`
	RegisteredAt int64     `json:"registeredAt"`
}

// AgentPerformance holds per-agent execution counters.
type AgentPerformance struct {
	TasksCompleted int     `json:"tasksCompleted"`
	TasksFailed    int     `json:"tasksFailed"`
	SuccessRate    float64 `json:"successRate"`
	AvgDurationMs  float64 `json:"avgDurationMs"`
}

// AgentView is the display row returned by ListAgents.
type AgentView struct {
	ID          string           `json:"id"`
	Type        AgentRole        `json:"type"`
	Kind        AgentKind        `json:"kind"`
	Status      string           `json:"status"`
	CurrentTask string           `json:"currentTask,omitempty"`
	Performance AgentPerformance `json:"performance"`
}

// ============================================================================
// Worker Types
// ============================================================================

// WorkerStatus is the status of a worker instance.
type WorkerStatus string

const (
	WorkerStatusIdle      WorkerStatus = "idle"
	WorkerStatusWorking   WorkerStatus = "working"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
)

// Resources is the share of pool resources a worker reserves.
type Resources struct {
	CPUShare    float64 `json:"cpuShare" yaml:"cpu_share" mapstructure:"cpu_share"`
	MemoryShare float64 `json:"memoryShare" yaml:"memory_share" mapstructure:"memory_share"`
}

// WorkerConfig is the input to Pool.Spawn.
type WorkerConfig struct {
	ID           string    `json:"id"`
	Role         AgentRole `json:"role"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Resources    Resources `json:"resources"`
}

// WorkerInstance is a point-in-time snapshot of a live worker.
type WorkerInstance struct {
	ID          string       `json:"id"`
	Role        AgentRole    `json:"role"`
	Status      WorkerStatus `json:"status"`
	Progress    int          `json:"progress"`
	CurrentTask string       `json:"currentTask,omitempty"`
	Resources   Resources    `json:"resources"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// StatusReport is returned by Pool.ReportStatus.
type StatusReport struct {
	Status   WorkerStatus `json:"status"`
	Progress int          `json:"progress"`
}

// Subtask is the unit a single worker executes within a wave.
type Subtask struct {
	TaskID string    `json:"taskId"`
	Index  int       `json:"index"`
	Role   AgentRole `json:"role"`
	Task   Task      `json:"task"`
}

// WorkerResult is the outcome of one execution. Exactly one of Result or
// Error is set.
type WorkerResult struct {
	WorkerID   string      `json:"workerId"`
	Role       AgentRole   `json:"role"`
	Success    bool        `json:"success"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  string      `json:"errorCode,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// LoadSnapshot describes current pool occupancy as seen by the Queen.
type LoadSnapshot struct {
	Live         int `json:"live"`
	Idle         int `json:"idle"`
	Working      int `json:"working"`
	IdleCapacity int `json:"idleCapacity"`
	Capacity     int `json:"capacity"`
}

// ============================================================================
// Decision Types
// ============================================================================

// DecisionOutcome is the result of Queen.MakeDecision.
type DecisionOutcome string

const (
	OutcomeProceed DecisionOutcome = "proceed"
	OutcomeReject  DecisionOutcome = "reject"
	OutcomeDefer   DecisionOutcome = "defer"
)

// Decision is one entry of the Queen's decision log.
type Decision struct {
	Seq        uint64          `json:"seq"`
	TaskID     string          `json:"taskId"`
	Outcome    DecisionOutcome `json:"outcome"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason,omitempty"`
	DecidedAt  int64           `json:"decidedAt"`
}

// FailureRecord is one entry of the Queen's failure log.
type FailureRecord struct {
	Seq        uint64 `json:"seq"`
	AgentID    string `json:"agentId"`
	TaskID     string `json:"taskId,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RecordedAt int64  `json:"recordedAt"`
}

// WaveOutcome is the settled result of one coordination wave.
type WaveOutcome struct {
	TaskID     string         `json:"taskId"`
	TaskRef    string         `json:"taskRef,omitempty"`
	State      TaskState      `json:"state"`
	Results    []WorkerResult `json:"results"`
	StartedAt  int64          `json:"startedAt"`
	SettledAt  int64          `json:"settledAt"`
	DurationMs int64          `json:"durationMs"`
}

// Failed returns the number of unsuccessful results in the wave.
func (w *WaveOutcome) Failed() int {
	n := 0
	for _, r := range w.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Submission is the reply of the ingress contract.
type Submission struct {
	Accepted bool     `json:"accepted"`
	TaskRef  string   `json:"taskRef"`
	Decision Decision `json:"decision"`
}

// ============================================================================
// Metrics Types
// ============================================================================

// SwarmMetrics is an immutable snapshot of swarm health.
type SwarmMetrics struct {
	ActiveAgents      int     `json:"activeAgents"`
	TotalTasks        int64   `json:"totalTasks"`
	CompletedTasks    int64   `json:"completedTasks"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	ConsensusRate     float64 `json:"consensusRate"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	Timestamp         int64   `json:"timestamp"`
}

// ============================================================================
// Event Types
// ============================================================================

// EventType is the type tag of an event on the bus.
type EventType string

const (
	EventWorkerSpawned     EventType = "worker:spawned"
	EventWorkerStatus      EventType = "worker:status"
	EventWorkerTerminated  EventType = "worker:terminated"
	EventAgentRegistered   EventType = "agent:registered"
	EventAgentUnregistered EventType = "agent:unregistered"
	EventTaskSubmitted     EventType = "task:submitted"
	EventDecisionRecorded  EventType = "decision:recorded"
	EventFailureRecorded   EventType = "failure:recorded"
	EventWaveStarted       EventType = "wave:started"
	EventWaveSettled       EventType = "wave:settled"

	// Egress events consumed outside the core.
	EventMetricsUpdate  EventType = "metrics:update"
	EventAgentsUpdate   EventType = "agents:update"
	EventTopologyChange EventType = "topology:change"
)

// IsEgress reports whether t is delivered to external subscribers.
func (t EventType) IsEgress() bool {
	switch t {
	case EventMetricsUpdate, EventAgentsUpdate, EventTopologyChange:
		return true
	}
	return false
}

// Event is a JSON-serializable message on the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ============================================================================
// Helper Functions
// ============================================================================

// Now returns the current time in Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// GenerateID returns a random identifier with the given prefix.
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
