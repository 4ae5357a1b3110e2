package pool

import (
	"sort"
	"sync"

	"github.com/blackms/swarm-core/internal/shared"
)

// RoleMetrics aggregates execution outcomes for one role across every
// worker ever spawned with it.
type RoleMetrics struct {
	Role            shared.AgentRole `json:"role"`
	TotalTasks      int64            `json:"totalTasks"`
	SuccessfulTasks int64            `json:"successfulTasks"`
	FailedTasks     int64            `json:"failedTasks"`
	TimedOutTasks   int64            `json:"timedOutTasks"`
	SuccessRate     float64          `json:"successRate"`
	AvgLatencyMs    float64          `json:"avgLatencyMs"`
	MinLatencyMs    float64          `json:"minLatencyMs"`
	MaxLatencyMs    float64          `json:"maxLatencyMs"`
	LastUpdated     int64            `json:"lastUpdated"`
	HealthStatus    HealthStatus     `json:"healthStatus"`
}

// HealthStatus represents the health status of a role.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthAlert records a role health status change.
type HealthAlert struct {
	Role      shared.AgentRole `json:"role"`
	From      HealthStatus     `json:"from"`
	To        HealthStatus     `json:"to"`
	Severity  string           `json:"severity"` // info, warning, critical
	Timestamp int64            `json:"timestamp"`
}

// HealthConfig holds role health thresholds.
type HealthConfig struct {
	SuccessRateThreshold float64 // Below this is degraded
	CriticalSuccessRate  float64 // Below this is unhealthy
	MaxLatencyMs         float64 // Above this is degraded
	CriticalLatencyMs    float64 // Above this is unhealthy
	MinSamples           int64   // Success rate is ignored below this
	MaxAlerts            int
}

// DefaultHealthConfig returns the default health configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		SuccessRateThreshold: 0.9,
		CriticalSuccessRate:  0.7,
		MaxLatencyMs:         5000,
		CriticalLatencyMs:    10000,
		MinSamples:           10,
		MaxAlerts:            100,
	}
}

// RoleHealth tracks execution health per role.
type RoleHealth struct {
	mu      sync.RWMutex
	metrics map[shared.AgentRole]*RoleMetrics
	alerts  []HealthAlert
	config  HealthConfig
	onAlert func(alert HealthAlert)
}

// NewRoleHealth creates a RoleHealth tracker.
func NewRoleHealth(config HealthConfig) *RoleHealth {
	return &RoleHealth{
		metrics: make(map[shared.AgentRole]*RoleMetrics),
		config:  config,
	}
}

// SetOnAlert sets a handler called on every status change.
func (rh *RoleHealth) SetOnAlert(handler func(alert HealthAlert)) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.onAlert = handler
}

// Record adds one settled execution of role.
func (rh *RoleHealth) Record(role shared.AgentRole, result shared.WorkerResult) {
	rh.mu.Lock()

	m, ok := rh.metrics[role]
	if !ok {
		m = &RoleMetrics{Role: role, HealthStatus: HealthStatusUnknown}
		rh.metrics[role] = m
	}

	latency := float64(result.DurationMs)
	m.TotalTasks++
	if result.Success {
		m.SuccessfulTasks++
	} else {
		m.FailedTasks++
		if result.ErrorCode == shared.CodeTimeout {
			m.TimedOutTasks++
		}
	}
	m.SuccessRate = float64(m.SuccessfulTasks) / float64(m.TotalTasks)

	if m.TotalTasks == 1 || latency < m.MinLatencyMs {
		m.MinLatencyMs = latency
	}
	if latency > m.MaxLatencyMs {
		m.MaxLatencyMs = latency
	}
	n := float64(m.TotalTasks)
	m.AvgLatencyMs = (m.AvgLatencyMs*(n-1) + latency) / n
	m.LastUpdated = shared.Now()

	alert, changed := rh.updateStatusLocked(m)
	handler := rh.onAlert
	rh.mu.Unlock()

	if changed && handler != nil {
		handler(alert)
	}
}

// updateStatusLocked recomputes the status (caller must hold lock).
func (rh *RoleHealth) updateStatusLocked(m *RoleMetrics) (HealthAlert, bool) {
	old := m.HealthStatus
	status := HealthStatusHealthy

	if m.TotalTasks >= rh.config.MinSamples {
		if m.SuccessRate < rh.config.CriticalSuccessRate {
			status = HealthStatusUnhealthy
		} else if m.SuccessRate < rh.config.SuccessRateThreshold {
			status = HealthStatusDegraded
		}
	}

	if m.AvgLatencyMs > rh.config.CriticalLatencyMs {
		status = HealthStatusUnhealthy
	} else if m.AvgLatencyMs > rh.config.MaxLatencyMs && status == HealthStatusHealthy {
		status = HealthStatusDegraded
	}

	m.HealthStatus = status
	if old == status || old == HealthStatusUnknown {
		return HealthAlert{}, false
	}

	severity := "info"
	switch status {
	case HealthStatusDegraded:
		severity = "warning"
	case HealthStatusUnhealthy:
		severity = "critical"
	}
	alert := HealthAlert{
		Role:      m.Role,
		From:      old,
		To:        status,
		Severity:  severity,
		Timestamp: shared.Now(),
	}
	rh.alerts = append(rh.alerts, alert)
	if rh.config.MaxAlerts > 0 && len(rh.alerts) > rh.config.MaxAlerts {
		rh.alerts = rh.alerts[len(rh.alerts)-rh.config.MaxAlerts:]
	}
	return alert, true
}

// Metrics returns a copy of the metrics for role.
func (rh *RoleHealth) Metrics(role shared.AgentRole) (RoleMetrics, bool) {
	rh.mu.RLock()
	defer rh.mu.RUnlock()

	m, ok := rh.metrics[role]
	if !ok {
		return RoleMetrics{}, false
	}
	return *m, true
}

// All returns metrics for every role seen, sorted by role.
func (rh *RoleHealth) All() []RoleMetrics {
	rh.mu.RLock()
	defer rh.mu.RUnlock()

	out := make([]RoleMetrics, 0, len(rh.metrics))
	for _, m := range rh.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// Alerts returns up to limit of the most recent alerts.
func (rh *RoleHealth) Alerts(limit int) []HealthAlert {
	rh.mu.RLock()
	defer rh.mu.RUnlock()

	if limit <= 0 || limit > len(rh.alerts) {
		limit = len(rh.alerts)
	}
	return append([]HealthAlert(nil), rh.alerts[len(rh.alerts)-limit:]...)
}
