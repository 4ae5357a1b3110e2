package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blackms/swarm-core/internal/domain/agent"
	"github.com/blackms/swarm-core/internal/infrastructure/events"
	"github.com/blackms/swarm-core/internal/shared"
)

// MonitorConfig holds configuration for the monitor.
type MonitorConfig struct {
	ConsensusWindow    int           // Decisions considered for the consensus rate
	ConsensusThreshold float64       // Minimum confidence counted as consensus
	Interval           time.Duration // Periodic recomputation; 0 is push-only
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ConsensusWindow:    50,
		ConsensusThreshold: 0.7,
	}
}

// WorkerSource exposes the live workers to the monitor.
type WorkerSource interface {
	List() []shared.WorkerInstance
	Performance(workerID string) (shared.AgentPerformance, bool)
}

// Monitor projects swarm health from the Queen, the registry, the pool and
// the analysis cache, and pushes egress events to its subscribers.
type Monitor struct {
	config   MonitorConfig
	queen    *Queen
	registry *agent.Registry
	workers  WorkerSource
	bus      *events.EventBus
	logger   *slog.Logger

	mu      sync.RWMutex
	subs    map[int]chan shared.Event
	nextSub int
	started bool
	feed    <-chan shared.Event

	notify          chan struct{}
	pendingAgents   atomic.Bool
	pendingTopology atomic.Bool
	recomputations  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. bus may be nil, in which case only Trigger
// and the interval schedule recomputations.
func NewMonitor(config MonitorConfig, queen *Queen, registry *agent.Registry, workers WorkerSource, bus *events.EventBus, logger *slog.Logger) *Monitor {
	if config.ConsensusWindow <= 0 {
		config.ConsensusWindow = DefaultMonitorConfig().ConsensusWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config:   config,
		queen:    queen,
		registry: registry,
		workers:  workers,
		bus:      bus,
		logger:   logger.With("component", "monitor"),
		subs:     make(map[int]chan shared.Event),
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Snapshot computes the current metrics. It never mutates its sources.
func (m *Monitor) Snapshot() shared.SwarmMetrics {
	counters := m.queen.Counters()
	completed := counters.CompletedTasks
	if completed > counters.TotalTasks {
		completed = counters.TotalTasks
	}

	return shared.SwarmMetrics{
		ActiveAgents:      m.queen.ActiveAgents(),
		TotalTasks:        counters.TotalTasks,
		CompletedTasks:    completed,
		AvgResponseTimeMs: counters.AvgResponseTimeMs(),
		ConsensusRate:     m.consensusRate(),
		CacheHitRate:      m.queen.CacheStats().HitRate(),
		Timestamp:         shared.Now(),
	}
}

func (m *Monitor) consensusRate() float64 {
	window := m.queen.RecentDecisions(m.config.ConsensusWindow)
	if len(window) == 0 {
		return 0
	}
	agreed := 0
	for _, d := range window {
		if d.Outcome == shared.OutcomeProceed && d.Confidence >= m.config.ConsensusThreshold {
			agreed++
		}
	}
	return float64(agreed) / float64(len(window))
}

// ListAgents returns every registered agent ordered by registration.
func (m *Monitor) ListAgents() []shared.AgentView {
	live := make(map[string]shared.WorkerInstance)
	for _, w := range m.workers.List() {
		live[w.ID] = w
	}

	regs := m.registry.List()
	views := make([]shared.AgentView, 0, len(regs))
	for _, reg := range regs {
		view := shared.AgentView{
			ID:   reg.ID,
			Type: reg.Role,
			Kind: reg.Kind,
		}
		if reg.Kind == shared.AgentKindQueen {
			view.Status = "active"
		} else if w, ok := live[reg.ID]; ok {
			view.Status = string(w.Status)
			view.CurrentTask = w.CurrentTask
			if perf, ok := m.workers.Performance(reg.ID); ok {
				view.Performance = perf
			}
		} else {
			view.Status = "unknown"
		}
		views = append(views, view)
	}
	return views
}

// Start subscribes to the event bus and begins pushing egress events.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	if m.bus != nil {
		m.feed = m.bus.SubscribeAll()
	}
	m.mu.Unlock()

	if m.feed != nil {
		m.wg.Add(1)
		go m.consume(m.feed)
	}
	m.wg.Add(1)
	go m.loop()
}

// Stop halts recomputation and closes every subscriber channel.
func (m *Monitor) Stop() {
	m.cancel()
	m.mu.Lock()
	feed := m.feed
	m.feed = nil
	m.mu.Unlock()
	if feed != nil {
		m.bus.Unsubscribe(events.Wildcard, feed)
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// Trigger schedules a recomputation. Calls made while one is pending are
// coalesced.
func (m *Monitor) Trigger() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Recomputations returns how many recomputations have run.
func (m *Monitor) Recomputations() int64 {
	return m.recomputations.Load()
}

// Subscribe returns a channel of egress events and a cancel function.
func (m *Monitor) Subscribe() (<-chan shared.Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan shared.Event, 64)
	if m.ctx.Err() != nil {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				close(sub)
				delete(m.subs, id)
			}
		})
	}
}

func (m *Monitor) consume(feed <-chan shared.Event) {
	defer m.wg.Done()

	for ev := range feed {
		if ev.Type.IsEgress() {
			continue
		}
		switch ev.Type {
		case shared.EventWorkerSpawned, shared.EventWorkerTerminated:
			m.pendingTopology.Store(true)
			m.pendingAgents.Store(true)
		case shared.EventAgentRegistered, shared.EventAgentUnregistered, shared.EventWorkerStatus:
			m.pendingAgents.Store(true)
		}
		m.Trigger()
	}
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.config.Interval > 0 {
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.notify:
			m.recompute()
		case <-tick:
			m.recompute()
		}
	}
}

func (m *Monitor) recompute() {
	m.recomputations.Add(1)

	m.publish(shared.Event{
		Type:      shared.EventMetricsUpdate,
		Timestamp: shared.Now(),
		Payload:   m.Snapshot(),
	})
	if m.pendingAgents.Swap(false) {
		m.publish(shared.Event{
			Type:      shared.EventAgentsUpdate,
			Timestamp: shared.Now(),
			Payload:   m.ListAgents(),
		})
	}
	if m.pendingTopology.Swap(false) {
		workers := m.workers.List()
		ids := make([]string, 0, len(workers))
		for _, w := range workers {
			ids = append(ids, w.ID)
		}
		sort.Strings(ids)
		m.publish(shared.Event{
			Type:      shared.EventTopologyChange,
			Timestamp: shared.Now(),
			Payload: map[string]interface{}{
				"queen":   m.queen.ID(),
				"workers": ids,
			},
		})
	}
}

func (m *Monitor) publish(ev shared.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("subscriber full, dropping event", "type", ev.Type)
		}
	}
}
