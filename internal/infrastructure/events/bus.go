// Package events provides an event bus implementation using Go channels.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/blackms/swarm-core/internal/shared"
)

// Wildcard subscribes to every event type.
const Wildcard shared.EventType = "*"

// EventBus provides a publish-subscribe event system using Go channels.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[shared.EventType][]chan shared.Event
	bufferSize  int
	dropped     atomic.Int64
	closed      bool
}

// Option configures the EventBus.
type Option func(*EventBus)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(eb *EventBus) {
		if size > 0 {
			eb.bufferSize = size
		}
	}
}

// New creates a new EventBus.
func New(opts ...Option) *EventBus {
	eb := &EventBus{
		subscribers: make(map[shared.EventType][]chan shared.Event),
		bufferSize:  256,
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

// Subscribe creates a channel to receive events of the given type.
// On a closed bus the returned channel is already closed.
func (eb *EventBus) Subscribe(eventType shared.EventType) <-chan shared.Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan shared.Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a channel to receive all events.
func (eb *EventBus) SubscribeAll() <-chan shared.Event {
	return eb.Subscribe(Wildcard)
}

// Unsubscribe removes and closes a subscription channel.
func (eb *EventBus) Unsubscribe(eventType shared.EventType, ch <-chan shared.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	for i, sub := range subs {
		if (<-chan shared.Event)(sub) == ch {
			eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Emit publishes an event to all subscribers. Sends never
// block; events for a full subscriber are dropped and counted.
func (eb *EventBus) Emit(event shared.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = shared.Now()
	}

	eb.deliver(eb.subscribers[event.Type], event)
	if event.Type != Wildcard {
		eb.deliver(eb.subscribers[Wildcard], event)
	}
}

func (eb *EventBus) deliver(subs []chan shared.Event, event shared.Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Close closes all subscriber channels and stops the event bus.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, subs := range eb.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}

	eb.subscribers = make(map[shared.EventType][]chan shared.Event)
}

// ============================================================================
// Helper Functions
// ============================================================================

// EmitWorkerSpawned emits a worker spawned event.
func (eb *EventBus) EmitWorkerSpawned(workerID string, role shared.AgentRole) {
	eb.Emit(shared.Event{
		Type: shared.EventWorkerSpawned,
		Payload: map[string]interface{}{
			"workerId": workerID,
			"role":     string(role),
		},
	})
}

// EmitWorkerStatus emits a worker status change event.
func (eb *EventBus) EmitWorkerStatus(workerID string, status shared.WorkerStatus, taskID string) {
	eb.Emit(shared.Event{
		Type: shared.EventWorkerStatus,
		Payload: map[string]interface{}{
			"workerId": workerID,
			"status":   string(status),
			"taskId":   taskID,
		},
	})
}

// EmitWorkerTerminated emits a worker terminated event.
func (eb *EventBus) EmitWorkerTerminated(workerID string) {
	eb.Emit(shared.Event{
		Type: shared.EventWorkerTerminated,
		Payload: map[string]interface{}{
			"workerId": workerID,
		},
	})
}

// EmitDecisionRecorded emits a decision recorded event.
func (eb *EventBus) EmitDecisionRecorded(decision shared.Decision) {
	eb.Emit(shared.Event{
		Type:    shared.EventDecisionRecorded,
		Payload: decision,
	})
}

// EmitFailureRecorded emits a failure recorded event.
func (eb *EventBus) EmitFailureRecorded(record shared.FailureRecord) {
	eb.Emit(shared.Event{
		Type:    shared.EventFailureRecorded,
		Payload: record,
	})
}

// EmitWaveStarted emits a wave started event.
func (eb *EventBus) EmitWaveStarted(taskID string, workers int) {
	eb.Emit(shared.Event{
		Type: shared.EventWaveStarted,
		Payload: map[string]interface{}{
			"taskId":  taskID,
			"workers": workers,
		},
	})
}

// EmitWaveSettled emits a wave settled event.
func (eb *EventBus) EmitWaveSettled(outcome shared.WaveOutcome) {
	eb.Emit(shared.Event{
		Type: shared.EventWaveSettled,
		Payload: map[string]interface{}{
			"taskId":     outcome.TaskID,
			"state":      string(outcome.State),
			"results":    len(outcome.Results),
			"failed":     outcome.Failed(),
			"durationMs": outcome.DurationMs,
		},
	})
}
