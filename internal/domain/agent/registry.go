package agent

import (
	"sort"
	"sync"

	"github.com/blackms/swarm-core/internal/shared"
)

// Emitter receives registry events.
type Emitter interface {
	Emit(event shared.Event)
}

// Registry tracks the agents currently registered with the coordinator.
// It is created by the coordinator and handed to the Queen and the pool.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   uint64
	emitter Emitter
}

type registryEntry struct {
	reg   shared.AgentRegistration
	order uint64
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithEmitter publishes agent:registered and agent:unregistered events.
func WithEmitter(e Emitter) RegistryOption {
	return func(r *Registry) {
		r.emitter = e
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{entries: make(map[string]*registryEntry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records an agent. Registering a live id fails with DuplicateIDError.
func (r *Registry) Register(reg shared.AgentRegistration) (shared.AgentRegistration, error) {
	if reg.ID == "" {
		return shared.AgentRegistration{}, shared.NewValidationError("agent id is required", nil)
	}
	if reg.Role == "" {
		return shared.AgentRegistration{}, shared.NewValidationError("agent role is required", map[string]interface{}{"id": reg.ID})
	}
	if reg.Kind == "" {
		reg.Kind = shared.AgentKindWorker
	}
	if reg.RegisteredAt == 0 {
		reg.RegisteredAt = shared.Now()
	}

	r.mu.Lock()
	if _, exists := r.entries[reg.ID]; exists {
		r.mu.Unlock()
		return shared.AgentRegistration{}, shared.NewDuplicateIDError(reg.ID)
	}
	r.order++
	r.entries[reg.ID] = &registryEntry{reg: reg, order: r.order}
	r.mu.Unlock()

	r.emit(shared.EventAgentRegistered, reg)
	return reg, nil
}

// Unregister removes an agent. It reports whether the id was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		r.emit(shared.EventAgentUnregistered, entry.reg)
	}
	return ok
}

// Get returns the registration for id.
func (r *Registry) Get(id string) (shared.AgentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return shared.AgentRegistration{}, false
	}
	return entry.reg, true
}

// List returns registrations in registration order.
func (r *Registry) List() []shared.AgentRegistration {
	r.mu.RLock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	out := make([]shared.AgentRegistration, len(entries))
	for i, e := range entries {
		out[i] = e.reg
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountByKind returns the number of registered agents of kind.
func (r *Registry) CountByKind(kind shared.AgentKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.reg.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Registry) emit(eventType shared.EventType, reg shared.AgentRegistration) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(shared.Event{
		Type:      eventType,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"agentId": reg.ID,
			"role":    string(reg.Role),
			"kind":    string(reg.Kind),
		},
	})
}
