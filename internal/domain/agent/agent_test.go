package agent

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/blackms/swarm-core/internal/shared"
)

func TestCatalog_Roster(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name     string
		task     shared.Task
		expected []shared.AgentRole
	}{
		{
			name:     "build with three files",
			task:     shared.Task{ID: "t1", Type: shared.TaskTypeBuild, Payload: map[string]interface{}{"files": 3}},
			expected: []shared.AgentRole{"programmer", "tester"},
		},
		{
			name:     "build with twelve files",
			task:     shared.Task{ID: "t2", Type: shared.TaskTypeBuild, Payload: map[string]interface{}{"files": float64(12)}},
			expected: []shared.AgentRole{"programmer", "programmer", "programmer", "tester"},
		},
		{
			name:     "build with zero files still gets one programmer",
			task:     shared.Task{ID: "t3", Type: shared.TaskTypeBuild, Payload: map[string]interface{}{"files": 0}},
			expected: []shared.AgentRole{"programmer", "tester"},
		},
		{
			name:     "test cases",
			task:     shared.Task{ID: "t4", Type: shared.TaskTypeTest, Payload: map[string]interface{}{"cases": 41}},
			expected: []shared.AgentRole{"tester", "tester", "tester"},
		},
		{
			name:     "security review",
			task:     shared.Task{ID: "t5", Type: shared.TaskTypeReview, Payload: map[string]interface{}{"security": true}},
			expected: []shared.AgentRole{"reviewer", "security-auditor"},
		},
		{
			name:     "research topics",
			task:     shared.Task{ID: "t6", Type: shared.TaskTypeResearch, Payload: map[string]interface{}{"topics": []interface{}{"a", "b"}}},
			expected: []shared.AgentRole{"researcher", "researcher", "analyst"},
		},
		{
			name:     "design",
			task:     shared.Task{ID: "t7", Type: shared.TaskTypeDesign},
			expected: []shared.AgentRole{"architect", "reviewer"},
		},
		{
			name:     "deploy",
			task:     shared.Task{ID: "t8", Type: shared.TaskTypeDeploy, Payload: map[string]interface{}{"target": "prod"}},
			expected: []shared.AgentRole{"devops", "tester"},
		},
		{
			name:     "unknown type",
			task:     shared.Task{ID: "t9", Type: "translate"},
			expected: []shared.AgentRole{"generalist"},
		},
		{
			name:     "explicit roles override the rule",
			task:     shared.Task{ID: "t10", Type: shared.TaskTypeBuild, Payload: map[string]interface{}{"files": 100, "roles": []interface{}{"tester", "tester"}}},
			expected: []shared.AgentRole{"tester", "tester"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Roster(tt.task)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Fatalf("Roster() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestCatalog_RosterRejectsMalformedPayload(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name    string
		payload map[string]interface{}
		typ     shared.TaskType
	}{
		{"files not a number", map[string]interface{}{"files": "three"}, shared.TaskTypeBuild},
		{"negative files", map[string]interface{}{"files": -1}, shared.TaskTypeBuild},
		{"roles not a list", map[string]interface{}{"roles": "tester"}, shared.TaskTypeBuild},
		{"empty roles", map[string]interface{}{"roles": []interface{}{}}, shared.TaskTypeBuild},
		{"topics not a list", map[string]interface{}{"topics": 3}, shared.TaskTypeResearch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Roster(shared.Task{ID: "bad", Type: tt.typ, Payload: tt.payload})
			if !errors.Is(err, shared.ErrInvalidTask) {
				t.Fatalf("expected InvalidTaskError, got %v", err)
			}
		})
	}
}

func TestCatalog_KnownAndCapabilities(t *testing.T) {
	c := NewCatalog()

	if !c.Known(shared.AgentRoleProgrammer) {
		t.Fatal("expected programmer to be a known role")
	}
	if c.Known("astronaut") {
		t.Fatal("did not expect astronaut to be known")
	}

	if got := c.Capabilities(shared.AgentRoleSecurityAuditor); !reflect.DeepEqual(got, []string{"security-audit", "threat-modeling"}) {
		t.Fatalf("unexpected default capabilities %v", got)
	}

	c.Register(RoleSpec{Role: shared.AgentRoleSecurityAuditor, Capabilities: []string{"pentest"}})
	if got := c.Capabilities(shared.AgentRoleSecurityAuditor); !reflect.DeepEqual(got, []string{"pentest"}) {
		t.Fatalf("unexpected capabilities %v", got)
	}
}

func TestKinds(t *testing.T) {
	got := Kinds([]shared.AgentRole{"programmer", "programmer", "tester", "programmer"})
	expected := []shared.AgentRole{"programmer", "tester"}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("Kinds() = %v, expected %v", got, expected)
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recordingEmitter) Emit(e shared.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	emitter := &recordingEmitter{}
	r := NewRegistry(WithEmitter(emitter))

	if _, err := r.Register(shared.AgentRegistration{ID: "queen", Role: shared.AgentRoleQueen, Kind: shared.AgentKindQueen}); err != nil {
		t.Fatalf("register queen: %v", err)
	}
	if _, err := r.Register(shared.AgentRegistration{ID: "w1", Role: shared.AgentRoleProgrammer}); err != nil {
		t.Fatalf("register worker: %v", err)
	}

	_, err := r.Register(shared.AgentRegistration{ID: "w1", Role: shared.AgentRoleTester})
	if !errors.Is(err, shared.ErrDuplicateID) {
		t.Fatalf("expected DuplicateIDError, got %v", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != "queen" || list[1].ID != "w1" {
		t.Fatalf("expected registration order [queen w1], got %+v", list)
	}
	if list[1].Kind != shared.AgentKindWorker {
		t.Fatalf("expected default kind worker, got %q", list[1].Kind)
	}
	if r.CountByKind(shared.AgentKindWorker) != 1 {
		t.Fatalf("expected 1 worker, got %d", r.CountByKind(shared.AgentKindWorker))
	}

	if !r.Unregister("w1") {
		t.Fatal("expected w1 to be unregistered")
	}
	if r.Unregister("w1") {
		t.Fatal("expected second unregister to report false")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 agent left, got %d", r.Count())
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(emitter.events))
	}
	if emitter.events[2].Type != shared.EventAgentUnregistered {
		t.Fatalf("expected last event agent:unregistered, got %q", emitter.events[2].Type)
	}
}

func TestRegistry_RejectsEmptyFields(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(shared.AgentRegistration{Role: shared.AgentRoleTester}); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ValidationError for empty id, got %v", err)
	}
	if _, err := r.Register(shared.AgentRegistration{ID: "x"}); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ValidationError for empty role, got %v", err)
	}
}
