package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blackms/swarm-core/internal/config"
	"github.com/blackms/swarm-core/internal/infrastructure/pool"
	"github.com/blackms/swarm-core/internal/shared"
	"github.com/gorilla/websocket"
)

type fakeSwarm struct {
	events chan shared.Event
}

func (f *fakeSwarm) Subscribe() (<-chan shared.Event, func()) {
	return f.events, func() {}
}

func (f *fakeSwarm) Snapshot() shared.SwarmMetrics {
	return shared.SwarmMetrics{ActiveAgents: 1, TotalTasks: 4, CompletedTasks: 3}
}

func (f *fakeSwarm) ListAgents() []shared.AgentView {
	return []shared.AgentView{{ID: "queen", Type: shared.AgentRoleQueen, Kind: shared.AgentKindQueen, Status: "active"}}
}

func (f *fakeSwarm) RoleHealth() []pool.RoleMetrics {
	return []pool.RoleMetrics{{Role: shared.AgentRoleTester, TotalTasks: 2, SuccessfulTasks: 2, HealthStatus: pool.HealthStatusHealthy}}
}

func newTestServer(t *testing.T) (*Server, *fakeSwarm, *httptest.Server) {
	t.Helper()
	swarm := &fakeSwarm{events: make(chan shared.Event, 8)}
	s := NewServer(swarm, config.StreamConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)
	go s.Hub().Forward(ctx, swarm)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, swarm, ts
}

func TestServer_MetricsAndAgents(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	var metrics shared.SwarmMetrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.TotalTasks != 4 || metrics.CompletedTasks != 3 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}

	resp, err = http.Get(ts.URL + "/api/agents")
	if err != nil {
		t.Fatalf("get agents: %v", err)
	}
	defer resp.Body.Close()
	var agents []shared.AgentView
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "queen" {
		t.Fatalf("unexpected agents %+v", agents)
	}

	resp, err = http.Get(ts.URL + "/api/roles")
	if err != nil {
		t.Fatalf("get roles: %v", err)
	}
	defer resp.Body.Close()
	var roles []pool.RoleMetrics
	if err := json.NewDecoder(resp.Body).Decode(&roles); err != nil {
		t.Fatalf("decode roles: %v", err)
	}
	if len(roles) != 1 || roles[0].Role != shared.AgentRoleTester {
		t.Fatalf("unexpected roles %+v", roles)
	}

	resp, err = http.Post(ts.URL+"/api/metrics", "application/json", nil)
	if err != nil {
		t.Fatalf("post metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHub_StreamsEventsToClients(t *testing.T) {
	s, swarm, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	swarm.events <- shared.Event{
		Type:      shared.EventTopologyChange,
		Timestamp: 7,
		Payload:   map[string]interface{}{"workers": []string{"w1"}},
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev shared.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != shared.EventTopologyChange || ev.Timestamp != 7 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 300; i++ {
		h.Broadcast(shared.Event{Type: shared.EventMetricsUpdate})
	}
	if got := len(h.broadcast); got != cap(h.broadcast) {
		t.Fatalf("expected full buffer, got %d", got)
	}
}
