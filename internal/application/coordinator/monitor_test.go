package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/blackms/swarm-core/internal/shared"
)

func waitForEvent(t *testing.T, ch <-chan shared.Event, eventType shared.EventType) shared.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", eventType)
			}
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestMonitor_SnapshotProjection(t *testing.T) {
	q, p, registry := newTestQueen(t, DefaultQueenConfig(), nil)
	m := NewMonitor(DefaultMonitorConfig(), q, registry, p, nil, nil)

	empty := m.Snapshot()
	if empty.ConsensusRate != 0 || empty.CacheHitRate != 0 || empty.TotalTasks != 0 {
		t.Fatalf("expected zeroed snapshot, got %+v", empty)
	}

	for _, id := range []string{"a", "b"} {
		if _, err := q.Process(context.Background(), buildTask(id, 4)); err != nil {
			t.Fatalf("process %s: %v", id, err)
		}
	}
	// Above the ceiling: rejected and never counted.
	if _, err := q.Process(context.Background(), buildTask("huge", 40)); err != nil {
		t.Fatalf("process huge: %v", err)
	}

	snap := m.Snapshot()
	if snap.TotalTasks != 2 || snap.CompletedTasks != 2 {
		t.Fatalf("unexpected task counters %+v", snap)
	}
	if snap.CompletedTasks > snap.TotalTasks {
		t.Fatal("completed tasks exceed total tasks")
	}
	if want := 1.0 / 3.0; snap.CacheHitRate != want {
		t.Fatalf("expected hit rate %v, got %v", want, snap.CacheHitRate)
	}
	if want := 2.0 / 3.0; snap.ConsensusRate != want {
		t.Fatalf("expected consensus rate %v, got %v", want, snap.ConsensusRate)
	}
	if snap.ActiveAgents != 0 {
		t.Fatalf("expected no live agents after waves, got %d", snap.ActiveAgents)
	}
}

func TestMonitor_ConsensusWindow(t *testing.T) {
	q, p, registry := newTestQueen(t, DefaultQueenConfig(), nil)
	cfg := DefaultMonitorConfig()
	cfg.ConsensusWindow = 2
	m := NewMonitor(cfg, q, registry, p, nil, nil)

	q.RecordDecision(shared.Decision{TaskID: "1", Outcome: shared.OutcomeReject, Confidence: 1})
	q.RecordDecision(shared.Decision{TaskID: "2", Outcome: shared.OutcomeProceed, Confidence: 0.9})
	q.RecordDecision(shared.Decision{TaskID: "3", Outcome: shared.OutcomeProceed, Confidence: 0.5})

	if got := m.Snapshot().ConsensusRate; got != 0.5 {
		t.Fatalf("expected rate over the last two decisions, got %v", got)
	}
}

func TestMonitor_ListAgents(t *testing.T) {
	q, p, registry := newTestQueen(t, DefaultQueenConfig(), nil)
	m := NewMonitor(DefaultMonitorConfig(), q, registry, p, nil, nil)

	if err := q.Register(shared.WorkerConfig{}); err != nil {
		t.Fatalf("register queen: %v", err)
	}
	for _, id := range []string{"w2", "w1"} {
		if _, err := p.Spawn(shared.WorkerConfig{ID: id, Role: shared.AgentRoleReviewer}); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
	if _, err := p.Execute(context.Background(), "w2", shared.Subtask{TaskID: "t", Role: shared.AgentRoleReviewer}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	views := m.ListAgents()
	if len(views) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(views))
	}
	order := []string{"queen", "w2", "w1"}
	for i, v := range views {
		if v.ID != order[i] {
			t.Fatalf("expected registration order %v, got %+v", order, views)
		}
	}
	if views[0].Kind != shared.AgentKindQueen || views[0].Status != "active" {
		t.Fatalf("unexpected queen view %+v", views[0])
	}
	if views[1].Status != string(shared.WorkerStatusCompleted) || views[1].Performance.TasksCompleted != 1 {
		t.Fatalf("expected w2 performance to be reported, got %+v", views[1])
	}
	if views[2].Status != string(shared.WorkerStatusIdle) {
		t.Fatalf("expected w1 idle, got %+v", views[2])
	}
}

func TestMonitor_TriggersCoalesce(t *testing.T) {
	q, p, registry := newTestQueen(t, DefaultQueenConfig(), nil)
	m := NewMonitor(DefaultMonitorConfig(), q, registry, p, nil, nil)
	t.Cleanup(m.Stop)

	sub, cancel := m.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		m.Trigger()
	}
	m.Start()

	ev := waitForEvent(t, sub, shared.EventMetricsUpdate)
	if _, ok := ev.Payload.(shared.SwarmMetrics); !ok {
		t.Fatalf("expected metrics payload, got %T", ev.Payload)
	}

	time.Sleep(50 * time.Millisecond)
	if got := m.Recomputations(); got != 1 {
		t.Fatalf("expected pending triggers to coalesce into one recomputation, got %d", got)
	}
}

func TestMonitor_StopClosesSubscriptions(t *testing.T) {
	q, p, registry := newTestQueen(t, DefaultQueenConfig(), nil)
	m := NewMonitor(DefaultMonitorConfig(), q, registry, p, nil, nil)
	m.Start()

	sub, _ := m.Subscribe()
	m.Stop()

	select {
	case _, ok := <-sub:
		if ok {
			// A queued event is fine; the channel must close right after.
			if _, ok := <-sub; ok {
				t.Fatal("expected subscription to be closed")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on stop")
	}

	late, _ := m.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected subscription after stop to be closed")
	}
}
