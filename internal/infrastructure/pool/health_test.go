package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/blackms/swarm-core/internal/shared"
)

func TestRoleHealth_RecordAggregates(t *testing.T) {
	rh := NewRoleHealth(DefaultHealthConfig())
	role := shared.AgentRoleTester

	rh.Record(role, shared.WorkerResult{Success: true, DurationMs: 10})
	rh.Record(role, shared.WorkerResult{Success: true, DurationMs: 30})
	rh.Record(role, shared.WorkerResult{ErrorCode: shared.CodeTimeout, DurationMs: 50})

	m, ok := rh.Metrics(role)
	if !ok {
		t.Fatal("expected metrics for tester")
	}
	if m.TotalTasks != 3 || m.SuccessfulTasks != 2 || m.FailedTasks != 1 || m.TimedOutTasks != 1 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if m.MinLatencyMs != 10 || m.MaxLatencyMs != 50 || m.AvgLatencyMs != 30 {
		t.Fatalf("unexpected latency %+v", m)
	}
	if m.HealthStatus != HealthStatusHealthy {
		t.Fatalf("expected healthy below the sample minimum, got %s", m.HealthStatus)
	}
}

func TestRoleHealth_StatusChangeAlerts(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.MinSamples = 2
	rh := NewRoleHealth(cfg)

	var got []HealthAlert
	rh.SetOnAlert(func(a HealthAlert) { got = append(got, a) })

	role := shared.AgentRoleProgrammer
	rh.Record(role, shared.WorkerResult{Success: true})
	rh.Record(role, shared.WorkerResult{})
	rh.Record(role, shared.WorkerResult{})

	if len(got) != 1 || got[0].From != HealthStatusHealthy || got[0].To != HealthStatusUnhealthy || got[0].Severity != "critical" {
		t.Fatalf("unexpected alerts %+v", got)
	}
	if alerts := rh.Alerts(0); len(alerts) != 1 {
		t.Fatalf("expected stored alert, got %+v", alerts)
	}
}

func TestPool_RecordsRoleHealth(t *testing.T) {
	p := newTestPool(t, WithExecutor(ExecutorFunc(func(ctx context.Context, w shared.WorkerInstance, st shared.Subtask) (interface{}, error) {
		if st.Index == 1 {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})))

	for i, id := range []string{"w1", "w2"} {
		if _, err := p.Spawn(workerConfig(id)); err != nil {
			t.Fatalf("spawn: %v", err)
		}
		st := subtask("t")
		st.Index = i
		if _, err := p.Execute(context.Background(), id, st); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}

	all := p.RoleHealth().All()
	if len(all) != 1 || all[0].Role != shared.AgentRoleProgrammer {
		t.Fatalf("unexpected role metrics %+v", all)
	}
	if all[0].SuccessfulTasks != 1 || all[0].FailedTasks != 1 {
		t.Fatalf("unexpected counts %+v", all[0])
	}
}
