package natsbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/blackms/swarm-core/internal/config"
	"github.com/blackms/swarm-core/internal/shared"
	"github.com/nats-io/nats.go"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(config.NATSConfig{
		Port:    -1, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, srv *Server) *Client {
	t.Helper()
	client, err := NewClient(srv)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestServerStartStop(t *testing.T) {
	srv := startServer(t)
	if srv.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestSubjectForEvent(t *testing.T) {
	tests := []struct {
		in       shared.EventType
		expected string
	}{
		{shared.EventMetricsUpdate, "swarm.events.metrics.update"},
		{shared.EventAgentsUpdate, "swarm.events.agents.update"},
		{shared.EventTopologyChange, "swarm.events.topology.change"},
	}
	for _, tt := range tests {
		if got := SubjectForEvent(tt.in); got != tt.expected {
			t.Errorf("SubjectForEvent(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestPublishJSON(t *testing.T) {
	srv := startServer(t)
	client := connect(t, srv)

	received := make(chan []byte, 1)
	if _, err := client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishJSON("test.json", map[string]string{"key": "value"}); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		var got map[string]string
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}
		if got["key"] != "value" {
			t.Errorf("expected value, got %q", got["key"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// chanSource is a Source fed by the test.
type chanSource struct {
	ch chan shared.Event
}

func (s *chanSource) Subscribe() (<-chan shared.Event, func()) {
	return s.ch, func() {}
}

func TestForwarderPublishesEvents(t *testing.T) {
	srv := startServer(t)
	publisher := connect(t, srv)
	consumer := connect(t, srv)

	received := make(chan shared.Event, 4)
	if _, err := consumer.SubscribeEvents(func(ev shared.Event) {
		received <- ev
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	consumer.Flush()

	source := &chanSource{ch: make(chan shared.Event, 4)}
	fwd := NewForwarder(publisher, source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	source.ch <- shared.Event{
		Type:      shared.EventMetricsUpdate,
		Timestamp: 42,
		Payload:   shared.SwarmMetrics{TotalTasks: 3, CompletedTasks: 2},
	}

	select {
	case ev := <-received:
		if ev.Type != shared.EventMetricsUpdate || ev.Timestamp != 42 {
			t.Fatalf("unexpected event %+v", ev)
		}
		payload, ok := ev.Payload.(map[string]interface{})
		if !ok || payload["totalTasks"] != float64(3) {
			t.Fatalf("unexpected payload %#v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for forwarded event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("forwarder returned %v", err)
	}
}

func TestForwarderStopsWhenSourceCloses(t *testing.T) {
	srv := startServer(t)
	client := connect(t, srv)

	source := &chanSource{ch: make(chan shared.Event)}
	close(source.ch)

	if err := NewForwarder(client, source, nil).Run(context.Background()); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}
