package natsbus

import (
	"context"
	"log/slog"

	"github.com/blackms/swarm-core/internal/shared"
)

// Source is a stream of egress events.
type Source interface {
	Subscribe() (<-chan shared.Event, func())
}

// Forwarder publishes every event from a Source to its NATS subject.
type Forwarder struct {
	client *Client
	source Source
	logger *slog.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(client *Client, source Source, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		client: client,
		source: source,
		logger: logger.With("component", "nats-forwarder"),
	}
}

// Run forwards events until ctx is done or the source closes.
func (f *Forwarder) Run(ctx context.Context) error {
	events, cancel := f.source.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return f.client.Flush()
		case ev, ok := <-events:
			if !ok {
				return f.client.Flush()
			}
			if err := f.client.PublishJSON(SubjectForEvent(ev.Type), ev); err != nil {
				f.logger.Warn("publish failed", "type", ev.Type, "error", err)
			}
		}
	}
}
