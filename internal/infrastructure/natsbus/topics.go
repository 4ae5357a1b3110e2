package natsbus

import (
	"strings"

	"github.com/blackms/swarm-core/internal/shared"
)

// Subject patterns for swarm events.
const (
	SubjectEventsPrefix = "swarm.events"
	SubjectEventsAll    = SubjectEventsPrefix + ".>"
)

// SubjectForEvent maps an event type to its subject, e.g.
// metrics:update becomes swarm.events.metrics.update.
func SubjectForEvent(t shared.EventType) string {
	return SubjectEventsPrefix + "." + strings.ReplaceAll(string(t), ":", ".")
}
