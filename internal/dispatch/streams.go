// Package dispatch routes review requests onto named streams and drives the
// workers that consume them. Two backends exist: an in-process bus for
// Postgres-less deployments and tests, and a River-backed bus for durable
// queueing.
package dispatch

import (
	"strings"

	"github.com/reviewpilot/pkg/models"
)

// Stream names are the canonical identifiers; backends that cannot carry a
// colon in a queue name map it through QueueName.
const (
	StreamDiff    = "review:requests"
	StreamAgentic = "review:agent-requests"
)

// StreamFor returns the stream a review mode is dispatched to.
func StreamFor(mode models.ReviewMode) string {
	if mode == models.ModeAgentic {
		return StreamAgentic
	}
	return StreamDiff
}

// QueueName maps a stream name to a backend-safe queue identifier.
func QueueName(stream string) string {
	return strings.ReplaceAll(stream, ":", "-")
}
