// Package messagequeue defines the broker port used to fan events out to
// sibling instances and to receive run-finished triggers.
package messagequeue

import (
	"context"
	"strings"
)

// Handler processes a message received from the broker.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, channel string, data []byte) error

// Queue is the port interface for publish/subscribe fan-out.
//
// Implementations must not hand a subscriber on the same connection the
// messages that connection published itself, so that local delivery plus
// broker fan-out never reaches a local client twice.
type Queue interface {
	// Publish sends data to every subscriber of channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe registers a handler for a channel or a pattern with a single
	// "*" wildcard segment (e.g. TeamChannelPattern).
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, pattern string, handler Handler) (cancel func(), err error)

	// Close shuts down the broker connection.
	Close() error

	// IsConnected reports whether the broker is currently connected.
	IsConnected() bool
}

// Broker channel names.
const (
	ChannelAdmin       = "admin:events"
	TeamChannelPattern = "team:*:events"

	teamChannelPrefix = "team:"
	teamChannelSuffix = ":events"
)

// SubjectRunFinished carries run-finished triggers from ingestion.
const SubjectRunFinished = "runs.finished"

// TeamChannel returns the broker channel for a team's events. teamID must
// pass taskgroup.ValidateTeamID; brokers reject channels built from others.
func TeamChannel(teamID string) string {
	return teamChannelPrefix + teamID + teamChannelSuffix
}

// TeamFromChannel extracts the team ID from a team channel name.
func TeamFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, teamChannelPrefix) || !strings.HasSuffix(channel, teamChannelSuffix) {
		return "", false
	}
	id := channel[len(teamChannelPrefix) : len(channel)-len(teamChannelSuffix)]
	if id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}
