// Package broadcast defines the port for announcing real-time events to
// live subscribers of a team and of the admin view.
package broadcast

import (
	"context"

	"github.com/Strob0t/TestPulse/internal/domain/event"
)

// Broadcaster delivers events to every interested live subscriber, on this
// instance and on its siblings. Delivery is best effort and never fails the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, teamID string, p event.Payload)
}
