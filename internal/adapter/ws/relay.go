package ws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/TestPulse/internal/port/messagequeue"
)

// Subscriber is the broker side the relay listens on.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, handler messagequeue.Handler) (func(), error)
}

// Relay hands envelopes published by sibling instances to this instance's
// local subscribers. It only ever delivers locally, so a relayed envelope is
// never published again.
type Relay struct {
	sub     Subscriber
	hub     *Hub
	log     *slog.Logger
	cancels []func()
}

// NewRelay creates a relay from sub into hub.
func NewRelay(sub Subscriber, hub *Hub, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{sub: sub, hub: hub, log: log}
}

// Start subscribes to every team channel and the admin channel.
func (r *Relay) Start(ctx context.Context) error {
	cancelTeams, err := r.sub.Subscribe(ctx, messagequeue.TeamChannelPattern, r.handleTeam)
	if err != nil {
		return fmt.Errorf("relay subscribe teams: %w", err)
	}
	cancelAdmin, err := r.sub.Subscribe(ctx, messagequeue.ChannelAdmin, r.handleAdmin)
	if err != nil {
		cancelTeams()
		return fmt.Errorf("relay subscribe admin: %w", err)
	}
	r.cancels = []func(){cancelTeams, cancelAdmin}
	return nil
}

// Stop ends both subscriptions.
func (r *Relay) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}

func (r *Relay) handleTeam(ctx context.Context, channel string, data []byte) error {
	teamID, ok := messagequeue.TeamFromChannel(channel)
	if !ok {
		return fmt.Errorf("relay: unexpected channel %q", channel)
	}
	if err := messagequeue.Validate(channel, data); err != nil {
		return err
	}
	r.hub.DeliverTeam(ctx, teamID, data)
	return nil
}

func (r *Relay) handleAdmin(ctx context.Context, channel string, data []byte) error {
	if err := messagequeue.Validate(channel, data); err != nil {
		return err
	}
	r.hub.DeliverAdmin(ctx, data)
	return nil
}
