// Package ws implements event distribution to live WebSocket subscribers:
// per-team connections, the admin feed, and fan-out to sibling instances
// through the broker.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/TestPulse/internal/adapter/otel"
	"github.com/Strob0t/TestPulse/internal/detach"
	"github.com/Strob0t/TestPulse/internal/domain/event"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/port/messagequeue"
	"github.com/Strob0t/TestPulse/internal/resilience"
)

var errOutboxFull = errors.New("publish outbox full")

const (
	audienceTeam  = "team"
	audienceAdmin = "admin"

	defaultPublishTimeout = 5 * time.Second
	maxPendingPublishes   = 1024
)

// Transport is one live subscriber connection.
type Transport interface {
	// Open reports whether the connection can still be written to.
	Open() bool
	Send(ctx context.Context, data []byte) error
}

// Publisher publishes serialized envelopes to broker channels.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte) error
}

// NameLookup resolves a team's display name for admin enrichment. It must
// not block on the database; an unknown team yields "".
type NameLookup interface {
	Lookup(ctx context.Context, teamID string) string
}

// Hub holds the local connection registries and implements
// broadcast.Broadcaster. Build one per process with NewHub.
type Hub struct {
	mu     sync.RWMutex
	teams  map[string]map[Transport]struct{}
	admins map[Transport]struct{}

	pub            Publisher
	breaker        *resilience.Breaker
	pool           *detach.Pool
	names          NameLookup
	metrics        *otel.Metrics
	publishTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time

	// outbox holds broker publishes in Broadcast order; one drain task at a
	// time sends them.
	outboxMu sync.Mutex
	outbox   []outbound
	draining bool
}

type outbound struct {
	ctx      context.Context
	audience string
	channel  string
	data     []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithPublisher enables broker fan-out. A nil breaker publishes unguarded.
func WithPublisher(pub Publisher, breaker *resilience.Breaker) Option {
	return func(h *Hub) {
		h.pub = pub
		h.breaker = breaker
	}
}

// WithPool runs broker publishes on pool instead of bare goroutines.
func WithPool(pool *detach.Pool) Option {
	return func(h *Hub) { h.pool = pool }
}

// WithTeamNames sets the source of team names for admin payloads.
func WithTeamNames(names NameLookup) Option {
	return func(h *Hub) { h.names = names }
}

// WithMetrics records delivery and publish counters.
func WithMetrics(m *otel.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithPublishTimeout bounds each broker publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.publishTimeout = d
		}
	}
}

// NewHub creates an empty hub. Without WithPublisher it delivers locally only.
func NewHub(log *slog.Logger, opts ...Option) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		teams:          make(map[string]map[Transport]struct{}),
		admins:         make(map[Transport]struct{}),
		publishTimeout: defaultPublishTimeout,
		log:            log,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddConnection registers t as a subscriber of team.
func (h *Hub) AddConnection(team string, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.teams[team]
	if !ok {
		set = make(map[Transport]struct{})
		h.teams[team] = set
	}
	set[t] = struct{}{}
}

// RemoveConnection unregisters t from team, pruning the team's set when it empties.
func (h *Hub) RemoveConnection(team string, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.teams[team]
	if !ok {
		return
	}
	delete(set, t)
	if len(set) == 0 {
		delete(h.teams, team)
	}
}

// AddAdminConnection registers t as an admin feed subscriber.
func (h *Hub) AddAdminConnection(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.admins[t] = struct{}{}
}

// RemoveAdminConnection unregisters an admin feed subscriber.
func (h *Hub) RemoveAdminConnection(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.admins, t)
}

// ConnectionCount returns the number of registered team and admin connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.admins)
	for _, set := range h.teams {
		n += len(set)
	}
	return n
}

// Broadcast announces p to team's subscribers and to the admin feed, on this
// instance directly and on sibling instances through the broker. It never
// fails: marshal errors are logged and publishes run detached.
func (h *Hub) Broadcast(ctx context.Context, teamID string, p event.Payload) {
	ctx, span := otel.StartBroadcastSpan(ctx, teamID, string(p.EventName()))
	defer span.End()

	env, err := event.NewEnvelope(p, h.now())
	if err != nil {
		h.log.ErrorContext(ctx, "build event envelope", "team_id", teamID, "event", p.EventName(), "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.ErrorContext(ctx, "marshal event envelope", "team_id", teamID, "event", p.EventName(), "error", err)
		return
	}
	h.DeliverTeam(ctx, teamID, data)
	if err := taskgroup.ValidateTeamID(teamID); err != nil {
		h.log.WarnContext(ctx, "team event not published", "team_id", teamID, "error", err)
	} else {
		h.publish(ctx, audienceTeam, messagequeue.TeamChannel(teamID), data)
	}

	var name string
	if h.names != nil {
		name = h.names.Lookup(ctx, teamID)
	}
	adminEnv, err := env.ForAdmin(teamID, name)
	if err != nil {
		h.log.ErrorContext(ctx, "enrich admin envelope", "team_id", teamID, "event", p.EventName(), "error", err)
		return
	}
	adminData, err := json.Marshal(adminEnv)
	if err != nil {
		h.log.ErrorContext(ctx, "marshal admin envelope", "team_id", teamID, "event", p.EventName(), "error", err)
		return
	}
	h.DeliverAdmin(ctx, adminData)
	h.publish(ctx, audienceAdmin, messagequeue.ChannelAdmin, adminData)
}

// DeliverTeam writes an already serialized envelope to team's local
// subscribers without touching the broker. It returns the number written.
func (h *Hub) DeliverTeam(ctx context.Context, teamID string, data []byte) int {
	h.mu.RLock()
	targets := snapshot(h.teams[teamID])
	h.mu.RUnlock()
	n := h.deliver(ctx, targets, data)
	h.metrics.RecordDelivered(ctx, audienceTeam, n)
	return n
}

// DeliverAdmin writes an already serialized envelope to local admin
// subscribers without touching the broker. It returns the number written.
func (h *Hub) DeliverAdmin(ctx context.Context, data []byte) int {
	h.mu.RLock()
	targets := snapshot(h.admins)
	h.mu.RUnlock()
	n := h.deliver(ctx, targets, data)
	h.metrics.RecordDelivered(ctx, audienceAdmin, n)
	return n
}

func (h *Hub) deliver(ctx context.Context, targets []Transport, data []byte) int {
	n := 0
	for _, t := range targets {
		if !t.Open() {
			continue
		}
		if err := t.Send(ctx, data); err != nil {
			h.log.DebugContext(ctx, "websocket write failed", "error", err)
			continue
		}
		n++
	}
	return n
}

// publish queues data for the broker. Sibling instances receive publishes in
// the order Broadcast produced them.
func (h *Hub) publish(ctx context.Context, audience, channel string, data []byte) {
	if h.pub == nil {
		return
	}
	h.outboxMu.Lock()
	if len(h.outbox) >= maxPendingPublishes {
		h.outboxMu.Unlock()
		h.log.WarnContext(ctx, "broker publish dropped, outbox full", "channel", channel)
		h.metrics.RecordPublished(ctx, audience, errOutboxFull)
		return
	}
	// the caller's context may end as soon as Broadcast returns
	h.outbox = append(h.outbox, outbound{ctx: context.WithoutCancel(ctx), audience: audience, channel: channel, data: data})
	start := !h.draining
	h.draining = true
	h.outboxMu.Unlock()

	if start {
		h.pool.Go(context.WithoutCancel(ctx), "broker publish", h.drain)
	}
}

func (h *Hub) drain(context.Context) error {
	finished := false
	defer func() {
		if !finished {
			h.outboxMu.Lock()
			h.draining = false
			h.outboxMu.Unlock()
		}
	}()
	for {
		h.outboxMu.Lock()
		if len(h.outbox) == 0 {
			h.draining = false
			h.outboxMu.Unlock()
			finished = true
			return nil
		}
		m := h.outbox[0]
		h.outbox[0] = outbound{}
		h.outbox = h.outbox[1:]
		h.outboxMu.Unlock()

		h.send(m)
	}
}

func (h *Hub) send(m outbound) {
	ctx, cancel := context.WithTimeout(m.ctx, h.publishTimeout)
	defer cancel()

	send := func() error { return h.pub.Publish(ctx, m.channel, m.data) }
	var err error
	if h.breaker != nil {
		err = h.breaker.Execute(send)
	} else {
		err = send()
	}
	h.metrics.RecordPublished(ctx, m.audience, err)
	if err != nil {
		h.log.WarnContext(ctx, "broker publish failed", "channel", m.channel, "error", err)
	}
}

func snapshot(set map[Transport]struct{}) []Transport {
	out := make([]Transport, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}
