package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/TestPulse/internal/detach"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
)

const writeTimeout = 10 * time.Second

// conn adapts a coder/websocket connection to Transport.
type conn struct {
	ws     *websocket.Conn
	closed atomic.Bool
}

func (c *conn) Open() bool { return !c.closed.Load() }

func (c *conn) Send(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Handler upgrades HTTP requests to team and admin event streams.
// Authentication is expected to happen in middleware in front of it.
type Handler struct {
	hub   *Hub
	names *TeamNames
	pool  *detach.Pool
	log   *slog.Logger
}

// NewHandler creates WebSocket handlers registering connections on hub.
// names may be nil, in which case admin payloads carry an empty team name.
func NewHandler(hub *Hub, names *TeamNames, pool *detach.Pool, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, names: names, pool: pool, log: log}
}

// HandleTeamWS serves GET /ws/teams/{teamID}.
func (h *Handler) HandleTeamWS(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	if err := taskgroup.ValidateTeamID(teamID); err != nil {
		http.Error(w, "invalid team id", http.StatusBadRequest)
		return
	}

	c, ok := h.accept(w, r)
	if !ok {
		return
	}
	h.hub.AddConnection(teamID, c)
	h.log.Info("websocket connected", "team_id", teamID, "remote", r.RemoteAddr)

	if h.names != nil {
		h.pool.Go(context.WithoutCancel(r.Context()), "remember team name", func(ctx context.Context) error {
			return h.names.Remember(ctx, teamID)
		})
	}

	h.readUntilClosed(r.Context(), c)
	h.hub.RemoveConnection(teamID, c)
	h.log.Info("websocket disconnected", "team_id", teamID)
}

// HandleAdminWS serves GET /ws/admin.
func (h *Handler) HandleAdminWS(w http.ResponseWriter, r *http.Request) {
	c, ok := h.accept(w, r)
	if !ok {
		return
	}
	h.hub.AddAdminConnection(c)
	h.log.Info("admin websocket connected", "remote", r.RemoteAddr)

	h.readUntilClosed(r.Context(), c)
	h.hub.RemoveAdminConnection(c)
	h.log.Info("admin websocket disconnected")
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) (*conn, bool) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return nil, false
	}
	return &conn{ws: ws}, true
}

// readUntilClosed consumes client frames (pings, stray messages) until the
// connection drops, then marks it closed so broadcasts skip it.
func (h *Handler) readUntilClosed(ctx context.Context, c *conn) {
	defer func() {
		c.closed.Store(true)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			return
		}
	}
}
