package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/TestPulse/internal/port/cache"
)

// TeamDirectory is the authoritative source of team names.
type TeamDirectory interface {
	GetTeamName(ctx context.Context, teamID string) (string, error)
}

// TeamNames caches team display names for admin enrichment. Names are
// loaded when a team client connects; Lookup only ever reads the cache.
type TeamNames struct {
	cache cache.Cache
	dir   TeamDirectory
	ttl   time.Duration
	log   *slog.Logger
}

// NewTeamNames creates a team-name cache over c, filled from dir.
func NewTeamNames(c cache.Cache, dir TeamDirectory, ttl time.Duration, log *slog.Logger) *TeamNames {
	if log == nil {
		log = slog.Default()
	}
	return &TeamNames{cache: c, dir: dir, ttl: ttl, log: log}
}

// Remember loads teamID's name from the directory into the cache.
func (n *TeamNames) Remember(ctx context.Context, teamID string) error {
	name, err := n.dir.GetTeamName(ctx, teamID)
	if err != nil {
		return err
	}
	return n.cache.Set(ctx, cache.TeamNameKey(teamID), []byte(name), n.ttl)
}

// Lookup returns the cached name of teamID, or "" if it is not cached.
func (n *TeamNames) Lookup(ctx context.Context, teamID string) string {
	val, ok, err := n.cache.Get(ctx, cache.TeamNameKey(teamID))
	if err != nil {
		n.log.WarnContext(ctx, "team name cache get failed", "team_id", teamID, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return string(val)
}
