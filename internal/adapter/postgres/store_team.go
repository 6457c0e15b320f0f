package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
)

// GetTeamName returns a team's display name.
func (s *Store) GetTeamName(ctx context.Context, teamID string) (string, error) {
	var name string
	if err := s.pool.QueryRow(ctx, `SELECT name FROM teams WHERE id = $1`, teamID).Scan(&name); err != nil {
		return "", notFoundWrap(err, "get team %s", teamID)
	}
	return name, nil
}

// ListTeamMembers returns the members of a team ordered by ID.
func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]taskgroup.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name
		 FROM team_members m JOIN users u ON u.id = m.user_id
		 WHERE m.team_id = $1
		 ORDER BY u.id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list members of team %s: %w", teamID, err)
	}
	defer rows.Close()

	var members []taskgroup.Member
	for rows.Next() {
		var m taskgroup.Member
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
