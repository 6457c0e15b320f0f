// Package database defines the persistence port consumed by the matching
// core and the insight read side.
package database

import (
	"context"

	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// Store is the port interface for database operations. Writes are targeted
// field updates, never full-entity rewrites.
type Store interface {
	// Runs
	// GetRunWithResults returns a run with its PASSED/FAILED results in run order.
	GetRunWithResults(ctx context.Context, runID string) (*testrun.Run, error)

	// Task groups
	// ListActiveTaskGroups returns ACTIVE groups of a team with their items
	// and each item's test-case title. A non-empty applicationID restricts
	// the groups to that application.
	ListActiveTaskGroups(ctx context.Context, teamID, applicationID string) ([]taskgroup.TaskGroup, error)
	ListTeamTaskGroups(ctx context.Context, teamID string, statuses ...taskgroup.Status) ([]taskgroup.TaskGroup, error)
	GetTaskGroup(ctx context.Context, id string) (*taskgroup.TaskGroup, error)
	// UpdateTaskGroupStatus transitions a group only if it is currently in
	// status from; otherwise it returns domain.ErrConflict.
	UpdateTaskGroupStatus(ctx context.Context, id string, from, to taskgroup.Status) error

	// Task group items
	GetItemResultState(ctx context.Context, itemID string) (*taskgroup.ResultState, error)
	UpdateItemLocalResult(ctx context.Context, itemID string, u taskgroup.ResultUpdate) error
	UpdateItemEnvResult(ctx context.Context, itemID string, u taskgroup.ResultUpdate) error

	// Teams
	GetTeamName(ctx context.Context, teamID string) (string, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]taskgroup.Member, error)
}
