package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/port/database"
)

// GroupProgress is the progress of a single task group.
type GroupProgress struct {
	TaskGroupID string             `json:"task_group_id"`
	Status      taskgroup.Status   `json:"status"`
	Overdue     bool               `json:"overdue"`
	Progress    taskgroup.Progress `json:"progress"`
}

// InsightService serves the read side: progress, readiness and insights are
// always recomputed from current persisted state.
type InsightService struct {
	store database.Store
	now   func() time.Time
}

// NewInsightService creates a new InsightService.
func NewInsightService(store database.Store) *InsightService {
	return &InsightService{store: store, now: time.Now}
}

// GroupProgress returns the item tallies of one group.
func (s *InsightService) GroupProgress(ctx context.Context, groupID string) (*GroupProgress, error) {
	g, err := s.store.GetTaskGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupProgress{
		TaskGroupID: g.ID,
		Status:      g.Status,
		Overdue:     g.IsOverdue(s.now()),
		Progress:    taskgroup.ComputeProgress(g.Items),
	}, nil
}

// TeamProgress returns per-member summaries of a team's active groups.
func (s *InsightService) TeamProgress(ctx context.Context, teamID string) (*taskgroup.TeamSummary, error) {
	groups, members, err := s.load(ctx, teamID)
	if err != nil {
		return nil, err
	}
	summary := taskgroup.SummarizeTeam(teamID, groups, members, s.now())
	return &summary, nil
}

// SprintReadiness reports whether the team's active groups are releasable.
func (s *InsightService) SprintReadiness(ctx context.Context, teamID string) (*taskgroup.Readiness, error) {
	if err := taskgroup.ValidateTeamID(teamID); err != nil {
		return nil, err
	}
	groups, err := s.store.ListTeamTaskGroups(ctx, teamID, taskgroup.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list task groups: %w", err)
	}
	r := taskgroup.SprintReadiness(groups)
	return &r, nil
}

// Insights returns the situational alerts for a team.
func (s *InsightService) Insights(ctx context.Context, teamID string) ([]taskgroup.Insight, error) {
	groups, members, err := s.load(ctx, teamID)
	if err != nil {
		return nil, err
	}
	out := taskgroup.GenerateInsights(groups, members, s.now())
	if out == nil {
		out = []taskgroup.Insight{}
	}
	return out, nil
}

func (s *InsightService) load(ctx context.Context, teamID string) ([]taskgroup.TaskGroup, []taskgroup.Member, error) {
	if err := taskgroup.ValidateTeamID(teamID); err != nil {
		return nil, nil, err
	}
	groups, err := s.store.ListTeamTaskGroups(ctx, teamID, taskgroup.StatusActive)
	if err != nil {
		return nil, nil, fmt.Errorf("list task groups: %w", err)
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, nil, fmt.Errorf("list team members: %w", err)
	}
	return groups, members, nil
}
