package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/TestPulse/internal/domain"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
)

const groupColumns = `id, name, owner_id, creator_id, team_id, application_id, branch, due_date, status, created_at, updated_at`

func scanGroup(row scannable) (taskgroup.TaskGroup, error) {
	var (
		g       taskgroup.TaskGroup
		appID   *string
		branch  *string
		dueDate *time.Time
	)
	err := row.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatorID, &g.TeamID, &appID, &branch,
		&dueDate, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return g, err
	}
	g.ApplicationID = deref(appID)
	g.Branch = deref(branch)
	g.DueDate = utcPtr(dueDate)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	return g, nil
}

// ListActiveTaskGroups returns ACTIVE groups of a team with their items.
// A non-empty applicationID restricts the groups to that application.
func (s *Store) ListActiveTaskGroups(ctx context.Context, teamID, applicationID string) ([]taskgroup.TaskGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupColumns+`
		 FROM task_groups
		 WHERE team_id = $1 AND status = 'ACTIVE'
		   AND ($2 = '' OR application_id::text = $2)
		 ORDER BY id`, teamID, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list active task groups of team %s: %w", teamID, err)
	}
	return s.collectGroups(ctx, rows)
}

// ListTeamTaskGroups returns a team's groups in the given statuses (all
// statuses when none are given), with their items.
func (s *Store) ListTeamTaskGroups(ctx context.Context, teamID string, statuses ...taskgroup.Status) ([]taskgroup.TaskGroup, error) {
	filter := make([]string, len(statuses))
	for i, st := range statuses {
		filter[i] = string(st)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupColumns+`
		 FROM task_groups
		 WHERE team_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		 ORDER BY id`, teamID, filter)
	if err != nil {
		return nil, fmt.Errorf("list task groups of team %s: %w", teamID, err)
	}
	return s.collectGroups(ctx, rows)
}

type groupRows interface {
	scannable
	Next() bool
	Err() error
	Close()
}

func (s *Store) collectGroups(ctx context.Context, rows groupRows) ([]taskgroup.TaskGroup, error) {
	var groups []taskgroup.TaskGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task group: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list task groups: %w", err)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	ids := make([]string, len(groups))
	idx := make(map[string]int, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
		idx[g.ID] = i
	}
	items, err := s.listItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		g := &groups[idx[it.TaskGroupID]]
		g.Items = append(g.Items, it)
	}
	return groups, nil
}

// GetTaskGroup returns one group with its items.
func (s *Store) GetTaskGroup(ctx context.Context, id string) (*taskgroup.TaskGroup, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM task_groups WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get task group %s", id)
	}
	items, err := s.listItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	g.Items = items
	return &g, nil
}

// UpdateTaskGroupStatus transitions a group from one status to another.
// It returns domain.ErrConflict if the group exists but is not in from.
func (s *Store) UpdateTaskGroupStatus(ctx context.Context, id string, from, to taskgroup.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_groups SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("update task group %s status: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM task_groups WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update task group %s status: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("update task group %s status: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("update task group %s status from %s: %w", id, from, domain.ErrConflict)
}

func (s *Store) listItems(ctx context.Context, groupIDs []string) ([]taskgroup.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.task_group_id, i.test_case_id, tc.title,
		        i.local_result_status, i.env_result_status,
		        i.local_run_id, i.env_run_id, i.local_matched_at, i.env_matched_at,
		        i.personal_status
		 FROM task_group_items i
		 JOIN test_cases tc ON tc.id = i.test_case_id
		 WHERE i.task_group_id = ANY($1::uuid[])
		 ORDER BY i.task_group_id, i.id`, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("list task group items: %w", err)
	}
	defer rows.Close()

	var items []taskgroup.Item
	for rows.Next() {
		var (
			it                   taskgroup.Item
			local, env           *string
			localRun, envRun     *string
			localMatch, envMatch *time.Time
		)
		if err := rows.Scan(&it.ID, &it.TaskGroupID, &it.TestCaseID, &it.TestCaseTitle,
			&local, &env, &localRun, &envRun, &localMatch, &envMatch, &it.PersonalStatus); err != nil {
			return nil, fmt.Errorf("scan task group item: %w", err)
		}
		it.LocalResult = outcome(local)
		it.EnvResult = outcome(env)
		it.LocalRunID = deref(localRun)
		it.EnvRunID = deref(envRun)
		it.LocalMatchedAt = utcPtr(localMatch)
		it.EnvMatchedAt = utcPtr(envMatch)
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetItemResultState reads an item's current result fields.
func (s *Store) GetItemResultState(ctx context.Context, itemID string) (*taskgroup.ResultState, error) {
	var (
		st         taskgroup.ResultState
		local, env *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT local_result_status, env_result_status, personal_status
		 FROM task_group_items WHERE id = $1`, itemID).
		Scan(&local, &env, &st.PersonalStatus)
	if err != nil {
		return nil, notFoundWrap(err, "get item %s result state", itemID)
	}
	st.LocalResult = outcome(local)
	st.EnvResult = outcome(env)
	return &st, nil
}

// UpdateItemLocalResult writes the local result bookkeeping of one item.
// With u.StartWork set, a NOT_STARTED item advances to IN_PROGRESS.
func (s *Store) UpdateItemLocalResult(ctx context.Context, itemID string, u taskgroup.ResultUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_group_items
		 SET local_result_status = $2,
		     local_run_id = $3,
		     local_matched_at = $4,
		     personal_status = CASE WHEN $5 AND personal_status = 'NOT_STARTED'
		                            THEN 'IN_PROGRESS' ELSE personal_status END
		 WHERE id = $1`,
		itemID, string(u.Outcome), nullIfEmpty(u.RunID), u.MatchedAt, u.StartWork)
	return execExpectOne(tag, err, "update item %s local result", itemID)
}

// UpdateItemEnvResult writes the environment result bookkeeping of one item.
func (s *Store) UpdateItemEnvResult(ctx context.Context, itemID string, u taskgroup.ResultUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_group_items
		 SET env_result_status = $2, env_run_id = $3, env_matched_at = $4
		 WHERE id = $1`,
		itemID, string(u.Outcome), nullIfEmpty(u.RunID), u.MatchedAt)
	return execExpectOne(tag, err, "update item %s env result", itemID)
}
