package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// GetRunWithResults returns a run with its PASSED/FAILED results in run order.
func (s *Store) GetRunWithResults(ctx context.Context, runID string) (*testrun.Run, error) {
	var (
		r          testrun.Run
		appID      *string
		branch     *string
		finishedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, team_id, application_id, branch, source, status, started_at, finished_at
		 FROM test_runs WHERE id = $1`, runID).
		Scan(&r.ID, &r.TeamID, &appID, &branch, &r.Source, &r.Status, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", runID)
	}
	r.ApplicationID = deref(appID)
	r.Branch = deref(branch)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = utcPtr(finishedAt)

	rows, err := s.pool.Query(ctx,
		`SELECT id, test_case_id, test_title, status
		 FROM test_results
		 WHERE run_id = $1 AND status IN ('PASSED', 'FAILED')
		 ORDER BY position, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results of run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			res    testrun.Result
			caseID *string
		)
		if err := rows.Scan(&res.ID, &caseID, &res.TestTitle, &res.Outcome); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.TestCaseID = deref(caseID)
		r.Results = append(r.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results of run %s: %w", runID, err)
	}
	return &r, nil
}
