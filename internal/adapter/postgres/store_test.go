package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TestPulse/internal/adapter/postgres"
	"github.com/Strob0t/TestPulse/internal/config"
	"github.com/Strob0t/TestPulse/internal/domain"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store plus the raw pool for seeding. The pool is closed via
// t.Cleanup.
func setupStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool), pool
}

type fixture struct {
	team, owner, app string
	group, item      string
	otherGroup       string
	run              string
}

// seed inserts one team with one member, an ACTIVE group on branch
// feature/x holding one item, an ARCHIVED group, and a finished CI run with
// a passed, a failed and a skipped result.
func seed(t *testing.T, pool *pgxpool.Pool) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture

	mustScan := func(dst *string, q string, args ...any) {
		t.Helper()
		if err := pool.QueryRow(ctx, q, args...).Scan(dst); err != nil {
			t.Fatalf("seed %q: %v", q, err)
		}
	}

	mustScan(&f.team, `INSERT INTO teams (name) VALUES ('Payments') RETURNING id`)
	mustScan(&f.owner, `INSERT INTO users (name) VALUES ('Ada') RETURNING id`)
	if _, err := pool.Exec(ctx, `INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, f.team, f.owner); err != nil {
		t.Fatal(err)
	}
	mustScan(&f.app, `INSERT INTO applications (team_id, name) VALUES ($1, 'web') RETURNING id`, f.team)

	var tc string
	mustScan(&tc, `INSERT INTO test_cases (team_id, application_id, title) VALUES ($1, $2, 'Checkout with valid card') RETURNING id`, f.team, f.app)

	mustScan(&f.group, `INSERT INTO task_groups (name, owner_id, creator_id, team_id, application_id, branch)
		VALUES ('Sprint 12', $1, $1, $2, $3, 'feature/x') RETURNING id`, f.owner, f.team, f.app)
	mustScan(&f.otherGroup, `INSERT INTO task_groups (name, owner_id, creator_id, team_id, status)
		VALUES ('Old', $1, $1, $2, 'ARCHIVED') RETURNING id`, f.owner, f.team)
	mustScan(&f.item, `INSERT INTO task_group_items (task_group_id, test_case_id) VALUES ($1, $2) RETURNING id`, f.group, tc)

	mustScan(&f.run, `INSERT INTO test_runs (team_id, application_id, branch, source, status, finished_at)
		VALUES ($1, $2, 'feature/x', 'CI', 'FAILED', now()) RETURNING id`, f.team, f.app)
	for i, r := range []struct{ title, status string }{
		{"Checkout with valid card", "FAILED"},
		{"Login succeeds", "SKIPPED"},
		{"Logout succeeds", "PASSED"},
	} {
		if _, err := pool.Exec(ctx, `INSERT INTO test_results (run_id, test_title, status, position) VALUES ($1, $2, $3, $4)`,
			f.run, r.title, r.status, i); err != nil {
			t.Fatal(err)
		}
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM teams WHERE id = $1`, f.team)
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, f.owner)
	})
	return f
}

func TestGetRunWithResults(t *testing.T) {
	store, pool := setupStore(t)
	f := seed(t, pool)
	ctx := context.Background()

	run, err := store.GetRunWithResults(ctx, f.run)
	if err != nil {
		t.Fatal(err)
	}
	if run.Source != testrun.SourceCI || run.Branch != "feature/x" || run.ApplicationID != f.app {
		t.Errorf("unexpected run %+v", run)
	}
	if !run.Finished() {
		t.Error("expected finished run")
	}
	if len(run.Results) != 2 {
		t.Fatalf("expected 2 qualifying results, got %d", len(run.Results))
	}
	if run.Results[0].TestTitle != "Checkout with valid card" || run.Results[1].TestTitle != "Logout succeeds" {
		t.Errorf("results out of run order: %+v", run.Results)
	}

	if _, err := store.GetRunWithResults(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveTaskGroups(t *testing.T) {
	store, pool := setupStore(t)
	f := seed(t, pool)
	ctx := context.Background()

	groups, err := store.ListActiveTaskGroups(ctx, f.team, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].ID != f.group {
		t.Fatalf("expected only the active group, got %+v", groups)
	}
	g := groups[0]
	if g.Branch != "feature/x" || len(g.Items) != 1 {
		t.Fatalf("unexpected group %+v", g)
	}
	if g.Items[0].TestCaseTitle != "Checkout with valid card" || g.Items[0].PersonalStatus != taskgroup.PersonalNotStarted {
		t.Errorf("unexpected item %+v", g.Items[0])
	}

	filtered, err := store.ListActiveTaskGroups(ctx, f.team, f.app)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 {
		t.Errorf("application filter dropped the group: %+v", filtered)
	}
	none, err := store.ListActiveTaskGroups(ctx, f.team, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no groups for another application, got %d", len(none))
	}

	all, err := store.ListTeamTaskGroups(ctx, f.team)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 groups without status filter, got %d", len(all))
	}
	archived, err := store.ListTeamTaskGroups(ctx, f.team, taskgroup.StatusArchived)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || archived[0].ID != f.otherGroup {
		t.Errorf("unexpected archived groups %+v", archived)
	}
}

func TestItemResultUpdates(t *testing.T) {
	store, pool := setupStore(t)
	f := seed(t, pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := store.UpdateItemLocalResult(ctx, f.item, taskgroup.ResultUpdate{
		Outcome: testrun.OutcomePassed, RunID: f.run, MatchedAt: now, StartWork: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.GetItemResultState(ctx, f.item)
	if err != nil {
		t.Fatal(err)
	}
	if st.LocalResult != testrun.OutcomePassed || st.PersonalStatus != taskgroup.PersonalInProgress {
		t.Errorf("after local update: %+v", st)
	}

	if err := store.UpdateItemEnvResult(ctx, f.item, taskgroup.ResultUpdate{
		Outcome: testrun.OutcomeFailed, RunID: f.run, MatchedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	g, err := store.GetTaskGroup(ctx, f.group)
	if err != nil {
		t.Fatal(err)
	}
	it := g.Items[0]
	if it.EnvResult != testrun.OutcomeFailed || it.EnvRunID != f.run || it.EnvMatchedAt == nil || !it.EnvMatchedAt.Equal(now) {
		t.Errorf("after env update: %+v", it)
	}

	missing := "00000000-0000-0000-0000-000000000000"
	if err := store.UpdateItemEnvResult(ctx, missing, taskgroup.ResultUpdate{Outcome: testrun.OutcomePassed, MatchedAt: now}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskGroupStatus(t *testing.T) {
	store, pool := setupStore(t)
	f := seed(t, pool)
	ctx := context.Background()

	if err := store.UpdateTaskGroupStatus(ctx, f.group, taskgroup.StatusActive, taskgroup.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	err := store.UpdateTaskGroupStatus(ctx, f.group, taskgroup.StatusActive, taskgroup.StatusCompleted)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second transition: expected ErrConflict, got %v", err)
	}
	err = store.UpdateTaskGroupStatus(ctx, "00000000-0000-0000-0000-000000000000", taskgroup.StatusActive, taskgroup.StatusCompleted)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing group: expected ErrNotFound, got %v", err)
	}
}

func TestTeamQueries(t *testing.T) {
	store, pool := setupStore(t)
	f := seed(t, pool)
	ctx := context.Background()

	name, err := store.GetTeamName(ctx, f.team)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Payments" {
		t.Errorf("team name = %q", name)
	}
	members, err := store.ListTeamMembers(ctx, f.team)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].ID != f.owner || members[0].Name != "Ada" {
		t.Errorf("members = %+v", members)
	}
}

func TestMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatal(err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if v < 1 {
		t.Errorf("expected version >= 1, got %d", v)
	}
}
