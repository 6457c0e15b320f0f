// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/TestPulse/internal/adapter/otel"
	"github.com/Strob0t/TestPulse/internal/config"
	"github.com/Strob0t/TestPulse/internal/detach"
	"github.com/Strob0t/TestPulse/internal/domain"
	"github.com/Strob0t/TestPulse/internal/domain/event"
	"github.com/Strob0t/TestPulse/internal/domain/matching"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/domain/testrun"
	"github.com/Strob0t/TestPulse/internal/logger"
	"github.com/Strob0t/TestPulse/internal/port/broadcast"
	"github.com/Strob0t/TestPulse/internal/port/database"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PassResult summarises one matching pass.
type PassResult struct {
	RunID       string
	Matched     int
	Regressions int
	Completed   []string
	Skipped     bool
}

// MatchingService resolves finished runs against active task groups, applies
// the matches to item state and announces the changes.
type MatchingService struct {
	store    database.Store
	events   broadcast.Broadcaster
	resolver *matching.Resolver
	pool     *detach.Pool
	metrics  *otel.Metrics
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// ThresholdsFromConfig maps matching configuration to resolver thresholds.
func ThresholdsFromConfig(cfg config.Matching) matching.Thresholds {
	return matching.Thresholds{
		Branch:      cfg.BranchThreshold,
		TitleOnly:   cfg.TitleOnlyThreshold,
		ExactBoost:  cfg.ExactBoost,
		PrefixBoost: cfg.PrefixBoost,
	}
}

// NewMatchingService creates a MatchingService. pool and metrics may be nil.
func NewMatchingService(
	store database.Store,
	events broadcast.Broadcaster,
	cfg config.Matching,
	pool *detach.Pool,
	metrics *otel.Metrics,
	log *slog.Logger,
) *MatchingService {
	if log == nil {
		log = slog.Default()
	}
	return &MatchingService{
		store:    store,
		events:   events,
		resolver: matching.NewResolver(ThresholdsFromConfig(cfg)),
		pool:     pool,
		metrics:  metrics,
		timeout:  cfg.PassTimeout,
		log:      log,
		now:      time.Now,
	}
}

// TriggerRunFinished starts a matching pass for runID and returns at once.
// The pass outlives ctx's cancellation; its failures are logged, never returned.
func (s *MatchingService) TriggerRunFinished(ctx context.Context, runID string) {
	ctx = logger.WithRunID(context.WithoutCancel(ctx), runID)
	s.pool.Go(ctx, "match.pass", func(ctx context.Context) error {
		_, err := s.ProcessRun(ctx, runID)
		return err
	})
}

// ProcessRun runs one matching pass synchronously. Errors abort the pass and
// are logged with the run id before being returned.
func (s *MatchingService) ProcessRun(ctx context.Context, runID string) (PassResult, error) {
	ctx = logger.WithRunID(ctx, runID)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := otel.StartMatchSpan(ctx, runID)
	defer span.End()

	start := time.Now()
	res, source, err := s.process(ctx, runID)
	s.metrics.RecordPass(ctx, string(source), res.Matched, res.Regressions, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.ErrorContext(ctx, "matching pass failed", "run_id", runID, "error", err)
		return res, err
	}
	span.SetAttributes(
		attribute.Int("match.matched", res.Matched),
		attribute.Int("match.regressions", res.Regressions),
	)
	return res, nil
}

func (s *MatchingService) process(ctx context.Context, runID string) (PassResult, testrun.Source, error) {
	res := PassResult{RunID: runID}

	run, err := s.store.GetRunWithResults(ctx, runID)
	if err != nil {
		return res, "", fmt.Errorf("get run: %w", err)
	}
	if !run.Finished() {
		res.Skipped = true
		s.log.DebugContext(ctx, "run not finished, skipping match", "status", run.Status)
		return res, run.Source, nil
	}

	appID := ""
	if !run.Source.IsLocal() {
		appID = run.ApplicationID
	}
	groups, err := s.store.ListActiveTaskGroups(ctx, run.TeamID, appID)
	if err != nil {
		return res, run.Source, fmt.Errorf("list active task groups: %w", err)
	}

	matches := s.resolver.Resolve(run, groups)
	if len(matches) == 0 {
		return res, run.Source, nil
	}

	regressions, err := s.apply(ctx, run, matches)
	if err != nil {
		return res, run.Source, err
	}
	res.Matched = len(matches)
	res.Regressions = len(regressions)

	completed, err := s.announce(ctx, run, matches)
	if err != nil {
		return res, run.Source, err
	}
	res.Completed = completed

	for _, r := range regressions {
		s.events.Broadcast(ctx, run.TeamID, r)
	}

	s.log.InfoContext(ctx, "matching pass finished",
		"team_id", run.TeamID,
		"source", run.Source,
		"matched", res.Matched,
		"regressions", res.Regressions,
		"completed", len(res.Completed),
	)
	return res, run.Source, nil
}

// apply writes every match to item state in resolver order and returns the
// regression alerts queued along the way.
func (s *MatchingService) apply(ctx context.Context, run *testrun.Run, matches []matching.Match) ([]event.WorksLocalFailsStaging, error) {
	now := s.now().UTC()
	var regressions []event.WorksLocalFailsStaging

	for i := range matches {
		m := &matches[i]
		prev, err := s.store.GetItemResultState(ctx, m.Item.ID)
		if err != nil {
			return nil, fmt.Errorf("get item %s: %w", m.Item.ID, err)
		}

		u := taskgroup.ResultUpdate{Outcome: m.Outcome, RunID: run.ID, MatchedAt: now}
		if run.Source.IsLocal() {
			u.StartWork = prev.LocalResult == ""
			if err := s.store.UpdateItemLocalResult(ctx, m.Item.ID, u); err != nil {
				return nil, fmt.Errorf("update item %s local result: %w", m.Item.ID, err)
			}
			continue
		}

		if prev.LocalResult == testrun.OutcomePassed && m.Outcome == testrun.OutcomeFailed {
			regressions = append(regressions, event.WorksLocalFailsStaging{
				UserID:        m.OwnerID,
				ItemID:        m.Item.ID,
				TaskGroupID:   m.GroupID,
				TestCaseTitle: m.Item.TestCaseTitle,
				TestRunID:     run.ID,
			})
		}
		if err := s.store.UpdateItemEnvResult(ctx, m.Item.ID, u); err != nil {
			return nil, fmt.Errorf("update item %s env result: %w", m.Item.ID, err)
		}
	}
	return regressions, nil
}

// announce emits one items-updated event per touched group and runs the
// auto-complete check for it. It returns the ids of completed groups.
func (s *MatchingService) announce(ctx context.Context, run *testrun.Run, matches []matching.Match) ([]string, error) {
	field := event.FieldEnvResult
	if run.Source.IsLocal() {
		field = event.FieldLocalResult
	}

	var completed []string
	for _, batch := range byGroup(matches) {
		updates := make([]event.ItemUpdate, len(batch))
		for i, m := range batch {
			updates[i] = event.ItemUpdate{ItemID: m.Item.ID, Field: field, Status: m.Outcome}
		}
		groupID := batch[0].GroupID
		s.events.Broadcast(ctx, run.TeamID, event.ItemsUpdated{
			TaskGroupID:  groupID,
			UserID:       batch[0].OwnerID,
			UpdatedItems: updates,
		})

		done, err := s.autoComplete(ctx, run.TeamID, groupID)
		if err != nil {
			return completed, err
		}
		if done {
			completed = append(completed, groupID)
		}
	}
	return completed, nil
}

func (s *MatchingService) autoComplete(ctx context.Context, teamID, groupID string) (bool, error) {
	g, err := s.store.GetTaskGroup(ctx, groupID)
	if err != nil {
		return false, fmt.Errorf("get task group %s: %w", groupID, err)
	}
	if !g.AutoComplete() {
		return false, nil
	}
	err = s.store.UpdateTaskGroupStatus(ctx, groupID, taskgroup.StatusActive, taskgroup.StatusCompleted)
	if errors.Is(err, domain.ErrConflict) {
		// Another pass or the owner changed the status first.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete task group %s: %w", groupID, err)
	}

	s.events.Broadcast(ctx, teamID, event.GroupCompleted{
		GroupID:   g.ID,
		GroupName: g.Name,
		UserID:    g.OwnerID,
	})
	return true, nil
}

// byGroup splits matches into runs of the same group, keeping first-seen order.
func byGroup(matches []matching.Match) [][]matching.Match {
	var (
		out [][]matching.Match
		idx = make(map[string]int)
	)
	for _, m := range matches {
		i, ok := idx[m.GroupID]
		if !ok {
			i = len(out)
			idx[m.GroupID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], m)
	}
	return out
}
