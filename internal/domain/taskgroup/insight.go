package taskgroup

import (
	"fmt"
	"time"

	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// InsightKind identifies a situational alert.
type InsightKind string

const (
	InsightOverdue            InsightKind = "overdue"
	InsightReleaseReady       InsightKind = "release_ready"
	InsightWorksLocalFailsEnv InsightKind = "works_local_fails_env"
	InsightPossiblyUnmerged   InsightKind = "possibly_unmerged"
	InsightIdleMember         InsightKind = "idle_member"
)

// Severity ranks insights for display.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Insight is a human-readable alert derived from current item state.
type Insight struct {
	Kind        InsightKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Message     string      `json:"message"`
	TaskGroupID string      `json:"task_group_id,omitempty"`
	ItemID      string      `json:"item_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
}

// GenerateInsights scans the active groups of a team and its members.
// Output order follows group order, then member order.
func GenerateInsights(groups []TaskGroup, members []Member, now time.Time) []Insight {
	var out []Insight
	owning := make(map[string]bool)

	for gi := range groups {
		g := &groups[gi]
		if g.Status != StatusActive {
			continue
		}
		owning[g.OwnerID] = true

		if g.IsOverdue(now) {
			out = append(out, Insight{
				Kind:        InsightOverdue,
				Severity:    SeverityWarning,
				Message:     fmt.Sprintf("%q was due %s", g.Name, g.DueDate.Format(time.DateOnly)),
				TaskGroupID: g.ID,
				UserID:      g.OwnerID,
			})
		}

		if releaseReady(g) {
			out = append(out, Insight{
				Kind:        InsightReleaseReady,
				Severity:    SeverityInfo,
				Message:     fmt.Sprintf("%q passes in every environment", g.Name),
				TaskGroupID: g.ID,
				UserID:      g.OwnerID,
			})
		}

		for ii := range g.Items {
			it := &g.Items[ii]
			if it.LocalResult != testrun.OutcomePassed {
				continue
			}
			switch it.EnvResult {
			case testrun.OutcomeFailed:
				out = append(out, Insight{
					Kind:        InsightWorksLocalFailsEnv,
					Severity:    SeverityCritical,
					Message:     fmt.Sprintf("%q passes locally but fails in CI", it.TestCaseTitle),
					TaskGroupID: g.ID,
					ItemID:      it.ID,
					UserID:      g.OwnerID,
				})
			case "":
				out = append(out, Insight{
					Kind:        InsightPossiblyUnmerged,
					Severity:    SeverityInfo,
					Message:     fmt.Sprintf("%q passes locally but has never run in CI", it.TestCaseTitle),
					TaskGroupID: g.ID,
					ItemID:      it.ID,
					UserID:      g.OwnerID,
				})
			}
		}
	}

	for _, m := range members {
		if owning[m.ID] {
			continue
		}
		out = append(out, Insight{
			Kind:     InsightIdleMember,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%s has no active task groups", m.Name),
			UserID:   m.ID,
		})
	}
	return out
}

// releaseReady reports whether every item of g is done in CI and at least one
// actually passed there. A group of skipped items is not a release.
func releaseReady(g *TaskGroup) bool {
	if SprintReadiness([]TaskGroup{*g}).Status != ReadinessReady {
		return false
	}
	for i := range g.Items {
		if g.Items[i].EnvResult == testrun.OutcomePassed {
			return true
		}
	}
	return false
}
