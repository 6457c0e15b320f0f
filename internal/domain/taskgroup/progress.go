package taskgroup

import (
	"time"

	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// Progress tallies item states. Buckets are independent axes: an item that
// passed locally and was skipped counts in both.
type Progress struct {
	Total       int `json:"total"`
	LocalPassed int `json:"local_passed"`
	LocalFailed int `json:"local_failed"`
	EnvPassed   int `json:"env_passed"`
	EnvFailed   int `json:"env_failed"`
	Skipped     int `json:"skipped"`
	NotStarted  int `json:"not_started"`
	InProgress  int `json:"in_progress"`
}

// ComputeProgress folds items into a Progress.
func ComputeProgress(items []Item) Progress {
	var p Progress
	for i := range items {
		p.addItem(&items[i])
	}
	return p
}

func (p *Progress) addItem(it *Item) {
	p.Total++
	switch it.LocalResult {
	case testrun.OutcomePassed:
		p.LocalPassed++
	case testrun.OutcomeFailed:
		p.LocalFailed++
	}
	switch it.EnvResult {
	case testrun.OutcomePassed:
		p.EnvPassed++
	case testrun.OutcomeFailed:
		p.EnvFailed++
	}
	switch it.PersonalStatus {
	case PersonalSkipped:
		p.Skipped++
	case PersonalNotStarted:
		p.NotStarted++
	case PersonalInProgress:
		p.InProgress++
	}
}

// Add accumulates o into p.
func (p *Progress) Add(o Progress) {
	p.Total += o.Total
	p.LocalPassed += o.LocalPassed
	p.LocalFailed += o.LocalFailed
	p.EnvPassed += o.EnvPassed
	p.EnvFailed += o.EnvFailed
	p.Skipped += o.Skipped
	p.NotStarted += o.NotStarted
	p.InProgress += o.InProgress
}

// ReadinessStatus is the verdict of a sprint readiness check.
type ReadinessStatus string

const (
	ReadinessReady    ReadinessStatus = "READY"
	ReadinessNotReady ReadinessStatus = "NOT_READY"
)

// Readiness summarises whether a set of groups is releasable.
type Readiness struct {
	Status   ReadinessStatus `json:"status"`
	Total    int             `json:"total"`
	Done     int             `json:"done"`
	Blocking []string        `json:"blocking_item_ids,omitempty"`
}

// SprintReadiness is READY only when at least one item exists and every item
// of every group passed in the environment or was skipped.
func SprintReadiness(groups []TaskGroup) Readiness {
	r := Readiness{Status: ReadinessNotReady}
	for gi := range groups {
		for ii := range groups[gi].Items {
			it := &groups[gi].Items[ii]
			r.Total++
			if it.envDone() {
				r.Done++
				continue
			}
			r.Blocking = append(r.Blocking, it.ID)
		}
	}
	if r.Total > 0 && r.Done == r.Total {
		r.Status = ReadinessReady
	}
	return r
}

// MemberSummary is the per-member fold of the groups a member owns.
type MemberSummary struct {
	UserID        string   `json:"user_id"`
	Name          string   `json:"name"`
	ActiveGroups  int      `json:"active_groups"`
	OverdueGroups int      `json:"overdue_groups"`
	Progress      Progress `json:"progress"`
}

// TeamSummary aggregates member summaries for a team.
type TeamSummary struct {
	TeamID  string          `json:"team_id"`
	Members []MemberSummary `json:"members"`
	Totals  Progress        `json:"totals"`
}

// SummarizeTeam folds the active groups of a team into per-member summaries,
// in member order. Groups owned by non-members count towards the totals only.
func SummarizeTeam(teamID string, groups []TaskGroup, members []Member, now time.Time) TeamSummary {
	byOwner := make(map[string]*MemberSummary, len(members))
	summary := TeamSummary{TeamID: teamID, Members: make([]MemberSummary, len(members))}
	for i, m := range members {
		summary.Members[i] = MemberSummary{UserID: m.ID, Name: m.Name}
		byOwner[m.ID] = &summary.Members[i]
	}

	for gi := range groups {
		g := &groups[gi]
		if g.Status != StatusActive {
			continue
		}
		p := ComputeProgress(g.Items)
		summary.Totals.Add(p)

		ms, ok := byOwner[g.OwnerID]
		if !ok {
			continue
		}
		ms.ActiveGroups++
		if g.IsOverdue(now) {
			ms.OverdueGroups++
		}
		ms.Progress.Add(p)
	}
	return summary
}
