// Package taskgroup defines personally-owned task groups, their items and the
// read-side progress/insight derivations computed from them.
package taskgroup

import (
	"time"

	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// Status represents the lifecycle state of a task group.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusArchived  Status = "ARCHIVED"
)

// PersonalStatus is the owner-controlled progress marker of an item.
type PersonalStatus string

const (
	PersonalNotStarted PersonalStatus = "NOT_STARTED"
	PersonalInProgress PersonalStatus = "IN_PROGRESS"
	PersonalSkipped    PersonalStatus = "SKIPPED"
)

// TaskGroup is a named unit of personally-scoped testing work.
type TaskGroup struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	OwnerID       string     `json:"owner_id"`
	CreatorID     string     `json:"creator_id"`
	TeamID        string     `json:"team_id"`
	ApplicationID string     `json:"application_id,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Status        Status     `json:"status"`
	Items         []Item     `json:"items"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Item is one test-case reference inside a task group.
//
// LocalResult and EnvResult are written only by the matching engine; an
// empty value means no run has matched yet. PersonalStatus belongs to the
// owner, except for the NOT_STARTED -> IN_PROGRESS bump on the first local match.
type Item struct {
	ID             string          `json:"id"`
	TaskGroupID    string          `json:"task_group_id"`
	TestCaseID     string          `json:"test_case_id"`
	TestCaseTitle  string          `json:"test_case_title"`
	LocalResult    testrun.Outcome `json:"local_result_status,omitempty"`
	EnvResult      testrun.Outcome `json:"env_result_status,omitempty"`
	LocalRunID     string          `json:"local_run_id,omitempty"`
	EnvRunID       string          `json:"env_run_id,omitempty"`
	LocalMatchedAt *time.Time      `json:"local_matched_at,omitempty"`
	EnvMatchedAt   *time.Time      `json:"env_matched_at,omitempty"`
	PersonalStatus PersonalStatus  `json:"personal_status"`
}

// ResultState is the subset of item fields the state updater reads before
// applying a match.
type ResultState struct {
	LocalResult    testrun.Outcome
	EnvResult      testrun.Outcome
	PersonalStatus PersonalStatus
}

// ResultUpdate is a targeted write of one result field of an item.
type ResultUpdate struct {
	Outcome   testrun.Outcome
	RunID     string
	MatchedAt time.Time
	// StartWork advances a NOT_STARTED item to IN_PROGRESS. Only honoured
	// for local results.
	StartWork bool
}

// Member is a team member as far as task ownership is concerned.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsOverdue reports whether an active group has passed its due date.
func (g *TaskGroup) IsOverdue(now time.Time) bool {
	return g.Status == StatusActive && g.DueDate != nil && g.DueDate.Before(now)
}

// CanAutoComplete reports whether an active, non-empty group has every item
// passing locally or skipped by its owner.
func (g *TaskGroup) CanAutoComplete() bool {
	if g.Status != StatusActive || len(g.Items) == 0 {
		return false
	}
	for _, it := range g.Items {
		if it.LocalResult != testrun.OutcomePassed && it.PersonalStatus != PersonalSkipped {
			return false
		}
	}
	return true
}

// AutoComplete flips the group to COMPLETED when CanAutoComplete holds and
// reports whether it did.
func (g *TaskGroup) AutoComplete() bool {
	if !g.CanAutoComplete() {
		return false
	}
	g.Status = StatusCompleted
	return true
}

// envDone reports whether an item counts as done for release purposes.
func (it *Item) envDone() bool {
	return it.EnvResult == testrun.OutcomePassed || it.PersonalStatus == PersonalSkipped
}
