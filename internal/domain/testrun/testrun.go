// Package testrun defines the TestRun and TestResult domain entities
// produced by the ingestion path and consumed read-only by matching.
package testrun

import "time"

// Source classifies where a run was executed.
type Source string

const (
	SourceLocal  Source = "LOCAL"
	SourceCI     Source = "CI"
	SourceManual Source = "MANUAL"
)

// IsLocal reports whether results of this source update the local result
// field of a task item. Manual runs count as local.
func (s Source) IsLocal() bool {
	return s != SourceCI
}

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPassed    Status = "PASSED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Outcome is the result of a single test within a run. The same values are
// stored as the local/environment result of a task item.
type Outcome string

const (
	OutcomePassed  Outcome = "PASSED"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeRunning Outcome = "RUNNING"
)

// Qualifies reports whether a result with this outcome takes part in matching.
func (o Outcome) Qualifies() bool {
	return o == OutcomePassed || o == OutcomeFailed
}

// Run is one execution of a test suite.
type Run struct {
	ID            string     `json:"id"`
	TeamID        string     `json:"team_id"`
	ApplicationID string     `json:"application_id,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	Source        Source     `json:"source"`
	Status        Status     `json:"status"`
	Results       []Result   `json:"results,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the run has left RUNNING without being cancelled.
func (r *Run) Finished() bool {
	return r.Status != StatusRunning && r.Status != StatusCancelled
}

// QualifyingResults returns the results whose outcome takes part in
// matching, preserving run order.
func (r *Run) QualifyingResults() []Result {
	out := make([]Result, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Outcome.Qualifies() {
			out = append(out, res)
		}
	}
	return out
}

// Result is one outcome row within a run.
type Result struct {
	ID         string  `json:"id"`
	TestCaseID string  `json:"test_case_id,omitempty"`
	TestTitle  string  `json:"test_title"`
	Outcome    Outcome `json:"outcome"`
}
