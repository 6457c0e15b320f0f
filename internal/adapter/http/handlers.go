package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/service"
)

// RunTrigger starts a detached matching pass for a finished run.
type RunTrigger interface {
	TriggerRunFinished(ctx context.Context, runID string)
}

// InsightReader serves the aggregator read side.
type InsightReader interface {
	GroupProgress(ctx context.Context, groupID string) (*service.GroupProgress, error)
	TeamProgress(ctx context.Context, teamID string) (*taskgroup.TeamSummary, error)
	SprintReadiness(ctx context.Context, teamID string) (*taskgroup.Readiness, error)
	Insights(ctx context.Context, teamID string) ([]taskgroup.Insight, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Matching RunTrigger
	Insights InsightReader
}

type triggerResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunFinished handles POST /api/v1/runs/{id}/finished. The matching pass
// runs detached; the response never reflects its outcome.
func (h *Handlers) RunFinished(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !requireField(w, id, "run id") {
		return
	}
	h.Matching.TriggerRunFinished(r.Context(), id)
	writeJSON(w, http.StatusAccepted, triggerResponse{RunID: id, Status: "accepted"})
}

// GetGroupProgress handles GET /api/v1/task-groups/{id}/progress
func (h *Handlers) GetGroupProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.Insights.GroupProgress(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "task group not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetTeamProgress handles GET /api/v1/teams/{id}/progress
func (h *Handlers) GetTeamProgress(w http.ResponseWriter, r *http.Request) {
	s, err := h.Insights.TeamProgress(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "team not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetTeamReadiness handles GET /api/v1/teams/{id}/readiness
func (h *Handlers) GetTeamReadiness(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Insights.SprintReadiness(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "team not found")
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// GetTeamInsights handles GET /api/v1/teams/{id}/insights
func (h *Handlers) GetTeamInsights(w http.ResponseWriter, r *http.Request) {
	ins, err := h.Insights.Insights(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "team not found")
		return
	}
	writeJSON(w, http.StatusOK, ins)
}
