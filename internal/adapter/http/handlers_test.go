package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	tphttp "github.com/Strob0t/TestPulse/internal/adapter/http"
	"github.com/Strob0t/TestPulse/internal/domain"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/service"
)

// mockTrigger records triggered run ids.
type mockTrigger struct {
	mu   sync.Mutex
	runs []string
}

func (m *mockTrigger) TriggerRunFinished(_ context.Context, runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, runID)
}

// mockInsights serves canned read-side answers.
type mockInsights struct {
	progress  map[string]*service.GroupProgress
	readiness *taskgroup.Readiness
	insights  []taskgroup.Insight
	err       error
}

func (m *mockInsights) GroupProgress(_ context.Context, groupID string) (*service.GroupProgress, error) {
	p, ok := m.progress[groupID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *mockInsights) TeamProgress(_ context.Context, teamID string) (*taskgroup.TeamSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &taskgroup.TeamSummary{TeamID: teamID, Members: []taskgroup.MemberSummary{}}, nil
}

func (m *mockInsights) SprintReadiness(_ context.Context, _ string) (*taskgroup.Readiness, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.readiness, nil
}

func (m *mockInsights) Insights(_ context.Context, _ string) ([]taskgroup.Insight, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.insights, nil
}

func newTestRouter(h *tphttp.Handlers) chi.Router {
	r := chi.NewRouter()
	tphttp.MountRoutes(r, h)
	return r
}

func TestRunFinishedAccepted(t *testing.T) {
	trigger := &mockTrigger{}
	r := newTestRouter(&tphttp.Handlers{Matching: trigger, Insights: &mockInsights{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-42/finished", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if diff := cmp.Diff([]string{"run-42"}, trigger.runs); diff != "" {
		t.Errorf("triggered runs mismatch (-want +got):\n%s", diff)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["run_id"] != "run-42" || body["status"] != "accepted" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestGetGroupProgress(t *testing.T) {
	ins := &mockInsights{progress: map[string]*service.GroupProgress{
		"g1": {TaskGroupID: "g1", Status: taskgroup.StatusActive, Progress: taskgroup.Progress{Total: 3, LocalPassed: 2}},
	}}
	r := newTestRouter(&tphttp.Handlers{Matching: &mockTrigger{}, Insights: ins})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/task-groups/g1/progress", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got service.GroupProgress
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(*ins.progress["g1"], got); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestGetGroupProgressNotFound(t *testing.T) {
	r := newTestRouter(&tphttp.Handlers{Matching: &mockTrigger{}, Insights: &mockInsights{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/task-groups/missing/progress", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTeamEndpoints(t *testing.T) {
	ins := &mockInsights{
		readiness: &taskgroup.Readiness{Status: taskgroup.ReadinessReady, Total: 1, Done: 1},
		insights:  []taskgroup.Insight{{Kind: taskgroup.InsightIdleMember, Severity: taskgroup.SeverityInfo, UserID: "u2"}},
	}
	r := newTestRouter(&tphttp.Handlers{Matching: &mockTrigger{}, Insights: ins})

	tests := []struct {
		path     string
		contains string
	}{
		{"/api/v1/teams/team-1/progress", `"team_id":"team-1"`},
		{"/api/v1/teams/team-1/readiness", `"status":"READY"`},
		{"/api/v1/teams/team-1/insights", `"kind":"idle_member"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if !json.Valid(w.Body.Bytes()) {
				t.Fatalf("invalid JSON: %s", w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("expected body to contain %s, got %s", tt.contains, w.Body.String())
			}
		})
	}
}

func TestTeamEndpointInternalError(t *testing.T) {
	r := newTestRouter(&tphttp.Handlers{Matching: &mockTrigger{}, Insights: &mockInsights{err: errors.New("db down")}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/teams/team-1/insights", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Errorf("internal error leaked to client: %s", w.Body.String())
	}
}

func TestTeamEndpointValidationError(t *testing.T) {
	err := fmt.Errorf("%w: team id %q may only contain letters, digits, '-' and '_'", domain.ErrValidation, "a.b")
	r := newTestRouter(&tphttp.Handlers{Matching: &mockTrigger{}, Insights: &mockInsights{err: err}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/teams/a.b/readiness", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "may only contain") || strings.Contains(w.Body.String(), "validation failed") {
		t.Errorf("unexpected error body: %s", w.Body.String())
	}
}
