package testrun

import "testing"

func TestSourceIsLocal(t *testing.T) {
	tests := []struct {
		source Source
		want   bool
	}{
		{SourceLocal, true},
		{SourceManual, true},
		{SourceCI, false},
	}
	for _, tt := range tests {
		if got := tt.source.IsLocal(); got != tt.want {
			t.Errorf("%s.IsLocal() = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestRunFinished(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusRunning, false},
		{StatusCancelled, false},
		{StatusPassed, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		r := Run{Status: tt.status}
		if got := r.Finished(); got != tt.want {
			t.Errorf("Run{Status: %s}.Finished() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestQualifyingResultsKeepsOrder(t *testing.T) {
	r := Run{Results: []Result{
		{ID: "r1", Outcome: OutcomePassed},
		{ID: "r2", Outcome: OutcomeSkipped},
		{ID: "r3", Outcome: OutcomeFailed},
		{ID: "r4", Outcome: OutcomeRunning},
	}}

	got := r.QualifyingResults()
	if len(got) != 2 {
		t.Fatalf("expected 2 qualifying results, got %d", len(got))
	}
	if got[0].ID != "r1" || got[1].ID != "r3" {
		t.Fatalf("expected [r1 r3], got [%s %s]", got[0].ID, got[1].ID)
	}
}
