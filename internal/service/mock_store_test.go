package service

import (
	"context"
	"slices"
	"sync"

	"github.com/Strob0t/TestPulse/internal/domain"
	"github.com/Strob0t/TestPulse/internal/domain/event"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// mockStore is an in-memory database.Store. Update methods follow the
// targeted-write semantics of the postgres adapter.
type mockStore struct {
	mu      sync.Mutex
	runs    map[string]*testrun.Run
	groups  map[string]*taskgroup.TaskGroup
	members map[string][]taskgroup.Member
	names   map[string]string

	// getRunGate, when set, blocks GetRunWithResults until closed.
	getRunGate chan struct{}

	getRunErr       error
	listErr         error
	updateLocalErr  error
	updateEnvErr    error
	updateStatusErr error

	localWrites int
	envWrites   int
}

func newMockStore() *mockStore {
	return &mockStore{
		runs:    make(map[string]*testrun.Run),
		groups:  make(map[string]*taskgroup.TaskGroup),
		members: make(map[string][]taskgroup.Member),
		names:   make(map[string]string),
	}
}

func (m *mockStore) addGroup(g taskgroup.TaskGroup) {
	for i := range g.Items {
		g.Items[i].TaskGroupID = g.ID
		if g.Items[i].PersonalStatus == "" {
			g.Items[i].PersonalStatus = taskgroup.PersonalNotStarted
		}
	}
	m.groups[g.ID] = &g
}

func (m *mockStore) item(id string) *taskgroup.Item {
	for _, g := range m.groups {
		for i := range g.Items {
			if g.Items[i].ID == id {
				return &g.Items[i]
			}
		}
	}
	return nil
}

func (m *mockStore) snapshot(id string) taskgroup.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.item(id)
}

func cloneGroup(g *taskgroup.TaskGroup) taskgroup.TaskGroup {
	c := *g
	c.Items = slices.Clone(g.Items)
	return c
}

func (m *mockStore) GetRunWithResults(_ context.Context, runID string) (*testrun.Run, error) {
	if m.getRunGate != nil {
		<-m.getRunGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getRunErr != nil {
		return nil, m.getRunErr
	}
	r, ok := m.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	c.Results = slices.Clone(r.Results)
	return &c, nil
}

func (m *mockStore) ListActiveTaskGroups(_ context.Context, teamID, applicationID string) ([]taskgroup.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []taskgroup.TaskGroup
	for _, g := range m.groups {
		if g.TeamID != teamID || g.Status != taskgroup.StatusActive {
			continue
		}
		if applicationID != "" && g.ApplicationID != applicationID {
			continue
		}
		out = append(out, cloneGroup(g))
	}
	return out, nil
}

func (m *mockStore) ListTeamTaskGroups(_ context.Context, teamID string, statuses ...taskgroup.Status) ([]taskgroup.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []taskgroup.TaskGroup
	for _, g := range m.groups {
		if g.TeamID != teamID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, g.Status) {
			continue
		}
		out = append(out, cloneGroup(g))
	}
	slices.SortFunc(out, func(a, b taskgroup.TaskGroup) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *mockStore) GetTaskGroup(_ context.Context, id string) (*taskgroup.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := cloneGroup(g)
	return &c, nil
}

func (m *mockStore) UpdateTaskGroupStatus(_ context.Context, id string, from, to taskgroup.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStatusErr != nil {
		return m.updateStatusErr
	}
	g, ok := m.groups[id]
	if !ok {
		return domain.ErrNotFound
	}
	if g.Status != from {
		return domain.ErrConflict
	}
	g.Status = to
	return nil
}

func (m *mockStore) GetItemResultState(_ context.Context, itemID string) (*taskgroup.ResultState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.item(itemID)
	if it == nil {
		return nil, domain.ErrNotFound
	}
	return &taskgroup.ResultState{
		LocalResult:    it.LocalResult,
		EnvResult:      it.EnvResult,
		PersonalStatus: it.PersonalStatus,
	}, nil
}

func (m *mockStore) UpdateItemLocalResult(_ context.Context, itemID string, u taskgroup.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateLocalErr != nil {
		return m.updateLocalErr
	}
	it := m.item(itemID)
	if it == nil {
		return domain.ErrNotFound
	}
	at := u.MatchedAt
	it.LocalResult = u.Outcome
	it.LocalRunID = u.RunID
	it.LocalMatchedAt = &at
	if u.StartWork && it.PersonalStatus == taskgroup.PersonalNotStarted {
		it.PersonalStatus = taskgroup.PersonalInProgress
	}
	m.localWrites++
	return nil
}

func (m *mockStore) UpdateItemEnvResult(_ context.Context, itemID string, u taskgroup.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateEnvErr != nil {
		return m.updateEnvErr
	}
	it := m.item(itemID)
	if it == nil {
		return domain.ErrNotFound
	}
	at := u.MatchedAt
	it.EnvResult = u.Outcome
	it.EnvRunID = u.RunID
	it.EnvMatchedAt = &at
	m.envWrites++
	return nil
}

func (m *mockStore) GetTeamName(_ context.Context, teamID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[teamID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return name, nil
}

func (m *mockStore) ListTeamMembers(_ context.Context, teamID string) ([]taskgroup.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.members[teamID]), nil
}

// recordingBroadcaster implements broadcast.Broadcaster by remembering every call.
type recordingBroadcaster struct {
	mu     sync.Mutex
	teams  []string
	events []event.Payload
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, teamID string, p event.Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teams = append(b.teams, teamID)
	b.events = append(b.events, p)
}

func (b *recordingBroadcaster) names() []event.Name {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Name, len(b.events))
	for i, p := range b.events {
		out[i] = p.EventName()
	}
	return out
}

func (b *recordingBroadcaster) all() []event.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}
