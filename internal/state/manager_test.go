package state

import (
	"testing"
	"time"

	"github.com/agent-racer/backend/internal/guard"
)

func newTestManager() *Manager {
	return New(guard.New())
}

func collect(m *Manager) (events *[]Event, unsubscribe func()) {
	events = &[]Event{}
	unsubscribe = m.Subscribe(func(e Event) {
		*events = append(*events, e)
	})
	return events, unsubscribe
}

func TestGetAgentsForSessionSolo(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "sess-1", Name: "coder"})
	m.RegisterAgent(&Agent{ID: "sub-1", Name: "helper", IsSubagent: true, ParentAgentID: "sess-1"})
	m.RegisterAgent(&Agent{ID: "other", Name: "unrelated"})

	s := &Session{SessionID: "sess-1", ProjectName: "demo"}
	agents := m.getAgentsForSessionLocked(s)
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents for solo session, got %d", len(agents))
	}
}

func TestGetAgentsForSessionTeam(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "a1", Name: "lead", TeamName: "alpha"})
	m.RegisterAgent(&Agent{ID: "a2@alpha", Name: "legacy"})
	m.RegisterAgent(&Agent{ID: "a3", Name: "other-team", TeamName: "beta"})

	s := &Session{SessionID: "team:alpha", IsTeam: true, TeamName: "alpha"}
	agents := m.getAgentsForSessionLocked(s)
	if len(agents) != 2 {
		t.Fatalf("expected 2 team agents (direct + legacy suffix), got %d", len(agents))
	}
}

func TestUpdateAgentAddedThenUpdated(t *testing.T) {
	m := newTestManager()
	s := &Session{SessionID: "sess-1", ProjectName: "demo", LastActivity: time.Now()}
	m.AddSession(s)

	events, _ := collect(m)
	m.UpdateAgent(&Agent{ID: "sess-1", Name: "coder", Status: StatusWorking})
	if len(*events) == 0 || (*events)[len(*events)-1].Kind != EventAgentAdded {
		t.Fatalf("expected agent_added broadcast, got %+v", *events)
	}

	*events = nil
	m.UpdateAgent(&Agent{ID: "sess-1", Name: "coder", Status: StatusIdle})
	if len(*events) == 0 || (*events)[len(*events)-1].Kind != EventAgentUpdate {
		t.Fatalf("expected agent_update broadcast, got %+v", *events)
	}
}

func TestRegisterAgentBlockedAfterRemoval(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "a1", Name: "x"})
	m.RemoveAgent("a1")
	m.RegisterAgent(&Agent{ID: "a1", Name: "x"})
	if _, ok := m.GetAgentByID("a1"); ok {
		t.Fatal("expected registration to be blocked after recent removal")
	}
}

func TestSetAgentsPreservesRuntimeFields(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "a1", Name: "lead", Status: StatusWorking, TasksCompleted: 3, CurrentAction: "doing stuff"})

	m.SetAgents("alpha", []*Agent{{ID: "a1", Name: "lead", Role: RoleLead}})
	a, ok := m.GetAgentByID("a1")
	if !ok {
		t.Fatal("expected agent to exist")
	}
	if a.TasksCompleted != 3 || a.Status != StatusWorking || a.CurrentAction != "doing stuff" {
		t.Fatalf("expected runtime fields preserved, got %+v", a)
	}
}

func TestSetAgentsRemovesStaleTeamMembers(t *testing.T) {
	m := newTestManager()
	m.SetAgents("alpha", []*Agent{
		{ID: "lead-1", Name: "lead", TeamName: "alpha"},
		{ID: "worker-1", Name: "worker", TeamName: "alpha"},
	})
	if _, ok := m.GetAgentByID("worker-1"); !ok {
		t.Fatal("expected worker-1 registered on first config read")
	}

	// worker-1 was dropped from the roster on the next config read.
	m.SetAgents("alpha", []*Agent{{ID: "lead-1", Name: "lead", TeamName: "alpha"}})
	if _, ok := m.GetAgentByID("worker-1"); ok {
		t.Fatal("expected worker-1 removed after being dropped from the roster")
	}
	if _, ok := m.GetAgentByID("lead-1"); !ok {
		t.Fatal("expected lead-1 to remain registered")
	}
}

func TestUpdateAgentActivityByIdDebouncesWorking(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "sess-1", Name: "coder"})
	s := &Session{SessionID: "sess-1", ProjectName: "demo"}
	m.AddSession(s)

	var updates int
	unsub := m.Subscribe(func(e Event) {
		if e.Kind == EventAgentUpdate {
			updates++
		}
	})
	defer unsub()

	action := StrPtr("Reading app.ts")
	m.UpdateAgentActivityById("sess-1", StatusWorking, action, StrPtr("src"))
	m.UpdateAgentActivityById("sess-1", StatusWorking, StrPtr("Reading other.ts"), StrPtr("src"))

	if updates != 0 {
		t.Fatalf("expected no immediate broadcast while debounced, got %d", updates)
	}

	time.Sleep(250 * time.Millisecond)
	if updates != 1 {
		t.Fatalf("expected exactly one coalesced broadcast, got %d", updates)
	}
}

func TestUpdateAgentActivityByIdIdleIsImmediate(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "sess-1", Name: "coder", Status: StatusWorking})

	var kinds []EventKind
	unsub := m.Subscribe(func(e Event) { kinds = append(kinds, e.Kind) })
	defer unsub()

	m.UpdateAgentActivityById("sess-1", StatusIdle, nil, nil)
	if len(kinds) == 0 || kinds[0] != EventAgentUpdate {
		t.Fatalf("expected immediate agent_update on idle, got %v", kinds)
	}
}

func TestUpdateTaskIncrementsTasksCompletedOnce(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "a1", Name: "coder"})
	m.UpdateTask(&Task{ID: "t1", Status: TaskInProgress, Owner: "a1"})
	m.UpdateTask(&Task{ID: "t1", Status: TaskCompleted, Owner: "a1"})

	a, _ := m.GetAgentByID("a1")
	if a.TasksCompleted != 1 {
		t.Fatalf("expected tasksCompleted=1, got %d", a.TasksCompleted)
	}

	m.UpdateTask(&Task{ID: "t1", Status: TaskCompleted, Owner: "a1"})
	a, _ = m.GetAgentByID("a1")
	if a.TasksCompleted != 1 {
		t.Fatalf("expected no double-increment on replay, got %d", a.TasksCompleted)
	}
}

func TestUpdateTaskClearsOldOwnerWorkingOnReassignment(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "a1", Name: "coder", Status: StatusWorking})
	m.RegisterAgent(&Agent{ID: "a2", Name: "tester"})

	m.UpdateTask(&Task{ID: "t1", Status: TaskInProgress, Owner: "a1"})
	m.UpdateTask(&Task{ID: "t1", Status: TaskInProgress, Owner: "a2"})

	a1, _ := m.GetAgentByID("a1")
	if a1.Status != StatusIdle {
		t.Fatalf("expected old owner to go idle, got %s", a1.Status)
	}
}

func TestRemoveTaskBroadcastsDeletedStatus(t *testing.T) {
	m := newTestManager()
	m.UpdateTask(&Task{ID: "t1", Status: TaskPending})

	events, _ := collect(m)
	m.RemoveTask("t1")
	if len(*events) != 1 || (*events)[0].Kind != EventTaskUpdate {
		t.Fatalf("expected one task_update, got %+v", *events)
	}
	task := (*events)[0].Data.(*Task)
	if task.Status != TaskDeleted {
		t.Fatalf("expected deleted status, got %+v", task)
	}
}

func TestReconcileAgentStatuses(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "a1", Name: "coder", Status: StatusWorking})
	m.RegisterAgent(&Agent{ID: "a2", Name: "tester", Status: StatusIdle})
	s := &Session{SessionID: "team:alpha", IsTeam: true, TeamName: "alpha"}
	m.allAgents["a1"].TeamName = "alpha"
	m.allAgents["a2"].TeamName = "alpha"
	m.AddSession(s)
	m.SelectSession("team:alpha")

	m.UpdateTask(&Task{ID: "t1", Status: TaskInProgress, Owner: "a2"})
	m.ReconcileAgentStatuses()

	a1, _ := m.GetAgentByID("a1")
	a2, _ := m.GetAgentByID("a2")
	if a1.Status != StatusIdle {
		t.Fatalf("expected a1 (no in_progress task) to go idle, got %s", a1.Status)
	}
	if a2.Status != StatusWorking {
		t.Fatalf("expected a2 (owns in_progress task) to be working, got %s", a2.Status)
	}
}

func TestAddMessageIdempotent(t *testing.T) {
	m := newTestManager()
	m.AddSession(&Session{SessionID: "s1", ProjectName: "demo", LastActivity: time.Now()})

	m.AddMessage(&Message{ID: "m1", From: "a", To: "b", Content: "hi"})
	m.AddMessage(&Message{ID: "m1", From: "a", To: "b", Content: "hi again"})

	ts := m.GetStateForSession("s1")
	if len(ts.Messages) != 1 || ts.Messages[0].Content != "hi" {
		t.Fatalf("expected exactly one message, first write wins, got %+v", ts.Messages)
	}
}

func TestAddSessionAutoSelectsSoloOnly(t *testing.T) {
	m := newTestManager()
	team := &Session{SessionID: "team:alpha", IsTeam: true, TeamName: "alpha", LastActivity: time.Now()}
	m.AddSession(team)
	if id, ok := m.CurrentSessionID(); ok {
		t.Fatalf("expected no auto-select for team session, got %q", id)
	}

	solo := &Session{SessionID: "solo-1", ProjectName: "demo", LastActivity: time.Now()}
	m.AddSession(solo)
	if id, ok := m.CurrentSessionID(); !ok || id != "solo-1" {
		t.Fatalf("expected solo session auto-selected, got %q ok=%v", id, ok)
	}
}

func TestScoreSessionPrefersWorkingNotWaiting(t *testing.T) {
	m := newTestManager()
	m.RegisterAgent(&Agent{ID: "busy", Name: "busy", Status: StatusWorking})
	m.RegisterAgent(&Agent{ID: "idle", Name: "idle", Status: StatusIdle})

	m.AddSession(&Session{SessionID: "busy", ProjectName: "p1", LastActivity: time.Now()})
	m.AddSession(&Session{SessionID: "idle", ProjectName: "p2", LastActivity: time.Now().Add(-time.Hour)})

	id, ok := m.GetMostInterestingSessionId()
	if !ok || id != "busy" {
		t.Fatalf("expected busy session to win, got %q", id)
	}
}

func TestSessionsListSortedByLastActivityDesc(t *testing.T) {
	m := newTestManager()
	m.AddSession(&Session{SessionID: "old", ProjectName: "p1", LastActivity: time.Now().Add(-time.Hour)})
	m.AddSession(&Session{SessionID: "new", ProjectName: "p2", LastActivity: time.Now()})

	list := m.SessionsList()
	if len(list) != 2 || list[0].SessionID != "new" {
		t.Fatalf("expected newest session first, got %+v", list)
	}
}

func TestSelectMostRecentSessionTiebreakByRegistrationOrder(t *testing.T) {
	m := newTestManager()
	same := time.Now()
	m.AddSession(&Session{SessionID: "first", ProjectName: "p1", LastActivity: same})
	m.AddSession(&Session{SessionID: "second", ProjectName: "p2", LastActivity: same})

	m.SelectMostRecentSession()
	if id, ok := m.CurrentSessionID(); !ok || id != "first" {
		t.Fatalf("expected earlier-registered session to win an exact lastActivity tie, got %q", id)
	}
}

func TestGetMostInterestingSessionIdTiebreakByRegistrationOrder(t *testing.T) {
	m := newTestManager()
	same := time.Now()
	m.AddSession(&Session{SessionID: "first", ProjectName: "p1", LastActivity: same})
	m.AddSession(&Session{SessionID: "second", ProjectName: "p2", LastActivity: same})

	id, ok := m.GetMostInterestingSessionId()
	if !ok || id != "first" {
		t.Fatalf("expected earlier-registered session to win an exact score tie, got %q", id)
	}
}

func TestRemoveSessionUnselectsCurrent(t *testing.T) {
	m := newTestManager()
	m.AddSession(&Session{SessionID: "s1", ProjectName: "p1", LastActivity: time.Now()})
	m.RemoveSession("s1")
	if _, ok := m.CurrentSessionID(); ok {
		t.Fatal("expected current session cleared after removal")
	}
}
