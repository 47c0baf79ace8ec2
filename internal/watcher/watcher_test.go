package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-racer/backend/internal/guard"
	"github.com/agent-racer/backend/internal/state"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return "", nil
}

func newTestWatcher(t *testing.T) (*Watcher, *state.Manager, string) {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"teams", "tasks", "projects"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	sm := state.New(guard.New())
	w, err := New(root, sm, guard.New(), noopRunner{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, sm, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHandleTeamConfigChangeRegistersMembers(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	cfg := map[string]any{
		"members": []map[string]string{
			{"name": "lead", "agentId": "lead-1", "agentType": "lead"},
			{"name": "worker", "agentId": "worker-1", "agentType": "implementer"},
		},
	}
	data, _ := json.Marshal(cfg)
	path := filepath.Join(root, "teams", "alpha", "config.json")
	writeFile(t, path, string(data))

	w.handleTeamConfigChange(path)

	sess := "team:alpha"
	if _, ok := sm.GetSession(sess); !ok {
		t.Fatal("expected team session to be created")
	}
	if _, ok := sm.GetAgentByID("lead-1"); !ok {
		t.Fatal("expected lead-1 registered")
	}
	if _, ok := sm.GetAgentByID("worker-1"); !ok {
		t.Fatal("expected worker-1 registered")
	}
}

func TestHandleTeamConfigChangeDoesNotWipeOtherDisplay(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	sm.AddSession(&state.Session{SessionID: "solo-1", ProjectName: "solo", LastActivity: time.Now()})
	sm.RegisterAgent(&state.Agent{ID: "solo-1", Name: "solo", Status: state.StatusWorking})
	sm.UpdateAgent(&state.Agent{ID: "solo-1", Name: "solo", Status: state.StatusWorking})
	sm.SelectSession("solo-1")

	cfg := map[string]any{
		"members": []map[string]string{{"name": "lead", "agentId": "lead-1", "agentType": "lead"}},
	}
	data, _ := json.Marshal(cfg)
	path := filepath.Join(root, "teams", "alpha", "config.json")
	writeFile(t, path, string(data))
	w.handleTeamConfigChange(path)

	ts := sm.CurrentState()
	if len(ts.Agents) != 1 || ts.Agents[0].ID != "solo-1" {
		t.Fatalf("expected solo-1 display untouched by unrelated team config, got %+v", ts.Agents)
	}
}

func TestHandleTeamConfigChangeRemovesDroppedMember(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	cfg := map[string]any{
		"members": []map[string]string{
			{"name": "lead", "agentId": "lead-1", "agentType": "lead"},
			{"name": "worker", "agentId": "worker-1", "agentType": "implementer"},
		},
	}
	data, _ := json.Marshal(cfg)
	path := filepath.Join(root, "teams", "alpha", "config.json")
	writeFile(t, path, string(data))
	w.handleTeamConfigChange(path)

	if _, ok := sm.GetAgentByID("worker-1"); !ok {
		t.Fatal("expected worker-1 registered on first read")
	}

	// worker-1 is dropped from config.json on the next read.
	cfg = map[string]any{
		"members": []map[string]string{{"name": "lead", "agentId": "lead-1", "agentType": "lead"}},
	}
	data, _ = json.Marshal(cfg)
	writeFile(t, path, string(data))
	w.handleTeamConfigChange(path)

	if _, ok := sm.GetAgentByID("worker-1"); ok {
		t.Fatal("expected worker-1 removed after being dropped from the roster")
	}
	if _, ok := sm.GetAgentByID("lead-1"); !ok {
		t.Fatal("expected lead-1 to remain registered")
	}
}

func TestHandleTeamConfigRemoveClearsOnlyThatTeam(t *testing.T) {
	w, sm, _ := newTestWatcher(t)

	sm.EnsureTeamSession("alpha")
	agent := &state.Agent{ID: "lead-1", Name: "lead", TeamName: "alpha"}
	sm.RegisterAgent(agent)
	sm.UpdateAgent(agent)
	other := &state.Agent{ID: "lead-2", Name: "lead", TeamName: "beta"}
	sm.RegisterAgent(other)
	sm.UpdateAgent(other)

	w.handleTeamConfigRemove(filepath.Join("teams", "alpha", "config.json"))

	if _, ok := sm.GetAgentByID("lead-1"); ok {
		t.Fatal("expected lead-1 removed after team config unlink")
	}
	if _, ok := sm.GetAgentByID("lead-2"); !ok {
		t.Fatal("expected another team's agent to survive the alpha unlink")
	}
}

func TestHandleTaskFileChangeAndRemove(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	task := map[string]any{"subject": "do the thing", "status": "pending"}
	data, _ := json.Marshal(task)
	path := filepath.Join(root, "tasks", "alpha", "task-1.json")
	writeFile(t, path, string(data))

	w.handleTaskFileChange(path)
	got, ok := sm.GetTask("task-1")
	if !ok || got.Subject != "do the thing" {
		t.Fatalf("expected task-1 created, got %+v ok=%v", got, ok)
	}

	w.handleTaskFileRemove(path)
	if _, ok := sm.GetTask("task-1"); ok {
		t.Fatal("expected task-1 removed")
	}
}

func TestDetectTopLevelSessionRegistersSoloAgent(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	line := `{"sessionId":"sess-1","cwd":"/home/user/myproj","slug":"myproj-session"}` + "\n"
	path := filepath.Join(root, "projects", "myproj", "sess-1.jsonl")
	writeFile(t, path, line)

	w.detectSession(path)

	if _, ok := sm.GetSession("sess-1"); !ok {
		t.Fatal("expected sess-1 registered")
	}
	if _, ok := sm.GetAgentByID("sess-1"); !ok {
		t.Fatal("expected synthetic solo agent registered under the session id")
	}
}

func TestDetectSubagentSessionRegistersSubagent(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	parentLine := `{"sessionId":"parent-1","cwd":"/home/user/myproj"}` + "\n"
	parentPath := filepath.Join(root, "projects", "myproj", "parent-1.jsonl")
	writeFile(t, parentPath, parentLine)
	w.detectSession(parentPath)

	subLine := `{"type":"user","message":{"content":"investigate the flaky test"}}` + "\n"
	subPath := filepath.Join(root, "projects", "myproj", "parent-1", "subagents", "agent-xyz.jsonl")
	writeFile(t, subPath, subLine)
	w.detectSession(subPath)

	agent, ok := sm.GetAgentByID("agent-xyz")
	if !ok {
		t.Fatal("expected subagent registered")
	}
	if !agent.IsSubagent || agent.ParentAgentID != "parent-1" {
		t.Fatalf("expected subagent linked to parent-1, got %+v", agent)
	}
	if agent.Name != "investigate the flaky test" {
		t.Fatalf("expected name derived from first user turn, got %q", agent.Name)
	}
}

func TestDetectSubagentSessionInternalSummarizerSkipsRegistration(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	parentLine := `{"sessionId":"parent-2","cwd":"/home/user/myproj"}` + "\n"
	parentPath := filepath.Join(root, "projects", "myproj", "parent-2.jsonl")
	writeFile(t, parentPath, parentLine)
	w.detectSession(parentPath)

	subPath := filepath.Join(root, "projects", "myproj", "parent-2", "subagents", "agent-acompact-1.jsonl")
	writeFile(t, subPath, `{}`+"\n")
	w.detectSession(subPath)

	if _, ok := sm.GetAgentByID("agent-acompact-1"); ok {
		t.Fatal("expected internal summarizer not registered as a visible agent")
	}
	parent, _ := sm.GetAgentByID("parent-2")
	if parent.CurrentAction != "Compacting conversation..." {
		t.Fatalf("expected parent agent marked compacting, got %+v", parent)
	}
}

func TestHandleTranscriptChangeAppliesToolCall(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	path := filepath.Join(root, "projects", "myproj", "sess-2.jsonl")
	writeFile(t, path, `{"sessionId":"sess-2","cwd":"/home/user/myproj"}`+"\n")
	w.detectSession(path)

	toolLine := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/home/user/myproj/a.go"}}]}}` + "\n"
	appendLine(t, path, toolLine)

	w.handleTranscriptChange(path)

	agent, _ := sm.GetAgentByID("sess-2")
	if agent.Status != state.StatusWorking {
		t.Fatalf("expected agent working after tool_call, got %+v", agent)
	}
}

func TestScheduleWaitingCheckMarksWaitingAfterIdleDelay(t *testing.T) {
	w, sm, root := newTestWatcher(t)
	w.waitingCheckDelay = 20 * time.Millisecond

	path := filepath.Join(root, "projects", "myproj", "sess-wait.jsonl")
	writeFile(t, path, `{"sessionId":"sess-wait","cwd":"/home/user/myproj"}`+"\n")
	w.detectSession(path)

	toolLine := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/home/user/myproj/a.go"}}]}}` + "\n"
	appendLine(t, path, toolLine)
	w.handleTranscriptChange(path)

	agent, _ := sm.GetAgentByID("sess-wait")
	if agent.WaitingForInput {
		t.Fatal("expected agent not waiting immediately after a tool call")
	}

	time.Sleep(60 * time.Millisecond)

	agent, _ = sm.GetAgentByID("sess-wait")
	if !agent.WaitingForInput {
		t.Fatal("expected the one-shot 45s-equivalent check to mark the agent waiting once idle")
	}
}

func TestScheduleWaitingCheckSkippedWhenSuperseded(t *testing.T) {
	w, sm, root := newTestWatcher(t)
	w.waitingCheckDelay = 15 * time.Millisecond

	path := filepath.Join(root, "projects", "myproj", "sess-busy.jsonl")
	writeFile(t, path, `{"sessionId":"sess-busy","cwd":"/home/user/myproj"}`+"\n")
	w.detectSession(path)
	sm.RegisterAgent(&state.Agent{ID: "sess-busy", Name: "sess-busy", Status: state.StatusWorking})

	staleAt := time.Now().Add(-time.Minute)
	w.mu.Lock()
	w.tracked[path] = &trackedFile{kind: kindTranscript, sessionID: "sess-busy", lastToolUseAt: time.Now()}
	w.mu.Unlock()

	// Schedule a check against an already-superseded lastToolUseAt value
	// (as if a newer tool call arrived after the check was captured but
	// before it fired); the tracked value no longer matches, so it must
	// no-op rather than mark the agent waiting.
	w.scheduleWaitingCheck(path, staleAt)
	time.Sleep(40 * time.Millisecond)

	agent, _ := sm.GetAgentByID("sess-busy")
	if agent.WaitingForInput {
		t.Fatal("expected a stale waiting check (capturedAt != current lastToolUseAt) to no-op")
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		t.Fatal(err)
	}
}

func TestHandleTranscriptRemoveDropsSoloSession(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	path := filepath.Join(root, "projects", "myproj", "sess-3.jsonl")
	writeFile(t, path, `{"sessionId":"sess-3","cwd":"/home/user/myproj"}`+"\n")
	w.detectSession(path)

	w.handleTranscriptRemove(path)

	if _, ok := sm.GetSession("sess-3"); ok {
		t.Fatal("expected solo session removed once its only tracked file is gone")
	}
}

func TestSweepStalenessIdlesAfter60Seconds(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	path := filepath.Join(root, "projects", "myproj", "sess-4.jsonl")
	writeFile(t, path, `{"sessionId":"sess-4","cwd":"/home/user/myproj"}`+"\n")
	w.detectSession(path)
	sm.RegisterAgent(&state.Agent{ID: "sess-4", Name: "sess-4", Status: state.StatusWorking})
	sm.UpdateAgent(&state.Agent{ID: "sess-4", Name: "sess-4", Status: state.StatusWorking})

	w.mu.Lock()
	w.tracked[path].lastToolUseAt = time.Now().Add(-61 * time.Second)
	w.mu.Unlock()

	w.sweepStaleness()

	agent, _ := sm.GetAgentByID("sess-4")
	if agent.Status != state.StatusIdle {
		t.Fatalf("expected agent idled by staleness sweep, got %+v", agent)
	}
}

func TestSweepStalenessRemovesStaleSubagent(t *testing.T) {
	w, sm, root := newTestWatcher(t)

	parentPath := filepath.Join(root, "projects", "myproj", "parent-3.jsonl")
	writeFile(t, parentPath, `{"sessionId":"parent-3","cwd":"/home/user/myproj"}`+"\n")
	w.detectSession(parentPath)

	subPath := filepath.Join(root, "projects", "myproj", "parent-3", "subagents", "agent-sub.jsonl")
	writeFile(t, subPath, `{"type":"user","message":{"content":"do work"}}`+"\n")
	w.detectSession(subPath)

	w.mu.Lock()
	w.tracked[subPath].lastToolUseAt = time.Now().Add(-301 * time.Second)
	w.mu.Unlock()

	w.sweepStaleness()

	if _, ok := sm.GetAgentByID("agent-sub"); ok {
		t.Fatal("expected stale subagent removed after 300s idle")
	}
}

func TestSetTimings(t *testing.T) {
	w, _, _ := newTestWatcher(t)

	w.SetTimings(250*time.Millisecond, 30*time.Second)
	if got := w.getChangeDebounce(); got != 250*time.Millisecond {
		t.Errorf("changeDebounce = %s, want 250ms", got)
	}
	if got := w.getStalenessInterval(); got != 30*time.Second {
		t.Errorf("stalenessInterval = %s, want 30s", got)
	}

	// Zero values leave both knobs unchanged.
	w.SetTimings(0, 0)
	if got := w.getChangeDebounce(); got != 250*time.Millisecond {
		t.Errorf("changeDebounce changed on zero-value call: %s", got)
	}
	if got := w.getStalenessInterval(); got != 30*time.Second {
		t.Errorf("stalenessInterval changed on zero-value call: %s", got)
	}

	select {
	case <-w.stalenessReconfig:
	default:
		t.Fatal("expected SetTimings to signal stalenessReconfig")
	}
}

func TestHealthReportsPerRootStatus(t *testing.T) {
	w, _, root := newTestWatcher(t)

	for _, payload := range w.Health() {
		if !payload.Healthy {
			t.Fatalf("expected root %s to start healthy", payload.Root)
		}
	}

	teamsRoot := filepath.Join(root, "teams")
	w.health.recordFailure(teamsRoot, "boom")

	var found bool
	for _, payload := range w.Health() {
		if payload.Root != teamsRoot {
			continue
		}
		found = true
		if payload.Healthy {
			t.Fatal("expected teams root to be unhealthy after recordFailure")
		}
		if payload.LastError != "boom" {
			t.Errorf("LastError = %q, want boom", payload.LastError)
		}
		if payload.FailureStreak != 1 {
			t.Errorf("FailureStreak = %d, want 1", payload.FailureStreak)
		}
	}
	if !found {
		t.Fatal("expected teams root in health snapshot")
	}

	w.health.recordSuccess(teamsRoot)
	for _, payload := range w.Health() {
		if payload.Root == teamsRoot && !payload.Healthy {
			t.Fatal("expected teams root healthy again after recordSuccess")
		}
	}
}

func TestRootForPath(t *testing.T) {
	root := "/home/user/.claude"
	cases := []struct {
		path string
		want string
	}{
		{filepath.Join(root, "teams", "alpha", "config.json"), filepath.Join(root, "teams")},
		{filepath.Join(root, "tasks", "t1.json"), filepath.Join(root, "tasks")},
		{filepath.Join(root, "projects", "myproj", "s1.jsonl"), filepath.Join(root, "projects")},
	}
	for _, c := range cases {
		if got := rootForPath(root, c.path); got != c.want {
			t.Errorf("rootForPath(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}
