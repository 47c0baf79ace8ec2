package hook

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agent-racer/backend/internal/parser"
	"github.com/agent-racer/backend/internal/state"
	"github.com/tidwall/gjson"
)

// spawnTTL bounds how long a pending Task-tool spawn waits for its
// matching SubagentStart before it ages out (spec §5).
const spawnTTL = 60 * time.Second

// subagentRemovalDelay is how long a true subagent lingers as "done"
// before it's removed from the registry (spec §4.4).
const subagentRemovalDelay = 15 * time.Second

var taskIDPattern = regexp.MustCompile(`Task #(\d+)`)

// pendingSpawn is a Task-tool invocation awaiting its SubagentStart.
type pendingSpawn struct {
	ToolUseID    string
	Description  string
	Prompt       string
	SubagentType string
	SessionID    string
	TeamName     string
	At           time.Time
}

// Handler is the HookHandler. HandleEvent is its only public entry
// point.
type Handler struct {
	state  *state.Manager
	runner parser.CommandRunner

	// removalDelay is subagentRemovalDelay in production; tests shrink it
	// to avoid real 15s sleeps.
	removalDelay time.Duration

	mu              sync.Mutex
	spawns          map[string]pendingSpawn // keyed by tool_use_id
	gitInfoDetected map[string]bool
	sessionCwd      map[string]string
}

// New returns a Handler wired to sm. runner may be nil to use the real
// git CommandRunner.
func New(sm *state.Manager, runner parser.CommandRunner) *Handler {
	return &Handler{
		state:           sm,
		runner:          runner,
		removalDelay:    subagentRemovalDelay,
		spawns:          make(map[string]pendingSpawn),
		gitInfoDetected: make(map[string]bool),
		sessionCwd:      make(map[string]string),
	}
}

// HandleEvent applies one hook event to the state manager, per spec §4.4.
func (h *Handler) HandleEvent(evt Event) {
	if evt.SessionID == "" {
		log.Printf("hook: rejected %s event with empty session_id", evt.Name)
		return
	}

	h.state.UpdateSessionActivity(evt.SessionID)
	h.state.MarkHookActive(evt.SessionID)
	h.rememberCwd(evt)
	h.autoRegister(evt)
	h.probeGit(evt.SessionID, evt.Cwd)

	switch evt.Name {
	case "PreToolUse":
		h.handlePreToolUse(evt)
	case "PostToolUse":
		h.handlePostToolUse(evt)
	case "PermissionRequest":
		h.handlePermissionRequest(evt)
	case "SubagentStart":
		h.handleSubagentStart(evt)
	case "SubagentStop":
		h.handleSubagentStop(evt)
	case "PreCompact":
		h.state.UpdateAgentActivityById(evt.SessionID, state.StatusWorking, state.StrPtr("Compacting conversation..."), nil)
	case "Stop":
		h.state.UpdateAgentActivityById(evt.SessionID, state.StatusIdle, nil, nil)
		h.state.MarkSessionStopped(evt.SessionID)
	case "SessionStart":
		log.Printf("hook: session started %s", evt.SessionID)
	case "SessionEnd":
		log.Printf("hook: session ended %s", evt.SessionID)
		h.state.UpdateAgentActivityById(evt.SessionID, state.StatusIdle, nil, nil)
	case "UserPromptSubmit":
		h.state.ClearSessionStopped(evt.SessionID)
		h.state.SetAgentWaitingById(evt.SessionID, false, nil, nil, nil)
		h.state.UpdateAgentActivityById(evt.SessionID, state.StatusWorking, state.StrPtr("Processing prompt..."), nil)
	case "TeammateIdle":
		h.handleTeammateIdle(evt)
	case "TaskCompleted":
		h.handleTaskCompleted(evt)
	case "PostToolUseFailure", "Notification":
		// Logged only; no state mutation is specified for these.
		log.Printf("hook: %s for session %s", evt.Name, evt.SessionID)
	default:
		log.Printf("hook: ignoring unknown event %q", evt.Name)
	}
}

func (h *Handler) rememberCwd(evt Event) {
	if evt.Cwd == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessionCwd[evt.SessionID]; !ok {
		h.sessionCwd[evt.SessionID] = evt.Cwd
	}
}

func (h *Handler) cwdFor(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionCwd[sessionID]
}

// autoRegister handles context-continuation: a session id can rotate
// before the watcher ever sees the new JSONL file, so the first hook
// event for an unknown session must stand up an agent (and, if needed, a
// session) itself.
func (h *Handler) autoRegister(evt Event) {
	if evt.Name == "SubagentStart" || evt.Name == "SubagentStop" {
		return
	}
	if _, ok := h.state.GetAgentByID(evt.SessionID); ok {
		return
	}

	if sess, ok := h.state.GetSession(evt.SessionID); ok {
		name := sess.Slug
		if name == "" {
			name = sess.ProjectName
		}
		h.state.UpdateAgent(&state.Agent{ID: evt.SessionID, Name: name, Role: state.RoleImplementer, Status: state.StatusWorking})
		return
	}

	if evt.Cwd == "" {
		return
	}
	projectName := parser.LastSegment(evt.Cwd)
	h.state.AddSession(&state.Session{
		SessionID:    evt.SessionID,
		ProjectPath:  evt.Cwd,
		ProjectName:  projectName,
		LastActivity: time.Now(),
	})
	h.state.UpdateAgent(&state.Agent{ID: evt.SessionID, Name: projectName, Role: state.RoleImplementer, Status: state.StatusWorking})
}

// probeGit fires the once-per-session git worktree+status probe
// fire-and-forget, per spec §4.4 step 5.
func (h *Handler) probeGit(sessionID, cwd string) {
	if cwd == "" {
		return
	}
	h.mu.Lock()
	if h.gitInfoDetected[sessionID] {
		h.mu.Unlock()
		return
	}
	h.gitInfoDetected[sessionID] = true
	h.mu.Unlock()

	go h.reprobeGit(sessionID, cwd)
}

func (h *Handler) reprobeGit(sessionID, cwd string) {
	ctx := context.Background()
	wt := parser.DetectGitWorktree(ctx, cwd, h.runner)
	st := parser.DetectGitStatus(ctx, cwd, h.runner)
	h.state.UpdateAgentGitInfo(sessionID, wt.Branch, wt.GitWorktree, st.Ahead, st.Behind, st.HasUpstream, st.IsDirty)
}

func (h *Handler) purgeOldSpawnsLocked() {
	cutoff := time.Now().Add(-spawnTTL)
	for id, s := range h.spawns {
		if s.At.Before(cutoff) {
			delete(h.spawns, id)
		}
	}
}

func (h *Handler) handlePreToolUse(evt Event) {
	h.state.ClearSessionStopped(evt.SessionID)

	if evt.ToolName == "Task" && evt.ToolUseID != "" {
		subagentType := evt.ToolInput.Get("subagent_type").String()
		if subagentType == "" {
			subagentType = "general-purpose"
		}
		h.mu.Lock()
		h.purgeOldSpawnsLocked()
		h.spawns[evt.ToolUseID] = pendingSpawn{
			ToolUseID:    evt.ToolUseID,
			Description:  evt.ToolInput.Get("description").String(),
			Prompt:       firstLine(evt.ToolInput.Get("prompt").String(), 80),
			SubagentType: subagentType,
			SessionID:    evt.SessionID,
			TeamName:     evt.Raw.Get("team_name").String(),
			At:           time.Now(),
		}
		h.mu.Unlock()
	}

	action, ctx := parser.DescribeToolAction(evt.ToolName, evt.ToolInput)
	h.state.SetAgentWaitingById(evt.SessionID, false, nil, nil, nil)
	h.state.UpdateAgentActivityById(evt.SessionID, state.StatusWorking, state.StrPtr(action), state.StrPtr(ctx))
}

func (h *Handler) handlePostToolUse(evt Event) {
	h.state.SetAgentWaitingById(evt.SessionID, false, nil, nil, nil)

	if evt.ToolName == "Bash" {
		cmd := evt.ToolInput.Get("command").String()
		if parser.IsGitMutatingBash(cmd) {
			if cwd := h.cwdFor(evt.SessionID); cwd != "" {
				parser.ClearGitStatusCache(cwd)
				go h.reprobeGit(evt.SessionID, cwd)
			}
		}
	}

	switch evt.ToolName {
	case "SendMessage", "SendMessageTool":
		h.handleSendMessage(evt)
	case "TeamCreate":
		h.handleTeamCreate(evt)
	case "TeamDelete":
		h.handleTeamDelete(evt)
	case "TaskCreate":
		h.handleTaskCreate(evt)
	case "TaskUpdate":
		h.handleTaskUpdate(evt)
	}
}

func (h *Handler) handlePermissionRequest(evt Event) {
	action, ctx := parser.DescribeToolAction(evt.ToolName, evt.ToolInput)
	h.state.SetAgentWaitingById(evt.SessionID, true, nil, state.StrPtr(action), state.StrPtr(ctx))
}

func (h *Handler) handleSubagentStart(evt Event) {
	h.mu.Lock()
	var oldest *pendingSpawn
	for id, s := range h.spawns {
		if s.SessionID != evt.SessionID {
			continue
		}
		if oldest == nil || s.At.Before(oldest.At) {
			cp := s
			oldest = &cp
			_ = id
		}
	}
	if oldest != nil {
		delete(h.spawns, oldest.ToolUseID)
	}
	h.mu.Unlock()

	var description, promptLine, subagentType, teamName string
	if oldest != nil {
		description, promptLine, subagentType, teamName = oldest.Description, oldest.Prompt, oldest.SubagentType, oldest.TeamName
	}

	name := firstNonEmpty(description, promptLine, evt.AgentType, "subagent")
	role := parser.InferRole(subagentType, name)
	id := firstNonEmpty(evt.AgentID, evt.ToolUseID, evt.SessionID+":subagent")

	agent := &state.Agent{
		ID:     id,
		Name:   name,
		Role:   role,
		Status: state.StatusWorking,
	}
	if teamName != "" {
		agent.TeamName = teamName
	} else {
		agent.IsSubagent = true
		agent.ParentAgentID = evt.SessionID
	}

	h.state.RegisterAgent(agent)
	h.state.UpdateAgent(agent)
}

func (h *Handler) handleSubagentStop(evt Event) {
	id := firstNonEmpty(evt.AgentID, evt.SessionID)
	a, ok := h.state.GetAgentByID(id)
	if !ok {
		return
	}

	if !a.IsSubagent {
		h.state.UpdateAgentActivityById(id, state.StatusIdle, nil, nil)
		return
	}

	h.state.UpdateAgentActivityById(id, state.StatusDone, state.StrPtr("Done"), nil)
	time.AfterFunc(h.removalDelay, func() {
		h.state.RemoveAgent(id)
	})
}

func (h *Handler) handleTeammateIdle(evt Event) {
	if name := evt.Raw.Get("teammate_name").String(); name != "" {
		h.state.UpdateAgentActivity(name, state.StatusIdle, nil, nil)
		return
	}
	h.state.UpdateAgentActivityById(evt.SessionID, state.StatusIdle, nil, nil)
}

func (h *Handler) handleTaskCompleted(evt Event) {
	taskID := evt.Raw.Get("task_id").String()
	if taskID != "" {
		if t, ok := h.state.GetTask(taskID); ok {
			t.Status = state.TaskCompleted
			h.state.UpdateTask(t)
		}
	}
	if name := evt.Raw.Get("teammate_name").String(); name != "" {
		h.state.IncrementTasksCompletedByName(name)
	}
	h.state.ReconcileAgentStatuses()
}

func (h *Handler) handleSendMessage(evt Event) {
	msgType := evt.ToolInput.Get("type").String()

	var recipient string
	switch msgType {
	case "broadcast":
		recipient = "team (broadcast)"
	case "shutdown_request":
		recipient = "Shutdown request: " + evt.ToolInput.Get("to").String()
	default:
		recipient = evt.ToolInput.Get("to").String()
	}

	content := firstNonEmpty(evt.ToolInput.Get("content").String(), evt.ToolInput.Get("summary").String())
	if content == "" {
		return
	}

	from := evt.SessionID
	if a, ok := h.state.GetAgentByID(evt.SessionID); ok && a.Name != "" {
		from = a.Name
	} else if len(from) > 8 {
		from = from[:8]
	}

	h.state.AddMessage(&state.Message{
		ID:        fmt.Sprintf("hookmsg-%s-%d", evt.SessionID, time.Now().UnixNano()),
		From:      from,
		To:        recipient,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (h *Handler) handleTeamCreate(evt Event) {
	teamName := evt.ToolInput.Get("team_name").String()
	if teamName == "" {
		return
	}
	h.state.SetTeamName(evt.SessionID, teamName)

	members := evt.ToolResponse.Get("members")
	if members.IsArray() {
		members.ForEach(func(_, member gjson.Result) bool {
			name := member.Get("name").String()
			agentID := firstNonEmpty(member.Get("agentId").String(), name)
			agentType := member.Get("agentType").String()
			agent := &state.Agent{
				ID:       agentID,
				Name:     name,
				Role:     parser.InferRole(agentType, name),
				TeamName: teamName,
				Status:   state.StatusIdle,
			}
			h.state.RegisterAgent(agent)
			h.state.UpdateAgent(agent)
			return true
		})
	}

	h.state.AddMessage(&state.Message{
		ID:        fmt.Sprintf("sys-team-created-%s", teamName),
		From:      "system",
		To:        "team",
		Content:   fmt.Sprintf("Team %q created", teamName),
		Timestamp: time.Now(),
	})
}

func (h *Handler) handleTeamDelete(evt Event) {
	sess, ok := h.state.GetSession(evt.SessionID)
	if !ok || sess.TeamName == "" {
		return
	}
	h.state.ClearTeamAgents(sess.TeamName)
	h.state.AddMessage(&state.Message{
		ID:        fmt.Sprintf("sys-team-deleted-%s-%d", sess.TeamName, time.Now().UnixNano()),
		From:      "system",
		To:        "team",
		Content:   "Team deleted",
		Timestamp: time.Now(),
	})
}

func (h *Handler) handleTaskCreate(evt Event) {
	searchText := evt.ToolResponse.Get("result").String()
	if searchText == "" {
		searchText = evt.ToolResponse.Raw
	}

	id := ""
	if m := taskIDPattern.FindStringSubmatch(searchText); m != nil {
		id = m[1]
	} else {
		id = fmt.Sprintf("hook-%d", time.Now().UnixNano())
	}

	subject := firstNonEmpty(
		evt.ToolInput.Get("subject").String(),
		truncate(evt.ToolInput.Get("description").String(), 60),
		"Untitled task",
	)

	h.state.UpdateTask(&state.Task{ID: id, Subject: subject, Status: state.TaskPending})
}

func (h *Handler) handleTaskUpdate(evt Event) {
	taskID := firstNonEmpty(evt.Raw.Get("task_id").String(), evt.Raw.Get("taskId").String())
	if taskID == "" {
		return
	}
	existing, ok := h.state.GetTask(taskID)
	if !ok {
		return
	}

	statusRaw := evt.Raw.Get("status").String()
	if statusRaw == string(state.TaskDeleted) {
		h.state.RemoveTask(taskID)
		h.state.ReconcileAgentStatuses()
		return
	}

	newStatus := existing.Status
	switch statusRaw {
	case state.TaskPending, state.TaskInProgress, state.TaskCompleted:
		newStatus = statusRaw
	}

	owner := existing.Owner
	if o := evt.Raw.Get("owner").String(); o != "" {
		owner = o
	}

	updated := &state.Task{
		ID: taskID, Subject: existing.Subject, Status: newStatus, Owner: owner,
		BlockedBy: existing.BlockedBy, Blocks: existing.Blocks,
	}
	h.state.UpdateTask(updated)

	switch newStatus {
	case state.TaskInProgress:
		if a, ok := h.state.GetAgentByID(owner); ok {
			a.CurrentTaskID = taskID
			h.state.UpdateAgent(a)
		}
	case state.TaskCompleted, state.TaskPending:
		if a, ok := h.state.GetAgentByID(owner); ok && a.CurrentTaskID == taskID {
			a.CurrentTaskID = ""
			h.state.UpdateAgent(a)
		}
	}

	h.state.ReconcileAgentStatuses()
}

func firstLine(s string, max int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return truncate(s, max)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
