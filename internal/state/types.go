// Package state implements the StateManager: the single authoritative
// in-memory snapshot of every live session, agent, task and inter-agent
// message, and the subscriber/broadcast machinery that keeps connected
// WebSocket clients current. See spec §4.3.
package state

import "time"

// Session is a single agent-runtime session: a solo Claude session or one
// member-session of a team.
type Session struct {
	SessionID    string    `json:"sessionId"`
	Slug         string    `json:"slug,omitempty"`
	ProjectPath  string    `json:"projectPath,omitempty"`
	ProjectName  string    `json:"projectName"`
	MainRepoPath string    `json:"mainRepoPath,omitempty"`
	IsTeam       bool      `json:"isTeam"`
	TeamName     string    `json:"teamName,omitempty"`
	AgentID      string    `json:"agentId,omitempty"`
	GitBranch    string    `json:"gitBranch,omitempty"`
	GitWorktree  string    `json:"gitWorktree,omitempty"`
	LastActivity time.Time `json:"lastActivity"`

	// seq is the registration order, assigned by Manager.AddSession. It
	// breaks lastActivity ties deterministically (lower seq registered
	// first, so it wins "older wins" tiebreaks) instead of leaving the
	// outcome to map iteration order.
	seq int64
}

// RecentAction is one entry in an agent's recentActions ring.
type RecentAction struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Agent roles, per spec §3.
const (
	RoleLead        = "lead"
	RoleResearcher  = "researcher"
	RoleImplementer = "implementer"
	RoleTester      = "tester"
	RolePlanner     = "planner"
)

// Agent statuses, per spec §3.
const (
	StatusIdle    = "idle"
	StatusWorking = "working"
	StatusDone    = "done"
)

// Agent is a single tracked agent: a top-level session agent, a team
// member, or a subagent spawned via the Task tool.
type Agent struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Role             string         `json:"role"`
	Status           string         `json:"status"`
	TasksCompleted   int            `json:"tasksCompleted"`
	WaitingForInput  bool           `json:"waitingForInput,omitempty"`
	WaitingType      string         `json:"waitingType,omitempty"`
	CurrentAction    string         `json:"currentAction,omitempty"`
	ActionContext    string         `json:"actionContext,omitempty"`
	CurrentTaskID    string         `json:"currentTaskId,omitempty"`
	RecentActions    []RecentAction `json:"recentActions,omitempty"`
	IsSubagent       bool           `json:"isSubagent,omitempty"`
	ParentAgentID    string         `json:"parentAgentId,omitempty"`
	TeamName         string         `json:"teamName,omitempty"`
	GitBranch        string         `json:"gitBranch,omitempty"`
	GitWorktree      string         `json:"gitWorktree,omitempty"`
	GitAhead         int            `json:"gitAhead,omitempty"`
	GitBehind        int            `json:"gitBehind,omitempty"`
	GitHasUpstream   bool           `json:"gitHasUpstream,omitempty"`
	GitDirty         bool           `json:"gitDirty,omitempty"`
}

func (a *Agent) clone() *Agent {
	c := *a
	if len(a.RecentActions) > 0 {
		c.RecentActions = append([]RecentAction(nil), a.RecentActions...)
	}
	return &c
}

// pushRecentAction appends an action, keeping at most the 5 newest in
// oldest-first order: the newest is at the end, and the oldest is dropped
// when a sixth arrives.
func (a *Agent) pushRecentAction(action string, at time.Time) {
	a.RecentActions = append(a.RecentActions, RecentAction{Action: action, Timestamp: at})
	if len(a.RecentActions) > 5 {
		a.RecentActions = a.RecentActions[len(a.RecentActions)-5:]
	}
}

// Task statuses, per spec §4.4.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskDeleted    = "deleted"
)

// Task is a single unit of tracked work, usually created via the
// TaskCreate tool and updated via TaskUpdate.
type Task struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	Status    string   `json:"status"`
	Owner     string   `json:"owner,omitempty"`
	BlockedBy []string `json:"blockedBy,omitempty"`
	Blocks    []string `json:"blocks,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	c.BlockedBy = append([]string(nil), t.BlockedBy...)
	c.Blocks = append([]string(nil), t.Blocks...)
	return &c
}

// Message is a single inter-agent message delivered via SendMessage.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TeamState is the full snapshot delivered to a client as "full_state":
// the currently selected session, its display name, the agents visible
// for it, its tasks (team sessions only), and the message log.
type TeamState struct {
	Session  *Session  `json:"session,omitempty"`
	Name     string    `json:"name,omitempty"`
	Agents   []*Agent  `json:"agents"`
	Tasks    []*Task   `json:"tasks"`
	Messages []*Message `json:"messages"`
}

// SessionListEntry is one row of the flat sessions list.
type SessionListEntry struct {
	SessionID       string    `json:"sessionId"`
	ProjectName     string    `json:"projectName"`
	Name            string    `json:"name"`
	IsTeam          bool      `json:"isTeam"`
	TeamName        string    `json:"teamName,omitempty"`
	GitBranch       string    `json:"gitBranch,omitempty"`
	MainRepoPath    string    `json:"mainRepoPath,omitempty"`
	LastActivity    time.Time `json:"lastActivity"`
	Active          bool      `json:"active"`
	HasWaitingAgent bool      `json:"hasWaitingAgent"`
}

// BranchGroup is one git-branch grouping within a ProjectGroup.
type BranchGroup struct {
	Branch          string              `json:"branch"`
	IsDefault       bool                `json:"isDefault"`
	Sessions        []*SessionListEntry `json:"sessions"`
	HasWaitingAgent bool                `json:"hasWaitingAgent"`
	Active          bool                `json:"active"`
	LastActivity    time.Time           `json:"lastActivity"`
}

// ProjectGroup groups sessions sharing a project key (mainRepoPath,
// projectPath, or a synthetic "team:<name>" key for team sessions without
// a project path) into branch groups.
type ProjectGroup struct {
	ProjectKey      string         `json:"projectKey"`
	ProjectName     string         `json:"projectName"`
	Branches        []*BranchGroup `json:"branches"`
	HasWaitingAgent bool           `json:"hasWaitingAgent"`
	Active          bool           `json:"active"`
	LastActivity    time.Time      `json:"lastActivity"`
}

// GroupedSessionsList is the "sessions_grouped" payload.
type GroupedSessionsList struct {
	Projects     []*ProjectGroup     `json:"projects"`
	FlatSessions []*SessionListEntry `json:"flatSessions"`
}

// SessionInfo is the payload sent with session_started.
type SessionInfo struct {
	SessionID   string    `json:"sessionId"`
	ProjectName string    `json:"projectName"`
	IsTeam      bool      `json:"isTeam"`
	TeamName    string    `json:"teamName,omitempty"`
}

// EventKind tags a subscriber broadcast.
type EventKind string

const (
	EventFullState        EventKind = "full_state"
	EventAgentUpdate       EventKind = "agent_update"
	EventAgentAdded        EventKind = "agent_added"
	EventAgentRemoved      EventKind = "agent_removed"
	EventTaskUpdate        EventKind = "task_update"
	EventNewMessage        EventKind = "new_message"
	EventSessionStarted    EventKind = "session_started"
	EventSessionEnded      EventKind = "session_ended"
	EventSessionsList      EventKind = "sessions_list"
	EventSessionsGrouped   EventKind = "sessions_grouped"
	EventSessionsUpdate    EventKind = "sessions_update"
)

// Event is delivered to every subscriber. Data's concrete type depends on
// Kind: *TeamState for full_state, *Agent for agent_update/agent_added,
// AgentRemoved for agent_removed, *Task for task_update, *Message for
// new_message, *SessionInfo for session_started, SessionEnded for
// session_ended, []*SessionListEntry for sessions_list, and
// *GroupedSessionsList for sessions_grouped. sessions_update carries nil;
// subscribers refresh both navigation payloads themselves.
type Event struct {
	Kind EventKind
	Data interface{}
}

// AgentRemoved is the payload for an agent_removed event.
type AgentRemoved struct {
	ID string `json:"id"`
}

// SessionEnded is the payload for a session_ended event.
type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

// Listener receives broadcast events. Implementations must not block and
// must not panic; the Manager recovers a panicking listener so one faulty
// subscriber cannot break the others.
type Listener func(Event)
