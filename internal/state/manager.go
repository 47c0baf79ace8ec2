package state

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agent-racer/backend/internal/guard"
)

// activityDebounce is the per-agent-id coalescing window for "working"
// broadcasts (spec §4.3).
const activityDebounce = 200 * time.Millisecond

// messageCap is the maximum number of retained messages (spec §4.3).
const messageCap = 200

// Manager is the StateManager: the single authoritative registry of
// sessions/agents/tasks/messages, the currently displayed view, and the
// subscriber broadcast machinery. All exported methods are atomic with
// respect to each other; every mutation is taken under one mutex, and
// subscriber callbacks fire only after the mutation has been committed.
type Manager struct {
	mu sync.Mutex

	guards *guard.Manager

	sessions  map[string]*Session
	allAgents map[string]*Agent
	tasks     map[string]*Task
	messages  []*Message

	current *Session
	display []*Agent // exactly getAgentsForSession(current)

	subscribers map[int]Listener
	nextSubID   int

	nextSessionSeq int64

	debounce map[string]*time.Timer
}

// New returns an empty Manager wired to the given GuardManager.
func New(guards *guard.Manager) *Manager {
	return &Manager{
		guards:      guards,
		sessions:    make(map[string]*Session),
		allAgents:   make(map[string]*Agent),
		tasks:       make(map[string]*Task),
		subscribers: make(map[int]Listener),
		debounce:    make(map[string]*time.Timer),
	}
}

// Subscribe registers a listener and returns an unsubscribe function.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// broadcast fans an event out to every subscriber. Must be called while
// holding m.mu (listeners only enqueue onto their own socket's send
// queue; they must not attempt to reenter the Manager). A panicking
// listener is recovered and logged so it cannot abort the loop.
func (m *Manager) broadcast(evt Event) {
	for _, l := range m.subscribers {
		m.safeDeliver(l, evt)
	}
}

func (m *Manager) safeDeliver(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("state: subscriber panicked on %s event: %v", evt.Kind, r)
		}
	}()
	l(evt)
}

func (m *Manager) broadcastSessionsLocked() {
	m.broadcast(Event{Kind: EventSessionsList, Data: m.sessionsListLocked()})
	m.broadcast(Event{Kind: EventSessionsGrouped, Data: m.sessionsGroupedLocked()})
}

// getAgentsForSessionLocked implements spec §4.3's display predicate: for
// a solo session, the agent whose id matches the session id plus any
// subagent parented to it; for a team session, every agent sharing its
// teamName (falling back to an "@teamName" id suffix for legacy agents).
func (m *Manager) getAgentsForSessionLocked(s *Session) []*Agent {
	if s == nil {
		return nil
	}
	var out []*Agent
	if s.IsTeam {
		suffix := "@" + s.TeamName
		for _, a := range m.allAgents {
			if a.TeamName == s.TeamName || (a.TeamName == "" && strings.HasSuffix(a.ID, suffix)) {
				out = append(out, a)
			}
		}
	} else {
		for _, a := range m.allAgents {
			if a.ID == s.SessionID || (a.IsSubagent && a.ParentAgentID == s.SessionID) {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentBelongsToSession reports whether agentID is part of sessionID's
// displayed view, using the same predicate as getAgentsForSession.
func (m *Manager) AgentBelongsToSession(agentID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	for _, a := range m.getAgentsForSessionLocked(s) {
		if a.ID == agentID {
			return true
		}
	}
	return false
}

// GetStateForSession returns the TeamState a client should see for
// sessionID: its agents (via getAgentsForSession), its tasks (team
// sessions only; solo sessions get an empty list), and the shared message
// log.
func (m *Manager) GetStateForSession(sessionID string) *TeamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return &TeamState{Agents: []*Agent{}, Tasks: []*Task{}, Messages: []*Message{}}
	}
	return m.teamStateForLocked(s)
}

func (m *Manager) teamStateForLocked(s *Session) *TeamState {
	agents := m.getAgentsForSessionLocked(s)
	cloned := make([]*Agent, len(agents))
	for i, a := range agents {
		cloned[i] = a.clone()
	}

	var tasks []*Task
	if s.IsTeam {
		for _, t := range m.tasks {
			tasks = append(tasks, t.clone())
		}
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	}
	if tasks == nil {
		tasks = []*Task{}
	}

	messages := make([]*Message, len(m.messages))
	copy(messages, m.messages)

	sessionCopy := *s
	return &TeamState{
		Session:  &sessionCopy,
		Name:     s.ProjectName,
		Agents:   cloned,
		Tasks:    tasks,
		Messages: messages,
	}
}

// CurrentState returns the TeamState for whichever session is currently
// selected (the server's own default view).
func (m *Manager) CurrentState() *TeamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return &TeamState{Agents: []*Agent{}, Tasks: []*Task{}, Messages: []*Message{}}
	}
	return m.teamStateForLocked(m.current)
}

// Reset clears every map, cancels pending debounce timers, and resets
// guards. Used only by tests and full-restart paths.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.debounce {
		t.Stop()
	}
	m.sessions = make(map[string]*Session)
	m.allAgents = make(map[string]*Agent)
	m.tasks = make(map[string]*Task)
	m.messages = nil
	m.current = nil
	m.display = nil
	m.debounce = make(map[string]*time.Timer)
	if m.guards != nil {
		m.guards.Reset()
	}
}
