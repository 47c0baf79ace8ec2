package state

// RegisterAgent inserts a into the registry. No-op if a.ID was recently
// removed (spec §4.3). Never touches the displayed view directly.
func (m *Manager) RegisterAgent(a *Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guards != nil && m.guards.WasRecentlyRemoved(a.ID) {
		return
	}
	m.allAgents[a.ID] = a.clone()
}

// UpdateAgent writes a into the registry (no-op if recently removed). If
// a is already displayed, replace it and broadcast agent_update; else, if
// a now belongs to the active session, append it and broadcast
// agent_added.
func (m *Manager) UpdateAgent(a *Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guards != nil && m.guards.WasRecentlyRemoved(a.ID) {
		return
	}
	m.allAgents[a.ID] = a.clone()

	for i, d := range m.display {
		if d.ID == a.ID {
			m.display[i] = a.clone()
			m.broadcast(Event{Kind: EventAgentUpdate, Data: a.clone()})
			return
		}
	}

	if m.current != nil {
		for _, candidate := range m.getAgentsForSessionLocked(m.current) {
			if candidate.ID == a.ID {
				m.display = append(m.display, a.clone())
				m.broadcast(Event{Kind: EventAgentAdded, Data: a.clone()})
				return
			}
		}
	}
}

// RemoveAgent deletes id from the registry and display, marks it removed
// in GuardManager, and broadcasts agent_removed. Idempotent: removing an
// already-absent id is a no-op broadcast-wise except the guard mark.
func (m *Manager) RemoveAgent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeAgentLocked(id)
}

func (m *Manager) removeAgentLocked(id string) {
	_, existed := m.allAgents[id]
	delete(m.allAgents, id)
	for i, d := range m.display {
		if d.ID == id {
			m.display = append(m.display[:i], m.display[i+1:]...)
			existed = true
			break
		}
	}
	if m.guards != nil {
		m.guards.MarkRemoved(id)
	}
	if !existed {
		return
	}
	m.broadcast(Event{Kind: EventAgentRemoved, Data: AgentRemoved{ID: id}})
}

// preservedFields carries the registry-owned fields that survive a bulk
// setAgents replace (spec §4.3).
type preservedFields struct {
	TasksCompleted int
	Status         string
	CurrentAction  string
	ActionContext  string
	CurrentTaskID  string
	RecentActions  []RecentAction
	GitBranch      string
	GitWorktree    string
	GitAhead       int
	GitBehind      int
	GitHasUpstream bool
	GitDirty       bool
	TeamName       string
}

// SetAgents bulk-replaces teamName's roster (used by the team-config
// watcher). Before writing, registry-owned runtime fields are preserved
// from any existing entry for the same id. Any existing registry entry
// whose TeamName is teamName but whose id is absent from list has been
// dropped from config.json since the last read, and is removed from the
// registry (and display, and marked guards.markRemoved) exactly as a
// single removeAgent call would. The display is only bulk-replaced when
// teamName is the currently active session's team; otherwise only the
// registry changes, so a config change to a team nobody is looking at
// can't clobber another session's displayed view (spec §4.5: "never
// full reset").
func (m *Manager) SetAgents(teamName string, list []*Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	incoming := make(map[string]bool, len(list))
	merged := make([]*Agent, 0, len(list))
	for _, item := range list {
		a := item.clone()
		incoming[a.ID] = true
		if existing, ok := m.allAgents[a.ID]; ok {
			p := preservedFields{
				TasksCompleted: existing.TasksCompleted,
				Status:         existing.Status,
				CurrentAction:  existing.CurrentAction,
				ActionContext:  existing.ActionContext,
				CurrentTaskID:  existing.CurrentTaskID,
				RecentActions:  existing.RecentActions,
				GitBranch:      existing.GitBranch,
				GitWorktree:    existing.GitWorktree,
				GitAhead:       existing.GitAhead,
				GitBehind:      existing.GitBehind,
				GitHasUpstream: existing.GitHasUpstream,
				GitDirty:       existing.GitDirty,
				TeamName:       existing.TeamName,
			}
			a.TasksCompleted = p.TasksCompleted
			a.Status = p.Status
			a.CurrentAction = p.CurrentAction
			a.ActionContext = p.ActionContext
			a.CurrentTaskID = p.CurrentTaskID
			a.RecentActions = p.RecentActions
			a.GitBranch = p.GitBranch
			a.GitWorktree = p.GitWorktree
			a.GitAhead = p.GitAhead
			a.GitBehind = p.GitBehind
			a.GitHasUpstream = p.GitHasUpstream
			a.GitDirty = p.GitDirty
			a.TeamName = p.TeamName
		}
		m.allAgents[a.ID] = a
		merged = append(merged, a.clone())
	}

	if teamName != "" {
		var stale []string
		for id, a := range m.allAgents {
			if a.TeamName == teamName && !incoming[id] {
				stale = append(stale, id)
			}
		}
		for _, id := range stale {
			m.removeAgentLocked(id)
		}
	}

	if m.current != nil && m.current.IsTeam && m.current.TeamName == teamName {
		m.display = merged
		m.broadcastFullStateLocked()
	}
}

func (m *Manager) broadcastFullStateLocked() {
	if m.current == nil {
		return
	}
	m.broadcast(Event{Kind: EventFullState, Data: m.teamStateForLocked(m.current)})
}

// updateAgentGitInfo writes git fields onto the registry (and display, if
// present) entry for id without touching status/action fields.
func (m *Manager) updateAgentGitInfo(id string, branch, worktree string, ahead, behind int, hasUpstream, dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allAgents[id]
	if !ok {
		return
	}
	a.GitBranch = branch
	a.GitWorktree = worktree
	a.GitAhead = ahead
	a.GitBehind = behind
	a.GitHasUpstream = hasUpstream
	a.GitDirty = dirty
	for i, d := range m.display {
		if d.ID == id {
			m.display[i] = a.clone()
			m.broadcast(Event{Kind: EventAgentUpdate, Data: a.clone()})
			return
		}
	}
}

// UpdateAgentGitInfo is the exported form used by the hook handler's
// fire-and-forget git probe.
func (m *Manager) UpdateAgentGitInfo(id, branch, worktree string, ahead, behind int, hasUpstream, dirty bool) {
	m.updateAgentGitInfo(id, branch, worktree, ahead, behind, hasUpstream, dirty)
}

// GetAgentByID returns a copy of the registry entry for id, if any.
func (m *Manager) GetAgentByID(id string) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allAgents[id]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}
