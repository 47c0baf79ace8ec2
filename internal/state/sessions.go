package state

import (
	"math"
	"time"
)

// AddSession registers s, broadcasts session_started, then auto-selects
// it if it is a solo session and either nothing is currently selected or
// s has strictly higher lastActivity than the current selection. Team
// sessions are never auto-selected here — stale team configs discovered
// late must not win against the scoring-based selection a caller may run
// afterwards.
func (m *Manager) AddSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneSession(s)
	if existing, ok := m.sessions[s.SessionID]; ok {
		cp.seq = existing.seq
	} else {
		cp.seq = m.nextSessionSeq
		m.nextSessionSeq++
	}
	m.sessions[s.SessionID] = cp
	m.broadcast(Event{Kind: EventSessionStarted, Data: &SessionInfo{
		SessionID:   s.SessionID,
		ProjectName: s.ProjectName,
		IsTeam:      s.IsTeam,
		TeamName:    s.TeamName,
	}})

	if s.IsTeam {
		return
	}
	if m.current == nil || s.LastActivity.After(m.current.LastActivity) {
		m.selectSessionLocked(s.SessionID)
	}
}

// UpdateSessionActivity bumps sessionID's lastActivity to now.
func (m *Manager) UpdateSessionActivity(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivity = time.Now()
	}
}

// RemoveSession deletes sessionID, clears its guard mappings, unselects
// it if it was current, and broadcasts session_ended plus the navigation
// lists.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	if m.guards != nil {
		m.guards.RemoveSessionMappings(sessionID)
	}
	if m.current != nil && m.current.SessionID == sessionID {
		m.current = nil
		m.display = nil
	}
	m.broadcast(Event{Kind: EventSessionEnded, Data: SessionEnded{SessionID: sessionID}})
	m.broadcastSessionsLocked()
}

// SelectSession sets the active session to sessionID (a no-op if unknown)
// and broadcasts full_state plus the navigation lists.
func (m *Manager) SelectSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.selectSessionLocked(sessionID) {
		return
	}
	m.broadcastFullStateLocked()
	m.broadcastSessionsLocked()
}

func (m *Manager) selectSessionLocked(sessionID string) bool {
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	m.current = s
	m.display = m.getAgentsForSessionLocked(s)
	return true
}

// SelectMostRecentSession selects the session with the highest
// lastActivity, if any sessions are known.
func (m *Manager) SelectMostRecentSession() {
	m.mu.Lock()
	id, ok := m.mostRecentSessionIDLocked()
	m.mu.Unlock()
	if ok {
		m.SelectSession(id)
	}
}

func (m *Manager) mostRecentSessionIDLocked() (string, bool) {
	var best *Session
	for _, s := range m.sessions {
		if best == nil || s.LastActivity.After(best.LastActivity) ||
			(s.LastActivity.Equal(best.LastActivity) && s.seq < best.seq) {
			best = s
		}
	}
	if best == nil {
		return "", false
	}
	return best.SessionID, true
}

// SelectMostInterestingSession selects the session with the highest
// scoreSession value.
func (m *Manager) SelectMostInterestingSession() {
	id, ok := m.GetMostInterestingSessionId()
	if ok {
		m.SelectSession(id)
	}
}

// GetMostInterestingSessionId returns the argmax of scoreSession across
// all known sessions.
func (m *Manager) GetMostInterestingSessionId() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bestID string
	var best *Session
	bestScore := math.MinInt64
	found := false
	for id, s := range m.sessions {
		score := m.scoreSessionLocked(s)
		if !found || score > bestScore || (score == bestScore && s.seq < best.seq) {
			bestScore = score
			bestID = id
			best = s
			found = true
		}
	}
	return bestID, found
}

// scoreSessionLocked implements the §4.3 interestingness formula.
func (m *Manager) scoreSessionLocked(s *Session) int {
	agents := m.getAgentsForSessionLocked(s)
	age := time.Since(s.LastActivity)

	score := 0

	anyWorkingNotWaiting := false
	anyWaiting := false
	anyWorking := false
	for _, a := range agents {
		if a.Status == StatusWorking && !a.WaitingForInput {
			anyWorkingNotWaiting = true
		}
		if a.WaitingForInput {
			anyWaiting = true
		}
		if a.Status == StatusWorking {
			anyWorking = true
		}
	}

	if anyWorkingNotWaiting && age < 30*time.Second {
		score += 1000
	}
	if anyWaiting {
		score += 500
	}
	if anyWorking {
		score += 200
	}
	if age < 5*time.Minute {
		score += 100
	}
	if len(agents) > 0 {
		score += 50
	}

	ageMinutes := int(age.Minutes())
	tiebreak := 49 - ageMinutes
	if tiebreak > 0 {
		score += tiebreak
	}

	return score
}

// SetTeamName sets sessionID's team fields, converting it into a team
// session. Used by the hook handler's TeamCreate dispatch, which only
// ever knows a sessionId; the watcher's team-config discovery calls
// EnsureTeamSession instead (see below — the spec names both
// call sites "setTeamName" but gives them different identifying
// arguments, a session id vs. a directory name; this package exposes
// the two natural primitives that each caller actually has in hand).
func (m *Manager) SetTeamName(sessionID, teamName string) {
	if teamName == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.IsTeam = true
		s.TeamName = teamName
	}
}

// EnsureTeamSession returns the session for a team directory discovered
// by the watcher, creating a synthetic one (never auto-selected, per
// AddSession's team rule) if this team hasn't been seen yet.
func (m *Manager) EnsureTeamSession(teamName string) *Session {
	m.mu.Lock()
	id := "team:" + teamName
	if s, ok := m.sessions[id]; ok {
		cp := *s
		m.mu.Unlock()
		return &cp
	}
	m.mu.Unlock()

	s := &Session{
		SessionID:    id,
		ProjectName:  teamName,
		IsTeam:       true,
		TeamName:     teamName,
		LastActivity: time.Now(),
	}
	m.AddSession(s)
	return s
}

// ClearTeamAgents removes every agent belonging to teamName from the
// registry and display, leaving sessions, tasks, and solo agents from
// other teams untouched (spec §4.5: "never full reset").
func (m *Manager) ClearTeamAgents(teamName string) {
	m.mu.Lock()
	var ids []string
	suffix := "@" + teamName
	for id, a := range m.allAgents {
		if a.TeamName == teamName || (a.TeamName == "" && hasSuffix(id, suffix)) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.RemoveAgent(id)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func cloneSession(s *Session) *Session {
	cp := *s
	return &cp
}
