package state

// GetSession returns a copy of the session with the given id, if known.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

// HasSession reports whether sessionID is currently tracked.
func (m *Manager) HasSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// CurrentSessionID returns the id of the currently selected session, if
// any.
func (m *Manager) CurrentSessionID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.SessionID, true
}

// SessionsList returns the flat sessions list (the "sessions_list"
// payload) without broadcasting.
func (m *Manager) SessionsList() []*SessionListEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionsListLocked()
}

// SessionsGrouped returns the grouped sessions payload without
// broadcasting.
func (m *Manager) SessionsGrouped() *GroupedSessionsList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionsGroupedLocked()
}
