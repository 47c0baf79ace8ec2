package state

import "time"

// The methods below delegate straight to the wrapped GuardManager (spec
// §4.3's "stopped/removed/hook-active guards delegate to GuardManager").
// They take no lock of their own: GuardManager is already safe for
// concurrent use from the hook handler, the watcher, and here.

func (m *Manager) MarkSessionStopped(sessionID string) {
	if m.guards != nil {
		m.guards.MarkSessionStopped(sessionID)
	}
}

func (m *Manager) ClearSessionStopped(sessionID string) {
	if m.guards != nil {
		m.guards.ClearSessionStopped(sessionID)
	}
}

func (m *Manager) IsSessionStopped(sessionID string) bool {
	return m.guards != nil && m.guards.IsSessionStopped(sessionID)
}

func (m *Manager) MarkHookActive(sessionID string) {
	if m.guards != nil {
		m.guards.MarkHookActive(sessionID)
	}
}

func (m *Manager) IsHookActive(sessionID string, window time.Duration) bool {
	return m.guards != nil && m.guards.IsHookActive(sessionID, window)
}

func (m *Manager) WasRecentlyRemoved(id string) bool {
	return m.guards != nil && m.guards.WasRecentlyRemoved(id)
}
