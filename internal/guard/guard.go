// Package guard implements the small coordination maps that let the hook
// handler and the filesystem watcher avoid stepping on each other: which
// sessions a Stop hook has silenced, which subagents were just removed,
// which sessions a hook touched recently, and the JSONL-uuid to
// config-agent-id mapping used by team sessions.
package guard

import (
	"sync"
	"time"
)

// defaultRemovedTTL is how long a removed agent id blocks re-registration.
const defaultRemovedTTL = 5 * time.Minute

// defaultHookActiveWindow is the default window passed to IsHookActive.
const defaultHookActiveWindow = 5 * time.Second

// Manager holds the four guard maps described in spec §4.2. It has no I/O
// and cannot fail; every method is a best-effort hint, safe for concurrent
// use from the hook handler, the watcher, and the state manager.
type Manager struct {
	mu sync.Mutex

	stoppedSessions map[string]bool
	removedAgents    map[string]time.Time
	hookActive       map[string]time.Time
	sessionToAgent   map[string]string

	removedTTL       time.Duration
	hookActiveWindow time.Duration
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		stoppedSessions:  make(map[string]bool),
		removedAgents:    make(map[string]time.Time),
		hookActive:       make(map[string]time.Time),
		sessionToAgent:   make(map[string]string),
		removedTTL:       defaultRemovedTTL,
		hookActiveWindow: defaultHookActiveWindow,
	}
}

// SetTTLs updates the removed-agent and hook-active TTLs live (SIGHUP
// config reload). Zero values leave the corresponding TTL unchanged.
func (g *Manager) SetTTLs(removedTTL, hookActiveWindow time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if removedTTL > 0 {
		g.removedTTL = removedTTL
	}
	if hookActiveWindow > 0 {
		g.hookActiveWindow = hookActiveWindow
	}
}

// MarkSessionStopped records that a Stop hook fired for sessionID. The
// watcher must not re-mark the session working until ClearSessionStopped
// is called (by UserPromptSubmit or PreToolUse).
func (g *Manager) MarkSessionStopped(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stoppedSessions[sessionID] = true
}

// ClearSessionStopped undoes MarkSessionStopped.
func (g *Manager) ClearSessionStopped(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.stoppedSessions, sessionID)
}

// IsSessionStopped reports whether sessionID is currently silenced.
func (g *Manager) IsSessionStopped(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stoppedSessions[sessionID]
}

// MarkRemoved records that agent id was removed just now. Re-registration
// of id is blocked for removedTTL.
func (g *Manager) MarkRemoved(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedAgents[id] = time.Now()
}

// WasRecentlyRemoved reports whether id was removed within removedTTL (5
// minutes unless changed by SetTTLs). An expired entry is purged as a side
// effect of the read.
func (g *Manager) WasRecentlyRemoved(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	removedAt, ok := g.removedAgents[id]
	if !ok {
		return false
	}
	if time.Since(removedAt) > g.removedTTL {
		delete(g.removedAgents, id)
		return false
	}
	return true
}

// ClearRecentlyRemoved forgets that id was ever removed, letting it be
// re-registered immediately.
func (g *Manager) ClearRecentlyRemoved(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.removedAgents, id)
}

// MarkHookActive records that a hook touched sessionID just now.
func (g *Manager) MarkHookActive(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hookActive[sessionID] = time.Now()
}

// IsHookActive reports whether a hook touched sessionID within window. A
// window of 0 uses the configured hookActiveWindow (5 seconds unless
// changed by SetTTLs).
func (g *Manager) IsHookActive(sessionID string, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if window == 0 {
		window = g.hookActiveWindow
	}
	last, ok := g.hookActive[sessionID]
	if !ok {
		return false
	}
	return time.Since(last) < window
}

// RegisterSessionToAgentMapping records that JSONL uuid maps to the
// config-based team agent id agentID.
func (g *Manager) RegisterSessionToAgentMapping(uuid, agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionToAgent[uuid] = agentID
}

// ResolveAgentID returns the team agent id registered for uuid, if any.
func (g *Manager) ResolveAgentID(uuid string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.sessionToAgent[uuid]
	return id, ok
}

// RemoveSessionMappings forgets any session-to-agent mapping and stopped
// flag for sessionID. Called when a session is removed.
func (g *Manager) RemoveSessionMappings(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessionToAgent, sessionID)
	delete(g.stoppedSessions, sessionID)
}

// Reset clears all four maps.
func (g *Manager) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stoppedSessions = make(map[string]bool)
	g.removedAgents = make(map[string]time.Time)
	g.hookActive = make(map[string]time.Time)
	g.sessionToAgent = make(map[string]string)
}
