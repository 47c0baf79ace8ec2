package state

import "time"

// StrPtr is a small convenience for callers building optional
// action/context arguments to the activity mutators below.
func StrPtr(s string) *string { return &s }

func (m *Manager) findByNameLocked(name string) *Agent {
	for _, a := range m.allAgents {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// syncDisplayLocked keeps the server's own displayed-view copy of id in
// sync with the registry entry, if id is currently displayed.
func (m *Manager) syncDisplayLocked(id string) {
	a, ok := m.allAgents[id]
	if !ok {
		return
	}
	for i, d := range m.display {
		if d.ID == id {
			m.display[i] = a.clone()
			return
		}
	}
}

func (m *Manager) broadcastAgentUpdateLocked(id string) {
	a, ok := m.allAgents[id]
	if !ok {
		return
	}
	m.broadcast(Event{Kind: EventAgentUpdate, Data: a.clone()})
}

// applyActivityLocked mutates a's status/action/context atomically and
// broadcasts per spec §4.3. debounced selects the id-based variant's 200ms
// coalescing behavior for "working" transitions.
func (m *Manager) applyActivityLocked(a *Agent, status string, action, context *string, debounced bool) {
	prevStatus := a.Status

	if status == StatusIdle || status == StatusDone {
		a.WaitingForInput = false
	}
	if status == StatusWorking && action != nil && *action != "" {
		a.pushRecentAction(*action, time.Now())
	}
	a.Status = status
	if action != nil {
		a.CurrentAction = *action
	}
	if context != nil {
		a.ActionContext = *context
	}
	m.syncDisplayLocked(a.ID)

	if debounced {
		m.scheduleActivityBroadcastLocked(a.ID, status)
	} else {
		m.broadcastAgentUpdateLocked(a.ID)
	}

	if prevStatus != status {
		m.broadcastSessionsLocked()
	}
}

// scheduleActivityBroadcastLocked implements the id-based 200ms debounce
// for "working" broadcasts: idle/done cancel any pending timer and
// broadcast immediately; working (re)schedules a coalesced broadcast.
func (m *Manager) scheduleActivityBroadcastLocked(id, status string) {
	if t, ok := m.debounce[id]; ok {
		t.Stop()
		delete(m.debounce, id)
	}

	if status != StatusWorking {
		m.broadcastAgentUpdateLocked(id)
		return
	}

	m.debounce[id] = time.AfterFunc(activityDebounce, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.debounce, id)
		m.broadcastAgentUpdateLocked(id)
	})
}

// UpdateAgentActivity mutates the named agent's status/action/context.
// action/context of nil mean "leave unchanged"; use StrPtr("") to clear.
func (m *Manager) UpdateAgentActivity(name, status string, action, context *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findByNameLocked(name)
	if a == nil {
		return
	}
	m.applyActivityLocked(a, status, action, context, false)
}

// UpdateAgentActivityById is UpdateAgentActivity keyed by agent id, with
// the additional 200ms debounce on "working" broadcasts described in
// spec §4.3.
func (m *Manager) UpdateAgentActivityById(id, status string, action, context *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allAgents[id]
	if !ok {
		return
	}
	m.applyActivityLocked(a, status, action, context, true)
}

func (m *Manager) applyWaitingLocked(a *Agent, waiting bool, waitingType, action, context *string) {
	prevWaiting := a.WaitingForInput
	a.WaitingForInput = waiting
	if waitingType != nil {
		a.WaitingType = *waitingType
	}
	if action != nil {
		a.CurrentAction = *action
	}
	if context != nil {
		a.ActionContext = *context
	}
	m.syncDisplayLocked(a.ID)
	m.broadcastAgentUpdateLocked(a.ID)

	if prevWaiting && !waiting {
		m.broadcastSessionsLocked()
	}
}

// SetAgentWaiting toggles waitingForInput for the named agent.
func (m *Manager) SetAgentWaiting(name string, waiting bool, waitingType, action, context *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findByNameLocked(name)
	if a == nil {
		return
	}
	m.applyWaitingLocked(a, waiting, waitingType, action, context)
}

// SetAgentWaitingById is SetAgentWaiting keyed by agent id.
func (m *Manager) SetAgentWaitingById(id string, waiting bool, waitingType, action, context *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allAgents[id]
	if !ok {
		return
	}
	m.applyWaitingLocked(a, waiting, waitingType, action, context)
}
