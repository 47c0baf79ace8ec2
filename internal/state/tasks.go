package state

// UpdateTask applies task lifecycle side effects before writing t and
// broadcasting task_update (spec §4.3). status=deleted is redirected to
// RemoveTask.
func (m *Manager) UpdateTask(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Status == TaskDeleted {
		m.removeTaskLocked(t.ID)
		return
	}

	old, existed := m.tasks[t.ID]
	wasCompleted := existed && old.Status == TaskCompleted
	nowCompleted := t.Status == TaskCompleted

	if !wasCompleted && nowCompleted && t.Owner != "" {
		if owner, ok := m.allAgents[t.Owner]; ok {
			owner.TasksCompleted++
			m.syncDisplayLocked(owner.ID)
			m.broadcastAgentUpdateLocked(owner.ID)
		}
	}

	if existed && old.Status == TaskInProgress && old.Owner != t.Owner && old.Owner != "" {
		if !m.ownerHasOtherInProgressLocked(old.Owner, t.ID) {
			if a, ok := m.allAgents[old.Owner]; ok && a.Status == StatusWorking {
				a.Status = StatusIdle
				m.syncDisplayLocked(a.ID)
				m.broadcastAgentUpdateLocked(a.ID)
			}
		}
	}

	m.tasks[t.ID] = t.clone()
	m.broadcast(Event{Kind: EventTaskUpdate, Data: t.clone()})
}

func (m *Manager) ownerHasOtherInProgressLocked(owner, excludeTaskID string) bool {
	for id, other := range m.tasks {
		if id == excludeTaskID {
			continue
		}
		if other.Owner == owner && other.Status == TaskInProgress {
			return true
		}
	}
	return false
}

// RemoveTask deletes a task and broadcasts task_update with status
// "deleted" so clients can drop it from their view.
func (m *Manager) RemoveTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeTaskLocked(id)
}

func (m *Manager) removeTaskLocked(id string) {
	if _, ok := m.tasks[id]; !ok {
		return
	}
	delete(m.tasks, id)
	m.broadcast(Event{Kind: EventTaskUpdate, Data: &Task{ID: id, Status: TaskDeleted}})
}

// GetTask returns a copy of the task with the given id, if any.
func (m *Manager) GetTask(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// IncrementTasksCompletedByName bumps the named agent's tasksCompleted
// counter directly (used by the TaskCompleted hook, which names the
// teammate explicitly rather than going through a task's owner field).
func (m *Manager) IncrementTasksCompletedByName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findByNameLocked(name)
	if a == nil {
		return
	}
	a.TasksCompleted++
	m.syncDisplayLocked(a.ID)
	m.broadcastAgentUpdateLocked(a.ID)
}

// ReconcileAgentStatuses recomputes every displayed agent's status from
// the current set of in_progress task owners: owners of an in_progress
// task are working; any other agent currently marked working reverts to
// idle.
func (m *Manager) ReconcileAgentStatuses() {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make(map[string]bool)
	for _, t := range m.tasks {
		if t.Status == TaskInProgress && t.Owner != "" {
			owners[t.Owner] = true
		}
	}

	for _, a := range m.display {
		if owners[a.ID] {
			if a.Status != StatusWorking {
				if reg, ok := m.allAgents[a.ID]; ok {
					reg.Status = StatusWorking
					m.syncDisplayLocked(a.ID)
					m.broadcastAgentUpdateLocked(a.ID)
				}
			}
		} else if a.Status == StatusWorking {
			if reg, ok := m.allAgents[a.ID]; ok {
				reg.Status = StatusIdle
				m.syncDisplayLocked(a.ID)
				m.broadcastAgentUpdateLocked(a.ID)
			}
		}
	}
}
