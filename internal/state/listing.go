package state

import "sort"

// sessionsListLocked builds the flat sessions list sorted by lastActivity
// descending, with exactly one active entry (the current session, if
// any). Must be called while holding m.mu.
func (m *Manager) sessionsListLocked() []*SessionListEntry {
	entries := make([]*SessionListEntry, 0, len(m.sessions))
	for _, s := range m.sessions {
		entries = append(entries, m.entryForLocked(s))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActivity.After(entries[j].LastActivity)
	})
	return entries
}

func (m *Manager) entryForLocked(s *Session) *SessionListEntry {
	agents := m.getAgentsForSessionLocked(s)
	waiting := false
	for _, a := range agents {
		if a.WaitingForInput {
			waiting = true
			break
		}
	}
	return &SessionListEntry{
		SessionID:       s.SessionID,
		ProjectName:     s.ProjectName,
		Name:            s.ProjectName,
		IsTeam:          s.IsTeam,
		TeamName:        s.TeamName,
		GitBranch:       s.GitBranch,
		MainRepoPath:    s.MainRepoPath,
		LastActivity:    s.LastActivity,
		Active:          m.current != nil && m.current.SessionID == s.SessionID,
		HasWaitingAgent: waiting,
	}
}

// projectKeyFor implements §6's project grouping key: team sessions
// without a projectPath group under "team:<teamName|projectName>";
// otherwise mainRepoPath if known, else projectPath (worktrees sharing a
// mainRepoPath merge into one project), else the project name itself.
func projectKeyFor(s *Session) string {
	if s.IsTeam && s.ProjectPath == "" {
		name := s.TeamName
		if name == "" {
			name = s.ProjectName
		}
		return "team:" + name
	}
	if s.MainRepoPath != "" {
		return s.MainRepoPath
	}
	if s.ProjectPath != "" {
		return s.ProjectPath
	}
	return s.ProjectName
}

// sessionsGroupedLocked builds the "sessions_grouped" payload per §6's
// deterministic ordering rules. Must be called while holding m.mu.
func (m *Manager) sessionsGroupedLocked() *GroupedSessionsList {
	flat := m.sessionsListLocked()

	type projectBucket struct {
		key      string
		name     string
		branches map[string]*BranchGroup
		order    []string
	}
	buckets := make(map[string]*projectBucket)
	var bucketOrder []string

	for _, s := range m.sessions {
		key := projectKeyFor(s)
		b, ok := buckets[key]
		if !ok {
			b = &projectBucket{key: key, name: s.ProjectName, branches: make(map[string]*BranchGroup)}
			buckets[key] = b
			bucketOrder = append(bucketOrder, key)
		}
		branch := s.GitBranch
		isDefault := branch == ""
		if isDefault {
			branch = "(default)"
		}
		bg, ok := b.branches[branch]
		if !ok {
			bg = &BranchGroup{Branch: branch, IsDefault: isDefault}
			b.branches[branch] = bg
			b.order = append(b.order, branch)
		}
		entry := m.entryForLocked(s)
		bg.Sessions = append(bg.Sessions, entry)
		if entry.Active {
			bg.Active = true
		}
		if entry.HasWaitingAgent {
			bg.HasWaitingAgent = true
		}
		if entry.LastActivity.After(bg.LastActivity) {
			bg.LastActivity = entry.LastActivity
		}
	}

	projects := make([]*ProjectGroup, 0, len(buckets))
	for _, key := range bucketOrder {
		b := buckets[key]
		branches := make([]*BranchGroup, 0, len(b.branches))
		for _, branch := range b.order {
			bg := b.branches[branch]
			sort.Slice(bg.Sessions, func(i, j int) bool {
				return lessSessionEntry(bg.Sessions[i], bg.Sessions[j])
			})
			branches = append(branches, bg)
		}
		sort.Slice(branches, func(i, j int) bool {
			return lessBranchGroup(branches[i], branches[j])
		})

		pg := &ProjectGroup{ProjectKey: b.key, ProjectName: b.name, Branches: branches}
		for _, bg := range branches {
			if bg.Active {
				pg.Active = true
			}
			if bg.HasWaitingAgent {
				pg.HasWaitingAgent = true
			}
			if bg.LastActivity.After(pg.LastActivity) {
				pg.LastActivity = bg.LastActivity
			}
		}
		projects = append(projects, pg)
	}

	sort.Slice(projects, func(i, j int) bool {
		return lessProjectGroup(projects[i], projects[j])
	})

	return &GroupedSessionsList{Projects: projects, FlatSessions: flat}
}

func lessSessionEntry(a, b *SessionListEntry) bool {
	if a.Active != b.Active {
		return a.Active
	}
	if a.HasWaitingAgent != b.HasWaitingAgent {
		return a.HasWaitingAgent
	}
	return a.LastActivity.After(b.LastActivity)
}

func lessBranchGroup(a, b *BranchGroup) bool {
	if a.Active != b.Active {
		return a.Active
	}
	if a.HasWaitingAgent != b.HasWaitingAgent {
		return a.HasWaitingAgent
	}
	if a.IsDefault != b.IsDefault {
		return !a.IsDefault
	}
	if !a.LastActivity.Equal(b.LastActivity) {
		return a.LastActivity.After(b.LastActivity)
	}
	return a.Branch < b.Branch
}

func lessProjectGroup(a, b *ProjectGroup) bool {
	if a.Active != b.Active {
		return a.Active
	}
	if a.HasWaitingAgent != b.HasWaitingAgent {
		return a.HasWaitingAgent
	}
	if !a.LastActivity.Equal(b.LastActivity) {
		return a.LastActivity.After(b.LastActivity)
	}
	return a.ProjectName < b.ProjectName
}
