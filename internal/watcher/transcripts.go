package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-racer/backend/internal/parser"
	"github.com/agent-racer/backend/internal/state"
	"github.com/tidwall/gjson"
)

// internalSummarizerPrefix tags subagent transcripts spawned by the
// built-in conversation-compaction summarizer rather than a user-visible
// Task call.
const internalSummarizerPrefix = "agent-acompact"

// scheduleTranscriptChange coalesces rapid writes to path into one
// handleTranscriptChange call, changeDebounce after the last event.
func (w *Watcher) scheduleTranscriptChange(path string) {
	w.mu.Lock()
	if t, ok := w.debounce[path]; ok {
		t.Stop()
	}
	w.debounce[path] = time.AfterFunc(w.getChangeDebounce(), func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()
		w.handleTranscriptChange(path)
	})
	w.mu.Unlock()
}

// detectSession identifies the session or subagent a transcript file
// belongs to and registers it, per spec §4.5's session-detection algorithm.
// Idempotent: a path already under tracking is left untouched.
func (w *Watcher) detectSession(path string) {
	w.mu.Lock()
	if _, ok := w.tracked[path]; ok {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return
	}

	if parentSessionID, agentID, ok := subagentPathParts(path); ok {
		w.detectSubagentSession(path, parentSessionID, agentID, info)
		return
	}
	w.detectTopLevelSession(path, info)
}

// subagentPathParts recognizes projects/<dir>/<parentSessionId>/subagents/<agentId>.jsonl.
func subagentPathParts(path string) (parentSessionID, agentID string, ok bool) {
	subagentsDir := filepath.Dir(path)
	if filepath.Base(subagentsDir) != "subagents" {
		return "", "", false
	}
	parentDir := filepath.Dir(subagentsDir)
	parentSessionID = filepath.Base(parentDir)
	agentID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	return parentSessionID, agentID, true
}

func (w *Watcher) detectTopLevelSession(path string, info os.FileInfo) {
	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if sessionID == "" {
		return
	}

	lines, _ := readFirstLines(path, 20)
	var meta parser.SessionMetadata
	for _, l := range lines {
		m, ok := parser.ParseSessionMetadata([]byte(l))
		if ok {
			meta = m
			break
		}
	}

	projDir := filepath.Base(filepath.Dir(path))
	projectName := meta.ProjectName
	if projectName == "" {
		projectName = projDir
	}

	w.mu.Lock()
	alreadyRegistered := w.registeredSessions[sessionID]
	w.registeredSessions[sessionID] = true
	w.tracked[path] = &trackedFile{
		kind:      kindTranscript,
		sessionID: sessionID,
	}
	w.offsets[path] = info.Size()
	w.mu.Unlock()

	if alreadyRegistered {
		return
	}

	sess := &state.Session{
		SessionID:    sessionID,
		Slug:         meta.Slug,
		ProjectPath:  meta.Cwd,
		ProjectName:  projectName,
		GitBranch:    meta.GitBranch,
		LastActivity: info.ModTime(),
	}
	w.sm.AddSession(sess)
	if meta.TeamName != "" {
		w.sm.SetTeamName(sessionID, meta.TeamName)
	}

	if meta.Cwd != "" {
		go w.probeTopLevelGit(sessionID, meta.Cwd)
	}

	if meta.TeamName == "" {
		name := firstNonEmpty(meta.Slug, projectName, "claude")
		status := state.StatusIdle
		if time.Since(info.ModTime()) < 60*time.Second {
			status = state.StatusWorking
		}
		agent := &state.Agent{ID: sessionID, Name: name, Role: state.RoleImplementer, Status: status}
		w.sm.RegisterAgent(agent)
		w.sm.UpdateAgent(agent)
	}
}

func (w *Watcher) probeTopLevelGit(sessionID, cwd string) {
	ctx := context.Background()
	info := parser.DetectGitWorktree(ctx, cwd, w.runner)
	if info.Branch == "" && info.GitWorktree == "" {
		return
	}
	status := parser.DetectGitStatus(ctx, cwd, w.runner)
	w.sm.UpdateAgentGitInfo(sessionID, info.Branch, info.GitWorktree, status.Ahead, status.Behind, status.HasUpstream, status.IsDirty)
}

func (w *Watcher) detectSubagentSession(path, parentSessionID, agentID string, info os.FileInfo) {
	isInternal := strings.HasPrefix(agentID, internalSummarizerPrefix)

	w.mu.Lock()
	w.tracked[path] = &trackedFile{
		kind:               kindTranscript,
		sessionID:          parentSessionID,
		parentSessionID:    parentSessionID,
		agentID:            agentID,
		isSubagent:         !isInternal,
		isInternalSubagent: isInternal,
		lastToolUseAt:      time.Now(),
	}
	w.offsets[path] = info.Size()
	w.mu.Unlock()

	if isInternal {
		w.sm.UpdateAgentActivityById(parentSessionID, state.StatusWorking, state.StrPtr("Compacting conversation..."), nil)
		return
	}

	name := firstNonEmpty(firstUserPromptLine(path), agentID)
	status := state.StatusIdle
	if time.Since(info.ModTime()) < 60*time.Second {
		status = state.StatusWorking
	}
	agent := &state.Agent{
		ID:            agentID,
		Name:          name,
		Role:          state.RoleImplementer,
		Status:        status,
		IsSubagent:    true,
		ParentAgentID: parentSessionID,
	}
	w.sm.RegisterAgent(agent)
	w.sm.UpdateAgent(agent)
}

// firstUserPromptLine scans the first 20 lines of a subagent transcript for
// its initial user turn (the Task tool's prompt), truncated to 40 chars.
func firstUserPromptLine(path string) string {
	lines, _ := readFirstLines(path, 20)
	for _, l := range lines {
		if !gjson.Valid(l) {
			continue
		}
		root := gjson.Parse(l)
		if root.Get("type").String() != "user" {
			continue
		}
		text := root.Get("message.content").String()
		if text == "" {
			root.Get("message.content").ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					text = block.Get("text").String()
					return false
				}
				return true
			})
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(text) > 40 {
			text = text[:40]
		}
		return text
	}
	return ""
}

// readFirstLines reads up to max newline-terminated lines from the start
// of path.
func readFirstLines(path string, max int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) >= max {
			break
		}
	}
	return lines, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// handleTranscriptChange reads the lines appended to path since its last
// known offset and applies the per-record mutation table from spec §4.5.
func (w *Watcher) handleTranscriptChange(path string) {
	w.mu.Lock()
	tf, ok := w.tracked[path]
	w.mu.Unlock()
	if !ok {
		w.detectSession(path)
		w.mu.Lock()
		tf, ok = w.tracked[path]
		w.mu.Unlock()
		if !ok {
			return
		}
	}

	w.mu.Lock()
	offset := w.offsets[path]
	w.mu.Unlock()

	lines, newOffset, err := parser.ReadNewLines(path, offset)
	if err != nil || len(lines) == 0 {
		return
	}

	hadMeaningfulActivity := false
	now := time.Now()

	for _, line := range lines {
		rec, ok := parser.ParseTranscriptLine([]byte(line))
		if !ok {
			continue
		}

		id := w.resolveAgentID(tf)

		switch rec.Kind {
		case parser.RecordMessage:
			if rec.Message != nil {
				w.sm.AddMessage(&state.Message{
					ID:        rec.Message.ID,
					From:      rec.Message.From,
					To:        rec.Message.To,
					Content:   rec.Message.Content,
					Timestamp: now,
				})
			}
			hadMeaningfulActivity = true

		case parser.RecordCompact:
			w.sm.UpdateAgentActivityById(id, state.StatusWorking, state.StrPtr("Compacting conversation..."), nil)
			hadMeaningfulActivity = true

		case parser.RecordThinking:
			w.sm.SetAgentWaitingById(id, false, nil, nil, nil)
			w.sm.UpdateAgentActivityById(id, state.StatusWorking, state.StrPtr(rec.ToolName), state.StrPtr(""))
			tf.pendingToolName = ""
			tf.lastToolUseAt = now
			hadMeaningfulActivity = true

		case parser.RecordToolCall:
			tf.lastToolUseAt = now
			tf.pendingToolName = rec.ToolName
			if rec.IsUserPrompt {
				w.sm.SetAgentWaitingById(id, true, state.StrPtr("user_prompt"), state.StrPtr(rec.ToolName), nil)
			}
			w.sm.UpdateAgentActivityById(id, state.StatusWorking, state.StrPtr(rec.ToolName), nil)
			hadMeaningfulActivity = true

		case parser.RecordProgress:
			tf.lastToolUseAt = now
			if !tf.isSubagent {
				w.sm.SetAgentWaitingById(id, false, nil, nil, nil)
			}
			hadMeaningfulActivity = true

		case parser.RecordAgentActivity:
			tf.lastToolUseAt = time.Time{}
			tf.pendingToolName = ""
			w.sm.SetAgentWaitingById(id, false, nil, nil, nil)
			hadMeaningfulActivity = true
		}
	}

	if info, err := os.Stat(path); err == nil && hadMeaningfulActivity && time.Since(info.ModTime()) <= 5*time.Minute {
		w.sm.UpdateSessionActivity(tf.sessionID)
	}

	w.mu.Lock()
	w.offsets[path] = newOffset
	w.tracked[path] = tf
	w.mu.Unlock()

	if !tf.isSubagent && !tf.isInternalSubagent && !tf.lastToolUseAt.IsZero() {
		w.scheduleWaitingCheck(path, tf.lastToolUseAt)
	}
}

// scheduleWaitingCheck is the primary 45s idle-waiting mechanism (spec
// §4.5 step 5): capture lastToolUseAt now, and if it is still exactly
// that value 45s later — no tool call, thinking block, or progress event
// has touched it since — mark the agent waiting. sweepStaleness's 45s
// check is a periodic backup for this, not the primary path. Skipped for
// subagents and internal subagents, same as sweepStaleness's own 45s case.
func (w *Watcher) scheduleWaitingCheck(path string, capturedAt time.Time) {
	w.mu.Lock()
	if t, ok := w.waitingCheck[path]; ok {
		t.Stop()
	}
	w.waitingCheck[path] = time.AfterFunc(w.waitingCheckDelay, func() {
		w.mu.Lock()
		delete(w.waitingCheck, path)
		tf, ok := w.tracked[path]
		w.mu.Unlock()
		if !ok || !tf.lastToolUseAt.Equal(capturedAt) {
			return
		}
		id := w.resolveAgentID(tf)
		w.sm.SetAgentWaitingById(id, true, state.StrPtr("idle"), nil, nil)
	})
	w.mu.Unlock()
}

// resolveAgentID picks the agent a transcript record should be attributed
// to: the subagent itself for subagent files; otherwise the session's own
// linked agent id, falling back to the first working (else first) agent
// displayed for team sessions.
func (w *Watcher) resolveAgentID(tf *trackedFile) string {
	if tf.isSubagent || tf.isInternalSubagent {
		return tf.agentID
	}
	if sess, ok := w.sm.GetSession(tf.sessionID); ok && sess.AgentID != "" {
		return sess.AgentID
	}
	if ts := w.sm.GetStateForSession(tf.sessionID); ts != nil && len(ts.Agents) > 0 {
		for _, a := range ts.Agents {
			if a.Status == state.StatusWorking {
				return a.ID
			}
		}
		return ts.Agents[0].ID
	}
	return tf.sessionID
}

// handleTranscriptRemove drops offset/tracked bookkeeping for path. A solo
// session is removed only once no other tracked file still references its
// session id (a team session's other member/subagent files commonly do).
func (w *Watcher) handleTranscriptRemove(path string) {
	w.mu.Lock()
	tf, ok := w.tracked[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.tracked, path)
	delete(w.offsets, path)
	delete(w.debounce, path)
	delete(w.waitingCheck, path)

	sessionID := tf.sessionID
	stillReferenced := false
	for _, other := range w.tracked {
		if other.sessionID == sessionID {
			stillReferenced = true
			break
		}
	}
	w.mu.Unlock()

	if stillReferenced || tf.isSubagent || tf.isInternalSubagent {
		return
	}
	if sess, ok := w.sm.GetSession(sessionID); ok && !sess.IsTeam {
		w.sm.RemoveSession(sessionID)
	}
}

// sweepStaleness runs every stalenessInterval, applying spec §4.5's idle
// transitions: 45s solo waiting heuristic, 60s idle-or-done demotion, 60s
// silent internal-subagent drop, and 300s subagent removal.
func (w *Watcher) sweepStaleness() {
	w.mu.Lock()
	snapshot := make(map[string]*trackedFile, len(w.tracked))
	for path, tf := range w.tracked {
		snapshot[path] = tf
	}
	w.mu.Unlock()

	for path, tf := range snapshot {
		if tf.lastToolUseAt.IsZero() {
			continue
		}
		idle := time.Since(tf.lastToolUseAt)

		switch {
		case tf.isInternalSubagent:
			if idle >= 60*time.Second {
				w.dropTracking(path)
			}

		case tf.isSubagent:
			if idle >= 300*time.Second {
				w.sm.RemoveAgent(tf.agentID)
				w.dropTracking(path)
			} else if idle >= 60*time.Second {
				w.sm.UpdateAgentActivityById(tf.agentID, state.StatusDone, state.StrPtr("Done"), nil)
				w.sm.SetAgentWaitingById(tf.agentID, false, nil, nil, nil)
				w.clearLastToolUse(path)
			}

		default:
			id := w.resolveAgentID(tf)
			if idle >= 60*time.Second {
				w.sm.SetAgentWaitingById(id, false, nil, nil, nil)
				w.sm.UpdateAgentActivityById(id, state.StatusIdle, nil, nil)
				w.clearLastToolUse(path)
			} else if idle >= 45*time.Second {
				w.sm.SetAgentWaitingById(id, true, state.StrPtr("idle"), nil, nil)
			}
		}
	}
}

func (w *Watcher) dropTracking(path string) {
	w.mu.Lock()
	delete(w.tracked, path)
	delete(w.offsets, path)
	delete(w.debounce, path)
	delete(w.waitingCheck, path)
	w.mu.Unlock()
}

func (w *Watcher) clearLastToolUse(path string) {
	w.mu.Lock()
	if tf, ok := w.tracked[path]; ok {
		tf.lastToolUseAt = time.Time{}
	}
	w.mu.Unlock()
}
