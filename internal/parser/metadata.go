// Package parser holds the pure, allocation-light functions that turn raw
// transcript lines, hook payloads, and config files into the typed records
// the rest of the service consumes. Apart from the git helpers' per-cwd
// status cache, nothing here touches shared state: every function takes
// bytes/strings in and returns a value (or false/nil on any malformed
// input) — callers decide what to do with failures.
package parser

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// SessionMetadata is the authoritative identity of a session, extracted
// from the first usable line of its JSONL transcript.
type SessionMetadata struct {
	SessionID    string
	Slug         string
	Cwd          string
	GitBranch    string
	TeamName     string
	AgentID      string
	IsTeam       bool
	ProjectName  string
	LastActivity time.Time // caller fills this in from file mtime
}

// ParseSessionMetadata scans a single JSONL line for the fields that
// identify a session. sessionId is required; everything else is optional.
// Returns false if the line isn't valid JSON or has no sessionId.
func ParseSessionMetadata(line []byte) (SessionMetadata, bool) {
	if !gjson.ValidBytes(line) {
		return SessionMetadata{}, false
	}
	root := gjson.ParseBytes(line)
	sessionID := root.Get("sessionId").String()
	if sessionID == "" {
		return SessionMetadata{}, false
	}

	meta := SessionMetadata{
		SessionID: sessionID,
		Slug:      root.Get("slug").String(),
		Cwd:       root.Get("cwd").String(),
		GitBranch: root.Get("gitBranch").String(),
		TeamName:  root.Get("teamName").String(),
		AgentID:   root.Get("agentId").String(),
	}
	meta.IsTeam = meta.TeamName != ""
	meta.ProjectName = projectNameFor(meta.Cwd, meta.Slug)
	return meta, true
}

// projectNameFor derives a display name for a session: the last path
// segment of cwd when known, else a cleaned-up version of the slug.
func projectNameFor(cwd, slug string) string {
	if cwd != "" {
		return lastSegment(cwd)
	}
	return cleanProjectName(slug)
}

// LastSegment returns the final "/"-delimited component of path. Exported
// for callers (the hook handler's auto-registration path) that need the
// same project-name derivation ParseSessionMetadata uses internally.
func LastSegment(path string) string {
	return lastSegment(path)
}

// lastSegment returns the final "/"-delimited component of path.
func lastSegment(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return ""
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// cleanProjectName derives a readable project name from a session slug.
// Slugs generated for continuation sessions carry a "-Source-<name>"
// suffix; strip it. Otherwise fall back to the last hyphen-delimited
// segment of the slug.
func cleanProjectName(slug string) string {
	if slug == "" {
		return ""
	}
	if idx := strings.Index(slug, "-Source-"); idx >= 0 {
		return slug[:idx]
	}
	idx := strings.LastIndex(slug, "-")
	if idx < 0 {
		return slug
	}
	return slug[idx+1:]
}
