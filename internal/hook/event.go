// Package hook implements the HookHandler: the single dispatch point
// that turns POST /api/hook bodies into StateManager mutations (spec
// §4.4).
package hook

import "github.com/tidwall/gjson"

// knownEventNames is the closed set from spec §6. Anything else is
// logged and ignored.
var knownEventNames = map[string]bool{
	"PreToolUse": true, "PostToolUse": true, "PostToolUseFailure": true,
	"PermissionRequest": true, "SubagentStart": true, "SubagentStop": true,
	"PreCompact": true, "Stop": true, "SessionStart": true, "SessionEnd": true,
	"TeammateIdle": true, "TaskCompleted": true, "UserPromptSubmit": true,
	"Notification": true,
}

// Event is a parsed POST /api/hook body.
type Event struct {
	Name         string
	SessionID    string
	Cwd          string
	ToolName     string
	ToolInput    gjson.Result
	ToolResponse gjson.Result
	ToolUseID    string
	AgentID      string
	AgentType    string
	Raw          gjson.Result
}

// ParseEvent extracts the common envelope fields from a hook body. The
// transport-level validation of hook_event_name/session_id/cwd shape
// happens outside this package (spec §7); ParseEvent only requires valid
// JSON with a hook_event_name.
func ParseEvent(body []byte) (Event, bool) {
	if !gjson.ValidBytes(body) {
		return Event{}, false
	}
	root := gjson.ParseBytes(body)
	name := root.Get("hook_event_name").String()
	if name == "" {
		return Event{}, false
	}
	return Event{
		Name:         name,
		SessionID:    root.Get("session_id").String(),
		Cwd:          root.Get("cwd").String(),
		ToolName:     root.Get("tool_name").String(),
		ToolInput:    root.Get("tool_input"),
		ToolResponse: root.Get("tool_response"),
		ToolUseID:    root.Get("tool_use_id").String(),
		AgentID:      root.Get("agent_id").String(),
		AgentType:    root.Get("agent_type").String(),
		Raw:          root,
	}, true
}

// IsKnownEventName reports whether name is in the closed set spec §6
// defines. HandleEvent itself accepts an unknown name (session bookkeeping
// still runs, then the event is logged and ignored); the /api/hook endpoint
// uses this helper to reject such events with 400 before they reach
// HandleEvent.
func IsKnownEventName(name string) bool {
	return knownEventNames[name]
}
