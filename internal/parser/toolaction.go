package parser

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var gitMutatingCommand = regexp.MustCompile(`git (push|commit|pull|merge|rebase|checkout|switch)|gh pr`)

// IsGitMutatingBash reports whether a Bash command argument should
// invalidate the per-cwd git status cache.
func IsGitMutatingBash(command string) bool {
	return gitMutatingCommand.MatchString(command)
}

// DescribeToolAction turns a tool name and its JSON input into a
// human-readable action and optional context string, following the closed
// table. input may be the zero gjson.Result when a tool carries no input.
func DescribeToolAction(toolName string, input gjson.Result) (action string, context string) {
	switch toolName {
	case "Edit", "Write", "Read":
		verb := map[string]string{"Edit": "Editing", "Write": "Writing", "Read": "Reading"}[toolName]
		path := input.Get("file_path").String()
		action = verb + " " + basename(path)
		return action, lastTwoSegments(dirname(path))

	case "Bash":
		if desc := input.Get("description").String(); desc != "" {
			return truncate(desc, 60), ""
		}
		if cmd := input.Get("command").String(); cmd != "" {
			first := splitFirstSegment(cmd)
			return "Running: " + truncate(first, 50), ""
		}
		return "Running command", ""

	case "Grep", "Glob":
		if pattern := input.Get("pattern").String(); pattern != "" {
			action = "Searching: " + truncate(pattern, 40)
		} else {
			action = "Searching files"
		}
		if glob := input.Get("glob").String(); glob != "" {
			context = "in " + glob
		} else if path := input.Get("path").String(); path != "" {
			context = "in " + lastTwoSegments(path)
		}
		return action, context

	case "Task":
		if desc := input.Get("description").String(); desc != "" {
			action = "Spawning: " + truncate(desc, 40)
		} else {
			action = "Spawning agent"
		}
		if subagentType := input.Get("subagent_type").String(); subagentType != "" {
			context = "(" + subagentType + ")"
		}
		return action, context

	case "TaskCreate":
		if subject := input.Get("subject").String(); subject != "" {
			return "Creating task: " + truncate(subject, 40), ""
		}
		if desc := input.Get("description").String(); desc != "" {
			return "Creating task: " + truncate(desc, 40), ""
		}
		return "Creating task", ""

	case "TaskUpdate":
		id := firstNonEmpty(input.Get("id").String(), input.Get("taskId").String(), input.Get("task_id").String())
		status := input.Get("status").String()
		if id != "" && status != "" {
			return "Task #" + id + ": " + status, ""
		}
		if id != "" {
			return "Updating task #" + id, ""
		}
		return "Updating task", ""

	case "TaskList":
		return "Checking task list", ""

	case "SendMessage", "SendMessageTool":
		switch input.Get("type").String() {
		case "broadcast":
			return "Broadcasting to team", ""
		case "shutdown_request":
			return "Requesting " + input.Get("to").String() + " shutdown", ""
		default:
			recipient := input.Get("to").String()
			if recipient == "" {
				recipient = "team"
			}
			return "Messaging " + recipient, ""
		}

	case "TeamCreate":
		if name := firstNonEmpty(input.Get("team_name").String(), input.Get("name").String()); name != "" {
			return "Creating team: " + name, ""
		}
		return "Creating team", ""

	case "TeamDelete":
		return "Deleting team", ""

	case "WebSearch":
		if query := input.Get("query").String(); query != "" {
			return "Searching: " + truncate(query, 40), ""
		}
		return "Web search", ""

	case "WebFetch":
		return "Fetching web page", ""
	case "EnterPlanMode":
		return "Entering plan mode", ""
	case "ExitPlanMode":
		return "Exiting plan mode", ""
	case "AskUserQuestion":
		return "Asking a question", ""

	default:
		return toolName, ""
	}
}

func basename(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return ""
	}
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// dirname returns path with its final "/"-delimited segment removed, i.e.
// the directory a file path lives in.
func dirname(path string) string {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx]
}

// lastTwoSegments returns the last two "/"-delimited segments of path,
// joined with "/".
func lastTwoSegments(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) <= 2 {
		return strings.Join(segments, "/")
	}
	return strings.Join(segments[len(segments)-2:], "/")
}

// splitFirstSegment splits a shell command on "&&" or "|" and returns the
// first segment, trimmed.
func splitFirstSegment(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	idx := strings.IndexAny(cmd, "|")
	if andIdx := strings.Index(cmd, "&&"); andIdx >= 0 && (idx < 0 || andIdx < idx) {
		idx = andIdx
	}
	if idx < 0 {
		return cmd
	}
	return strings.TrimSpace(cmd[:idx])
}
