package parser

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RecordKind tags the shape of a single parsed transcript line.
type RecordKind string

const (
	RecordMessage      RecordKind = "message"
	RecordToolCall     RecordKind = "tool_call"
	RecordAgentActivity RecordKind = "agent_activity"
	RecordCompact      RecordKind = "compact"
	RecordThinking     RecordKind = "thinking"
	RecordProgress     RecordKind = "progress"
	RecordUnknown      RecordKind = "unknown"
)

// Message is the payload carried by a RecordMessage record.
type Message struct {
	ID        string
	From      string
	To        string
	Content   string
	Timestamp time.Time
}

// TranscriptRecord is the tagged result of ParseTranscriptLine.
type TranscriptRecord struct {
	Kind         RecordKind
	AgentName    string
	ToolName     string
	Message      *Message
	IsUserPrompt bool
}

var planModeTools = map[string]bool{
	"AskUserQuestion": true,
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,
}

// ParseTranscriptLine classifies a single JSONL transcript line per the
// closed record-kind table: compact boundaries, inter-agent messages,
// generic tool-use blocks, tool results, and thinking/text turns.
func ParseTranscriptLine(line []byte) (TranscriptRecord, bool) {
	if !gjson.ValidBytes(line) {
		return TranscriptRecord{}, false
	}
	root := gjson.ParseBytes(line)

	if root.Get("type").String() == "system" && root.Get("subtype").String() == "compact_boundary" {
		return TranscriptRecord{Kind: RecordCompact}, true
	}

	recordType := root.Get("type").String()
	if recordType == "tool_result" || recordType == "tool_output" {
		return TranscriptRecord{Kind: RecordAgentActivity}, true
	}

	agentName := firstNonEmpty(root.Get("agentName").String(), root.Get("agent_name").String())

	if block, ok := firstToolUseBlock(root); ok {
		name := block.Get("name").String()
		if name == "SendMessage" || name == "SendMessageTool" {
			input := block.Get("input")
			msgType := input.Get("type").String()
			if msgType == "message" || msgType == "broadcast" {
				content := firstNonEmpty(input.Get("summary").String(), input.Get("content").String())
				if content != "" {
					recipient := "all"
					if msgType == "broadcast" {
						recipient = "all"
					} else if to := input.Get("to").String(); to != "" {
						recipient = to
					}
					id := block.Get("id").String()
					if id == "" {
						id = synthesizeMessageID(line)
					}
					from := agentName
					if from == "" {
						from = "unknown"
					}
					return TranscriptRecord{
						Kind:      RecordMessage,
						AgentName: agentName,
						Message: &Message{
							ID:      id,
							From:    from,
							To:      recipient,
							Content: truncate(content, 200),
						},
					}, true
				}
			}
		}

		toolName, _ := DescribeToolAction(name, block.Get("input"))
		return TranscriptRecord{
			Kind:         RecordToolCall,
			AgentName:    agentName,
			ToolName:     toolName,
			IsUserPrompt: planModeTools[name],
		}, true
	}

	if recordType == "assistant" {
		firstBlock := firstContentBlock(root)
		if firstBlock.Exists() {
			switch firstBlock.Get("type").String() {
			case "thinking":
				return TranscriptRecord{Kind: RecordThinking, AgentName: agentName, ToolName: "Thinking..."}, true
			case "text":
				return TranscriptRecord{Kind: RecordThinking, AgentName: agentName, ToolName: "Responding..."}, true
			}
		}
	}

	if recordType == "progress" {
		return TranscriptRecord{Kind: RecordProgress, AgentName: agentName}, true
	}

	return TranscriptRecord{Kind: RecordUnknown, AgentName: agentName}, true
}

// firstToolUseBlock walks message.content (or a top-level content array)
// looking for the first block with type == "tool_use".
func firstToolUseBlock(root gjson.Result) (gjson.Result, bool) {
	content := root.Get("message.content")
	if !content.Exists() || !content.IsArray() {
		content = root.Get("content")
	}
	if !content.Exists() || !content.IsArray() {
		return gjson.Result{}, false
	}
	var found gjson.Result
	var ok bool
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_use" {
			found = block
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// firstContentBlock returns the first element of message.content.
func firstContentBlock(root gjson.Result) gjson.Result {
	content := root.Get("message.content")
	if !content.Exists() || !content.IsArray() {
		return gjson.Result{}
	}
	var first gjson.Result
	content.ForEach(func(_, block gjson.Result) bool {
		first = block
		return false
	})
	return first
}

func synthesizeMessageID(line []byte) string {
	sum := 2166136261
	for _, b := range line {
		sum ^= int(b)
		sum *= 16777619
	}
	return "msg-" + itoaUint(uint32(sum))
}

func itoaUint(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
