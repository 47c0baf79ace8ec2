package ws

import "time"

// MessageType tags the envelope sent over /ws, per spec §6.
type MessageType string

const (
	MsgFullState      MessageType = "full_state"
	MsgAgentAdded     MessageType = "agent_added"
	MsgAgentUpdate    MessageType = "agent_update"
	MsgAgentRemoved   MessageType = "agent_removed"
	MsgTaskUpdate     MessageType = "task_update"
	MsgNewMessage     MessageType = "new_message"
	MsgSessionStarted MessageType = "session_started"
	MsgSessionEnded   MessageType = "session_ended"
	MsgSessionsList   MessageType = "sessions_list"
	MsgSessionsGrouped MessageType = "sessions_grouped"
	MsgSourceHealth   MessageType = "source_health"

	// MsgSelectSession is the only client-to-server message kind.
	MsgSelectSession MessageType = "select_session"
)

// WSMessage is the {type, data} envelope every outgoing message uses.
type WSMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// ClientMessage is the shape of every inbound client message. Unknown
// types are ignored (spec §4.6).
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SourceHealthPayload reports one watch root's ingestion health, the
// source_health supplemented feature.
type SourceHealthPayload struct {
	Root          string    `json:"root"`
	Healthy       bool      `json:"healthy"`
	LastError     string    `json:"lastError,omitempty"`
	FailureStreak int       `json:"failureStreak"`
	LastEventAt   time.Time `json:"lastEventAt,omitempty"`
}
