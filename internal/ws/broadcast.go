package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/agent-racer/backend/internal/state"
	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned by AddClient when the maximum number
// of concurrent WebSocket connections has been reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

// client is one connected WebSocket subscriber. Per spec §4.6, each
// client owns its own selectedSessionId independent of whatever session
// the server itself considers "current".
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu                sync.Mutex
	selectedSessionID string
	chose             bool // true once the client has sent select_session
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

func (c *client) enqueue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: marshal error for %s: %v", msg.Type, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("ws: client too slow, dropping message %s", msg.Type)
	}
}

func (c *client) selection() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedSessionID, c.chose
}

func (c *client) setSelection(sessionID string, explicit bool) {
	c.mu.Lock()
	c.selectedSessionID = sessionID
	if explicit {
		c.chose = true
	}
	c.mu.Unlock()
}

// Hub fans state.Manager events out to every connected client, applying
// the per-client selectedSessionId filtering rules from spec §4.6.
type Hub struct {
	sm       *state.Manager
	maxConns int

	mu      sync.RWMutex
	clients map[*client]bool

	healthMu   sync.Mutex
	healthHook func() []SourceHealthPayload
}

// NewHub subscribes to sm and returns a Hub ready to accept connections.
func NewHub(sm *state.Manager, maxConns int) *Hub {
	h := &Hub{sm: sm, maxConns: maxConns, clients: make(map[*client]bool)}
	sm.Subscribe(h.onEvent)
	return h
}

// SetHealthHook registers a function returning current watch-root health,
// polled whenever a source_health snapshot is broadcast.
func (h *Hub) SetHealthHook(hook func() []SourceHealthPayload) {
	h.healthMu.Lock()
	h.healthHook = hook
	h.healthMu.Unlock()
}

// BroadcastHealth sends a source_health message to every client.
func (h *Hub) BroadcastHealth() {
	h.healthMu.Lock()
	hook := h.healthHook
	h.healthMu.Unlock()
	if hook == nil {
		return
	}
	msg := WSMessage{Type: MsgSourceHealth, Data: hook()}
	for _, c := range h.snapshotClients() {
		c.enqueue(msg)
	}
}

func (h *Hub) snapshotClients() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// AddClient registers conn, sending it the initial full_state + navigation
// lists for whichever session the server currently considers most
// interesting (spec §4.6: "initialized to server's most-interesting
// session at connect").
func (h *Hub) AddClient(conn *websocket.Conn) (*client, error) {
	h.mu.Lock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	h.clients[c] = true
	h.mu.Unlock()

	sessionID, _ := h.sm.GetMostInterestingSessionId()
	c.setSelection(sessionID, false)
	h.sendFullStateAndNav(c)

	return c, nil
}

// RemoveClient unregisters c and closes its send channel.
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// HandleClientMessage applies an inbound {type, sessionId} message from c.
// Per spec §4.6, the only recognized kind is select_session; anything
// else is ignored.
func (h *Hub) HandleClientMessage(c *client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != string(MsgSelectSession) {
		return
	}
	c.setSelection(msg.SessionID, true)
	h.sendFullStateAndNav(c)
}

func (h *Hub) sendFullStateAndNav(c *client) {
	sessionID, _ := c.selection()
	c.enqueue(WSMessage{Type: MsgFullState, Data: h.sm.GetStateForSession(sessionID)})
	h.sendNav(c)
}

func (h *Hub) sendNav(c *client) {
	c.enqueue(WSMessage{Type: MsgSessionsList, Data: h.sm.SessionsList()})
	c.enqueue(WSMessage{Type: MsgSessionsGrouped, Data: h.sm.SessionsGrouped()})
}

// onEvent is the state.Manager subscriber callback. It must not block and
// must not re-enter the Manager; every per-client send only enqueues onto
// that client's own buffered channel.
func (h *Hub) onEvent(evt state.Event) {
	clients := h.snapshotClients()

	switch evt.Kind {
	case state.EventFullState:
		for _, c := range clients {
			h.sendFullStateAndNav(c)
		}

	case state.EventSessionsList, state.EventSessionsGrouped, state.EventSessionsUpdate:
		for _, c := range clients {
			h.sendNav(c)
		}

	case state.EventSessionStarted, state.EventSessionEnded:
		msgType := MsgSessionStarted
		if evt.Kind == state.EventSessionEnded {
			msgType = MsgSessionEnded
		}
		msg := WSMessage{Type: msgType, Data: evt.Data}
		for _, c := range clients {
			c.enqueue(msg)
			h.sendNav(c)
			if _, chose := c.selection(); !chose {
				if id, ok := h.sm.GetMostInterestingSessionId(); ok {
					c.setSelection(id, false)
				}
				h.sendFullStateAndNav(c)
			}
		}

	case state.EventAgentRemoved:
		msg := WSMessage{Type: MsgAgentRemoved, Data: evt.Data}
		for _, c := range clients {
			c.enqueue(msg)
		}

	case state.EventAgentUpdate, state.EventAgentAdded:
		msgType := MsgAgentUpdate
		if evt.Kind == state.EventAgentAdded {
			msgType = MsgAgentAdded
		}
		agent, ok := evt.Data.(*state.Agent)
		if !ok {
			return
		}
		msg := WSMessage{Type: msgType, Data: agent}
		for _, c := range clients {
			sessionID, _ := c.selection()
			if h.sm.AgentBelongsToSession(agent.ID, sessionID) {
				c.enqueue(msg)
			}
		}

	case state.EventTaskUpdate:
		msg := WSMessage{Type: MsgTaskUpdate, Data: evt.Data}
		for _, c := range clients {
			c.enqueue(msg)
		}

	case state.EventNewMessage:
		msg := WSMessage{Type: MsgNewMessage, Data: evt.Data}
		for _, c := range clients {
			c.enqueue(msg)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
