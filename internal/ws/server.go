package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/agent-racer/backend/internal/hook"
	"github.com/agent-racer/backend/internal/state"
	"github.com/gorilla/websocket"
)

// Server is the HTTP/WebSocket transport shell over a state.Manager and
// hook.Handler, per spec §6.
type Server struct {
	sm      *state.Manager
	hub     *Hub
	hooks   *hook.Handler
	watcher watcherHealth

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

// watcherHealth is the narrow interface the Hub's source_health hook needs;
// kept minimal so Server doesn't import internal/watcher directly.
type watcherHealth interface {
	Health() []SourceHealthPayload
}

func NewServer(sm *state.Manager, hub *Hub, hooks *hook.Handler, authToken string, allowedOrigins []string) *Server {
	s := &Server{
		sm:             sm,
		hub:            hub,
		hooks:          hooks,
		authToken:      authToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// SetWatcherHealth registers w's Health as the Hub's source_health hook.
// GET /api/health does not consult it; it reports only status and
// timestamp.
func (s *Server) SetWatcherHealth(w watcherHealth) {
	s.watcher = w
	if w != nil {
		s.hub.SetHealthHook(w.Health)
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/hook", s.handleHook)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/health", s.handleHealthCheck)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.hub.AddClient(conn)
	if err != nil {
		return
	}
	log.Printf("ws client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.hub.RemoveClient(c)
			log.Printf("ws client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.hub.HandleClientMessage(c, data)
		}
	}()
}

// hookRequest mirrors the POST /api/hook body (spec §6): hook_event_name,
// session_id and cwd are required; everything else is optional and
// heterogeneous by tool/event.
type hookRequest struct {
	HookEventName string          `json:"hook_event_name"`
	SessionID     string          `json:"session_id"`
	Cwd           string          `json:"cwd"`
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := readAllLimited(r)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	var probe hookRequest
	if err := json.Unmarshal(body, &probe); err != nil || !hook.IsKnownEventName(probe.HookEventName) || probe.SessionID == "" || probe.Cwd == "" {
		http.Error(w, "malformed hook event", http.StatusBadRequest)
		return
	}

	evt, ok := hook.ParseEvent(body)
	if !ok {
		http.Error(w, "malformed hook event", http.StatusBadRequest)
		return
	}

	// Accepted events always return 200, even if handling the event
	// internally no-ops or swallows an error (spec §7).
	s.hooks.HandleEvent(evt)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sm.CurrentState())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sm.SessionsGrouped())
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": jsonNow(),
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return len(s.allowedOrigins) == 0
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

// ListenAndServe starts the HTTP server on host:port, looped back unless
// overridden.
func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
