package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c3tools/c3d/internal/registry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsClientMessage covers every inbound message shape; Type discriminates.
type wsClientMessage struct {
	Type          string                  `json:"type"`
	Session       *registry.Session       `json:"session,omitempty"`
	SessionID     string                  `json:"sessionId,omitempty"`
	State         registry.State          `json:"state,omitempty"`
	PendingAction *registry.PendingAction `json:"pendingAction,omitempty"`
}

// wsActionMessage is an outbound control message for a client-held session.
type wsActionMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Action    string `json:"action,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// handleWS upgrades the connection and bridges it to the registry: outbound
// carries every session_update/session_removed event plus periodic pings;
// inbound lets self-reporting clients register, mutate, and disconnect
// sessions.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		srvLog.Error("ws_upgrade_failed", slog.Any("error", err))
		return
	}

	connID := uuid.NewString()
	events := s.cfg.Registry.Subscribe()
	actions := s.registerConn(connID)
	srvLog.Info("ws_connected", slog.String("conn_id", connID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			var payload any
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload = ev
			case msg, ok := <-actions:
				if !ok {
					return
				}
				payload = msg
			case <-ticker.C:
				payload = wsActionMessage{Type: "ping"}
			case <-r.Context().Done():
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}()

	s.readLoop(conn, connID)

	s.cfg.Registry.Unsubscribe(events)
	s.unregisterConn(connID)
	<-done
	conn.Close()
	srvLog.Info("ws_disconnected", slog.String("conn_id", connID))
}

func (s *Server) readLoop(conn *websocket.Conn, connID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				srvLog.Debug("ws_read_error",
					slog.String("conn_id", connID), slog.Any("error", err))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "register":
			// A register payload carrying an unknown state would poison the
			// registry's state-set invariant; drop it like any other
			// unrecognized shape.
			if msg.Session == nil || msg.Session.ID == "" || !msg.Session.State.Valid() {
				continue
			}
			stored := s.cfg.Registry.Upsert(*msg.Session)
			s.cfg.Registry.PublishUpdate(stored)
			srvLog.Info("ws_session_registered",
				slog.String("session_id", stored.ID),
				slog.String("project", stored.ProjectName))

		case "state_change":
			if msg.SessionID == "" || !msg.State.Valid() {
				continue
			}
			updated, _, applied := s.cfg.Registry.Mutate(msg.SessionID, func(sess *registry.Session) bool {
				sess.State = msg.State
				sess.PendingAction = msg.PendingAction
				sess.LastActivity = s.cfg.Registry.Now()
				return true
			})
			if applied {
				s.cfg.Registry.PublishUpdate(updated)
			}

		case "heartbeat":
			if msg.SessionID == "" {
				continue
			}
			s.cfg.Registry.Mutate(msg.SessionID, func(sess *registry.Session) bool {
				sess.LastActivity = s.cfg.Registry.Now()
				return true
			})

		case "disconnect":
			if msg.SessionID != "" {
				s.cfg.Registry.Remove(msg.SessionID)
			}
		}
	}
}

func (s *Server) registerConn(connID string) chan wsActionMessage {
	ch := make(chan wsActionMessage, 8)
	s.wsMu.Lock()
	s.wsConns[connID] = ch
	s.wsMu.Unlock()
	return ch
}

func (s *Server) unregisterConn(connID string) {
	s.wsMu.Lock()
	if ch, ok := s.wsConns[connID]; ok {
		delete(s.wsConns, connID)
		close(ch)
	}
	s.wsMu.Unlock()
}

// BroadcastAction fans an action out to every connected client; the one
// holding the session reacts. Slow clients drop rather than block.
func (s *Server) BroadcastAction(sessionID, action string) {
	msg := wsActionMessage{Type: "action", SessionID: sessionID, Action: action}
	s.wsMu.Lock()
	for _, ch := range s.wsConns {
		select {
		case ch <- msg:
		default:
		}
	}
	s.wsMu.Unlock()
}

// handleAction accepts an action for a session and relays it over the
// WebSocket feed.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
		Action    string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Action == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.BroadcastAction(req.SessionID, req.Action)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
