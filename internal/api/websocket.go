package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/zedctl/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if after, ok := strings.CutPrefix(origin, "http://"); ok {
			return after == host
		}
		if after, ok := strings.CutPrefix(origin, "https://"); ok {
			return after == host
		}
		return false
	},
}

// WSMessage is the wire shape for streamed events.
type WSMessage struct {
	Type      string      `json:"type"`
	ServerID  string      `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// wsMessageType maps hub event types to the client-facing names.
func wsMessageType(t events.EventType) (string, bool) {
	switch t {
	case events.EventServerState:
		return "connection_status", true
	case events.EventPlayerCount:
		return "players_count", true
	case events.EventPlayerUnavailable:
		return "players_unavailable", true
	case events.EventSyncProgress:
		return "sync_progress", true
	case events.EventSyncComplete:
		return "sync_complete", true
	default:
		return "", false
	}
}

// handleServerWS streams supervision events for one server. The auth
// middleware has already validated the token (websocket clients pass it
// as a query parameter).
func (s *Server) handleServerWS(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.hub.Subscribe(256,
		events.EventServerState,
		events.EventPlayerCount,
		events.EventPlayerUnavailable,
		events.EventSyncProgress,
		events.EventSyncComplete,
	)
	defer s.hub.Unsubscribe(sub)
	defer conn.Close()

	// Client requests (get_status, check_players) arrive on this
	// channel; the read pump owns conn reads.
	requests := make(chan string, 8)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			var msg struct {
				Action string `json:"action"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case requests <- msg.Action:
			default:
			}
		}
	}()

	write := func(msg WSMessage) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}

	// Initial snapshot so clients do not wait for the next poll.
	s.writeStatus(write, srv.ID)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return

		case e := <-sub:
			if e.ServerID != srv.ID {
				continue
			}
			msgType, ok := wsMessageType(e.Type)
			if !ok {
				continue
			}
			if err := write(WSMessage{
				Type:      msgType,
				ServerID:  e.ServerID,
				Timestamp: e.Timestamp,
				Data:      e.Data,
			}); err != nil {
				return
			}

		case action := <-requests:
			switch action {
			case "get_status":
				if err := s.writeStatus(write, srv.ID); err != nil {
					return
				}
			case "check_players":
				if err := s.writePlayers(write, srv.ID); err != nil {
					return
				}
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeStatus(write func(WSMessage) error, serverID string) error {
	msg := WSMessage{
		Type:      "connection_status",
		ServerID:  serverID,
		Timestamp: s.clk.Now(),
	}
	if sup, ok := s.manager.Get(serverID); ok {
		msg.Data = sup.Status()
	}
	return write(msg)
}

func (s *Server) writePlayers(write func(WSMessage) error, serverID string) error {
	msg := WSMessage{
		Type:      "players_count",
		ServerID:  serverID,
		Timestamp: s.clk.Now(),
	}
	if sup, ok := s.manager.Get(serverID); ok {
		msg.Data = sup.Players()
	}
	return write(msg)
}
