// Package ws exposes the real-time subscription endpoint. Each client
// gets a subscriber in the hub; subscription control messages adjust its
// interest, and the write pump's ping ticker doubles as the liveness
// probe: a client that stops answering pongs times out and is dropped.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Rperry2174/agent-runtime-observability/internal/config"
	"github.com/Rperry2174/agent-runtime-observability/internal/hub"
	"github.com/Rperry2174/agent-runtime-observability/internal/normalize"
	"github.com/Rperry2174/agent-runtime-observability/internal/protocol"
)

// Server handles WebSocket subscriber connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local dashboard tool, no origin restriction.
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade WebSocket: %v", err)
		return err
	}

	sub := s.hub.NewSubscriber(conn)
	s.hub.Register(sub)

	conn.SetReadLimit(s.cfg.MaxMessageSize)

	connected, _ := json.Marshal(protocol.ConnectedMessage{
		Type:         protocol.TypeConnected,
		Ts:           time.Now().UnixMilli(),
		SubscriberID: sub.ID,
	})
	sub.Send <- connected

	go s.writePump(sub)
	go s.readPump(sub)

	return nil
}

// readPump reads subscription control messages from the client.
func (s *Server) readPump(sub *hub.Subscriber) {
	defer func() {
		s.hub.Unregister(sub)
		sub.Close()
	}()

	sub.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	sub.Conn.SetPongHandler(func(string) error {
		sub.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := sub.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: WebSocket error: %v", err)
			}
			break
		}
		s.handleMessage(sub, message)
	}
}

// writePump writes queued deltas and probes the client with pings.
func (s *Server) writePump(sub *hub.Subscriber) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			sub.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel.
				sub.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WARN: failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			sub.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sub.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches a subscription control message. Malformed
// messages are ignored: the subscriber keeps its previous interest.
func (s *Server) handleMessage(sub *hub.Subscriber, data []byte) {
	var msg protocol.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("WARN: invalid control message from %s: %v", sub.ID, err)
		return
	}

	sessionID := normalize.CleanID(msg.SessionID)
	switch msg.Type {
	case protocol.TypeSubscribe:
		if sessionID != "" {
			sub.Subscribe(sessionID)
		}
	case protocol.TypeUnsubscribe:
		if sessionID != "" {
			sub.Unsubscribe(sessionID)
		}
	case protocol.TypeSubscribeAll:
		sub.SubscribeAll()
	default:
		log.Printf("WARN: unknown control message type %q from %s", msg.Type, sub.ID)
	}
}
