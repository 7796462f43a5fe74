// Package hub fans Trace Store deltas out to WebSocket subscribers.
// Delivery is fire-and-forget and at-most-once per subscriber; a slow
// subscriber is dropped rather than stalling the others.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// Subscriber represents a single WebSocket subscriber and its declared
// interest. A subscriber that has not declared any interest yet receives
// everything: the initial burst of deltas can arrive before the client's
// first subscription message, and losing it would leave the client blind.
type Subscriber struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	hub *Hub

	mu       sync.Mutex
	sessions map[string]bool
	all      bool
	declared bool

	writeMu sync.Mutex
}

// Hub manages all subscribers.
type Hub struct {
	subscribers map[string]*Subscriber

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *delivery

	stop chan struct{}
	done chan struct{}

	mu sync.RWMutex
}

type delivery struct {
	runID string
	data  []byte
}

// New creates a hub. Call Run to start its loop.
func New() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan *delivery, 256),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			h.mu.Unlock()
			log.Printf("INFO: subscriber registered: %s", sub.ID)

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub.ID]; ok {
				delete(h.subscribers, sub.ID)
				close(sub.Send)
			}
			h.mu.Unlock()
			log.Printf("INFO: subscriber unregistered: %s", sub.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, sub := range h.subscribers {
				if !sub.wants(msg.runID) {
					continue
				}
				select {
				case sub.Send <- msg.data:
				default:
					// Buffer full, drop the subscriber.
					log.Printf("WARN: subscriber %s buffer full, dropping", sub.ID)
					go h.Unregister(sub)
				}
			}
			h.mu.RUnlock()

		case <-h.stop:
			h.mu.Lock()
			for id, sub := range h.subscribers {
				delete(h.subscribers, id)
				close(sub.Send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub loop down and releases all subscribers.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// Publish delivers one delta to every interested subscriber. It never
// blocks the caller: when the broadcast queue is full the delta is
// dropped with a log line.
func (h *Hub) Publish(update domain.TraceUpdate) {
	envelope := map[string]any{"type": "trace", "update": update}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("ERROR: failed to marshal trace update: %v", err)
		return
	}
	select {
	case h.broadcast <- &delivery{runID: update.RunID, data: data}:
	default:
		log.Printf("WARN: broadcast queue full, dropping %s update for %s", update.Type, update.RunID)
	}
}

// NewSubscriber creates a subscriber for a WebSocket connection. The
// caller registers it with Register.
func (h *Hub) NewSubscriber(conn *websocket.Conn) *Subscriber {
	return &Subscriber{
		ID:       uuid.New().String(),
		Conn:     conn,
		Send:     make(chan []byte, 256),
		hub:      h,
		sessions: make(map[string]bool),
	}
}

// Register registers a subscriber with the hub.
func (h *Hub) Register(sub *Subscriber) {
	h.register <- sub
}

// Unregister removes a subscriber from the hub and releases its channel.
func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.stop:
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Subscribe declares interest in one session.
func (s *Subscriber) Subscribe(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[runID] = true
	s.declared = true
}

// Unsubscribe withdraws interest in one session.
func (s *Subscriber) Unsubscribe(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, runID)
	s.declared = true
}

// SubscribeAll declares interest in every session.
func (s *Subscriber) SubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = true
	s.declared = true
}

// wants reports whether a delta for runID should reach this subscriber.
// Default-open: no declared interest means everything matches.
func (s *Subscriber) wants(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.declared || s.all {
		return true
	}
	return s.sessions[runID]
}

// WriteMessage writes to the connection with proper locking.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (s *Subscriber) Close() error {
	return s.Conn.Close()
}
