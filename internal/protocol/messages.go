// Package protocol defines the WebSocket message protocol between
// dashboard clients and the service.
package protocol

// Message types from client to server.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribeAll = "subscribeAll"
)

// Message types from server to client.
const (
	TypeConnected = "connected"
	TypeTrace     = "trace"
)

// ControlMessage is a subscription control message sent by the client.
type ControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// ConnectedMessage is sent once when a client connects.
type ConnectedMessage struct {
	Type         string `json:"type"`
	Ts           int64  `json:"ts"`
	SubscriberID string `json:"subscriberId"`
}
