package websocket

import (
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/historian"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeHistoryPhase MessageType = "history_phase"

	// Session messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`

	// endpointID scopes delivery to clients subscribed to it; empty goes to everyone.
	endpointID string
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewPhaseMessage(ev historian.Event) Message {
	msg := NewMessage(MessageTypeHistoryPhase, ev)
	msg.Timestamp = ev.Timestamp
	msg.endpointID = ev.EndpointID
	return msg
}

// clientCommand is what clients may send after connecting.
type clientCommand struct {
	Type        string   `json:"type"`
	Token       string   `json:"token,omitempty"`
	EndpointIDs []string `json:"endpointIds,omitempty"`
}
