package protocol

import (
	"encoding/json"
	"time"
)

// Extension Protocol message types
const (
	// Extension to gateway
	TypeAuth          = "auth"
	TypeStatus        = "status"
	TypeMessageResult = "message-result"
	TypeHeartbeat     = "heartbeat"

	// Gateway to extension
	TypeAuthSuccess  = "auth-success"
	TypeError        = "error"
	TypeSendMessage  = "send-message"
	TypeSendImage    = "send-image"
	TypeSendVideo    = "send-video"
	TypeSendDocument = "send-document"
	TypePing         = "ping"
)

// InboundMessage is the tagged union over extension-to-gateway messages
type InboundMessage interface {
	MessageType() string
}

// AuthMessage is the first message an extension must send on a new connection
type AuthMessage struct {
	APIKey           string
	ExtensionVersion string
	Browser          string
}

// StatusMessage reports whether the extension is logged in and ready to send
type StatusMessage struct {
	WhatsappLoggedIn bool
	Ready            bool
}

// ResultMessage acknowledges an outbound command by request id
type ResultMessage struct {
	RequestID string
	Success   bool
	Error     string
	Timestamp time.Time
}

// HeartbeatMessage keeps the session alive
type HeartbeatMessage struct {
	Timestamp time.Time
}

func (m *AuthMessage) MessageType() string      { return TypeAuth }
func (m *StatusMessage) MessageType() string    { return TypeStatus }
func (m *ResultMessage) MessageType() string    { return TypeMessageResult }
func (m *HeartbeatMessage) MessageType() string { return TypeHeartbeat }

// AuthSuccessEnvelope confirms authentication and carries the session id
type AuthSuccessEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ErrorDetail carries a machine-readable code plus a human-readable message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope reports a protocol-level failure to the extension
type ErrorEnvelope struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// PingEnvelope is sent periodically; the extension answers with a heartbeat
type PingEnvelope struct {
	Type string `json:"type"`
}

// CommandEnvelope is an outbound send command addressed by request id.
// Data always carries the full field set for the command type; unset
// optional fields serialize as empty strings so the schema stays fixed.
type CommandEnvelope struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId"`
	Data      interface{} `json:"data"`
}

// Serialize serializes an envelope to JSON bytes
func Serialize(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}
