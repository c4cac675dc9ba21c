package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is returned for a well-formed envelope whose type
// discriminant is not part of the protocol.
var ErrUnknownType = errors.New("unknown message type")

// ParseInbound turns a raw JSON envelope into a typed, validated message.
// It never trusts a partially valid payload: any missing or mistyped
// required field fails the whole message.
func ParseInbound(raw []byte) (InboundMessage, error) {
	payload, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	msgType, ok := payload["type"].(string)
	if !ok || msgType == "" {
		return nil, fmt.Errorf("message missing type field")
	}

	switch msgType {
	case TypeAuth:
		return parseAuth(payload)
	case TypeStatus:
		return parseStatus(payload)
	case TypeMessageResult:
		return parseResult(payload)
	case TypeHeartbeat:
		return parseHeartbeat(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("message must be a JSON object")
	}
	return payload, nil
}

func parseAuth(payload map[string]interface{}) (*AuthMessage, error) {
	apiKey, ok := payload["apiKey"].(string)
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("auth message requires a non-empty apiKey")
	}

	msg := &AuthMessage{
		APIKey:           apiKey,
		ExtensionVersion: "unknown",
		Browser:          "unknown",
	}

	// Metadata fields are optional and default to "unknown"
	if data, ok := payload["data"].(map[string]interface{}); ok {
		if v, ok := data["extensionVersion"].(string); ok && v != "" {
			msg.ExtensionVersion = v
		}
		if v, ok := data["browser"].(string); ok && v != "" {
			msg.Browser = v
		}
	}

	return msg, nil
}

func parseStatus(payload map[string]interface{}) (*StatusMessage, error) {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("status message requires a data object")
	}

	// Coerce to strict booleans: anything that is not JSON true is false
	loggedIn, _ := data["whatsappLoggedIn"].(bool)
	ready, _ := data["ready"].(bool)

	return &StatusMessage{
		WhatsappLoggedIn: loggedIn,
		Ready:            ready,
	}, nil
}

func parseResult(payload map[string]interface{}) (*ResultMessage, error) {
	requestID, ok := payload["requestId"].(string)
	if !ok || requestID == "" {
		return nil, fmt.Errorf("message-result requires a non-empty requestId")
	}

	success, ok := payload["success"].(bool)
	if !ok {
		return nil, fmt.Errorf("message-result requires a boolean success field")
	}

	msg := &ResultMessage{
		RequestID: requestID,
		Success:   success,
		Timestamp: time.Now(),
	}

	if errStr, ok := payload["error"].(string); ok {
		msg.Error = errStr
	}
	if ts, ok := payload["timestamp"].(float64); ok {
		msg.Timestamp = time.UnixMilli(int64(ts))
	}

	return msg, nil
}

func parseHeartbeat(payload map[string]interface{}) (*HeartbeatMessage, error) {
	msg := &HeartbeatMessage{Timestamp: time.Now()}

	if ts, ok := payload["timestamp"].(float64); ok {
		msg.Timestamp = time.UnixMilli(int64(ts))
	}

	return msg, nil
}
