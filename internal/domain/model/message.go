package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MessageType defines message types exchanged over the tunnel connection
type MessageType string

const (
	// MessageTypeHTTPRequest carries a relayed request from the relay to the agent
	MessageTypeHTTPRequest MessageType = "http_request"
	// MessageTypeHTTPResponse carries the agent's response back to the relay
	MessageTypeHTTPResponse MessageType = "http_response"
	// MessageTypePing keeps the connection alive
	MessageTypePing MessageType = "ping"
	// MessageTypePong is a response to ping
	MessageTypePong MessageType = "pong"
	// MessageTypeError indicates an error reported by the relay
	MessageTypeError MessageType = "error"
)

// ProtocolVersion is stamped on every outgoing message
const ProtocolVersion = "1.0.0"

// Message represents the envelope for every tunnel frame
type Message struct {
	// Type is the message type
	Type MessageType `json:"type"`
	// Version is the protocol version
	Version string `json:"version"`
	// Timestamp is when the message was created (in milliseconds since epoch)
	Timestamp int64 `json:"timestamp"`
	// Payload contains the actual message data
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a new message with specified type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadJSON json.RawMessage
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert payload to JSON")
		}
	}

	return &Message{
		Type:      msgType,
		Version:   ProtocolVersion,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payloadJSON,
	}, nil
}

// ParsePayload parses message payload into the provided struct
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ErrorPayload is for error messages
type ErrorPayload struct {
	// Code is the error code
	Code string `json:"code"`
	// Message contains the error details
	Message string `json:"message"`
}
