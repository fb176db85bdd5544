// Package protocol defines the WebSocket frames exchanged with chat clients.
package protocol

import (
	"encoding/json"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Events from client to server
const (
	EventMessage    = "message"
	EventJoinChat   = "join-chat"
	EventDisconnect = "disconnect"
)

// Events from server to client
const (
	EventLLMResponse = "llm-response"
	EventError       = "error"
	EventJoined      = "joined"
)

// Envelope is the frame wrapper in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is the data of a message event.
type MessagePayload struct {
	Content *string `json:"content"`
	ChatID  string  `json:"chatId,omitempty"`
}

// LLMResponsePayload is the data of an llm-response event.
type LLMResponsePayload struct {
	ChatID  string         `json:"chatId"`
	Message domain.Message `json:"message"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinedPayload acknowledges a join-chat.
type JoinedPayload struct {
	ChatID string `json:"chatId"`
}

// Encode marshals an outbound frame.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an inbound frame envelope.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}

// DecodeMessage parses the data of a message event. A nil content is
// reported as an empty string.
func DecodeMessage(data json.RawMessage) (MessagePayload, string, error) {
	var p MessagePayload
	if len(data) == 0 {
		return p, "", nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, "", err
	}
	content := ""
	if p.Content != nil {
		content = *p.Content
	}
	return p, content, nil
}

// DecodeChatID parses the data of a join-chat event. Both a bare string and
// {"chatId": "..."} are accepted.
func DecodeChatID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}
	var obj JoinedPayload
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return obj.ChatID, nil
}
