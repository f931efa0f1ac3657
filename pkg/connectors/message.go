package connectors

import "encoding/json"

// MessageKind tags the variant held by a Message.
type MessageKind string

const (
	KindJSON MessageKind = "json"
	KindText MessageKind = "text"
)

// Message is the single result of a tool invocation: either a JSON value or
// plain text.
type Message struct {
	Kind MessageKind     `json:"type"`
	JSON json.RawMessage `json:"json,omitempty"`
	Text string          `json:"text,omitempty"`
}

// JSONMessage wraps a raw JSON value.
func JSONMessage(raw json.RawMessage) Message {
	return Message{Kind: KindJSON, JSON: raw}
}

// TextMessage wraps plain text.
func TextMessage(text string) Message {
	return Message{Kind: KindText, Text: text}
}

// IsJSON reports whether m holds the JSON variant.
func (m Message) IsJSON() bool { return m.Kind == KindJSON }

// String renders the message for logs and terminals.
func (m Message) String() string {
	if m.IsJSON() {
		return string(m.JSON)
	}
	return m.Text
}
