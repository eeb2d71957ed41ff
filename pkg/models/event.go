package models

// EventKind classifies the three change classes a conversation channel carries.
type EventKind string

const (
	EventMessageInsert EventKind = "message_insert"
	EventMessageUpdate EventKind = "message_update"
	// EventReaction signals that some reaction row changed; clients are
	// expected to re-fetch the conversation rather than patch incrementally.
	EventReaction EventKind = "reaction"
	// EventTyping is an ephemeral broadcast, never persisted.
	EventTyping EventKind = "typing"
)

// Change is the envelope pushed over a conversation channel.
type Change struct {
	Kind         EventKind `json:"kind"`
	Conversation string    `json:"conversation"`
	// Message is set for message_insert/message_update.
	Message *Message `json:"message,omitempty"`
	// MessageID is set for reaction changes.
	MessageID string `json:"message_id,omitempty"`
	// Typing is set for typing broadcasts.
	Typing *TypingSignal `json:"typing,omitempty"`
	TS     int64         `json:"ts,omitempty"`
}

// TypingSignal is the ephemeral typing-presence payload.
type TypingSignal struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	Typing       bool   `json:"typing"`
}
