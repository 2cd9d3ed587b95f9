package model

import "time"

// ConversationLogEntry is one event in a conversation's audit timeline.
// The automation engine and operator actions both append here.
type ConversationLogEntry struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	EventType LogEvent `json:"event_type" db:"event_type"`
	Actor     LogActor `json:"actor" db:"actor"`

	// Summary is a short human-readable line, capped at 500 characters.
	Summary string `json:"summary" db:"summary"`

	// Details holds structured event data, stored as JSON.
	Details map[string]any `json:"details,omitempty" db:"-"`

	// Context carries free-form supporting text (e.g. an operator note).
	Context string `json:"context,omitempty" db:"context"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
