package model

import (
	"strings"
	"time"
)

// defaultTopic is used when an inbound message carries no subject at all.
const defaultTopic = "(no subject)"

// Conversation groups the messages exchanged with one client about one topic.
type Conversation struct {
	ID       string `json:"id" db:"id"`
	ClientID string `json:"client_id" db:"client_id"`

	// Topic is the thread subject with reply/forward prefixes stripped.
	Topic string `json:"topic" db:"topic"`

	// NormalizedTopic is the comparison key derived from Topic, used as
	// the fallback thread identity when threading headers match nothing.
	NormalizedTopic string `json:"-" db:"normalized_topic"`

	Status ConversationStatus `json:"status" db:"status"`

	// Language is the ISO 639-1 code detected from client messages,
	// empty until a reliable detection has been made.
	Language string `json:"language,omitempty" db:"language"`

	// LastMessageAt tracks the newest message activity for ordering.
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`

	// LastMessagePreview is a truncated plain-text excerpt of the newest
	// message, capped at 500 characters.
	LastMessagePreview string `json:"last_message_preview,omitempty" db:"last_message_preview"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// replyPrefixes are the subject prefixes stripped during topic normalization.
var replyPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "sv:", "antw:"}

// NormalizeTopic reduces a subject line to its thread topic: reply and
// forward prefixes are stripped repeatedly, whitespace collapsed, and the
// result lowercased for comparison. An empty subject maps to a fixed
// placeholder so subjectless mail still threads together per client.
func NormalizeTopic(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		stripped := false
		for _, prefix := range replyPrefixes {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	if s == "" {
		return defaultTopic
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// TopicFromSubject returns the display topic for a new conversation: the
// trimmed subject as written, or the placeholder when empty.
func TopicFromSubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return defaultTopic
	}
	return s
}

// Preview truncates body text to the stored preview length.
func Preview(text string) string {
	const max = 500
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	// Cut on a rune boundary.
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
