package model

import "time"

// Message is a single email (or draft) within a conversation.
type Message struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// ExternalID is the RFC 5322 Message-ID without angle brackets.
	// Unique when non-empty; duplicate delivery is detected through it.
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	// InReplyTo is the Message-ID this message answers, if any.
	InReplyTo string `json:"in_reply_to,omitempty" db:"in_reply_to"`

	// ReferencesList is the ancestor Message-ID chain, oldest first.
	// Stored as a JSON array.
	ReferencesList []string `json:"references,omitempty" db:"-"`

	Subject   string           `json:"subject" db:"subject"`
	Sender    MessageSender    `json:"sender_type" db:"sender_type"`
	Direction MessageDirection `json:"direction" db:"direction"`

	SenderAddress     string `json:"sender_address,omitempty" db:"sender_address"`
	SenderDisplayName string `json:"sender_display_name,omitempty" db:"sender_display_name"`

	BodyPlain string `json:"body_plain,omitempty" db:"body_plain"`
	BodyHTML  string `json:"body_html,omitempty" db:"body_html"`

	// DetectedLanguage is the ISO 639-1 code detected for this message.
	DetectedLanguage string `json:"detected_language,omitempty" db:"detected_language"`

	SentAt     *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ReceivedAt *time.Time `json:"received_at,omitempty" db:"received_at"`

	// RequiresAttention flags messages a human still has to look at:
	// unread inbound mail and drafts awaiting review.
	RequiresAttention bool `json:"requires_attention" db:"requires_attention"`

	// IsDraft marks assistant output that has not been sent.
	IsDraft bool `json:"is_draft" db:"is_draft"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Attachment records a file carried by a message. Payload bytes live on
// disk under the configured attachments directory; the row keeps the
// relative path.
type Attachment struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// MessageID is empty for attachments staged before a message exists.
	MessageID string `json:"message_id,omitempty" db:"message_id"`

	Filename    string `json:"filename" db:"filename"`
	ContentType string `json:"content_type,omitempty" db:"content_type"`
	FileSize    int64  `json:"file_size" db:"file_size"`
	StoragePath string `json:"storage_path" db:"storage_path"`
	IsInline    bool   `json:"is_inline" db:"is_inline"`
	IsInbound   bool   `json:"is_inbound" db:"is_inbound"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
