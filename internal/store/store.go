package store

import (
	"context"
	"errors"
	"time"

	"mailpilot/internal/model"
)

// ErrDuplicateMessage is returned by RecordInbound when a message with the
// same external id has already been persisted. Duplicate delivery is a
// recognized outcome, not a failure.
var ErrDuplicateMessage = errors.New("message already recorded")

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ResolveRequest carries the identity of an inbound message for
// conversation resolution.
type ResolveRequest struct {
	// Email is the sender address; matched case-insensitively.
	Email string

	// Name is the sender display name, used to fill an empty client name.
	Name string

	// Subject is the raw subject line; its normalized form is the
	// fallback thread identity.
	Subject string

	// InReplyTo and References are the threading headers, without angle
	// brackets. Matched against stored external ids first.
	InReplyTo  string
	References []string
}

// ResolvedConversation is the outcome of conversation resolution.
type ResolvedConversation struct {
	Conversation *model.Conversation
	Client       *model.Client

	// Created reports whether a new conversation was started rather
	// than an existing one matched.
	Created bool
}

// InboundMessage carries a parsed inbound email for persistence.
type InboundMessage struct {
	ExternalID       string
	InReplyTo        string
	References       []string
	Subject          string
	FromAddress      string
	FromName         string
	BodyPlain        string
	BodyHTML         string
	DetectedLanguage string
	ReceivedAt       time.Time
	Attachments      []AttachmentMeta
}

// AttachmentMeta describes one attachment row. Payload bytes are written
// to disk by the caller; StoragePath is the relative path, empty when the
// payload was not stored.
type AttachmentMeta struct {
	Filename    string
	ContentType string
	FileSize    int64
	StoragePath string
	IsInline    bool
}

// OutboundRequest carries a reply to record as sent.
type OutboundRequest struct {
	Mode model.OutboundMode

	// Text and HTML override the promoted draft's body when non-empty.
	Text string
	HTML string

	Subject string

	// ExternalID is the Message-ID assigned at submission time.
	ExternalID string

	SentAt time.Time
}

// DraftMessage carries an assistant draft awaiting operator review.
type DraftMessage struct {
	Subject  string
	Text     string
	HTML     string
	Language string
}

// ConversationFilter controls filtering and pagination for conversation
// listings.
type ConversationFilter struct {
	Status   *model.ConversationStatus
	ClientID *string
	Limit    int
	Offset   int
}

// ConversationSummary is one row of a conversation listing, joined with
// client identity and the unread inbound count.
type ConversationSummary struct {
	model.Conversation

	ClientEmail string `db:"client_email"`
	ClientName  string `db:"client_name"`
	UnreadCount int    `db:"unread_count"`
}

// ScenarioStatePatch carries partial updates to a conversation's scenario
// state. Nil fields are left unchanged.
type ScenarioStatePatch struct {
	ActiveStepID *string
	Notes        *string
}

// Store is the persistence surface of the automation pipeline. The core
// engine uses the resolution/record/status operations; the remainder
// serves the operator-facing API layer.
type Store interface {
	// ResolveConversation finds the open conversation an inbound message
	// belongs to, or creates a new client/conversation pair. Safe under
	// concurrent calls for the same thread identity.
	ResolveConversation(ctx context.Context, req ResolveRequest) (*ResolvedConversation, error)

	// RecordInbound persists an inbound message, returning
	// ErrDuplicateMessage when its external id is already known.
	RecordInbound(ctx context.Context, conversationID string, in InboundMessage) (*model.Message, error)

	// RecordOutbound persists a sent reply. Mode approve_ai promotes the
	// latest pending draft (or inserts a fresh assistant message when
	// none exists); mode manual inserts a manager-authored message.
	RecordOutbound(ctx context.Context, conversationID string, req OutboundRequest) (*model.Message, error)

	// RecordDraft persists an unsent assistant draft flagged for review.
	RecordDraft(ctx context.Context, conversationID string, draft DraftMessage) (*model.Message, error)

	// SetStatus moves a conversation to a new status, enforcing the
	// lifecycle transition table.
	SetStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error

	ListConversations(ctx context.Context, filter ConversationFilter) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetClientByEmail(ctx context.Context, email string) (*model.Client, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	UnreadCounts(ctx context.Context, conversationIDs []string) (map[string]int, error)
	CloseConversation(ctx context.Context, conversationID string, actor model.LogActor) error

	CreateScenario(ctx context.Context, scenario *model.Scenario) error
	GetScenario(ctx context.Context, id string) (*model.Scenario, error)
	ListScenarios(ctx context.Context) ([]model.Scenario, error)
	AssignScenario(ctx context.Context, conversationID, scenarioID string) (*model.ScenarioState, error)
	UpdateScenarioState(ctx context.Context, conversationID string, patch ScenarioStatePatch) (*model.ScenarioState, error)
	GetScenarioState(ctx context.Context, conversationID string) (*model.ScenarioState, error)
	ClearScenario(ctx context.Context, conversationID string) error

	AppendLog(ctx context.Context, entry model.ConversationLogEntry) error
	ListLog(ctx context.Context, conversationID string) ([]model.ConversationLogEntry, error)

	ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error)

	Ping(ctx context.Context) error
	Close() error
}
