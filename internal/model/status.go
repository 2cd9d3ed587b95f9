package model

import (
	"errors"
	"fmt"
)

// ConversationStatus tracks where a conversation sits in its reply lifecycle.
type ConversationStatus string

const (
	// StatusAwaitingResponse means the newest activity is an inbound client
	// message that has not been answered yet.
	StatusAwaitingResponse ConversationStatus = "awaiting_response"

	// StatusAnsweredByLLM means the latest outbound reply has been sent,
	// whether composed by the assistant or a manager.
	StatusAnsweredByLLM ConversationStatus = "answered_by_llm"

	// StatusNeedsHuman means automation has stepped aside and a person
	// must review the conversation before anything else goes out.
	StatusNeedsHuman ConversationStatus = "needs_human"

	// StatusClosed is terminal. New mail on the same thread starts a new
	// conversation instead of reopening a closed one.
	StatusClosed ConversationStatus = "closed"
)

// statusTransitions lists the statuses each status may move to. The three
// open statuses may move freely among themselves (including self-loops for
// repeated inbound mail or repeated escalation); closed has no exits.
var statusTransitions = map[ConversationStatus][]ConversationStatus{
	StatusAwaitingResponse: {StatusAwaitingResponse, StatusAnsweredByLLM, StatusNeedsHuman, StatusClosed},
	StatusAnsweredByLLM:    {StatusAwaitingResponse, StatusAnsweredByLLM, StatusNeedsHuman, StatusClosed},
	StatusNeedsHuman:       {StatusAwaitingResponse, StatusAnsweredByLLM, StatusNeedsHuman, StatusClosed},
	StatusClosed:           {},
}

// CanTransition reports whether a conversation may move from one status to
// another.
func CanTransition(from, to ConversationStatus) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError signals an attempt to move a conversation between
// statuses the lifecycle does not permit. It indicates a logic bug in the
// caller, not an operational condition.
type InvalidTransitionError struct {
	ConversationID string
	From           ConversationStatus
	To             ConversationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s (conversation %s)", e.From, e.To, e.ConversationID)
}

// IsInvalidTransition reports whether err (or any error in its chain) is an
// InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var transErr *InvalidTransitionError
	return errors.As(err, &transErr)
}

// MessageSender identifies who authored a message.
type MessageSender string

const (
	SenderClient         MessageSender = "client"
	SenderAssistant      MessageSender = "assistant"
	SenderAssistantDraft MessageSender = "assistant_draft"
	SenderManager        MessageSender = "manager"
)

// MessageDirection identifies which way a message travelled.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
	DirectionDraft    MessageDirection = "draft"
)

// OutboundMode selects how an operator-initiated reply is attributed.
type OutboundMode string

const (
	// ModeApproveAI sends the pending assistant draft (or a fresh
	// assistant-authored message when no draft exists).
	ModeApproveAI OutboundMode = "approve_ai"

	// ModeManual sends a manager-authored message.
	ModeManual OutboundMode = "manual"
)

// ParseOutboundMode validates a raw mode string at the boundary.
func ParseOutboundMode(raw string) (OutboundMode, error) {
	switch OutboundMode(raw) {
	case ModeApproveAI:
		return ModeApproveAI, nil
	case ModeManual:
		return ModeManual, nil
	default:
		return "", fmt.Errorf("unknown outbound mode %q", raw)
	}
}

// LogEvent classifies an entry in a conversation's audit timeline.
type LogEvent string

const (
	LogEventAutomationTriggered LogEvent = "automation_triggered"
	LogEventDraftCreated        LogEvent = "llm_draft_created"
	LogEventNeedsHuman          LogEvent = "human_intervention_required"
	LogEventMessageSent         LogEvent = "message_sent"
	LogEventScenarioAssigned    LogEvent = "scenario_assigned"
	LogEventScenarioStepChanged LogEvent = "scenario_step_changed"
	LogEventNote                LogEvent = "note"
	LogEventConversationClosed  LogEvent = "conversation_closed"
)

// LogActor identifies who caused a logged event.
type LogActor string

const (
	ActorSystem    LogActor = "system"
	ActorAssistant LogActor = "assistant"
	ActorManager   LogActor = "manager"
	ActorClient    LogActor = "client"
)
