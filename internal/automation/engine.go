// Package automation is the per-message decision engine: it resolves the
// conversation an inbound message belongs to, persists it, classifies the
// language, asks the draft generator for a reply, and decides between
// auto-sending and escalating to a human.
package automation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailpilot/internal/llm"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/metrics"
	"mailpilot/internal/model"
	"mailpilot/internal/store"
)

// Outcome classifies how an inbound message was settled.
type Outcome string

const (
	OutcomeAutoReplied Outcome = "auto_replied"
	OutcomeEscalated   Outcome = "escalated"
	OutcomeDuplicate   Outcome = "duplicate"
)

// Result summarizes the processing of one inbound message.
type Result struct {
	ConversationID    string
	InboundMessageID  string
	OutboundMessageID string
	Outcome           Outcome

	// RequiresHuman is set when the conversation ended in needs_human.
	RequiresHuman bool
}

// Detector classifies the dominant language of a text blob.
type Detector interface {
	Detect(text string) string
}

// Generator drafts a reply (or an escalation) for conversation context.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.DraftResult, error)
}

// Options carries the automation policy knobs.
type Options struct {
	// ConfidenceThreshold is the minimum self-reported confidence for
	// an automatic reply.
	ConfidenceThreshold float64

	// AutoSend enables sending confident drafts without review. When
	// off every draft escalates.
	AutoSend bool

	// DefaultLanguage is the ISO 639-1 code used for prompting when
	// detection yields unknown.
	DefaultLanguage string

	// AttachmentsDir is where inbound attachment payloads are written.
	// Empty skips payload storage; rows are still recorded.
	AttachmentsDir string
}

// OptionsFromConfig derives the engine policy from application config.
func OptionsFromConfig(cfg *model.AppConfig) Options {
	return Options{
		ConfidenceThreshold: cfg.LLM.ConfidenceThreshold,
		AutoSend:            cfg.LLM.AutoSend,
		DefaultLanguage:     cfg.Language.Default,
		AttachmentsDir:      cfg.Store.AttachmentsDir,
	}
}

// Engine runs the fetched -> persisted -> classified ->
// {auto_replied | escalated} -> settled state machine for each inbound
// message.
type Engine struct {
	store     store.Store
	mailbox   mailbox.Mailbox
	detector  Detector
	generator Generator
	opts      Options
	logger    zerolog.Logger
}

// NewEngine wires the automation engine.
func NewEngine(
	st store.Store,
	mb mailbox.Mailbox,
	detector Detector,
	generator Generator,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:     st,
		mailbox:   mb,
		detector:  detector,
		generator: generator,
		opts:      opts,
		logger:    logger.With().Str("component", "automation").Logger(),
	}
}

// ProcessInbound handles one fetched message end to end. Persistence
// failures abort processing so the message stays unseen and is refetched
// next cycle; everything after durable persistence degrades to escalation
// instead of failing. The mailbox is only marked processed once the
// message is settled.
func (e *Engine) ProcessInbound(ctx context.Context, msg mailbox.Inbound) (*Result, error) {
	resolved, err := e.store.ResolveConversation(ctx, store.ResolveRequest{
		Email:      msg.From,
		Name:       msg.FromName,
		Subject:    msg.Subject,
		InReplyTo:  msg.InReplyTo,
		References: msg.References,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving conversation for %s: %w", msg.MessageID, err)
	}

	conv := resolved.Conversation
	logger := e.logger.With().
		Str("conversation_id", conv.ID).
		Str("message_id", msg.MessageID).
		Logger()

	if resolved.Created {
		logger.Info().Str("topic", conv.Topic).Msg("Started new conversation")
	}

	bodyPlain := msg.TextBody
	if bodyPlain == "" {
		bodyPlain = mailbox.StripHTML(msg.HTMLBody)
	}

	detectText := bodyPlain
	if detectText == "" {
		detectText = msg.Subject
	}
	detected := e.detector.Detect(detectText)

	inbound, err := e.store.RecordInbound(ctx, conv.ID, store.InboundMessage{
		ExternalID:       msg.MessageID,
		InReplyTo:        msg.InReplyTo,
		References:       msg.References,
		Subject:          msg.Subject,
		FromAddress:      msg.From,
		FromName:         msg.FromName,
		BodyPlain:        bodyPlain,
		BodyHTML:         msg.HTMLBody,
		DetectedLanguage: detected,
		ReceivedAt:       msg.Date,
		Attachments:      e.storeAttachments(logger, msg),
	})
	if errors.Is(err, store.ErrDuplicateMessage) {
		// Re-delivery after a failed mark-processed; settle quietly.
		logger.Info().Msg("Duplicate inbound message, skipping")
		e.markProcessed(ctx, logger, msg.UID)
		return &Result{ConversationID: conv.ID, Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recording inbound %s: %w", msg.MessageID, err)
	}

	e.appendLog(ctx, logger, model.ConversationLogEntry{
		ConversationID: conv.ID,
		EventType:      model.LogEventAutomationTriggered,
		Actor:          model.ActorSystem,
		Summary:        "Inbound message received",
		Details:        map[string]any{"external_id": msg.MessageID},
	})

	promptLanguage := detected
	if promptLanguage == "" {
		promptLanguage = conv.Language
	}
	if promptLanguage == "" {
		promptLanguage = e.opts.DefaultLanguage
	}

	scenario, humanOnly := e.scenarioContext(ctx, logger, conv.ID)
	history := e.history(ctx, logger, conv.ID)

	start := time.Now()
	draft, genErr := e.generator.Generate(ctx, llm.Request{
		History:  history,
		Language: promptLanguage,
		Scenario: scenario,
	})
	metrics.RecordGeneration(generationStatus(draft, genErr), time.Since(start))

	if genErr != nil {
		// Retryable and non-fatal: the message is persisted, so route
		// it to a human instead of dropping it.
		logger.Warn().Err(genErr).Msg("Draft generation unavailable, escalating")
		return e.escalate(ctx, logger, conv, inbound, msg, nil, "generation unavailable")
	}

	switch {
	case draft.Escalate:
		return e.escalate(ctx, logger, conv, inbound, msg, draft, "model declined to answer")
	case draft.Confidence < e.opts.ConfidenceThreshold:
		return e.escalate(ctx, logger, conv, inbound, msg, draft,
			fmt.Sprintf("confidence %.2f below threshold %.2f", draft.Confidence, e.opts.ConfidenceThreshold))
	case humanOnly:
		return e.escalate(ctx, logger, conv, inbound, msg, draft, "human-only scenario step active")
	case !e.opts.AutoSend:
		return e.escalate(ctx, logger, conv, inbound, msg, draft, "auto-send disabled")
	}

	return e.autoReply(ctx, logger, conv, inbound, msg, draft)
}

// autoReply sends the confident draft as a threaded reply and records it.
// A delivery failure falls back to escalation with the reply kept as a
// reviewable draft.
func (e *Engine) autoReply(
	ctx context.Context,
	logger zerolog.Logger,
	conv *model.Conversation,
	inbound *model.Message,
	msg mailbox.Inbound,
	draft *llm.DraftResult,
) (*Result, error) {
	subject := msg.Subject
	if subject == "" {
		subject = conv.Topic
	}
	subject = mailbox.ReplySubject(subject)

	references := append(append([]string{}, msg.References...), msg.MessageID)

	externalID, err := e.mailbox.Send(ctx, mailbox.Outbound{
		To:         []string{msg.From},
		Subject:    subject,
		TextBody:   draft.ReplyText,
		HTMLBody:   mailbox.PlainToHTML(draft.ReplyText),
		InReplyTo:  msg.MessageID,
		References: references,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Reply delivery failed, escalating with draft")
		return e.escalate(ctx, logger, conv, inbound, msg, draft, "delivery failed")
	}

	outbound, err := e.store.RecordOutbound(ctx, conv.ID, store.OutboundRequest{
		Mode:       model.ModeApproveAI,
		Text:       draft.ReplyText,
		HTML:       mailbox.PlainToHTML(draft.ReplyText),
		Subject:    subject,
		ExternalID: externalID,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		// The reply is already on the wire; marking the message
		// processed prevents a refetch from sending it twice.
		e.markProcessed(ctx, logger, msg.UID)
		return nil, fmt.Errorf("reply sent but not recorded for conversation %s: %w", conv.ID, err)
	}

	e.appendLog(ctx, logger, model.ConversationLogEntry{
		ConversationID: conv.ID,
		EventType:      model.LogEventMessageSent,
		Actor:          model.ActorAssistant,
		Summary:        "Automatic reply sent",
		Details: map[string]any{
			"external_id": externalID,
			"confidence":  draft.Confidence,
		},
	})

	e.markProcessed(ctx, logger, msg.UID)

	logger.Info().
		Float64("confidence", draft.Confidence).
		Msg("Auto reply sent")

	return &Result{
		ConversationID:    conv.ID,
		InboundMessageID:  inbound.ID,
		OutboundMessageID: outbound.ID,
		Outcome:           OutcomeAutoReplied,
	}, nil
}

// escalate routes the conversation to a human: any usable draft is kept
// for review, the status moves to needs_human, and no mail is sent.
func (e *Engine) escalate(
	ctx context.Context,
	logger zerolog.Logger,
	conv *model.Conversation,
	inbound *model.Message,
	msg mailbox.Inbound,
	draft *llm.DraftResult,
	reason string,
) (*Result, error) {
	result := &Result{
		ConversationID:   conv.ID,
		InboundMessageID: inbound.ID,
		Outcome:          OutcomeEscalated,
		RequiresHuman:    true,
	}

	if draft != nil && draft.ReplyText != "" {
		subject := msg.Subject
		if subject == "" {
			subject = conv.Topic
		}

		stored, err := e.store.RecordDraft(ctx, conv.ID, store.DraftMessage{
			Subject:  mailbox.ReplySubject(subject),
			Text:     draft.ReplyText,
			HTML:     mailbox.PlainToHTML(draft.ReplyText),
			Language: conv.Language,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to store draft for review")
		} else {
			result.OutboundMessageID = stored.ID
			e.appendLog(ctx, logger, model.ConversationLogEntry{
				ConversationID: conv.ID,
				EventType:      model.LogEventDraftCreated,
				Actor:          model.ActorAssistant,
				Summary:        "Draft stored for operator review",
				Details:        map[string]any{"confidence": draft.Confidence},
			})
		}
	}

	if err := e.store.SetStatus(ctx, conv.ID, model.StatusNeedsHuman); err != nil {
		if model.IsInvalidTransition(err) {
			// A contract violation in the calling logic, not an
			// operational condition; make it loud and keep going.
			logger.Error().Err(err).Msg("Illegal transition while escalating")
		} else {
			return nil, fmt.Errorf("escalating conversation %s: %w", conv.ID, err)
		}
	}

	e.appendLog(ctx, logger, model.ConversationLogEntry{
		ConversationID: conv.ID,
		EventType:      model.LogEventNeedsHuman,
		Actor:          model.ActorSystem,
		Summary:        "Escalated to human review",
		Details:        map[string]any{"reason": reason},
	})

	e.markProcessed(ctx, logger, msg.UID)

	logger.Info().Str("reason", reason).Msg("Conversation escalated")

	return result, nil
}

// markProcessed files the message away after settling. Persistence is the
// source of truth, not mailbox flags: failures are logged and the message
// is deduplicated by external id when refetched.
func (e *Engine) markProcessed(ctx context.Context, logger zerolog.Logger, uid uint32) {
	if err := e.mailbox.MarkProcessed(ctx, uid); err != nil {
		logger.Warn().Err(err).Uint32("uid", uid).Msg("Failed to mark message processed")
	}
}

// appendLog writes an audit entry, warn-only; the timeline is advisory.
func (e *Engine) appendLog(ctx context.Context, logger zerolog.Logger, entry model.ConversationLogEntry) {
	if err := e.store.AppendLog(ctx, entry); err != nil {
		logger.Warn().Err(err).Str("event", string(entry.EventType)).Msg("Failed to append log entry")
	}
}

// history loads the conversation's message turns for the prompt. Errors
// degrade to an empty history; the inbound message itself is always
// present since it was just recorded.
func (e *Engine) history(ctx context.Context, logger zerolog.Logger, conversationID string) []llm.Turn {
	messages, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load history for prompt")
		return nil
	}

	turns := make([]llm.Turn, 0, len(messages))
	for _, m := range messages {
		// Drafts are assistant candidates, not conversation facts.
		if m.IsDraft {
			continue
		}

		content := m.BodyPlain
		if content == "" {
			content = mailbox.StripHTML(m.BodyHTML)
		}
		if content == "" {
			continue
		}

		turns = append(turns, llm.Turn{Sender: m.Sender, Content: content})
	}

	return turns
}

// scenarioContext loads the active guided-script instructions for the
// prompt and reports whether the active step is human-only.
func (e *Engine) scenarioContext(
	ctx context.Context,
	logger zerolog.Logger,
	conversationID string,
) (*llm.ScenarioContext, bool) {
	state, err := e.store.GetScenarioState(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load scenario state")
		return nil, false
	}
	if state == nil {
		return nil, false
	}

	scenario, err := e.store.GetScenario(ctx, state.ScenarioID)
	if err != nil {
		logger.Warn().Err(err).Str("scenario_id", state.ScenarioID).Msg("Failed to load scenario")
		return nil, false
	}

	sc := &llm.ScenarioContext{
		Preamble: scenario.AIPreamble,
		Notes:    state.Notes,
	}

	humanOnly := false
	for _, step := range scenario.Steps {
		if step.ID == state.ActiveStepID {
			sc.StepInstructions = step.AIInstructions
			humanOnly = step.HumanOnly
			break
		}
	}

	return sc, humanOnly
}

// storeAttachments writes inbound attachment payloads under the
// configured directory and returns their metadata rows. Write failures
// keep the row without a storage path.
func (e *Engine) storeAttachments(logger zerolog.Logger, msg mailbox.Inbound) []store.AttachmentMeta {
	if len(msg.Attachments) == 0 {
		return nil
	}

	metas := make([]store.AttachmentMeta, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		meta := store.AttachmentMeta{
			Filename:    att.Filename,
			ContentType: att.MIMEType,
			FileSize:    int64(len(att.Data)),
			IsInline:    att.Inline,
		}

		if e.opts.AttachmentsDir != "" {
			name := uuid.New().String()
			if att.Filename != "" {
				name += "_" + filepath.Base(att.Filename)
			}

			if err := os.MkdirAll(e.opts.AttachmentsDir, 0o755); err != nil {
				logger.Warn().Err(err).Msg("Failed to create attachments directory")
			} else if err := os.WriteFile(filepath.Join(e.opts.AttachmentsDir, name), att.Data, 0o644); err != nil {
				logger.Warn().Err(err).Str("filename", att.Filename).Msg("Failed to store attachment payload")
			} else {
				meta.StoragePath = name
			}
		}

		metas = append(metas, meta)
	}

	return metas
}

// generationStatus labels a generation call for metrics.
func generationStatus(draft *llm.DraftResult, err error) string {
	switch {
	case err != nil:
		return "unavailable"
	case draft.Escalate:
		return "escalate"
	default:
		return "ok"
	}
}
