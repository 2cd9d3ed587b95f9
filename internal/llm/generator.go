// Package llm drafts replies by calling an OpenAI-compatible chat
// endpoint with bounded conversation context.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"mailpilot/internal/language"
	"mailpilot/internal/model"
)

// Turn is one message of the conversation history handed to the model.
type Turn struct {
	Sender  model.MessageSender
	Content string
}

// ScenarioContext carries the active guided-script instructions that bias
// generation.
type ScenarioContext struct {
	Preamble         string
	StepInstructions string
	Notes            string
}

// Request is the structured conversation context for one generation call.
type Request struct {
	// History is the ordered message history; the generator bounds it
	// to the configured context window.
	History []Turn

	// Language is the detected ISO 639-1 client language, empty when
	// unknown.
	Language string

	Scenario *ScenarioContext
}

// DraftResult is the outcome of a generation call: either a reply with a
// self-reported confidence, or an explicit escalation.
type DraftResult struct {
	ReplyText  string
	Confidence float64

	// Escalate is set when the model declines to answer.
	Escalate bool
}

// GenerationUnavailableError indicates the generation service was
// unreachable, timed out, or returned nothing usable. Retryable and
// non-fatal: callers escalate the conversation instead of dropping the
// message.
type GenerationUnavailableError struct {
	Err error
}

func (e *GenerationUnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable: %v", e.Err)
}

func (e *GenerationUnavailableError) Unwrap() error { return e.Err }

// IsGenerationUnavailable reports whether err (or any error in its chain)
// is a GenerationUnavailableError.
func IsGenerationUnavailable(err error) bool {
	var genErr *GenerationUnavailableError
	return errors.As(err, &genErr)
}

// Generator drafts replies via an OpenAI-compatible chat API. Works with
// hosted endpoints and local model servers alike.
type Generator struct {
	client *openai.Client
	cfg    model.LLMConfig
	logger zerolog.Logger
}

// NewGenerator creates a generator for the configured endpoint.
func NewGenerator(cfg model.LLMConfig, logger zerolog.Logger) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With().Str("component", "llm").Logger(),
	}
}

// Generate drafts a reply for the given conversation context. The call is
// bounded by the configured timeout; transport failures, timeouts, and
// empty responses surface as GenerationUnavailableError.
func (g *Generator) Generate(ctx context.Context, req Request) (*DraftResult, error) {
	timeout := time.Duration(g.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    g.buildMessages(req),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, &GenerationUnavailableError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &GenerationUnavailableError{Err: fmt.Errorf("empty choice set")}
	}

	result := parseDraft(resp.Choices[0].Message.Content, g.cfg.ConfidenceMarker, g.cfg.DefaultConfidence)

	g.logger.Debug().
		Bool("escalate", result.Escalate).
		Float64("confidence", result.Confidence).
		Msg("Draft generated")

	return &result, nil
}

// buildMessages assembles the chat prompt: system prompt with persona and
// scenario instructions, then the bounded recent history. Client turns
// map to the user role, everything else to the assistant role.
func (g *Generator) buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: g.systemPrompt(req),
	}}

	window := g.cfg.ContextWindow
	if window <= 0 {
		window = 6
	}

	history := req.History
	if len(history) > window {
		history = history[len(history)-window:]
	}

	for _, turn := range history {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}

		role := openai.ChatMessageRoleAssistant
		if turn.Sender == model.SenderClient {
			role = openai.ChatMessageRoleUser
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: content,
		})
	}

	return messages
}

// systemPrompt builds the persona, language, escalation, and confidence
// instructions, followed by any active scenario context.
func (g *Generator) systemPrompt(req Request) string {
	marker := g.cfg.ConfidenceMarker
	if marker == "" {
		marker = "MANAGER"
	}

	var b strings.Builder
	b.WriteString("You are a sales manager assistant answering customer email. ")
	b.WriteString("Respond politely, professionally, and concisely. ")
	b.WriteString(language.Instruction(req.Language))
	b.WriteString(fmt.Sprintf(
		" If you are unsure how to answer, start the reply with the word '%s' and explain why human help is needed.",
		marker,
	))
	b.WriteString(" End your reply with a final line of the form 'Confidence: <value>' where <value> is between 0 and 1.")

	if req.Scenario != nil {
		if req.Scenario.Preamble != "" {
			b.WriteString("\n\n")
			b.WriteString(req.Scenario.Preamble)
		}
		if req.Scenario.StepInstructions != "" {
			b.WriteString("\n\nCurrent step instructions: ")
			b.WriteString(req.Scenario.StepInstructions)
		}
		if req.Scenario.Notes != "" {
			b.WriteString("\n\nOperator notes: ")
			b.WriteString(req.Scenario.Notes)
		}
	}

	return b.String()
}

// confidenceFooter matches the trailing self-assessment line the model is
// instructed to emit.
var confidenceFooter = regexp.MustCompile(`(?i)\s*confidence:\s*([0-9]*\.?[0-9]+)\s*$`)

// parseDraft interprets raw model output: an escalation marker prefix
// hands the conversation to a human, and the trailing confidence footer
// is parsed and stripped. A missing footer scores the configured default
// so marker-only models keep working.
func parseDraft(content, marker string, defaultConfidence float64) DraftResult {
	text := strings.TrimSpace(content)

	result := DraftResult{Confidence: defaultConfidence}

	if m := confidenceFooter.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
			result.Confidence = v
		}
		text = strings.TrimSpace(confidenceFooter.ReplaceAllString(text, ""))
	}

	if marker != "" {
		upper := strings.ToUpper(text)
		if strings.HasPrefix(upper, strings.ToUpper(marker)) {
			result.Escalate = true
			text = strings.TrimSpace(text[len(marker):])
			text = strings.TrimLeft(text, ":,.- \n\t")
		}
	}

	if text == "" {
		result.Escalate = true
	}

	result.ReplyText = text
	return result
}
