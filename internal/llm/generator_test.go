package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantText       string
		wantConfidence float64
		wantEscalate   bool
	}{
		{
			name:           "plain reply with footer",
			content:        "Your package ships tomorrow.\nConfidence: 0.95",
			wantText:       "Your package ships tomorrow.",
			wantConfidence: 0.95,
		},
		{
			name:           "missing footer uses default",
			content:        "Your package ships tomorrow.",
			wantText:       "Your package ships tomorrow.",
			wantConfidence: 1.0,
		},
		{
			name:           "marker prefix escalates",
			content:        "MANAGER: the customer is asking for a refund beyond policy.\nConfidence: 0.9",
			wantText:       "the customer is asking for a refund beyond policy.",
			wantConfidence: 0.9,
			wantEscalate:   true,
		},
		{
			name:           "marker is case-insensitive",
			content:        "manager I cannot verify this order number.",
			wantText:       "I cannot verify this order number.",
			wantConfidence: 1.0,
			wantEscalate:   true,
		},
		{
			name:           "empty content escalates",
			content:        "   ",
			wantText:       "",
			wantConfidence: 1.0,
			wantEscalate:   true,
		},
		{
			name:           "footer only escalates",
			content:        "Confidence: 0.2",
			wantText:       "",
			wantConfidence: 0.2,
			wantEscalate:   true,
		},
		{
			name:           "out of range footer ignored",
			content:        "Sure, done.\nConfidence: 7.5",
			wantText:       "Sure, done.",
			wantConfidence: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDraft(tt.content, "MANAGER", 1.0)

			assert.Equal(t, tt.wantText, got.ReplyText)
			assert.InDelta(t, tt.wantConfidence, got.Confidence, 0.0001)
			assert.Equal(t, tt.wantEscalate, got.Escalate)
		})
	}
}

func TestBuildMessagesWindowAndRoles(t *testing.T) {
	g := NewGenerator(model.LLMConfig{
		Model:            "test",
		ConfidenceMarker: "MANAGER",
		ContextWindow:    2,
	}, testLogger())

	req := Request{
		Language: "en",
		History: []Turn{
			{Sender: model.SenderClient, Content: "old question"},
			{Sender: model.SenderAssistant, Content: "old answer"},
			{Sender: model.SenderClient, Content: "new question"},
		},
	}

	messages := g.buildMessages(req)

	// System prompt plus the two newest turns.
	require.Len(t, messages, 3)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "Reply in English.")
	assert.Contains(t, messages[0].Content, "MANAGER")
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "old answer", messages[1].Content)
	assert.Equal(t, "user", messages[2].Role)
	assert.Equal(t, "new question", messages[2].Content)
}

func TestBuildMessagesScenarioContext(t *testing.T) {
	g := NewGenerator(model.LLMConfig{Model: "test"}, testLogger())

	req := Request{
		Scenario: &ScenarioContext{
			Preamble:         "You are handling a warranty claim.",
			StepInstructions: "Ask for the order number.",
			Notes:            "Customer already provided a photo.",
		},
	}

	messages := g.buildMessages(req)

	require.NotEmpty(t, messages)
	system := messages[0].Content
	assert.Contains(t, system, "warranty claim")
	assert.Contains(t, system, "Ask for the order number.")
	assert.Contains(t, system, "already provided a photo")
}

func TestGenerateAgainstCompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		resp := map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": "Your order ships tomorrow.\nConfidence: 0.9",
				},
				"finish_reason": "stop",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := NewGenerator(model.LLMConfig{
		BaseURL:           srv.URL + "/v1",
		APIKey:            "test-key",
		Model:             "test",
		ConfidenceMarker:  "MANAGER",
		DefaultConfidence: 1.0,
		TimeoutSec:        5,
	}, testLogger())

	result, err := g.Generate(context.Background(), Request{
		History: []Turn{{Sender: model.SenderClient, Content: "Where is my package?"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Your order ships tomorrow.", result.ReplyText)
	assert.InDelta(t, 0.9, result.Confidence, 0.0001)
	assert.False(t, result.Escalate)
}

func TestGenerateUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGenerator(model.LLMConfig{
		BaseURL:    srv.URL + "/v1",
		APIKey:     "test-key",
		Model:      "test",
		TimeoutSec: 5,
	}, testLogger())

	_, err := g.Generate(context.Background(), Request{})

	require.Error(t, err)
	assert.True(t, IsGenerationUnavailable(err))
}
