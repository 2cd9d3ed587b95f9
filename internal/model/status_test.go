package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	open := []ConversationStatus{StatusAwaitingResponse, StatusAnsweredByLLM, StatusNeedsHuman}
	all := append([]ConversationStatus{}, open...)
	all = append(all, StatusClosed)

	// Every open status may move to any status, including itself.
	for _, from := range open {
		for _, to := range all {
			assert.True(t, CanTransition(from, to), "%s -> %s should be allowed", from, to)
		}
	}

	// Closed is terminal: no exits, not even closed -> closed.
	for _, to := range all {
		assert.False(t, CanTransition(StatusClosed, to), "closed -> %s should be rejected", to)
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	assert.False(t, CanTransition(ConversationStatus("bogus"), StatusClosed))
	assert.False(t, CanTransition(StatusAwaitingResponse, ConversationStatus("bogus")))
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		ConversationID: "c-1",
		From:           StatusClosed,
		To:             StatusAnsweredByLLM,
	}

	assert.Contains(t, err.Error(), "closed")
	assert.Contains(t, err.Error(), "answered_by_llm")
	assert.True(t, IsInvalidTransition(err))

	wrapped := fmt.Errorf("updating conversation: %w", err)
	assert.True(t, IsInvalidTransition(wrapped))

	assert.False(t, IsInvalidTransition(fmt.Errorf("some other error")))
	assert.False(t, IsInvalidTransition(nil))
}

func TestParseOutboundMode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    OutboundMode
		wantErr bool
	}{
		{name: "approve_ai", raw: "approve_ai", want: ModeApproveAI},
		{name: "manual", raw: "manual", want: ModeManual},
		{name: "unknown", raw: "yolo", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "case sensitive", raw: "Manual", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOutboundMode(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
