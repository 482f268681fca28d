package anthropicapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/pkg/types"
)

func TestFromInternal_BuildsUnaryEnvelope(t *testing.T) {
	resp := &types.ChatResponse{
		ID: "chatcmpl-abc",
		Choices: []types.Choice{
			{Message: types.ChatMessage{Role: "assistant", Content: json.RawMessage(`"hello there"`)}, FinishReason: "stop"},
		},
		Usage: &types.Usage{PromptTokens: 10, CompletionTokens: 5},
	}

	out := FromInternal(resp, "claude-opus-4-6")

	assert.Equal(t, "chatcmpl-abc", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, "claude-opus-4-6", out.Model)
	assert.Equal(t, "end_turn", out.StopReason)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "hello there", out.Content[0].Text)
	assert.Equal(t, 10, out.Usage.InputTokens)
	assert.Equal(t, 5, out.Usage.OutputTokens)
}

func TestFromInternal_MintsIDWhenMissing(t *testing.T) {
	resp := &types.ChatResponse{Choices: []types.Choice{{Message: types.ChatMessage{Content: json.RawMessage(`"hi"`)}}}}
	out := FromInternal(resp, "claude-opus-4-6")
	assert.True(t, strings.HasPrefix(out.ID, "msg_"))
}

func TestMapFinishReasonToAnthropic(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"content_filter", "stop_sequence"},
		{"tool_calls", "end_turn"},
		{"", "end_turn"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapFinishReasonToAnthropic(tt.reason), "reason=%q", tt.reason)
	}
}
