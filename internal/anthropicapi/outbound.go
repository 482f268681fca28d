package anthropicapi

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/pkg/types"
)

// Response is the outbound Anthropic Messages API response shape for a
// unary (non-streaming) reply.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock is one block of an Anthropic message's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage mirrors Anthropic's input/output token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FromInternal builds a unary Anthropic response from the internal
// OpenAI-shaped ChatResponse, stamping requestedModel as the model name so
// the client's naming stays stable regardless of which vendor served it.
func FromInternal(resp *types.ChatResponse, requestedModel string) *Response {
	id := resp.ID
	if id == "" {
		id = mintMessageID()
	}

	var text string
	var finishReason string
	if len(resp.Choices) > 0 {
		text = extractText(resp.Choices[0].Message.Content)
		finishReason = resp.Choices[0].FinishReason
	}

	out := &Response{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Content:    []ContentBlock{{Type: "text", Text: text}},
		Model:      requestedModel,
		StopReason: mapFinishReasonToAnthropic(finishReason),
	}
	if resp.Usage != nil {
		out.Usage = Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}
	return out
}

func extractText(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err != nil {
		return string(content)
	}
	return s
}

// mapFinishReasonToAnthropic implements the OpenAI -> Anthropic stop_reason
// mapping: stop/length/content_filter map explicitly, anything else
// (including empty, meaning still-in-progress or unknown) defaults to
// end_turn.
func mapFinishReasonToAnthropic(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "content_filter":
		return "stop_sequence"
	case "stop":
		return "end_turn"
	default:
		return "end_turn"
	}
}

func mintMessageID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "msg_" + hex.EncodeToString(buf)
}
