// Package anthropicapi translates between the Anthropic Messages wire
// contract and the internal OpenAI-shaped intermediate, so /v1/messages can
// share the same Router/Adapter pipeline as /v1/chat/completions.
package anthropicapi

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/pkg/types"
)

// Request is the inbound Anthropic Messages API request shape.
type Request struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// Message is one turn in an Anthropic-shaped conversation.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ToInternal converts an Anthropic request into the OpenAI-shaped
// intermediate every adapter accepts: the top-level system field (string or
// content-block array) becomes a leading system message, content blocks are
// flattened to their concatenated text, and stop_sequences becomes stop.
func (r *Request) ToInternal() (*types.ChatRequest, error) {
	req := &types.ChatRequest{
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stream:      r.Stream,
	}
	if len(r.StopSequences) > 0 {
		req.Stop = r.StopSequences
	}

	if len(r.System) > 0 {
		systemText, err := flattenContent(r.System)
		if err != nil {
			return nil, fmt.Errorf("invalid system field: %w", err)
		}
		if systemText != "" {
			req.Messages = append(req.Messages, types.ChatMessage{
				Role:    "system",
				Content: json.RawMessage(mustMarshalString(systemText)),
			})
		}
	}

	for _, msg := range r.Messages {
		text, err := flattenContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("invalid content for role %q: %w", msg.Role, err)
		}
		req.Messages = append(req.Messages, types.ChatMessage{
			Role:    msg.Role,
			Content: json.RawMessage(mustMarshalString(text)),
		})
	}

	return req, nil
}

// flattenContent accepts either a plain string or an array of
// {type:"text", text:"..."} blocks and returns the concatenated text.
func flattenContent(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []map[string]any
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("content must be a string or an array of content blocks")
	}

	var parts []string
	for _, block := range blocks {
		if block["type"] != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, ""), nil
}

func mustMarshalString(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}
