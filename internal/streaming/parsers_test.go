package streaming

import (
	"testing"

	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/internal/provider/anthropic"
	"github.com/blueberrycongee/llmux/internal/provider/google"
	"github.com/blueberrycongee/llmux/internal/provider/openai"
)

func mustProvider(t *testing.T, factory provider.ProviderFactory) provider.Provider {
	t.Helper()
	p, err := factory(provider.ProviderConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("construct provider: %v", err)
	}
	return p
}

func TestGetParser_OpenAI(t *testing.T) {
	p := mustProvider(t, openai.New)
	parser := GetParser(p, "gpt-5")

	chunk, err := parser.ParseChunk([]byte(`data: {"id":"chatcmpl-123","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hello"}}]}`))
	if err != nil {
		t.Fatalf("ParseChunk() error = %v", err)
	}
	if chunk == nil || chunk.Choices[0].Delta.Content != "Hello" {
		t.Errorf("ParseChunk() = %+v, want content Hello", chunk)
	}
	if chunk.Model != "gpt-5" {
		t.Errorf("chunk.Model = %q, want gpt-5 (requested model, not vendor model)", chunk.Model)
	}
}

func TestGetParser_OpenAI_Done(t *testing.T) {
	p := mustProvider(t, openai.New)
	parser := GetParser(p, "gpt-5")

	chunk, err := parser.ParseChunk([]byte("data: [DONE]"))
	if err != nil {
		t.Fatalf("ParseChunk() error = %v", err)
	}
	if chunk != nil {
		t.Errorf("ParseChunk() = %+v, want nil for [DONE]", chunk)
	}
}

func TestGetParser_Anthropic(t *testing.T) {
	p := mustProvider(t, anthropic.New)
	parser := GetParser(p, "claude-opus-4-6")

	chunk, err := parser.ParseChunk([]byte(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`))
	if err != nil {
		t.Fatalf("ParseChunk() error = %v", err)
	}
	if chunk == nil || chunk.Choices[0].Delta.Content != "Hi" {
		t.Errorf("ParseChunk() = %+v, want content Hi", chunk)
	}
}

func TestGetParser_Anthropic_SwallowsMessageStop(t *testing.T) {
	p := mustProvider(t, anthropic.New)
	parser := GetParser(p, "claude-opus-4-6")

	chunk, err := parser.ParseChunk([]byte(`data: {"type":"message_stop"}`))
	if err != nil {
		t.Fatalf("ParseChunk() error = %v", err)
	}
	if chunk != nil {
		t.Errorf("ParseChunk() = %+v, want nil for message_stop", chunk)
	}
}

func TestGetParser_Google(t *testing.T) {
	p := mustProvider(t, google.New)
	parser := GetParser(p, "gemini-2.5-pro")

	chunk, err := parser.ParseChunk([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`))
	if err != nil {
		t.Fatalf("ParseChunk() error = %v", err)
	}
	if chunk == nil || chunk.Choices[0].Delta.Content != "Hello" {
		t.Errorf("ParseChunk() = %+v, want content Hello", chunk)
	}
}
