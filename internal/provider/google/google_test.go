package google

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/pkg/types"
)

func TestNew(t *testing.T) {
	p, err := New(provider.ProviderConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
}

func TestProvider_BuildChatRequest(t *testing.T) {
	p, _ := New(provider.ProviderConfig{APIKey: "test-api-key", BaseURL: "https://generativelanguage.googleapis.com"})

	req := &types.ChatRequest{
		Model:    "gemini-2.5-pro",
		Messages: []types.ChatMessage{{Role: "user", Content: json.RawMessage(`"Hello"`)}},
	}

	t.Run("unary generateContent when not streaming", func(t *testing.T) {
		httpReq, err := p.BuildChatRequest(context.Background(), req, "gemini-2.5-pro-latest")
		require.NoError(t, err)
		assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro-latest:generateContent", httpReq.URL.String())
		assert.Equal(t, "test-api-key", httpReq.Header.Get("x-goog-api-key"))
	})

	t.Run("streamGenerateContent with alt=sse when streaming", func(t *testing.T) {
		streamReq := &types.ChatRequest{
			Model:    "gemini-2.5-pro",
			Stream:   true,
			Messages: []types.ChatMessage{{Role: "user", Content: json.RawMessage(`"Hello"`)}},
		}
		httpReq, err := p.BuildChatRequest(context.Background(), streamReq, "gemini-2.5-pro-latest")
		require.NoError(t, err)
		assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro-latest:streamGenerateContent?alt=sse", httpReq.URL.String())
	})
}

func TestProvider_TransformMessages(t *testing.T) {
	p := &Provider{}

	t.Run("concatenates system messages and maps assistant to model", func(t *testing.T) {
		messages := []types.ChatMessage{
			{Role: "system", Content: json.RawMessage(`"You are helpful"`)},
			{Role: "system", Content: json.RawMessage(`"Be concise"`)},
			{Role: "user", Content: json.RawMessage(`"Hi"`)},
			{Role: "assistant", Content: json.RawMessage(`"Hello there"`)},
		}

		contents, system, err := p.transformMessages(messages)
		require.NoError(t, err)
		require.NotNil(t, system)
		assert.Equal(t, "You are helpful\n\nBe concise", system.Parts[0].Text)
		require.Len(t, contents, 2)
		assert.Equal(t, "user", contents[0].Role)
		assert.Equal(t, "model", contents[1].Role)
	})
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"STOP", "stop"},
		{"MAX_TOKENS", "length"},
		{"SAFETY", "content_filter"},
		{"RECITATION", "content_filter"},
		{"OTHER", "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, mapFinishReason(tt.input))
		})
	}
}

func TestProvider_ParseChatResponse(t *testing.T) {
	p := &Provider{}

	body := `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "Hi there"}]}, "finishReason": "STOP", "index": 0}],
		"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 2, "totalTokenCount": 5}
	}`
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(body))}

	chatResp, err := p.ParseChatResponse(resp, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", chatResp.Model)
	require.Len(t, chatResp.Choices, 1)
	assert.Equal(t, "stop", chatResp.Choices[0].FinishReason)
	assert.Equal(t, 5, chatResp.Usage.TotalTokens)
}

func TestProvider_ParseStreamChunk(t *testing.T) {
	p := &Provider{}

	t.Run("one whole candidate object per line", func(t *testing.T) {
		line := []byte(`data: {"candidates": [{"content": {"parts": [{"text": "Hello"}]}, "finishReason": ""}]}`)
		chunk, err := p.ParseStreamChunk(line, "gemini-2.5-pro")
		require.NoError(t, err)
		require.NotNil(t, chunk)
		assert.Equal(t, "Hello", chunk.Choices[0].Delta.Content)
		assert.Equal(t, "gemini-2.5-pro", chunk.Model)
	})

	t.Run("empty line yields no chunk", func(t *testing.T) {
		chunk, err := p.ParseStreamChunk([]byte(""), "gemini-2.5-pro")
		require.NoError(t, err)
		assert.Nil(t, chunk)
	})
}

func TestProvider_Imagen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":predict")
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{{"bytesBase64Encoded": "ZmFrZWJ5dGVz"}},
		})
	}))
	defer server.Close()

	p, _ := New(provider.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	req := &types.ImageRequest{Prompt: "a red bicycle", N: 1}
	httpReq, err := p.BuildImageRequest(context.Background(), req, "imagen-3.0-generate-001")
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	imgResp, err := p.ParseImageResponse(resp, "a red bicycle")
	require.NoError(t, err)
	require.Len(t, imgResp.Data, 1)
	assert.Equal(t, "ZmFrZWJ5dGVz", imgResp.Data[0].B64JSON)
	assert.Equal(t, "a red bicycle", imgResp.Data[0].RevisedPrompt)
}
