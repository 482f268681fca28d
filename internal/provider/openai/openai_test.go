package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/pkg/types"
)

func TestNew(t *testing.T) {
	t.Run("with default base URL", func(t *testing.T) {
		p, err := New(provider.ProviderConfig{APIKey: "test-key"})
		require.NoError(t, err)
		assert.Equal(t, ProviderName, p.Name())
	})

	t.Run("with custom base URL trims trailing slash", func(t *testing.T) {
		p, err := New(provider.ProviderConfig{APIKey: "test-key", BaseURL: "https://custom.api.com/v1/"})
		require.NoError(t, err)
		assert.Equal(t, "https://custom.api.com/v1", p.(*Provider).baseURL)
	})
}

func TestProvider_BuildChatRequest(t *testing.T) {
	p, _ := New(provider.ProviderConfig{APIKey: "test-api-key", BaseURL: "https://api.openai.com/v1"})

	req := &types.ChatRequest{
		Model:    "gpt-4o",
		Messages: []types.ChatMessage{{Role: "user", Content: json.RawMessage(`"Hello"`)}},
	}

	httpReq, err := p.BuildChatRequest(context.Background(), req, "gpt-4o-2024-08-06")
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", httpReq.URL.String())
	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t, "application/json", httpReq.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer test-api-key", httpReq.Header.Get("Authorization"))

	// Request object passed in must not be mutated by BuildChatRequest.
	assert.Equal(t, "gpt-4o", req.Model)

	body, _ := io.ReadAll(httpReq.Body)
	var sent types.ChatRequest
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "gpt-4o-2024-08-06", sent.Model)
}

func TestProvider_ParseChatResponse(t *testing.T) {
	p, _ := New(provider.ProviderConfig{APIKey: "test-key"})

	body := `{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"created": 1677652288,
		"model": "gpt-4o-2024-08-06",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`

	resp := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body))}

	chatResp, err := p.ParseChatResponse(resp, "gpt-4o")
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-123", chatResp.ID)
	assert.Equal(t, "gpt-4o", chatResp.Model, "response model must be re-stamped to the requested name")
	require.Len(t, chatResp.Choices, 1)
	require.NotNil(t, chatResp.Usage)
	assert.Equal(t, 15, chatResp.Usage.TotalTokens)
}

func TestProvider_ParseStreamChunk(t *testing.T) {
	p, _ := New(provider.ProviderConfig{APIKey: "test-key"})

	tests := []struct {
		name    string
		data    []byte
		wantNil bool
		wantErr bool
	}{
		{name: "empty line", data: []byte(""), wantNil: true},
		{name: "DONE marker", data: []byte("[DONE]"), wantNil: true},
		{name: "data prefix with DONE", data: []byte("data: [DONE]"), wantNil: true},
		{name: "valid chunk", data: []byte(`data: {"id":"123","object":"chat.completion.chunk","choices":[{"delta":{"content":"Hi"}}]}`)},
		{name: "invalid json", data: []byte(`data: {invalid`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := p.ParseStreamChunk(tt.data, "gpt-4o")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, chunk)
			} else {
				require.NotNil(t, chunk)
				assert.Equal(t, "gpt-4o", chunk.Model)
			}
		})
	}
}

func TestProvider_Integration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-test", "object": "chat.completion", "created": 1234567890,
			"model": "gpt-4o-2024-08-06",
			"choices": []map[string]any{{
				"index": 0, "message": map[string]any{"role": "assistant", "content": "Hello from mock!"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer server.Close()

	p, err := New(provider.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	req := &types.ChatRequest{Model: "gpt-4o", Messages: []types.ChatMessage{{Role: "user", Content: json.RawMessage(`"Hello"`)}}}

	httpReq, err := p.BuildChatRequest(context.Background(), req, "gpt-4o-2024-08-06")
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	chatResp, err := p.ParseChatResponse(resp, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-test", chatResp.ID)
}
