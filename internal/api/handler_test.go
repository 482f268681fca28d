package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmux/internal/breaker"
	"github.com/blueberrycongee/llmux/internal/catalog"
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/internal/queue"
	"github.com/blueberrycongee/llmux/internal/ratelimit"
	"github.com/blueberrycongee/llmux/internal/router"
	"github.com/blueberrycongee/llmux/pkg/types"
)

// fakeProvider answers every request type with a fixed status code, letting
// tests drive both the success and all-vendors-fail paths without a real
// upstream.
type fakeProvider struct {
	name    string
	baseURL string
	status  int
}

func (p *fakeProvider) Name() string           { return p.name }
func (p *fakeProvider) SupportsEmbedding() bool { return true }
func (p *fakeProvider) SupportsImages() bool    { return true }

func (p *fakeProvider) BuildChatRequest(ctx context.Context, req *types.ChatRequest, vendorModel string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat", nil)
}
func (p *fakeProvider) ParseChatResponse(resp *http.Response, requestedModel string) (*types.ChatResponse, error) {
	return &types.ChatResponse{ID: "resp_1", Model: requestedModel, Choices: []types.Choice{{
		Message: types.ChatMessage{Role: "assistant", Content: json.RawMessage(`"hello"`)}, FinishReason: "stop",
	}}}, nil
}
func (p *fakeProvider) ParseStreamChunk(data []byte, requestedModel string) (*types.StreamChunk, error) {
	return nil, nil
}
func (p *fakeProvider) BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest, vendorModel string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", nil)
}
func (p *fakeProvider) ParseEmbeddingResponse(resp *http.Response, requestedModel string) (*types.EmbeddingResponse, error) {
	return &types.EmbeddingResponse{Object: "list", Model: requestedModel, Data: []types.EmbeddingObject{{Object: "embedding", Embedding: []float64{0.1, 0.2}}}}, nil
}
func (p *fakeProvider) BuildImageRequest(ctx context.Context, req *types.ImageRequest, vendorModel string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/images", nil)
}
func (p *fakeProvider) ParseImageResponse(resp *http.Response, originalPrompt string) (*types.ImageResponse, error) {
	return &types.ImageResponse{Data: []types.ImageObject{{URL: "https://example.invalid/generated.png"}}}, nil
}

func newTestHandler(t *testing.T, status int) *Handler {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(upstream.Close)

	reg := provider.NewRegistry()
	reg.RegisterFactory("openai", func(cfg provider.ProviderConfig) (provider.Provider, error) {
		return &fakeProvider{name: "openai", baseURL: upstream.URL, status: status}, nil
	})
	_, err := reg.CreateProvider(provider.ProviderConfig{Name: "openai"})
	require.NoError(t, err)

	cat := catalog.New([]catalog.ModelMapping{
		{Capability: catalog.CapabilityChat, OpenAIName: "gpt-5"},
		{Capability: catalog.CapabilityImages, OpenAIName: "dall-e-3"},
		{Capability: catalog.CapabilityEmbeddings, OpenAIName: "text-embedding-3-large"},
	})
	br := breaker.New(5, 50*time.Millisecond)
	tr := ratelimit.New(5)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := router.New(cat, br, tr, reg, []string{"openai"}, logger)

	q := queue.New(10, 200*time.Millisecond, 10*time.Millisecond, logger)
	h := NewHandler(rt, q, logger, "test")
	q.SetDrainFunc(h.Drain)
	return h
}

func TestChatCompletions_Success(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	body := `{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gpt-5", resp.Model)
	assert.Equal(t, "openai", w.Header().Get("x-ai-router-provider"))
}

func TestChatCompletions_MissingModelReturns400(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	w := httptest.NewRecorder()

	h.ChatCompletions(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletions_ExhaustedChainEnqueuesAsyncJob(t *testing.T) {
	// 429 with no Retry-After defaults to a 60s cooldown, comfortably past
	// the queue's async threshold, so the exhausted chain hands back a job
	// id instead of blocking inline.
	h := newTestHandler(t, http.StatusTooManyRequests)

	body := `{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ChatCompletions(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "pending", payload["status"])
	assert.NotEmpty(t, payload["id"])
}

func TestMessages_Success(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	body := `{"model":"gpt-5","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Messages(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "message", payload["type"])
}

func TestMessages_MissingMessagesReturnsAnthropicError(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"gpt-5"}`))
	w := httptest.NewRecorder()

	h.Messages(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "error", payload["type"])
}

func TestImageGenerations_Success(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(`{"model":"dall-e-3","prompt":"a cat"}`))
	w := httptest.NewRecorder()

	h.ImageGenerations(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.ImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
}

func TestImageGenerations_EmptyPromptReturns400(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(`{"model":"dall-e-3","prompt":""}`))
	w := httptest.NewRecorder()

	h.ImageGenerations(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmbeddings_Success(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"model":"text-embedding-3-large","input":"hello"}`))
	w := httptest.NewRecorder()

	h.Embeddings(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.EmbeddingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
}

func TestEmbeddings_NilInputReturns400(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"model":"text-embedding-3-large"}`))
	w := httptest.NewRecorder()

	h.Embeddings(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth_ReturnsOK(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestProvidersStatus_ReturnsSnapshotShape(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/status", nil)
	w := httptest.NewRecorder()

	h.ProvidersStatus(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Contains(t, payload, "breakers")
	assert.Contains(t, payload, "trackers")
	assert.Contains(t, payload, "queue_size")
}

func TestQueuePoll_NotFoundReturns404(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/does-not-exist", nil)
	w := httptest.NewRecorder()

	h.QueuePoll(w, req, "does-not-exist")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDrain_ChatCapabilityReconstructsAndSucceeds(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	body, err := json.Marshal(types.ChatRequest{Model: "gpt-5", Messages: []types.ChatMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}}})
	require.NoError(t, err)

	result, err := h.Drain(context.Background(), "chat", "gpt-5", body)
	require.NoError(t, err)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(result, &resp))
	assert.Equal(t, "gpt-5", resp.Model)
}

func TestDrain_UnknownCapabilityReturnsError(t *testing.T) {
	h := newTestHandler(t, http.StatusOK)

	_, err := h.Drain(context.Background(), "unknown-tag", "gpt-5", []byte(`{}`))
	require.Error(t, err)
}
