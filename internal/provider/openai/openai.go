// Package openai implements the OpenAI vendor adapter. The wire format is
// already OpenAI-shaped, so this adapter is close to a pass-through and
// serves as the reference implementation the other adapters are built
// against.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/pkg/types"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements the OpenAI API adapter.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI provider instance.
func New(cfg provider.ProviderConfig) (provider.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{},
	}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsEmbedding() bool { return true }
func (p *Provider) SupportsImages() bool    { return false }

// BuildChatRequest overwrites the model field with vendorModel and otherwise
// forwards the request body unchanged.
func (p *Provider) BuildChatRequest(ctx context.Context, req *types.ChatRequest, vendorModel string) (*http.Request, error) {
	original := req.Model
	req.Model = vendorModel
	body, err := json.Marshal(req)
	req.Model = original
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	return httpReq, nil
}

// ParseChatResponse decodes the OpenAI body and re-stamps the client's
// requested model name so fallback is invisible downstream.
func (p *Provider) ParseChatResponse(resp *http.Response, requestedModel string) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	chatResp.Model = requestedModel
	return &chatResp, nil
}

// ParseStreamChunk relays OpenAI SSE lines unchanged apart from the model
// field, since upstream chunks already match the wire shape.
func (p *Provider) ParseStreamChunk(data []byte, requestedModel string) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		trimmed = bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte("data:")))
	}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}

	var chunk types.StreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	chunk.Model = requestedModel
	return &chunk, nil
}

func (p *Provider) BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest, vendorModel string) (*http.Request, error) {
	original := req.Model
	req.Model = vendorModel
	body, err := json.Marshal(req)
	req.Model = original
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	return httpReq, nil
}

func (p *Provider) ParseEmbeddingResponse(resp *http.Response, requestedModel string) (*types.EmbeddingResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var embResp types.EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	embResp.Model = requestedModel
	return &embResp, nil
}

func (p *Provider) BuildImageRequest(ctx context.Context, req *types.ImageRequest, vendorModel string) (*http.Request, error) {
	return nil, fmt.Errorf("openai adapter does not implement image generation")
}

func (p *Provider) ParseImageResponse(resp *http.Response, originalPrompt string) (*types.ImageResponse, error) {
	return nil, fmt.Errorf("openai adapter does not implement image generation")
}
