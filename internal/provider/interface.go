// Package provider defines the interface vendor adapters implement and a
// small registry for looking them up by name. Each adapter translates the
// internal OpenAI-shaped intermediate to and from one vendor's native wire
// format; the Router owns one instance of each registered adapter.
package provider

import (
	"context"
	"net/http"

	"github.com/blueberrycongee/llmux/pkg/types"
)

// Provider is the common capability set every vendor adapter implements.
// vendorModel is always the name the adapter should put on the wire;
// requestedModel (passed to the Parse* methods) is always the name the
// client sees in the response, regardless of which vendor actually served
// the request.
type Provider interface {
	// Name returns the vendor identifier ("openai", "anthropic", "google").
	Name() string

	SupportsEmbedding() bool
	SupportsImages() bool

	// BuildChatRequest translates a NormalizedChatRequest into an HTTP
	// request against this vendor's native chat endpoint.
	BuildChatRequest(ctx context.Context, req *types.ChatRequest, vendorModel string) (*http.Request, error)

	// ParseChatResponse translates a successful vendor response back into
	// the OpenAI-shaped intermediate, stamping requestedModel on it.
	ParseChatResponse(resp *http.Response, requestedModel string) (*types.ChatResponse, error)

	// ParseStreamChunk rewrites one upstream SSE line into at most one
	// OpenAI-shaped stream chunk. A nil chunk with a nil error means the
	// line carried no client-visible content (keep-alive, wrapper event).
	ParseStreamChunk(data []byte, requestedModel string) (*types.StreamChunk, error)

	BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest, vendorModel string) (*http.Request, error)
	ParseEmbeddingResponse(resp *http.Response, requestedModel string) (*types.EmbeddingResponse, error)

	BuildImageRequest(ctx context.Context, req *types.ImageRequest, vendorModel string) (*http.Request, error)
	ParseImageResponse(resp *http.Response, originalPrompt string) (*types.ImageResponse, error)
}

// ProviderFactory creates a Provider instance from configuration.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

// ProviderConfig is the static configuration a factory needs to construct
// an adapter. One ProviderConfig exists per configured vendor API key.
type ProviderConfig struct {
	Name       string
	APIKey     string
	BaseURL    string
	TimeoutSec int
}
