package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/internal/anthropicapi"
	"github.com/blueberrycongee/llmux/internal/catalog"
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/pkg/types"
)

// Drain implements queue.DrainFunc. It is invoked once a queued job reaches
// the front of the line; capability is the tag Enqueue was called with, used
// here to reconstruct the right request type from the persisted body and to
// re-render the response in the shape that entry point promises its caller.
func (h *Handler) Drain(ctx context.Context, capability, requestedModel string, body []byte) ([]byte, error) {
	switch capability {
	case "chat":
		return h.drainChat(ctx, body)
	case "anthropic_chat":
		return h.drainAnthropicChat(ctx, body)
	case "images":
		return h.drainImages(ctx, body)
	case "embeddings":
		return h.drainEmbeddings(ctx, body)
	default:
		return nil, fmt.Errorf("unknown queue capability tag %q", capability)
	}
}

func (h *Handler) attemptChat(ctx context.Context, body []byte) (*types.ChatResponse, string, error) {
	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", err
	}

	capability := h.router.Catalog().CapabilityForModel(req.Model)
	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildChatRequest(ctx, &req, vendorModel)
	}

	result, err := h.router.Attempt(ctx, req.Model, capability, build)
	if err != nil {
		return nil, "", err
	}
	defer result.Response.Body.Close()

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	chatResp, err := prov.ParseChatResponse(result.Response, result.RequestedModel)
	if err != nil {
		return nil, "", err
	}
	return chatResp, result.RequestedModel, nil
}

func (h *Handler) drainChat(ctx context.Context, body []byte) ([]byte, error) {
	chatResp, _, err := h.attemptChat(ctx, body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(chatResp)
}

func (h *Handler) drainAnthropicChat(ctx context.Context, body []byte) ([]byte, error) {
	chatResp, requestedModel, err := h.attemptChat(ctx, body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(anthropicapi.FromInternal(chatResp, requestedModel))
}

func (h *Handler) drainImages(ctx context.Context, body []byte) ([]byte, error) {
	var req types.ImageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildImageRequest(ctx, &req, vendorModel)
	}

	result, err := h.router.Attempt(ctx, req.Model, catalog.CapabilityImages, build)
	if err != nil {
		return nil, err
	}
	defer result.Response.Body.Close()

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	imgResp, err := prov.ParseImageResponse(result.Response, req.Prompt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(imgResp)
}

func (h *Handler) drainEmbeddings(ctx context.Context, body []byte) ([]byte, error) {
	var req types.EmbeddingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildEmbeddingRequest(ctx, &req, vendorModel)
	}

	result, err := h.router.Attempt(ctx, req.Model, catalog.CapabilityEmbeddings, build)
	if err != nil {
		return nil, err
	}
	defer result.Response.Body.Close()

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	embResp, err := prov.ParseEmbeddingResponse(result.Response, result.RequestedModel)
	if err != nil {
		return nil, err
	}
	return json.Marshal(embResp)
}
