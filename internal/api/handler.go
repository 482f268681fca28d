// Package api implements the HTTP surface: OpenAI-compatible chat/image/
// embedding entries, the Anthropic-native /v1/messages entry, and the
// operational endpoints (health, providers status, queue polling).
// Handlers validate minimally and delegate everything else to the Router
// and Queue.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/internal/metrics"
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/internal/queue"
	"github.com/blueberrycongee/llmux/internal/router"
	"github.com/blueberrycongee/llmux/internal/streaming"
	llmerrors "github.com/blueberrycongee/llmux/pkg/errors"
	"github.com/blueberrycongee/llmux/pkg/types"
)

// Handler wires the fallback Router and the deferred-retry Queue to the
// HTTP surface. One Handler instance is shared across all requests.
type Handler struct {
	router  *router.Router
	queue   *queue.Queue
	logger  *slog.Logger
	version string
}

// NewHandler constructs a Handler. version is echoed on GET /health.
func NewHandler(rt *router.Router, q *queue.Queue, logger *slog.Logger, version string) *Handler {
	return &Handler{router: rt, queue: q, logger: logger, version: version}
}

// ChatCompletions handles POST /v1/chat/completions: the OpenAI-shaped chat
// entry. A successful attempt is proxied directly; an exhausted chain is
// hand off to the Queue for sync or async retry.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Header.Get("x-request-id"))
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "failed to read request body"))
		return
	}

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return
	}
	if req.Model == "" {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "model is required"))
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", req.Model, "messages is required"))
		return
	}

	capability := h.router.Catalog().CapabilityForModel(req.Model)

	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildChatRequest(r.Context(), &req, vendorModel)
	}

	result, err := h.router.Attempt(r.Context(), req.Model, capability, build)
	if err != nil {
		h.handleAttemptError(w, r, reqID, err, "chat", req.Model, body, start)
		return
	}
	defer result.Response.Body.Close()

	h.applyRoutedHeaders(w, reqID, result)

	if req.Stream {
		h.streamChat(w, r.Context(), result, reqID, start)
		return
	}

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	chatResp, err := prov.ParseChatResponse(result.Response, result.RequestedModel)
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInternalError(result.Vendor, req.Model, "failed to parse response: "+err.Error()))
		return
	}

	metrics.RecordRequest(result.Vendor, result.RequestedModel, http.StatusOK, time.Since(start))
	h.writeJSON(w, http.StatusOK, chatResp)
}

func (h *Handler) streamChat(w http.ResponseWriter, ctx context.Context, result *router.Result, reqID string, start time.Time) {
	prov, _ := h.router.Registry().GetProvider(result.Vendor)

	forwarder, err := streaming.NewForwarder(streaming.ForwarderConfig{
		Upstream:   result.Response.Body,
		Downstream: w,
		Parser:     streaming.GetParser(prov, result.RequestedModel),
		ClientCtx:  ctx,
	})
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInternalError(result.Vendor, result.RequestedModel, "streaming not supported"))
		return
	}

	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := forwarder.Forward(); err != nil {
		h.logger.Warn("stream forwarding ended early", "vendor", result.Vendor, "model", result.RequestedModel, "error", err)
	}

	metrics.RecordRequest(result.Vendor, result.RequestedModel, http.StatusOK, time.Since(start))
}

// handleAttemptError is shared by every OpenAI-shaped entry point: a
// client-fatal ProviderError is rendered immediately, while chain
// exhaustion is hand off to the Queue.
func (h *Handler) handleAttemptError(w http.ResponseWriter, r *http.Request, reqID string, err error, capability, requestedModel string, body []byte, start time.Time) {
	var exhausted *router.Exhausted
	if e, ok := err.(*router.Exhausted); ok {
		exhausted = e
		h.enqueueOrReject(w, r, reqID, capability, requestedModel, body, exhausted.EstimatedWaitMs)
		return
	}

	if pe, ok := err.(*llmerrors.ProviderError); ok {
		metrics.RecordRequest(pe.Vendor, requestedModel, pe.Status, time.Since(start))
		h.writeError(w, reqID, llmerrors.FromProviderError(pe, requestedModel))
		return
	}

	if le, ok := err.(*llmerrors.LLMError); ok {
		metrics.RecordRequest(le.Provider, requestedModel, le.HTTPStatusCode(), time.Since(start))
		h.writeError(w, reqID, le)
		return
	}

	h.writeError(w, reqID, llmerrors.NewInternalError("", requestedModel, err.Error()))
}

// enqueueOrReject blocks inline on a short estimated wait or hands back a
// job id for polling on a long one, per the Queue's sync/async split.
func (h *Handler) enqueueOrReject(w http.ResponseWriter, r *http.Request, reqID, capability, requestedModel string, body []byte, estimatedWaitMs int64) {
	res := h.queue.Enqueue(r.Context(), capability, requestedModel, estimatedWaitMs, body)
	if res.Err != nil {
		h.writeError(w, reqID, llmerrors.NewServiceUnavailableError("", requestedModel, res.Err.Error()))
		return
	}

	if res.Sync {
		h.writeRawJSON(w, http.StatusOK, res.Result)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":                res.JobID,
		"object":            "queue.job",
		"status":            "pending",
		"estimated_wait_ms": res.EstimatedWaitMs,
		"poll_url":          "/v1/queue/" + res.JobID,
	})
}

func (h *Handler) applyRoutedHeaders(w http.ResponseWriter, reqID string, result *router.Result) {
	w.Header().Set("x-ai-router-provider", result.Vendor)
	w.Header().Set("x-ai-router-model", result.VendorModel)
	w.Header().Set("x-request-id", reqID)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write json response failed", "error", err)
	}
}

func (h *Handler) writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, reqID string, err *llmerrors.LLMError) {
	w.Header().Set("x-request-id", reqID)
	h.writeJSON(w, err.HTTPStatusCode(), ErrorResponse{
		Error: ErrorDetail{Message: err.Message, Type: err.Type, Code: err.Type},
	})
}

func (h *Handler) writeAnthropicError(w http.ResponseWriter, reqID string, err *llmerrors.LLMError) {
	w.Header().Set("x-request-id", reqID)
	h.writeJSON(w, err.HTTPStatusCode(), AnthropicErrorResponse{
		Type:  "error",
		Error: AnthropicErrorDetail{Type: err.Type, Message: err.Message},
	})
}
