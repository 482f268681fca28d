package api

import (
	"bufio"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/internal/anthropicapi"
	"github.com/blueberrycongee/llmux/internal/metrics"
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/internal/router"
	"github.com/blueberrycongee/llmux/internal/streaming"
	llmerrors "github.com/blueberrycongee/llmux/pkg/errors"
)

// Messages handles POST /v1/messages: the Anthropic-native chat entry.
// Inbound requests are translated to the internal intermediate, dispatched
// through the same Router every other entry uses, and the response is
// translated back to Anthropic's wire shape.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Header.Get("x-request-id"))
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.writeAnthropicError(w, reqID, llmerrors.NewInvalidRequestError("", "", "failed to read request body"))
		return
	}

	var anthReq anthropicapi.Request
	if err := json.Unmarshal(body, &anthReq); err != nil {
		h.writeAnthropicError(w, reqID, llmerrors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return
	}
	if anthReq.Model == "" {
		h.writeAnthropicError(w, reqID, llmerrors.NewInvalidRequestError("", "", "model is required"))
		return
	}
	if len(anthReq.Messages) == 0 {
		h.writeAnthropicError(w, reqID, llmerrors.NewInvalidRequestError("", anthReq.Model, "messages is required"))
		return
	}

	internalReq, err := anthReq.ToInternal()
	if err != nil {
		h.writeAnthropicError(w, reqID, llmerrors.NewInvalidRequestError("", anthReq.Model, err.Error()))
		return
	}

	capability := h.router.Catalog().CapabilityForModel(internalReq.Model)
	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildChatRequest(r.Context(), internalReq, vendorModel)
	}

	result, err := h.router.Attempt(r.Context(), internalReq.Model, capability, build)
	if err != nil {
		h.handleAnthropicAttemptError(w, r, reqID, err, internalReq.Model, body, start)
		return
	}
	defer result.Response.Body.Close()

	h.applyRoutedHeaders(w, reqID, result)

	if anthReq.Stream {
		h.streamMessages(w, result, reqID, start)
		return
	}

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	chatResp, err := prov.ParseChatResponse(result.Response, result.RequestedModel)
	if err != nil {
		h.writeAnthropicError(w, reqID, llmerrors.NewInternalError(result.Vendor, internalReq.Model, "failed to parse response: "+err.Error()))
		return
	}

	metrics.RecordRequest(result.Vendor, result.RequestedModel, http.StatusOK, time.Since(start))
	h.writeJSON(w, http.StatusOK, anthropicapi.FromInternal(chatResp, result.RequestedModel))
}

func (h *Handler) streamMessages(w http.ResponseWriter, result *router.Result, reqID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeAnthropicError(w, reqID, llmerrors.NewInternalError(result.Vendor, result.RequestedModel, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	defer result.Response.Body.Close()

	translator := anthropicapi.NewStreamTranslator(result.RequestedModel)
	writeEvents(w, flusher, translator.Start())

	scanner := bufio.NewScanner(result.Response.Body)
	scanner.Buffer(make([]byte, 4096), streaming.MaxSSELineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		chunk, err := prov.ParseStreamChunk(line, result.RequestedModel)
		if err != nil || chunk == nil {
			continue
		}
		writeEvents(w, flusher, translator.Translate(chunk))
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("anthropic stream scan error", "vendor", result.Vendor, "error", err)
	}

	metrics.RecordRequest(result.Vendor, result.RequestedModel, http.StatusOK, time.Since(start))
}

func writeEvents(w http.ResponseWriter, flusher http.Flusher, events []anthropicapi.Event) {
	for _, e := range events {
		data, err := e.Marshal()
		if err != nil {
			continue
		}
		_, _ = w.Write(data)
	}
	if len(events) > 0 {
		flusher.Flush()
	}
}

func (h *Handler) handleAnthropicAttemptError(w http.ResponseWriter, r *http.Request, reqID string, err error, requestedModel string, body []byte, start time.Time) {
	if exhausted, ok := err.(*router.Exhausted); ok {
		res := h.queue.Enqueue(r.Context(), "anthropic_chat", requestedModel, exhausted.EstimatedWaitMs, body)
		if res.Err != nil {
			h.writeAnthropicError(w, reqID, llmerrors.NewServiceUnavailableError("", requestedModel, res.Err.Error()))
			return
		}
		if res.Sync {
			h.writeRawJSON(w, http.StatusOK, res.Result)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"id": res.JobID, "object": "queue.job", "status": "pending",
			"estimated_wait_ms": res.EstimatedWaitMs, "poll_url": "/v1/queue/" + res.JobID,
		})
		return
	}

	if pe, ok := err.(*llmerrors.ProviderError); ok {
		metrics.RecordRequest(pe.Vendor, requestedModel, pe.Status, time.Since(start))
		h.writeAnthropicError(w, reqID, llmerrors.FromProviderError(pe, requestedModel))
		return
	}

	if le, ok := err.(*llmerrors.LLMError); ok {
		metrics.RecordRequest(le.Provider, requestedModel, le.HTTPStatusCode(), time.Since(start))
		h.writeAnthropicError(w, reqID, le)
		return
	}

	h.writeAnthropicError(w, reqID, llmerrors.NewInternalError("", requestedModel, err.Error()))
}
