package api

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/internal/catalog"
	"github.com/blueberrycongee/llmux/internal/metrics"
	"github.com/blueberrycongee/llmux/internal/provider"
	llmerrors "github.com/blueberrycongee/llmux/pkg/errors"
	"github.com/blueberrycongee/llmux/pkg/types"
)

// Embeddings handles POST /v1/embeddings. Like image generation, this
// entry never streams.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Header.Get("x-request-id"))
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "failed to read request body"))
		return
	}

	var req types.EmbeddingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}

	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildEmbeddingRequest(r.Context(), &req, vendorModel)
	}

	result, err := h.router.Attempt(r.Context(), req.Model, catalog.CapabilityEmbeddings, build)
	if err != nil {
		h.handleAttemptError(w, r, reqID, err, "embeddings", req.Model, body, start)
		return
	}
	defer result.Response.Body.Close()

	h.applyRoutedHeaders(w, reqID, result)

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	embResp, err := prov.ParseEmbeddingResponse(result.Response, result.RequestedModel)
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInternalError(result.Vendor, req.Model, "failed to parse response: "+err.Error()))
		return
	}

	metrics.RecordRequest(result.Vendor, result.RequestedModel, http.StatusOK, time.Since(start))
	h.writeJSON(w, http.StatusOK, embResp)
}
