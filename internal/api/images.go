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

// ImageGenerations handles POST /v1/images/generations. Image generation
// never streams, so the handler has no streaming branch.
func (h *Handler) ImageGenerations(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Header.Get("x-request-id"))
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "failed to read request body"))
		return
	}

	var req types.ImageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, reqID, llmerrors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}

	build := func(p provider.Provider, vendorModel string) (*http.Request, error) {
		return p.BuildImageRequest(r.Context(), &req, vendorModel)
	}

	result, err := h.router.Attempt(r.Context(), req.Model, catalog.CapabilityImages, build)
	if err != nil {
		h.handleAttemptError(w, r, reqID, err, "images", req.Model, body, start)
		return
	}
	defer result.Response.Body.Close()

	h.applyRoutedHeaders(w, reqID, result)

	prov, _ := h.router.Registry().GetProvider(result.Vendor)
	imgResp, err := prov.ParseImageResponse(result.Response, req.Prompt)
	if err != nil {
		h.writeError(w, reqID, llmerrors.NewInternalError(result.Vendor, req.Model, "failed to parse response: "+err.Error()))
		return
	}

	metrics.RecordRequest(result.Vendor, result.RequestedModel, http.StatusOK, time.Since(start))
	h.writeJSON(w, http.StatusOK, imgResp)
}
