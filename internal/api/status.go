package api

import (
	"net/http"
	"time"

	"github.com/blueberrycongee/llmux/internal/queue"
)

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"service":   "llmux",
		"version":   h.version,
	})
}

// ProvidersStatus handles GET /v1/providers/status: an operational snapshot
// of every vendor's breaker and rate-limit state, plus the current queue
// depth. Unauthenticated by design so it can back an external status page.
func (h *Handler) ProvidersStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"breakers":   h.router.Breaker().Snapshots(),
		"trackers":   h.router.Tracker().Snapshots(),
		"queue_size": h.queue.Size(),
	})
}

// QueuePoll handles GET /v1/queue/{jobId}: the client's way of retrieving a
// job's outcome after being handed a 202 by an entry point.
func (h *Handler) QueuePoll(w http.ResponseWriter, r *http.Request, jobID string) {
	reqID := requestID(r.Header.Get("x-request-id"))

	res, ok := h.queue.Poll(jobID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]any{
			"id": jobID, "object": "queue.job", "status": "not_found",
		})
		return
	}

	switch res.Status {
	case queue.StatusDone:
		h.writeRawJSON(w, http.StatusOK, res.Result)
	case queue.StatusError:
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"id": jobID, "object": "queue.job", "status": "error", "error": res.Err.Error(),
		})
	case queue.StatusExpired:
		h.writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"id": jobID, "object": "queue.job", "status": "expired",
		})
	default:
		w.Header().Set("x-request-id", reqID)
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"id": jobID, "object": "queue.job", "status": "pending",
		})
	}
}
