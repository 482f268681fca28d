// Package router implements the fallback-chain core: given a requested
// model and capability, it walks the configured vendor priority, skipping
// candidates the breaker or rate-limit tracker say to avoid, and returns the
// first successful response. Exhausting the chain hands control to the
// request queue.
package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blueberrycongee/llmux/internal/breaker"
	"github.com/blueberrycongee/llmux/internal/catalog"
	"github.com/blueberrycongee/llmux/internal/distributed"
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/internal/ratelimit"
	"github.com/blueberrycongee/llmux/pkg/errors"
)

// Candidate is one (vendor, model) pair in a fallback chain, in attempt
// order.
type Candidate struct {
	Vendor      string
	VendorModel string
}

// Result carries the outcome of a successful attempt: which vendor actually
// served the request, under which vendor-side model name, alongside the raw
// HTTP response for the caller to parse with that vendor's adapter.
type Result struct {
	Vendor         string
	VendorModel    string
	RequestedModel string
	Response       *http.Response
}

// Exhausted is returned when every candidate in the chain was skipped or
// failed without a client-fatal error. EstimatedWaitMs is the router's best
// guess at how long until a candidate becomes available again.
type Exhausted struct {
	RequestedModel  string
	Capability      catalog.Capability
	EstimatedWaitMs int64
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("all providers exhausted for model %q", e.RequestedModel)
}

// Router owns the shared Catalog, Breaker, and Tracker instances and the set
// of registered vendor adapters. It is safe for concurrent use: all mutable
// state lives inside Breaker and Tracker, each serializing its own access.
type Router struct {
	catalog  *catalog.Catalog
	breaker  *breaker.Breaker
	tracker  *ratelimit.Tracker
	registry *provider.Registry
	priority []string
	client   *http.Client
	logger   *slog.Logger

	store           *distributed.Store
	breakerCooldown time.Duration
}

// New constructs a Router. priority is the ordered list of vendor names to
// try (e.g. "openai,anthropic,google"); only vendors with both a registered
// adapter and an entry in priority are ever attempted.
func New(cat *catalog.Catalog, br *breaker.Breaker, tr *ratelimit.Tracker, registry *provider.Registry, priority []string, logger *slog.Logger) *Router {
	return &Router{
		catalog:  cat,
		breaker:  br,
		tracker:  tr,
		registry: registry,
		priority: priority,
		client:   &http.Client{},
		logger:   logger,
	}
}

// SetDistributedStore enables write-through persistence: every breaker or
// tracker mutation made during Attempt is also saved to store, so a second
// instance picking up the snapshot on startup sees state as fresh as the
// last live request. breakerCooldown matches the value the Breaker itself
// was constructed with, used to size the breaker snapshot's TTL.
func (r *Router) SetDistributedStore(store *distributed.Store, breakerCooldown time.Duration) {
	r.store = store
	r.breakerCooldown = breakerCooldown
}

// persistVendorState write-throughs the vendor's current breaker and
// tracker state. Fire-and-forget and bounded by its own short timeout, so a
// slow or unreachable Redis never adds latency to the request path.
func (r *Router) persistVendorState(vendor, vendorModel string) {
	if r.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.store.SaveBreakerSnapshot(ctx, r.breaker.SnapshotFor(vendor), r.breakerCooldown)
		r.store.SaveTrackerSnapshot(ctx, r.tracker.SnapshotFor(vendor, vendorModel))
	}()
}

// BuildFallbackChain returns the ordered list of (vendor, vendorModel) pairs
// to attempt for requestedModel under capability. Vendors are kept only if
// they have a registered adapter that declares support for capability and a
// non-empty model mapping for requestedModel's equivalence class. If nothing
// maps, a single best-effort entry is added using the first registered
// vendor that supports capability and the raw requestedModel.
func (r *Router) BuildFallbackChain(requestedModel string, capability catalog.Capability) []Candidate {
	var chain []Candidate

	for _, vendor := range r.priority {
		p, ok := r.registry.GetProvider(vendor)
		if !ok || !supportsCapability(p, capability) {
			continue
		}
		vendorModel := r.catalog.ModelForVendor(requestedModel, vendor)
		if vendorModel == "" {
			continue
		}
		chain = append(chain, Candidate{Vendor: vendor, VendorModel: vendorModel})
	}

	if len(chain) == 0 && len(r.priority) > 0 {
		for _, vendor := range r.priority {
			if p, ok := r.registry.GetProvider(vendor); ok && supportsCapability(p, capability) {
				chain = append(chain, Candidate{Vendor: vendor, VendorModel: requestedModel})
				break
			}
		}
	}

	return chain
}

// supportsCapability reports whether p declares support for capability.
// Chat has no corresponding Provider method because every adapter in this
// registry implements chat; only images and embeddings are optional.
func supportsCapability(p provider.Provider, capability catalog.Capability) bool {
	switch capability {
	case catalog.CapabilityImages:
		return p.SupportsImages()
	case catalog.CapabilityEmbeddings:
		return p.SupportsEmbedding()
	default:
		return true
	}
}

// BuildFunc constructs the vendor-specific HTTP request for one attempt,
// given the adapter to use and the vendor-side model name to call out with.
type BuildFunc func(p provider.Provider, vendorModel string) (*http.Request, error)

// Attempt walks the fallback chain for requestedModel/capability, invoking
// build against each candidate's adapter in turn. On the first success it
// returns a Result; on exhaustion it returns *Exhausted; on a client-fatal
// 4xx (anything but 429) it returns immediately with that error.
func (r *Router) Attempt(ctx context.Context, requestedModel string, capability catalog.Capability, build BuildFunc) (*Result, error) {
	chain := r.BuildFallbackChain(requestedModel, capability)
	now := time.Now()

	for i, c := range chain {
		if !r.breaker.IsAvailable(c.Vendor) {
			continue
		}
		if r.tracker.ShouldAvoid(c.Vendor, c.VendorModel, now) {
			continue
		}

		p, ok := r.registry.GetProvider(c.Vendor)
		if !ok {
			continue
		}

		httpReq, err := build(p, c.VendorModel)
		if err != nil {
			r.logger.Error("build request failed", "vendor", c.Vendor, "model", c.VendorModel, "error", err)
			continue
		}

		resp, err := r.client.Do(httpReq)
		if err != nil {
			if ctx.Err() == context.Canceled {
				return nil, errors.NewCancelledError(c.Vendor, c.VendorModel)
			}
			r.breaker.RecordFailure(c.Vendor)
			r.persistVendorState(c.Vendor, c.VendorModel)
			r.logger.Warn("transport failure", "vendor", c.Vendor, "model", c.VendorModel, "error", err)
			continue
		}

		now = time.Now()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			r.tracker.Update(c.Vendor, c.VendorModel, resp.Header, resp.StatusCode, now)
			r.breaker.RecordSuccess(c.Vendor)
			r.persistVendorState(c.Vendor, c.VendorModel)
			if i > 0 {
				r.logger.Info("served via fallback", "requested_model", requestedModel, "vendor", c.Vendor, "vendor_model", c.VendorModel, "attempt_index", i)
			}
			return &Result{Vendor: c.Vendor, VendorModel: c.VendorModel, RequestedModel: requestedModel, Response: resp}, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		pe := &errors.ProviderError{Vendor: c.Vendor, Status: resp.StatusCode, Headers: resp.Header, Body: body}
		r.tracker.Update(c.Vendor, c.VendorModel, resp.Header, resp.StatusCode, now)
		if pe.IsBreakerFailure() {
			r.breaker.RecordFailure(c.Vendor)
		}
		r.persistVendorState(c.Vendor, c.VendorModel)

		if pe.IsRetryable() {
			continue
		}

		return nil, pe
	}

	return nil, &Exhausted{
		RequestedModel:  requestedModel,
		Capability:      capability,
		EstimatedWaitMs: r.estimatedWaitMs(chain, now),
	}
}

func (r *Router) estimatedWaitMs(chain []Candidate, now time.Time) int64 {
	candidates := make([]ratelimit.Candidate, 0, len(chain))
	for _, c := range chain {
		candidates = append(candidates, ratelimit.Candidate{Vendor: c.Vendor, Model: c.VendorModel})
	}
	earliest := r.tracker.EarliestAvailable(candidates, now)
	wait := earliest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait.Milliseconds()
}

// Catalog returns the Router's Catalog, used by handlers to determine
// capability before dispatch.
func (r *Router) Catalog() *catalog.Catalog { return r.catalog }

// Breaker returns the Router's Breaker, used by the providers-status endpoint.
func (r *Router) Breaker() *breaker.Breaker { return r.breaker }

// Tracker returns the Router's Tracker, used by the providers-status endpoint.
func (r *Router) Tracker() *ratelimit.Tracker { return r.tracker }

// Registry returns the Router's adapter registry.
func (r *Router) Registry() *provider.Registry { return r.registry }
