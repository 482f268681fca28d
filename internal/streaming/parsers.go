package streaming

import (
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/pkg/types"
)

// ProviderChunkParser adapts a vendor adapter's ParseStreamChunk into the
// ChunkParser interface the Forwarder expects, so stream translation rules
// live in exactly one place (the adapter) rather than being duplicated here.
type ProviderChunkParser struct {
	Provider       provider.Provider
	RequestedModel string
}

// ParseChunk implements ChunkParser by delegating to the adapter.
func (p *ProviderChunkParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	return p.Provider.ParseStreamChunk(data, p.RequestedModel)
}

// GetParser returns a ChunkParser bound to the given adapter and the model
// name the client should see on every chunk.
func GetParser(p provider.Provider, requestedModel string) ChunkParser {
	return &ProviderChunkParser{Provider: p, RequestedModel: requestedModel}
}
