package anthropicapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmux/pkg/types"
)

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

func TestStreamTranslator_FullSequence(t *testing.T) {
	tr := NewStreamTranslator("claude-opus-4-6")

	var allEvents []Event
	allEvents = append(allEvents, tr.Start()...)
	allEvents = append(allEvents, tr.Translate(&types.StreamChunk{
		Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "Hi"}}},
	})...)
	allEvents = append(allEvents, tr.Translate(&types.StreamChunk{
		Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: " there"}}},
	})...)
	allEvents = append(allEvents, tr.Translate(&types.StreamChunk{
		Choices: []types.StreamChoice{{FinishReason: "stop"}},
	})...)

	names := eventNames(allEvents)
	assert.Equal(t, []string{
		"message_start", "ping",
		"content_block_start", "content_block_delta",
		"content_block_delta",
		"content_block_stop", "message_delta", "message_stop",
	}, names)
}

func TestStreamTranslator_FinishWithoutContentSkipsBlockStop(t *testing.T) {
	tr := NewStreamTranslator("claude-opus-4-6")

	events := tr.Translate(&types.StreamChunk{Choices: []types.StreamChoice{{FinishReason: "stop"}}})

	names := eventNames(events)
	assert.Equal(t, []string{"message_delta", "message_stop"}, names)
}

func TestStreamTranslator_FinishIsIdempotent(t *testing.T) {
	tr := NewStreamTranslator("claude-opus-4-6")

	first := tr.Translate(&types.StreamChunk{Choices: []types.StreamChoice{{FinishReason: "stop"}}})
	second := tr.Translate(&types.StreamChunk{Choices: []types.StreamChoice{{FinishReason: "stop"}}})

	assert.NotEmpty(t, first)
	assert.Empty(t, second)
}

func TestEvent_MarshalProducesSSEFraming(t *testing.T) {
	e := Event{Name: "ping", Data: pingData{Type: "ping"}}
	data, err := e.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "event: ping\n")
	assert.Contains(t, string(data), `"type":"ping"`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
	assert.Equal(t, byte('\n'), data[len(data)-2])
}
