package anthropicapi

import (
	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/pkg/types"
)

// Event is one synthesized Anthropic SSE event: Name goes on the "event:"
// line, Data is marshaled onto the "data:" line.
type Event struct {
	Name string
	Data any
}

type messageStartData struct {
	Type    string       `json:"type"`
	Message *Response    `json:"message"`
}

type contentBlockStartData struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type contentBlockDeltaData struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta textDelta  `json:"delta"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentBlockStopData struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaData struct {
	Type  string           `json:"type"`
	Delta messageDeltaBody `json:"delta"`
	Usage Usage            `json:"usage"`
}

type messageDeltaBody struct {
	StopReason string `json:"stop_reason"`
}

type pingData struct {
	Type string `json:"type"`
}

type messageStopData struct {
	Type string `json:"type"`
}

// StreamTranslator accumulates internal StreamChunks and synthesizes the
// Anthropic event sequence: message_start, ping, then (once) content_block_start
// followed by content_block_delta per content-bearing chunk, and on finish
// content_block_stop, message_delta, message_stop.
type StreamTranslator struct {
	requestedModel  string
	startedBlock    bool
	blockClosed     bool
	messageID       string
	outputTokens    int
}

// NewStreamTranslator constructs a translator for one streamed response.
func NewStreamTranslator(requestedModel string) *StreamTranslator {
	return &StreamTranslator{requestedModel: requestedModel, messageID: mintMessageID()}
}

// Start returns the message_start and ping events every stream begins with.
func (t *StreamTranslator) Start() []Event {
	return []Event{
		{Name: "message_start", Data: messageStartData{
			Type: "message_start",
			Message: &Response{
				ID:      t.messageID,
				Type:    "message",
				Role:    "assistant",
				Content: []ContentBlock{},
				Model:   t.requestedModel,
				Usage:   Usage{},
			},
		}},
		{Name: "ping", Data: pingData{Type: "ping"}},
	}
}

// Translate converts one internal stream chunk into zero or more Anthropic
// events. A chunk carrying delta content opens the content block on first
// use; a chunk carrying a finish reason closes it out.
func (t *StreamTranslator) Translate(chunk *types.StreamChunk) []Event {
	if chunk == nil || len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []Event

	if choice.Delta.Content != "" {
		if !t.startedBlock {
			t.startedBlock = true
			events = append(events, Event{Name: "content_block_start", Data: contentBlockStartData{
				Type: "content_block_start", Index: 0, ContentBlock: ContentBlock{Type: "text", Text: ""},
			}})
		}
		t.outputTokens++
		events = append(events, Event{Name: "content_block_delta", Data: contentBlockDeltaData{
			Type: "content_block_delta", Index: 0,
			Delta: textDelta{Type: "text_delta", Text: choice.Delta.Content},
		}})
	}

	if choice.FinishReason != "" {
		events = append(events, t.finish(choice.FinishReason)...)
	}

	return events
}

// finish emits the closing sequence once a finish reason arrives.
func (t *StreamTranslator) finish(finishReason string) []Event {
	if t.blockClosed {
		return nil
	}
	t.blockClosed = true

	var events []Event
	if t.startedBlock {
		events = append(events, Event{Name: "content_block_stop", Data: contentBlockStopData{Type: "content_block_stop", Index: 0}})
	}
	events = append(events,
		Event{Name: "message_delta", Data: messageDeltaData{
			Type:  "message_delta",
			Delta: messageDeltaBody{StopReason: mapFinishReasonToAnthropic(finishReason)},
			Usage: Usage{OutputTokens: t.outputTokens},
		}},
		Event{Name: "message_stop", Data: messageStopData{Type: "message_stop"}},
	)
	return events
}

// Marshal renders an Event as the two SSE lines the transport writes.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	out := append([]byte("event: "+e.Name+"\ndata: "), data...)
	out = append(out, '\n', '\n')
	return out, nil
}
