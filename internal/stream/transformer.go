// Package stream implements the streaming pipeline described in spec
// §4.4.a: normalizing heterogeneous upstream SSE payloads into
// OpenAI-shaped chunks, and intercepting the bracket tool-call protocol
// inline in the content stream.
//
// Grounded on the teacher's inline buffering in
// internal/infrastructure/llm/openai/provider.go's ParseSSEStream, but
// reshaped per spec §9's redesign note into an explicit finite-state
// machine — states PassThrough and Buffering — with a single Advance
// step per parsed SSE event, rather than interleaving buffering logic
// with the read loop.
package stream

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/toolcall"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

const toolCallMarker = "[function_calls]"

// State is the transformer's buffering state.
type State int

const (
	PassThrough State = iota
	Buffering
)

// Frame is one unit of output from Advance: either a chunk to render as
// `data: <json>\n\n`, a verbatim line to forward as-is (for non-JSON
// upstream heartbeats), or the terminal [DONE] signal.
type Frame struct {
	Chunk *wire.ChatCompletionChunk
	Raw   string
	Done  bool
}

// Transformer holds the per-stream state described in spec §4.4.a.
type Transformer struct {
	responseID string
	model      string
	created    int64

	isFirstChunk        bool
	contentBuffer       string
	isBufferingToolCall bool
	toolCallIndex       int

	state State
}

// New creates a transformer for one client-facing stream.
func New(responseID, model string, created int64) *Transformer {
	return &Transformer{
		responseID:   responseID,
		model:        model,
		created:      created,
		isFirstChunk: true,
		state:        PassThrough,
	}
}

// State reports the transformer's current buffering state.
func (t *Transformer) State() State {
	return t.state
}

// rawChunk is the union of every upstream delta shape spec §4.4.a.3 lists,
// permissive enough to decode whichever fields a given vendor populates.
type rawChunk struct {
	Choices          []rawChoice `json:"choices"`
	Content          string      `json:"content"`
	Message          string      `json:"message"`
	ReasoningContent string      `json:"reasoning_content"`
	FinishReason     *string     `json:"finish_reason"`
}

type rawChoice struct {
	Delta        rawDelta `json:"delta"`
	Text         string   `json:"text"`
	FinishReason *string  `json:"finish_reason"`
}

type rawDelta struct {
	Content          string          `json:"content"`
	Text             string          `json:"text"`
	ReasoningContent string          `json:"reasoning_content"`
	ToolCalls        json.RawMessage `json:"tool_calls"`
}

// Advance runs one SSE event through the transformer and returns zero or
// more output frames. Advance is the transformer's only entry point; the
// forwarder calls it once per event the SSE parser yields.
func (t *Transformer) Advance(event domain.SSEEvent) []Frame {
	if event.Data == "[DONE]" {
		var frames []Frame
		if t.contentBuffer != "" {
			frames = append(frames, t.contentFrame(t.contentBuffer))
			t.contentBuffer = ""
		}
		frames = append(frames, Frame{Done: true})
		return frames
	}

	content, reasoning, toolCalls, finishReason, drop, ok := t.decode(event.Data)
	if !ok {
		return []Frame{{Raw: event.Data}}
	}
	if drop {
		return nil
	}

	var frames []Frame
	if content != "" {
		t.contentBuffer += content
		frames = append(frames, t.runToolBufferProtocol()...)
	}
	if reasoning != "" || len(toolCalls) > 0 || finishReason != nil {
		frames = append(frames, t.deltaFrame(reasoning, toolCalls, finishReason))
	}
	return frames
}

// decode normalizes one event's JSON payload into the fields spec
// §4.4.a.3 names, in its stated order of preference. drop is true when
// the payload parsed as valid JSON but carries no recognizable field and
// no finish_reason — spec step 3's "if every field is empty and
// finish_reason is null, drop the event". ok is false only when the
// payload isn't JSON at all, in which case the caller forwards it
// verbatim.
func (t *Transformer) decode(data string) (content, reasoning string, toolCalls []wire.ToolCall, finishReason *string, drop bool, ok bool) {
	var raw rawChunk
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		var bare string
		if err2 := json.Unmarshal([]byte(data), &bare); err2 == nil {
			return bare, "", nil, nil, false, true
		}
		return "", "", nil, nil, false, false
	}

	if len(raw.Choices) > 0 {
		c := raw.Choices[0]
		switch {
		case c.Delta.Content != "":
			content = c.Delta.Content
		case c.Text != "":
			content = c.Text
		case raw.Content != "":
			content = raw.Content
		case raw.Message != "":
			content = raw.Message
		}
		reasoning = c.Delta.ReasoningContent
		if reasoning == "" {
			reasoning = raw.ReasoningContent
		}
		if len(c.Delta.ToolCalls) > 0 {
			_ = json.Unmarshal(c.Delta.ToolCalls, &toolCalls)
		}
		if c.FinishReason != nil {
			finishReason = c.FinishReason
		} else {
			finishReason = raw.FinishReason
		}
	} else {
		if raw.Content != "" {
			content = raw.Content
		} else if raw.Message != "" {
			content = raw.Message
		}
		reasoning = raw.ReasoningContent
		finishReason = raw.FinishReason
	}

	if content == "" && reasoning == "" && len(toolCalls) == 0 && finishReason == nil {
		return "", "", nil, nil, true, true
	}
	return content, reasoning, toolCalls, finishReason, false, true
}

// runToolBufferProtocol implements spec §4.4.a's tool-buffering protocol,
// draining as many frames out of contentBuffer as the current buffer
// contents allow before waiting for the next chunk.
func (t *Transformer) runToolBufferProtocol() []Frame {
	var frames []Frame
	for {
		if !t.isBufferingToolCall {
			if idx := strings.Index(t.contentBuffer, toolCallMarker); idx >= 0 {
				if idx > 0 {
					frames = append(frames, t.contentFrame(t.contentBuffer[:idx]))
				}
				t.isBufferingToolCall = true
				t.state = Buffering
				t.contentBuffer = t.contentBuffer[idx:]
				continue
			}
			if q, found := partialMarkerIndex(t.contentBuffer); found {
				if q > 0 {
					frames = append(frames, t.contentFrame(t.contentBuffer[:q]))
				}
				t.isBufferingToolCall = true
				t.state = Buffering
				t.contentBuffer = t.contentBuffer[q:]
				continue
			}
			if t.contentBuffer != "" {
				frames = append(frames, t.contentFrame(t.contentBuffer))
				t.contentBuffer = ""
			}
			return frames
		}

		result := toolcall.Parse(t.contentBuffer)
		if len(result.ToolCalls) > 0 {
			for _, call := range result.ToolCalls {
				call.Index = t.toolCallIndex
				t.toolCallIndex++
				frames = append(frames, t.toolCallFrame(call))
			}
			t.contentBuffer = result.Content
			t.isBufferingToolCall = strings.Contains(t.contentBuffer, toolCallMarker)
			if !t.isBufferingToolCall {
				t.state = PassThrough
				if t.contentBuffer != "" {
					frames = append(frames, t.contentFrame(t.contentBuffer))
					t.contentBuffer = ""
				}
			}
			continue
		}

		if len(t.contentBuffer) > 10000 {
			frames = append(frames, t.contentFrame(t.contentBuffer))
			t.contentBuffer = ""
			t.isBufferingToolCall = false
			t.state = PassThrough
			return frames
		}
		return frames
	}
}

// partialMarkerIndex finds the earliest position holding a "[" whose
// suffix through the end of buf is a proper prefix of toolCallMarker — a
// marker that may still complete once more bytes arrive.
func partialMarkerIndex(buf string) (int, bool) {
	for i := 0; i < len(buf); i++ {
		suf := buf[i:]
		if len(suf) >= len(toolCallMarker) {
			continue
		}
		if strings.HasPrefix(toolCallMarker, suf) {
			return i, true
		}
	}
	return -1, false
}

func (t *Transformer) contentFrame(text string) Frame {
	delta := wire.StreamDelta{Content: text}
	if t.isFirstChunk {
		delta.Role = "assistant"
		t.isFirstChunk = false
	}
	return t.frame(delta, nil)
}

func (t *Transformer) toolCallFrame(call domain.ToolCall) Frame {
	delta := wire.StreamDelta{
		ToolCalls: []wire.ToolCall{{
			Index: call.Index,
			ID:    call.ID,
			Type:  "function",
			Function: wire.ToolCallFunc{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		}},
	}
	if t.isFirstChunk {
		delta.Role = "assistant"
		t.isFirstChunk = false
	}
	return t.frame(delta, nil)
}

func (t *Transformer) deltaFrame(reasoning string, toolCalls []wire.ToolCall, finishReason *string) Frame {
	delta := wire.StreamDelta{ReasoningContent: reasoning, ToolCalls: toolCalls}
	if t.isFirstChunk && (reasoning != "" || len(toolCalls) > 0) {
		delta.Role = "assistant"
		t.isFirstChunk = false
	}
	return t.frame(delta, finishReason)
}

func (t *Transformer) frame(delta wire.StreamDelta, finishReason *string) Frame {
	return Frame{Chunk: &wire.ChatCompletionChunk{
		ID:      t.responseID,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []wire.StreamChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}}
}

// ErrorFrame builds the synthesized terminal chunk the forwarder injects
// when the upstream stream fails mid-flight (spec §4.4).
func ErrorFrame(message string) wire.ChatCompletionChunk {
	stop := "stop"
	return wire.ChatCompletionChunk{
		Object: "chat.completion.chunk",
		Choices: []wire.StreamChoice{{
			Index:        0,
			Delta:        wire.StreamDelta{Content: "\n\n[Error: " + message + "]"},
			FinishReason: &stop,
		}},
	}
}

// Aggregate runs the non-streaming path (spec §4.4.a "Non-stream
// aggregation"): concatenates content/reasoning across every event,
// aggregates native tool_calls by index, then runs the tool-call parser
// once at EOF on the accumulated content.
func Aggregate(events []domain.SSEEvent, responseID, model string, created int64) wire.ChatCompletionResponse {
	var content, reasoning strings.Builder
	native := map[int]*wire.ToolCall{}
	var nativeOrder []int
	var finishReason string

	for _, ev := range events {
		if ev.Data == "[DONE]" {
			continue
		}
		var raw rawChunk
		if err := json.Unmarshal([]byte(ev.Data), &raw); err != nil {
			continue
		}
		if len(raw.Choices) == 0 {
			if raw.Content != "" {
				content.WriteString(raw.Content)
			}
			reasoning.WriteString(raw.ReasoningContent)
			continue
		}
		c := raw.Choices[0]
		switch {
		case c.Delta.Content != "":
			content.WriteString(c.Delta.Content)
		case c.Text != "":
			content.WriteString(c.Text)
		case raw.Content != "":
			content.WriteString(raw.Content)
		case raw.Message != "":
			content.WriteString(raw.Message)
		}
		if c.Delta.ReasoningContent != "" {
			reasoning.WriteString(c.Delta.ReasoningContent)
		} else {
			reasoning.WriteString(raw.ReasoningContent)
		}

		if len(c.Delta.ToolCalls) > 0 {
			var deltas []wire.ToolCall
			if json.Unmarshal(c.Delta.ToolCalls, &deltas) == nil {
				for _, d := range deltas {
					existing, seen := native[d.Index]
					if !seen {
						cp := d
						native[d.Index] = &cp
						nativeOrder = append(nativeOrder, d.Index)
						continue
					}
					existing.Function.Arguments += d.Function.Arguments
					if d.ID != "" {
						existing.ID = d.ID
					}
					if d.Function.Name != "" {
						existing.Function.Name = d.Function.Name
					}
				}
			}
		}

		fr := c.FinishReason
		if fr == nil {
			fr = raw.FinishReason
		}
		if fr != nil {
			finishReason = *fr
		}
	}

	parsed := toolcall.Parse(content.String())

	sort.Ints(nativeOrder)
	var toolCalls []wire.ToolCall
	for _, idx := range nativeOrder {
		toolCalls = append(toolCalls, *native[idx])
	}
	for _, call := range parsed.ToolCalls {
		toolCalls = append(toolCalls, wire.ToolCall{
			Index: len(toolCalls),
			ID:    call.ID,
			Type:  "function",
			Function: wire.ToolCallFunc{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}

	msg := wire.Message{Role: "assistant", Content: wire.StrPtr(parsed.Content), ReasoningContent: reasoning.String()}
	if len(toolCalls) > 0 {
		msg.Content = nil
		msg.ToolCalls = toolCalls
		if finishReason == "" || finishReason == "stop" {
			finishReason = "tool_calls"
		}
	}

	return wire.ChatCompletionResponse{
		ID:      responseID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []wire.Choice{{Index: 0, Message: msg, FinishReason: finishReason}},
	}
}
