// Package sse implements a line-oriented, chunk-boundary-agnostic parser for
// text/event-stream bodies (spec §4.4.a). Grounded on the teacher's
// bufio.Scanner-based reader in internal/infrastructure/llm/openai/sse.go,
// but reshaped into an explicit Feed(bytes) -> []Event state machine per the
// re-architecture note in spec §9 ("coroutine-style suspension... a clean
// re-architecture treats [this] as a finite-state machine"): this lets the
// forwarder hand arbitrarily-sized reads to the parser without it caring
// where line or event boundaries fall across Read() calls (invariant I3).
package sse

import (
	"bufio"
	"io"
	"strings"

	"github.com/ngoclaw/llmgateway/internal/domain"
)

// Parser accumulates bytes across Feed calls and dispatches one domain.SSEEvent
// per blank-line-terminated block.
type Parser struct {
	buf     []byte
	pending pendingEvent
}

type pendingEvent struct {
	event   string
	data    []string
	id      string
	retry   string
	hasData bool
}

func (p *pendingEvent) reset() {
	p.event = ""
	p.data = p.data[:0]
	p.id = ""
	p.retry = ""
	p.hasData = false
}

// New creates an empty incremental SSE parser.
func New() *Parser {
	return &Parser{}
}

// Feed appends chunk to the internal buffer and returns every complete event
// it now contains. Partial trailing data (a line not yet terminated by \n,
// or an event not yet terminated by a blank line) is retained for the next
// Feed call — callers may split the input at any byte boundary and get the
// same events as a single-shot Feed (invariant I3).
func (p *Parser) Feed(chunk []byte) []domain.SSEEvent {
	p.buf = append(p.buf, chunk...)

	var events []domain.SSEEvent
	for {
		idx := indexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		line = trimCR(line)

		if len(line) == 0 {
			// Blank line: dispatch the pending event, if it has data.
			if p.pending.hasData {
				events = append(events, domain.SSEEvent{
					Event: p.pending.event,
					Data:  strings.Join(p.pending.data, "\n"),
					ID:    p.pending.id,
					Retry: p.pending.retry,
				})
			}
			p.pending.reset()
			continue
		}

		p.consumeField(string(line))
	}
	return events
}

func (p *Parser) consumeField(line string) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		// A line with no colon at all is ignored entirely.
		return
	}
	field := line[:colon]
	value := line[colon+1:]
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		p.pending.event = value
	case "data":
		p.pending.data = append(p.pending.data, value)
		p.pending.hasData = true
	case "id":
		p.pending.id = value
	case "retry":
		p.pending.retry = value
	default:
		// Unrecognized field: ignored.
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// ReadAll drains reader through a Parser and returns every event, for
// non-streaming/test callers that don't need incremental delivery. Uses a
// modest buffer since upstream SSE bodies are read in small bursts.
func ReadAll(r io.Reader) ([]domain.SSEEvent, error) {
	p := New()
	var events []domain.SSEEvent
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			events = append(events, p.Feed(buf[:n])...)
		}
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
	}
}
