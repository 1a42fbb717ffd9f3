// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"encoding/json"
	"log"
)

// DefaultMaxLineBytes bounds a single NDJSON line. A line that grows past
// this without a terminator is discarded as a parse error; the parser
// resynchronizes at the next newline.
const DefaultMaxLineBytes = 1024 * 1024

// Parser is an incremental NDJSON parser. Feed it arbitrary byte chunks
// with Parse; complete lines become events, the trailing partial line is
// buffered until the next chunk or Flush. Malformed lines are logged and
// skipped and never advance parser state past the line boundary.
type Parser struct {
	buf        []byte
	maxLine    int
	discarding bool
	lines      int
	malformed  int
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithMaxLineBytes overrides the line-length cap.
func WithMaxLineBytes(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.maxLine = n
		}
	}
}

// NewParser creates an incremental NDJSON parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{maxLine: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lines returns the number of complete lines seen so far.
func (p *Parser) Lines() int { return p.lines }

// Malformed returns the number of lines that failed to parse.
func (p *Parser) Malformed() int { return p.malformed }

// Parse appends chunk to the buffer and returns the events parsed from
// every complete line now available.
func (p *Parser) Parse(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		if p.discarding {
			// Tail of an over-long line; drop through the terminator.
			p.discarding = false
			continue
		}
		if ev, ok := p.parseLine(line); ok {
			events = append(events, ev)
		}
	}

	if len(p.buf) > p.maxLine {
		log.Printf("stream: line exceeds %d bytes, discarding", p.maxLine)
		p.buf = nil
		p.discarding = true
		p.malformed++
	}
	return events
}

// Flush parses any buffered trailing content as a final line.
func (p *Parser) Flush() []Event {
	if len(p.buf) == 0 {
		p.discarding = false
		return nil
	}
	line := p.buf
	p.buf = nil
	if p.discarding {
		p.discarding = false
		return nil
	}
	if ev, ok := p.parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// parseLine parses one complete line into an event. Empty lines are
// skipped silently; malformed JSON and untagged objects are logged.
func (p *Parser) parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	p.lines++

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		p.malformed++
		log.Printf("stream: skipping malformed line %d: %v", p.lines, err)
		return Event{}, false
	}
	if ev.Type == "" {
		p.malformed++
		log.Printf("stream: skipping untyped event at line %d", p.lines)
		return Event{}, false
	}
	switch ev.Type {
	case TypeSystem, TypeAssistant, TypeUser, TypeResult, TypeStreamEvent:
	default:
		log.Printf("stream: unknown event type %q at line %d", ev.Type, p.lines)
	}
	return ev, true
}
