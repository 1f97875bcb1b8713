// Package sse implements an incremental parser for Server-Sent Event
// streams. The parser is a single-pass byte sink: callers feed arbitrary
// chunks, possibly split mid-line or mid-UTF-8 sequence, and receive
// complete frames as they close.
package sse

import (
	"bytes"
	"strings"
)

// DoneSentinel is the payload some providers emit to terminate a stream.
const DoneSentinel = "[DONE]"

// Frame is one complete SSE frame: a group of lines terminated by a blank
// line. Data joins multiple data: lines with "\n". Done is set when the
// payload equals the [DONE] sentinel.
type Frame struct {
	Event string
	Data  string
	ID    string
	Done  bool
}

// Parser accumulates raw bytes and yields frames. Zero value is not
// usable; construct with NewParser.
type Parser struct {
	buf   []byte
	event string
	id    string
	data  []string
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns every frame completed by it. Incomplete
// trailing bytes stay buffered until a later chunk closes the line.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		line = strings.TrimSuffix(line, "\r")

		if frame, ok := p.consumeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush closes the stream, returning a final frame if one was pending.
// A trailing line without its newline is still honored.
func (p *Parser) Flush() []Frame {
	var frames []Frame
	if len(p.buf) > 0 {
		line := strings.TrimSuffix(string(p.buf), "\r")
		p.buf = nil
		if frame, ok := p.consumeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	if frame, ok := p.closeFrame(); ok {
		frames = append(frames, frame)
	}
	return frames
}

func (p *Parser) consumeLine(line string) (Frame, bool) {
	switch {
	case line == "":
		return p.closeFrame()
	case strings.HasPrefix(line, ":"):
		// comment line
		return Frame{}, false
	case strings.HasPrefix(line, "event:"):
		p.event = strings.TrimSpace(line[len("event:"):])
	case strings.HasPrefix(line, "data:"):
		p.data = append(p.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	case strings.HasPrefix(line, "id:"):
		p.id = strings.TrimSpace(line[len("id:"):])
	}
	return Frame{}, false
}

func (p *Parser) closeFrame() (Frame, bool) {
	if p.event == "" && p.id == "" && len(p.data) == 0 {
		return Frame{}, false
	}
	frame := Frame{
		Event: p.event,
		Data:  strings.Join(p.data, "\n"),
		ID:    p.id,
	}
	frame.Done = strings.TrimSpace(frame.Data) == DoneSentinel
	p.event = ""
	p.id = ""
	p.data = nil
	return frame, true
}
