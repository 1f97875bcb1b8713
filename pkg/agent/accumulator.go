package agent

import (
	"strings"

	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/toolexecutor"
)

// turnResult is what a fully drained stream yields: concatenated text and
// thinking, the reassembled tool calls in announcement order, the finish
// reason and any usage report.
type turnResult struct {
	text         string
	thinking     string
	calls        []toolexecutor.AccumulatedCall
	finishReason llm.FinishReason
	usage        *llm.Usage
}

// callBuffer reassembles one streamed tool call.
type callBuffer struct {
	name string
	args strings.Builder
	done bool
}

// accumulator folds a stream of events into a turnResult. One accumulator
// serves exactly one stream.
type accumulator struct {
	text     strings.Builder
	thinking strings.Builder
	calls    map[string]*callBuffer
	order    []string
	finish   llm.FinishReason
	usage    *llm.Usage
	finished bool
	err      error
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[string]*callBuffer)}
}

// consume folds one event. It returns true once the stream is terminal
// (StreamEnd or StreamError).
func (a *accumulator) consume(ev llm.Event) bool {
	switch ev.Type {
	case llm.EventTextDelta:
		a.text.WriteString(ev.Text)

	case llm.EventThinkingDelta:
		a.thinking.WriteString(ev.Text)

	case llm.EventToolCallStart:
		if _, exists := a.calls[ev.CallID]; !exists {
			a.calls[ev.CallID] = &callBuffer{name: ev.ToolName}
			a.order = append(a.order, ev.CallID)
		}

	case llm.EventToolCallArgsDelta:
		if buf, ok := a.calls[ev.CallID]; ok && !buf.done {
			buf.args.WriteString(ev.ArgsJSON)
		}

	case llm.EventToolCallEnd:
		if buf, ok := a.calls[ev.CallID]; ok {
			buf.done = true
		}

	case llm.EventStreamEnd:
		a.finish = ev.FinishReason
		a.usage = ev.Usage
		a.finished = true
		return true

	case llm.EventStreamError:
		a.err = ev.Err
		return true
	}
	return false
}

// result freezes the accumulated state. On stream error the partial text
// is retained and err carries the failure.
func (a *accumulator) result() (turnResult, error) {
	res := turnResult{
		text:         a.text.String(),
		thinking:     a.thinking.String(),
		finishReason: a.finish,
		usage:        a.usage,
	}
	for _, id := range a.order {
		buf := a.calls[id]
		res.calls = append(res.calls, toolexecutor.AccumulatedCall{
			CallID:   id,
			Name:     buf.name,
			ArgsJSON: buf.args.String(),
		})
	}
	if a.err != nil {
		return res, a.err
	}
	if !a.finished {
		return res, llm.StreamError("stream closed without a terminal event", nil)
	}
	return res, nil
}
