package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/sse"
)

const defaultChatCompletionsPath = "/v1/chat/completions"

// ChatCompletionsConfig configures a chat-completions-family adapter.
type ChatCompletionsConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Profile Profile
	Client  *http.Client
	Logger  zerolog.Logger
}

// ChatCompletions speaks the chat-completions SSE wire format: one delta
// object per frame and a terminal [DONE] sentinel.
type ChatCompletions struct {
	name    string
	baseURL string
	apiKey  string
	profile Profile
	client  *http.Client
	logger  zerolog.Logger
}

// NewChatCompletions creates a chat-completions adapter.
func NewChatCompletions(cfg ChatCompletionsConfig) (*ChatCompletions, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, llm.NewError(llm.CodeConfigInvalid, "provider name is required", false)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, llm.NewError(llm.CodeConfigInvalid, "provider base URL is required", false)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatCompletions{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		profile: cfg.Profile,
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

// Name returns the provider name.
func (p *ChatCompletions) Name() string {
	return p.name
}

// Send builds the request body, applies the profile, POSTs it and returns
// a lazy event stream. HTTP-level failures surface as errors before any
// event is produced; mid-stream failures arrive as a StreamError event.
func (p *ChatCompletions) Send(ctx context.Context, messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.Event, error) {
	body := p.profile.Apply(buildRequestBody(messages, opts, tools))

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.WrapError(llm.CodeRequestFailed, "failed to encode request body", false, err)
	}

	path := defaultChatCompletionsPath
	if p.profile.APIPathOverride != "" {
		path = p.profile.APIPathOverride
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, llm.WrapError(llm.CodeRequestFailed, "failed to build request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.TimeoutError(fmt.Sprintf("%s request aborted: %v", p.name, ctx.Err()), true)
		}
		return nil, llm.WrapError(llm.CodeProviderFailed, p.name+" request failed", true, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, mapHTTPError(p.name, resp)
	}

	events := make(chan llm.Event, eventBufferSize)
	go p.consume(ctx, resp, events)
	return events, nil
}

// chatChunk is the per-frame JSON shape of the chat-completions stream.
type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		ReasoningTokens  int `json:"reasoning_tokens"`
	} `json:"usage"`
}

// toolCallState holds per-index reassembly state for streamed tool
// calls. Argument fragments that arrive before the call's id and name
// are buffered in pending and flushed once the call is announced.
type toolCallState struct {
	id      string
	name    string
	pending string
	started bool
	ended   bool
}

func (p *ChatCompletions) consume(ctx context.Context, resp *http.Response, events chan<- llm.Event) {
	defer close(events)
	defer resp.Body.Close()

	emit := func(ev llm.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	parser := sse.NewParser()
	calls := map[int]*toolCallState{}
	startedStream := false
	var finish llm.FinishReason
	finishSeen := false
	done := false
	var usage *llm.Usage

	handleFrame := func(frame sse.Frame) bool {
		if frame.Done {
			done = true
			return true
		}
		if frame.Data == "" {
			return true
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
			// Drop the unparseable frame; the stream continues.
			p.logger.Warn().Str("provider", p.name).Err(err).Msg("Dropping undecodable stream frame")
			return true
		}

		if !startedStream {
			startedStream = true
			if !emit(llm.Event{Type: llm.EventStreamStart, RequestID: chunk.ID, Model: chunk.Model}) {
				return false
			}
		}

		if chunk.Usage != nil {
			u := llm.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
			if chunk.Usage.ReasoningTokens > 0 {
				v := chunk.Usage.ReasoningTokens
				u.ReasoningTokens = &v
			}
			usage = &u
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !emit(llm.Event{Type: llm.EventTextDelta, Text: choice.Delta.Content}) {
					return false
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				state := calls[tc.Index]
				if state == nil {
					state = &toolCallState{}
					calls[tc.Index] = state
				}
				if tc.ID != "" {
					state.id = tc.ID
				}
				if tc.Function.Name != "" {
					state.name = tc.Function.Name
				}
				if !state.started && state.id != "" && state.name != "" {
					state.started = true
					if !emit(llm.Event{Type: llm.EventToolCallStart, CallID: state.id, ToolName: state.name}) {
						return false
					}
					if state.pending != "" {
						if !emit(llm.Event{Type: llm.EventToolCallArgsDelta, CallID: state.id, ArgsJSON: state.pending}) {
							return false
						}
						state.pending = ""
					}
				}
				if tc.Function.Arguments != "" {
					if state.started {
						if !emit(llm.Event{Type: llm.EventToolCallArgsDelta, CallID: state.id, ArgsJSON: tc.Function.Arguments}) {
							return false
						}
					} else {
						state.pending += tc.Function.Arguments
					}
				}
			}

			if choice.FinishReason != "" {
				finish = p.profile.NormalizeFinish(choice.FinishReason)
				finishSeen = true
				// No further args arrive once the finish reason lands;
				// close every open call in announcement order.
				for _, idx := range sortedIndexes(calls) {
					state := calls[idx]
					if state.started && !state.ended {
						state.ended = true
						if !emit(llm.Event{Type: llm.EventToolCallEnd, CallID: state.id}) {
							return false
						}
					}
				}
			}
		}
		return true
	}

	buf := make([]byte, 4096)
	for !done {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if !handleFrame(frame) {
					return
				}
				if done {
					break
				}
			}
		}
		if err != nil {
			for _, frame := range parser.Flush() {
				if !handleFrame(frame) {
					return
				}
			}
			if !done && !finishSeen {
				switch {
				case ctx.Err() != nil:
					emit(llm.Event{Type: llm.EventStreamError, Err: llm.TimeoutError(p.name+" stream aborted", true)})
				case !errors.Is(err, io.EOF):
					emit(llm.Event{Type: llm.EventStreamError, Err: llm.StreamError(p.name+" stream read failed", err)})
				default:
					emit(llm.Event{Type: llm.EventStreamError, Err: llm.StreamError(p.name+" stream ended without completion", nil)})
				}
				return
			}
			break
		}
	}

	if !finishSeen {
		finish = llm.FinishStop
	}
	emit(llm.Event{Type: llm.EventStreamEnd, FinishReason: finish, Usage: usage})
}

func sortedIndexes(calls map[int]*toolCallState) []int {
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}
