package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/sse"
)

const (
	defaultMessagesPath     = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
	anthropicVersionHeader  = "anthropic-version"
	anthropicAPIKeyHeader   = "x-api-key"
	defaultBlockedMaxTokens = 4096
)

// BlockStreamConfig configures a block-oriented-family adapter.
type BlockStreamConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Profile Profile
	Client  *http.Client
	Logger  zerolog.Logger
}

// BlockStream speaks the block-oriented SSE wire format: typed frames
// (message_start, content_block_start/delta/stop, message_delta,
// message_stop) carrying indexed content blocks.
type BlockStream struct {
	name    string
	baseURL string
	apiKey  string
	profile Profile
	client  *http.Client
	logger  zerolog.Logger
}

// NewBlockStream creates a block-oriented adapter.
func NewBlockStream(cfg BlockStreamConfig) (*BlockStream, error) {
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
	return &BlockStream{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		profile: cfg.Profile,
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

// Name returns the provider name.
func (p *BlockStream) Name() string {
	return p.name
}

// Send converts the canonical message list to block form, POSTs it and
// returns a lazy event stream.
func (p *BlockStream) Send(ctx context.Context, messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.Event, error) {
	body := p.buildBlockBody(messages, opts, tools)

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.WrapError(llm.CodeRequestFailed, "failed to encode request body", false, err)
	}

	path := defaultMessagesPath
	if p.profile.APIPathOverride != "" {
		path = p.profile.APIPathOverride
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, llm.WrapError(llm.CodeRequestFailed, "failed to build request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(anthropicVersionHeader, anthropicAPIVersion)
	if p.apiKey != "" {
		req.Header.Set(anthropicAPIKeyHeader, p.apiKey)
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

// buildBlockBody converts the canonical message list into block form:
// system content lifts to a top-level system field, assistant tool calls
// become tool_use blocks, and tool results become user messages carrying
// tool_result blocks.
func (p *BlockStream) buildBlockBody(messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) map[string]interface{} {
	var systemParts []string
	converted := make([]map[string]interface{}, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}

		case llm.RoleAssistant:
			blocks := make([]map[string]interface{}, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := map[string]interface{}{}
				if strings.TrimSpace(tc.Arguments) != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": ""})
			}
			converted = append(converted, map[string]interface{}{
				"role":    "assistant",
				"content": blocks,
			})

		case llm.RoleTool:
			converted = append(converted, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":        "tool_result",
						"tool_use_id": m.ToolCallID,
						"content":     m.Content,
					},
				},
			})

		default:
			converted = append(converted, map[string]interface{}{
				"role":    string(m.Role),
				"content": m.Content,
			})
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBlockedMaxTokens
	}

	body := map[string]interface{}{
		"model":      opts.Model,
		"messages":   converted,
		"max_tokens": maxTokens,
		"stream":     opts.Stream,
	}
	if len(systemParts) > 0 {
		body["system"] = strings.Join(systemParts, "\n")
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		body["top_p"] = *opts.TopP
	}
	if p.profile.ReasoningMode == ReasoningEnableFlag && opts.ReasoningLevel != llm.ReasoningOff {
		body["thinking"] = map[string]interface{}{"type": "enabled"}
	}

	if len(tools) > 0 {
		defs := make([]map[string]interface{}, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, map[string]interface{}{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = defs
	}

	return body
}

// blockFrame is the union of the JSON shapes carried by block-oriented
// frames; only the fields for the frame's event type are populated.
type blockFrame struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *BlockStream) consume(ctx context.Context, resp *http.Response, events chan<- llm.Event) {
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
	tracker := newBlockTracker()
	usage := llm.Usage{}
	usageSeen := false
	finish := llm.FinishStop
	stopped := false
	failed := false

	handleFrame := func(frame sse.Frame) bool {
		if frame.Data == "" || frame.Done {
			return true
		}

		var bf blockFrame
		if err := json.Unmarshal([]byte(frame.Data), &bf); err != nil {
			p.logger.Warn().Str("provider", p.name).Err(err).Msg("Dropping undecodable stream frame")
			return true
		}
		eventName := frame.Event
		if eventName == "" {
			eventName = bf.Type
		}

		switch eventName {
		case "message_start":
			usage.PromptTokens = bf.Message.Usage.InputTokens
			usage.CompletionTokens = bf.Message.Usage.OutputTokens
			usageSeen = true
			return emit(llm.Event{
				Type:      llm.EventStreamStart,
				RequestID: bf.Message.ID,
				Model:     bf.Message.Model,
			})

		case "content_block_start":
			switch bf.ContentBlock.Type {
			case "thinking":
				tracker.start(bf.Index, blockThinking, "")
				return emit(llm.Event{Type: llm.EventThinkingStart})
			case "tool_use":
				tracker.start(bf.Index, blockToolUse, bf.ContentBlock.ID)
				return emit(llm.Event{
					Type:     llm.EventToolCallStart,
					CallID:   bf.ContentBlock.ID,
					ToolName: bf.ContentBlock.Name,
				})
			default:
				tracker.start(bf.Index, blockText, "")
			}

		case "content_block_delta":
			block, ok := tracker.lookup(bf.Index)
			if !ok {
				return true
			}
			switch bf.Delta.Type {
			case "text_delta":
				if bf.Delta.Text != "" {
					return emit(llm.Event{Type: llm.EventTextDelta, Text: bf.Delta.Text})
				}
			case "thinking_delta":
				if bf.Delta.Thinking != "" {
					return emit(llm.Event{Type: llm.EventThinkingDelta, Text: bf.Delta.Thinking})
				}
			case "input_json_delta":
				if block.kind == blockToolUse && bf.Delta.PartialJSON != "" {
					return emit(llm.Event{
						Type:     llm.EventToolCallArgsDelta,
						CallID:   block.callID,
						ArgsJSON: bf.Delta.PartialJSON,
					})
				}
			}

		case "content_block_stop":
			block, ok := tracker.stop(bf.Index)
			if !ok {
				return true
			}
			switch block.kind {
			case blockThinking:
				return emit(llm.Event{Type: llm.EventThinkingEnd})
			case blockToolUse:
				return emit(llm.Event{Type: llm.EventToolCallEnd, CallID: block.callID})
			}

		case "message_delta":
			if bf.Delta.StopReason != "" {
				finish = p.profile.NormalizeFinish(bf.Delta.StopReason)
			}
			if bf.Usage.OutputTokens > 0 {
				usage.CompletionTokens = bf.Usage.OutputTokens
				usageSeen = true
			}

		case "message_stop":
			stopped = true
			var u *llm.Usage
			if usageSeen {
				copied := usage
				u = &copied
			}
			return emit(llm.Event{Type: llm.EventStreamEnd, FinishReason: finish, Usage: u})

		case "error":
			failed = true
			return emit(llm.Event{
				Type: llm.EventStreamError,
				Err:  llm.StreamError(fmt.Sprintf("%s stream error: %s: %s", p.name, bf.Error.Type, bf.Error.Message), nil),
			})

		case "ping":
			// keepalive
		}
		return true
	}

	buf := make([]byte, 4096)
	for !stopped && !failed {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if !handleFrame(frame) {
					return
				}
				if stopped || failed {
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
			if !stopped && !failed {
				switch {
				case ctx.Err() != nil:
					emit(llm.Event{Type: llm.EventStreamError, Err: llm.TimeoutError(p.name+" stream aborted", true)})
				case !errors.Is(err, io.EOF):
					emit(llm.Event{Type: llm.EventStreamError, Err: llm.StreamError(p.name+" stream read failed", err)})
				default:
					emit(llm.Event{Type: llm.EventStreamError, Err: llm.StreamError(p.name+" stream ended without message_stop", nil)})
				}
			}
			return
		}
	}
}
