package provider

import (
	"github.com/evanrhodes/tern/pkg/llm"
)

// buildRequestBody assembles the provider-neutral canonical JSON body.
// The profile is applied afterwards by the adapter. An empty tools slice
// omits the tools key entirely.
func buildRequestBody(messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) map[string]interface{} {
	body := map[string]interface{}{
		"model":    opts.Model,
		"messages": canonicalMessages(messages),
		"stream":   opts.Stream,
	}

	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		body["top_p"] = *opts.TopP
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	if opts.ReasoningLevel != llm.ReasoningOff {
		body["reasoning_effort"] = string(opts.ReasoningLevel)
	}

	if len(tools) > 0 {
		defs := make([]map[string]interface{}, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = defs
	}

	if opts.Stream {
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}

	return body
}

func canonicalMessages(messages []llm.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		entry := map[string]interface{}{
			"role":    string(m.Role),
			"content": m.Content,
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		out = append(out, entry)
	}
	return out
}
