package provider

import (
	"strings"

	"github.com/evanrhodes/tern/pkg/llm"
)

// ReasoningMode says how a vendor accepts reasoning requests.
type ReasoningMode string

const (
	ReasoningNone       ReasoningMode = "none"
	ReasoningEffort     ReasoningMode = "effort"
	ReasoningEnableFlag ReasoningMode = "enable_flag"
)

// ToolCallFormat says how a vendor streams tool calls.
type ToolCallFormat string

const (
	ToolCallsStandard     ToolCallFormat = "standard"
	ToolCallsParallelOnly ToolCallFormat = "parallel_only"
	ToolCallsNoStreaming  ToolCallFormat = "no_streaming"
	ToolCallsUnsupported  ToolCallFormat = "unsupported"
)

// Profile is a data-only description of one vendor's API quirks. New
// vendors are table entries, not code paths.
type Profile struct {
	Name                  string
	MaxTokensField        string // "max_tokens" or "max_completion_tokens"
	ReasoningMode         ReasoningMode
	ToolCallFormat        ToolCallFormat
	StopSequenceField     string
	SupportsSystemMessage bool
	SupportsStreaming     bool
	SupportsStreamUsage   bool
	NeedsStreamOptions    bool
	APIPathOverride       string
	// FinishRewrites pre-rewrites vendor-specific finish strings before
	// the canonical normalization table applies.
	FinishRewrites map[string]string
}

// DefaultProfile is what unknown provider names fall through to.
func DefaultProfile() Profile {
	return Profile{
		Name:                  "default",
		MaxTokensField:        "max_tokens",
		ReasoningMode:         ReasoningNone,
		ToolCallFormat:        ToolCallsStandard,
		StopSequenceField:     "stop",
		SupportsSystemMessage: true,
		SupportsStreaming:     true,
		SupportsStreamUsage:   true,
		NeedsStreamOptions:    false,
	}
}

func builtinProfiles() map[string]Profile {
	return map[string]Profile{
		"openai": {
			Name:                  "openai",
			MaxTokensField:        "max_tokens",
			ReasoningMode:         ReasoningEffort,
			ToolCallFormat:        ToolCallsStandard,
			StopSequenceField:     "stop",
			SupportsSystemMessage: true,
			SupportsStreaming:     true,
			SupportsStreamUsage:   true,
			NeedsStreamOptions:    true,
		},
		"anthropic": {
			Name:                  "anthropic",
			MaxTokensField:        "max_tokens",
			ReasoningMode:         ReasoningEnableFlag,
			ToolCallFormat:        ToolCallsStandard,
			StopSequenceField:     "stop_sequences",
			SupportsSystemMessage: true,
			SupportsStreaming:     true,
			SupportsStreamUsage:   true,
			NeedsStreamOptions:    false,
		},
		"deepseek": {
			Name:                  "deepseek",
			MaxTokensField:        "max_tokens",
			ReasoningMode:         ReasoningNone,
			ToolCallFormat:        ToolCallsStandard,
			StopSequenceField:     "stop",
			SupportsSystemMessage: true,
			SupportsStreaming:     true,
			SupportsStreamUsage:   true,
			NeedsStreamOptions:    true,
			FinishRewrites:        map[string]string{"thinking_done": "stop"},
		},
		"o-series": {
			Name:                  "o-series",
			MaxTokensField:        "max_completion_tokens",
			ReasoningMode:         ReasoningEffort,
			ToolCallFormat:        ToolCallsStandard,
			StopSequenceField:     "stop",
			SupportsSystemMessage: false,
			SupportsStreaming:     true,
			SupportsStreamUsage:   true,
			NeedsStreamOptions:    true,
		},
	}
}

// Registry resolves provider names to profiles. Per-instance overrides take
// precedence over built-ins; unknown names fall through to the default.
type Registry struct {
	overrides map[string]Profile
	builtins  map[string]Profile
	fallback  Profile
}

// NewRegistry returns a registry with the built-in profile table.
func NewRegistry() *Registry {
	return &Registry{
		overrides: make(map[string]Profile),
		builtins:  builtinProfiles(),
		fallback:  DefaultProfile(),
	}
}

// Override installs or replaces a profile for name.
func (r *Registry) Override(name string, p Profile) {
	r.overrides[strings.ToLower(name)] = p
}

// Resolve looks up a profile case-insensitively.
func (r *Registry) Resolve(name string) Profile {
	key := strings.ToLower(name)
	if p, ok := r.overrides[key]; ok {
		return p
	}
	if p, ok := r.builtins[key]; ok {
		return p
	}
	return r.fallback
}

// RewriteFinish applies the profile's pre-normalization rewrite table.
func (p Profile) RewriteFinish(raw string) string {
	if p.FinishRewrites == nil {
		return raw
	}
	if mapped, ok := p.FinishRewrites[raw]; ok {
		return mapped
	}
	return raw
}

// NormalizeFinish rewrites then normalizes a vendor finish string.
func (p Profile) NormalizeFinish(raw string) llm.FinishReason {
	return llm.NormalizeFinishReason(p.RewriteFinish(raw))
}

// Apply rewrites a canonical request body in place per the profile.
// Applying a profile twice yields the same body as applying it once.
func (p Profile) Apply(body map[string]interface{}) map[string]interface{} {
	if p.MaxTokensField != "max_tokens" {
		if v, ok := body["max_tokens"]; ok {
			body[p.MaxTokensField] = v
			delete(body, "max_tokens")
		}
	}

	if !p.NeedsStreamOptions {
		delete(body, "stream_options")
	}

	if p.ReasoningMode != ReasoningEffort {
		delete(body, "reasoning_effort")
	}

	if !p.SupportsSystemMessage {
		mergeSystemIntoFirstUser(body)
	}

	return body
}

// mergeSystemIntoFirstUser concatenates all system contents with "\n" and
// prepends them (with "\n\n") to the first user message, removing the
// system entries. No user or assistant content is dropped.
func mergeSystemIntoFirstUser(body map[string]interface{}) {
	raw, ok := body["messages"].([]map[string]interface{})
	if !ok {
		return
	}

	var systemParts []string
	kept := make([]map[string]interface{}, 0, len(raw))
	for _, msg := range raw {
		if role, _ := msg["role"].(string); role == "system" {
			if content, _ := msg["content"].(string); content != "" {
				systemParts = append(systemParts, content)
			}
			continue
		}
		kept = append(kept, msg)
	}

	if len(systemParts) > 0 {
		prefix := strings.Join(systemParts, "\n")
		for _, msg := range kept {
			if role, _ := msg["role"].(string); role == "user" {
				content, _ := msg["content"].(string)
				msg["content"] = prefix + "\n\n" + content
				break
			}
		}
	}

	body["messages"] = kept
}
