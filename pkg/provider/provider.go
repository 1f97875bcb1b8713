// Package provider adapts vendor LLM streaming APIs onto the normalized
// event model. Two wire families are supported: chat-completions style
// (one delta object per frame, [DONE] sentinel) and block-oriented style
// (typed frames with indexed content blocks).
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/evanrhodes/tern/pkg/llm"
)

// eventBufferSize bounds the producer/consumer channel so provider I/O
// overlaps tool execution without unbounded memory growth.
const eventBufferSize = 64

// Provider is the capability a loop needs from one vendor: a name and a
// lazy event stream per request. The returned channel is closed after the
// terminal StreamEnd or StreamError event.
type Provider interface {
	Name() string
	Send(ctx context.Context, messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.Event, error)
}

// mapHTTPError converts a non-2xx provider response into the error
// taxonomy. The body is read (bounded) for diagnostics.
func mapHTTPError(providerName string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return llm.AuthError(fmt.Sprintf("%s rejected credentials (status %d)", providerName, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return llm.RateLimitError(fmt.Sprintf("%s rate limit: %s", providerName, detail))
	case resp.StatusCode == http.StatusBadRequest:
		return llm.RequestError(fmt.Sprintf("%s rejected request: %s", providerName, detail))
	case resp.StatusCode >= 500:
		return llm.ProviderError(fmt.Sprintf("%s server error (status %d): %s", providerName, resp.StatusCode, detail))
	default:
		return llm.RequestError(fmt.Sprintf("%s unexpected status %d: %s", providerName, resp.StatusCode, detail))
	}
}
