// Package adapter translates the incoming Messages-API request body into
// the shape each upstream target expects and builds that target's request
// headers. Responses are not translated: the upstream's response body
// reaches the caller in the upstream's own schema. Every adapter is a pure,
// allocation-light transform: none of them touch the network.
package adapter

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kind identifies which upstream wire shape an adapter targets.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindOpenAI    Kind = "openai"
	KindLocalChat Kind = "local"
)

// Adapter prepares an outgoing request body for one upstream kind, maps its
// path suffix (appended to the provider base URL), and builds the headers
// its schema requires.
type Adapter interface {
	Kind() Kind
	Prepare(body []byte, targetModel string) (outBody []byte, path string, err error)
	// Headers builds the upstream request headers for this schema. apiKey
	// is the target provider's credential (empty for no-auth targets).
	// incoming is the client's original request header, consulted only for
	// the primary schema's anthropic-beta passthrough.
	Headers(apiKey string, incoming http.Header) http.Header
}

// For returns the Adapter for kind.
func For(kind Kind) (Adapter, error) {
	switch kind {
	case KindPrimary:
		return primaryAdapter{}, nil
	case KindOpenAI:
		return openAIAdapter{}, nil
	case KindLocalChat:
		return localChatAdapter{}, nil
	default:
		return nil, fmt.Errorf("adapter: unknown kind %q", kind)
	}
}

// flattenContent collapses an Anthropic-style content block array
// ([{"type":"text","text":"..."}]) into a single joined string. Non-text
// blocks (images, tool_use, tool_result) are dropped; this proxy only
// promises to flatten text content between wire shapes, not to carry
// multimodal content across adapters.
func flattenContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var out string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if out != "" {
				out += "\n"
			}
			out += block.Get("text").String()
		}
		return true
	})
	return out
}

// setModel rewrites the top-level "model" field, the one mutation every
// adapter performs regardless of wire shape.
func setModel(body []byte, model string) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("adapter: set model: %w", err)
	}
	return out, nil
}
