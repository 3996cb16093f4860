package adapter

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// referer and title advertise the proxy to OpenAI-compatible aggregators
// (OpenRouter attributes traffic by these headers); cosmetic, never secret.
const (
	referer = "https://github.com/cruiseproxy/cruise"
	title   = "cruise"
)

// openAIAdapter targets OpenAI-compatible chat-completions endpoints
// (OpenRouter and similar). It flattens the Messages API's content-block
// array into plain strings and moves the top-level "system" field into a
// leading system message, since chat/completions has no separate system
// slot.
type openAIAdapter struct{}

func (openAIAdapter) Kind() Kind { return KindOpenAI }

func (openAIAdapter) Prepare(body []byte, targetModel string) ([]byte, string, error) {
	parsed := gjson.ParseBytes(body)

	out := []byte(`{}`)
	var err error
	out, err = sjson.SetBytes(out, "model", targetModel)
	if err != nil {
		return nil, "", fmt.Errorf("adapter: openai: set model: %w", err)
	}

	idx := 0
	if sys := parsed.Get("system"); sys.Exists() {
		text := flattenContent(sys)
		if text != "" {
			out, err = sjson.SetBytes(out, fmt.Sprintf("messages.%d.role", idx), "system")
			if err != nil {
				return nil, "", err
			}
			out, err = sjson.SetBytes(out, fmt.Sprintf("messages.%d.content", idx), text)
			if err != nil {
				return nil, "", err
			}
			idx++
		}
	}

	parsed.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := flattenContent(msg.Get("content"))
		out, err = sjson.SetBytes(out, fmt.Sprintf("messages.%d.role", idx), role)
		if err != nil {
			return false
		}
		out, err = sjson.SetBytes(out, fmt.Sprintf("messages.%d.content", idx), content)
		if err != nil {
			return false
		}
		idx++
		return true
	})
	if err != nil {
		return nil, "", fmt.Errorf("adapter: openai: build messages: %w", err)
	}

	if maxTokens := parsed.Get("max_tokens"); maxTokens.Exists() {
		out, err = sjson.SetBytes(out, "max_tokens", maxTokens.Int())
		if err != nil {
			return nil, "", err
		}
	}
	if temp := parsed.Get("temperature"); temp.Exists() {
		out, err = sjson.SetBytes(out, "temperature", temp.Float())
		if err != nil {
			return nil, "", err
		}
	}
	out, err = sjson.SetBytes(out, "stream", parsed.Get("stream").Bool())
	if err != nil {
		return nil, "", err
	}

	return out, "/v1/chat/completions", nil
}

func (openAIAdapter) Headers(apiKey string, _ http.Header) http.Header {
	h := make(http.Header)
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	h.Set("HTTP-Referer", referer)
	h.Set("X-Title", title)
	return h
}
