package adapter

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// localChatAdapter targets a local Ollama-style /api/chat endpoint. Same
// content-flattening as openAIAdapter, but Ollama has no max_tokens/stream
// wrapper conventions beyond "stream" itself and nests sampling options
// under "options" instead of top-level fields.
type localChatAdapter struct{}

func (localChatAdapter) Kind() Kind { return KindLocalChat }

func (localChatAdapter) Prepare(body []byte, targetModel string) ([]byte, string, error) {
	parsed := gjson.ParseBytes(body)

	out := []byte(`{}`)
	var err error
	out, err = sjson.SetBytes(out, "model", targetModel)
	if err != nil {
		return nil, "", fmt.Errorf("adapter: local: set model: %w", err)
	}

	idx := 0
	if sys := parsed.Get("system"); sys.Exists() {
		if text := flattenContent(sys); text != "" {
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
		out, err = sjson.SetBytes(out, fmt.Sprintf("messages.%d.role", idx), msg.Get("role").String())
		if err != nil {
			return false
		}
		out, err = sjson.SetBytes(out, fmt.Sprintf("messages.%d.content", idx), flattenContent(msg.Get("content")))
		if err != nil {
			return false
		}
		idx++
		return true
	})
	if err != nil {
		return nil, "", fmt.Errorf("adapter: local: build messages: %w", err)
	}

	out, err = sjson.SetBytes(out, "stream", parsed.Get("stream").Bool())
	if err != nil {
		return nil, "", err
	}
	if maxTokens := parsed.Get("max_tokens"); maxTokens.Exists() {
		out, err = sjson.SetBytes(out, "options.num_predict", maxTokens.Int())
		if err != nil {
			return nil, "", err
		}
	}

	return out, "/api/chat", nil
}

// Headers returns an empty set: the local-chat schema has no auth.
func (localChatAdapter) Headers(string, http.Header) http.Header {
	return make(http.Header)
}
