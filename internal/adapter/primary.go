package adapter

import "net/http"

// anthropicVersion is the wire version the primary schema declares on every
// request; it is not negotiable per-request.
const anthropicVersion = "2023-06-01"

// betaHeader is the one client header the primary schema passes through
// verbatim, since beta feature flags are opt-in per request.
const betaHeader = "Anthropic-Beta"

// primaryAdapter targets the primary provider, which already speaks the
// Messages API natively. The only body mutation needed is the model field
// rewrite the router performs when it selects a different underlying model
// than the caller requested.
type primaryAdapter struct{}

func (primaryAdapter) Kind() Kind { return KindPrimary }

func (primaryAdapter) Prepare(body []byte, targetModel string) ([]byte, string, error) {
	out, err := setModel(body, targetModel)
	if err != nil {
		return nil, "", err
	}
	return out, "/v1/messages", nil
}

func (primaryAdapter) Headers(apiKey string, incoming http.Header) http.Header {
	h := make(http.Header)
	if apiKey != "" {
		h.Set("x-api-key", apiKey)
	}
	h.Set("anthropic-version", anthropicVersion)
	if beta := incoming.Get(betaHeader); beta != "" {
		h.Set(betaHeader, beta)
	}
	return h
}
