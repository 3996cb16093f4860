package proxy

import (
	"regexp"
	"strconv"
)

// usageFields are pulled out of the raw response text with regular
// expressions instead of a JSON/SSE parser. A streaming response interleaves
// several partial usage objects across chunks (prompt tokens on the first
// event, cumulative output tokens updated on later ones); scanning the raw
// decoded text for the last match of each field and taking the last value
// seen is simpler than tracking SSE event boundaries and close enough for
// accounting purposes, at the cost of being easy to fool with a field name
// that happens to appear inside message content. That tradeoff is
// deliberate: this proxy does not promise exact accounting.
var (
	inputTokensRe      = regexp.MustCompile(`"input_tokens"\s*:\s*(\d+)`)
	outputTokensRe     = regexp.MustCompile(`"output_tokens"\s*:\s*(\d+)`)
	cacheReadTokensRe  = regexp.MustCompile(`"cache_read_input_tokens"\s*:\s*(\d+)`)
	cacheWriteTokensRe = regexp.MustCompile(`"cache_creation_input_tokens"\s*:\s*(\d+)`)

	openAIPromptTokensRe     = regexp.MustCompile(`"prompt_tokens"\s*:\s*(\d+)`)
	openAICompletionTokensRe = regexp.MustCompile(`"completion_tokens"\s*:\s*(\d+)`)
)

// extractedUsage holds the token counts pulled from one response body.
type extractedUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// extractUsage scans decoded response text for the last occurrence of each
// known usage field name, across either the Messages API's native field
// names or the OpenAI-compatible equivalents.
func extractUsage(text string) extractedUsage {
	var u extractedUsage
	u.InputTokens = lastMatchInt(inputTokensRe, text)
	u.OutputTokens = lastMatchInt(outputTokensRe, text)
	u.CacheReadTokens = lastMatchInt(cacheReadTokensRe, text)
	u.CacheWriteTokens = lastMatchInt(cacheWriteTokensRe, text)

	if u.InputTokens == 0 {
		u.InputTokens = lastMatchInt(openAIPromptTokensRe, text)
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = lastMatchInt(openAICompletionTokensRe, text)
	}
	return u
}

func lastMatchInt(re *regexp.Regexp, text string) int64 {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	n, err := strconv.ParseInt(last[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
