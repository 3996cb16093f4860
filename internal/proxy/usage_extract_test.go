package proxy

import "testing"

func TestExtractUsageTakesLastOccurrence(t *testing.T) {
	text := `event: message_start
data: {"usage":{"input_tokens":120,"output_tokens":1}}

event: message_delta
data: {"usage":{"output_tokens":47}}

event: message_delta
data: {"usage":{"output_tokens":205}}
`
	u := extractUsage(text)
	if u.InputTokens != 120 {
		t.Fatalf("input tokens = %d, want 120", u.InputTokens)
	}
	if u.OutputTokens != 205 {
		t.Fatalf("output tokens = %d, want 205 (last occurrence)", u.OutputTokens)
	}
}

func TestExtractUsageFallsBackToOpenAIFieldNames(t *testing.T) {
	text := `{"usage":{"prompt_tokens":80,"completion_tokens":33}}`
	u := extractUsage(text)
	if u.InputTokens != 80 || u.OutputTokens != 33 {
		t.Fatalf("got %+v, want input=80 output=33", u)
	}
}

func TestExtractUsageNoMatches(t *testing.T) {
	u := extractUsage("not json at all")
	if u != (extractedUsage{}) {
		t.Fatalf("expected zero value, got %+v", u)
	}
}
