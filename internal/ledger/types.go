package ledger

import "gorm.io/datatypes"

// Timeframe selects the aggregation window for GetTotalUsage and
// GetRoutingSavings.
type Timeframe string

const (
	TimeframeSession Timeframe = "session"
	TimeframeToday   Timeframe = "today"
	TimeframeWeek    Timeframe = "week"
)

// LogInput is the caller-supplied shape for AddLog: a UsageLog without its
// id/session_id, which the ledger assigns.
type LogInput struct {
	Timestamp int64 // Millisecond instant; 0 means "now".

	Model    string
	Provider string

	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64

	LatencyMS   int64
	Success     bool
	ErrorType   string
	ErrorDetail datatypes.JSON // Raw upstream error body, if any.

	ProjectPath   string
	RoutedFrom    string
	RoutingReason string
}

// RateLimitEventInput is a RateLimitEvent without its id.
type RateLimitEventInput struct {
	Timestamp             int64
	Model                 string
	ErrorType             string
	ResetTime             *int64
	TokensUsedBeforeLimit int64
	WindowHours           int
}

// RoutingDecisionInput is a RoutingDecision without its id/session_id.
type RoutingDecisionInput struct {
	Timestamp        int64
	OriginalProvider string
	RoutedProvider   string
	RoutedModel      string
	Reason           string
	EstimatedSavings float64
}

// TotalUsage is the reduced view returned by GetTotalUsage.
type TotalUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalCost    float64
	RequestCount int64
	AvgLatency   float64
}
