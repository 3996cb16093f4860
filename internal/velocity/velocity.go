// Package velocity computes short-horizon token consumption rate, trend and
// acceleration from a window of usage logs, and classifies the resulting
// shape into a usage pattern the prediction engine feeds into its
// recommended action.
package velocity

import (
	"math"

	"github.com/cruiseproxy/cruise/internal/models"
)

const bucketCount = 12

// Pattern classifies the shape of recent token consumption.
type Pattern string

const (
	PatternBurst     Pattern = "burst"
	PatternSteady    Pattern = "steady"
	PatternDeclining Pattern = "declining"
)

// Stats is the velocity snapshot for one model over one window.
type Stats struct {
	TokensPerMinute float64
	TokensPerHour   float64
	// Trend holds bucketCount bucket sums spanning [oldest, newest] of the
	// logs actually seen, oldest first, newest last.
	Trend        [bucketCount]float64
	Acceleration float64
	Pattern      Pattern
}

// Compute derives rate, trend, acceleration and pattern from logs (already
// filtered to one model) over a window of windowMinutes minutes.
func Compute(logs []models.UsageLog, windowMinutes float64) Stats {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}

	var st Stats
	var total int64
	for _, l := range logs {
		total += l.InputTokens + l.OutputTokens
	}
	st.TokensPerMinute = float64(total) / windowMinutes
	st.TokensPerHour = st.TokensPerMinute * 60

	st.Trend = trend(logs)
	st.Acceleration = acceleration(st.Trend[:], populatedBuckets(st.Trend[:]))
	st.Pattern = classify(st.Trend[:], st.Acceleration)
	return st
}

// trend divides the actual timestamp range spanned by logs into bucketCount
// equal intervals and sums each log's input+output tokens into its bucket.
// Logs that all share one instant collapse to a single "all buckets equal
// the mean tokens per log" case, since there is no time range to divide.
func trend(logs []models.UsageLog) [bucketCount]float64 {
	var out [bucketCount]float64
	if len(logs) == 0 {
		return out
	}

	oldest, newest := logs[0].Timestamp, logs[0].Timestamp
	var sumTokens int64
	for _, l := range logs {
		if l.Timestamp < oldest {
			oldest = l.Timestamp
		}
		if l.Timestamp > newest {
			newest = l.Timestamp
		}
		sumTokens += l.InputTokens + l.OutputTokens
	}

	if newest == oldest {
		mean := float64(sumTokens) / float64(len(logs))
		for i := range out {
			out[i] = mean
		}
		return out
	}

	span := float64(newest - oldest)
	bucketSize := span / bucketCount
	for _, l := range logs {
		idx := int(float64(l.Timestamp-oldest) / bucketSize)
		if idx < 0 {
			idx = 0
		}
		if idx > bucketCount-1 {
			idx = bucketCount - 1
		}
		out[idx] += float64(l.InputTokens + l.OutputTokens)
	}
	return out
}

// populatedBuckets counts the trend buckets holding a nonzero sum, used only
// to decide whether acceleration has enough data to be meaningful.
func populatedBuckets(t []float64) int {
	n := 0
	for _, v := range t {
		if v != 0 {
			n++
		}
	}
	return n
}

// acceleration is the discrete second difference of the last three trend
// buckets: 0 when fewer than three buckets hold data.
func acceleration(t []float64, populated int) float64 {
	if populated < 3 || len(t) < 3 {
		return 0
	}
	n := len(t)
	return (t[n-1] - t[n-2]) - (t[n-2] - t[n-3])
}

// classify applies the burst/declining/steady thresholds to the trend
// series' mean and standard deviation and the acceleration value.
func classify(t []float64, accel float64) Pattern {
	mean, stddev := meanStddev(t)
	switch {
	case stddev > mean*0.5:
		return PatternBurst
	case accel < -mean*0.2:
		return PatternDeclining
	default:
		return PatternSteady
	}
}

func meanStddev(t []float64) (mean, stddev float64) {
	n := float64(len(t))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range t {
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, v := range t {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}

// ForwardProject estimates tokens consumed over the next minutesAhead using
// the pattern-specific formula for st.Pattern.
func (st Stats) ForwardProject(minutesAhead float64) float64 {
	switch st.Pattern {
	case PatternDeclining:
		factor := 1 - 0.1*minutesAhead/60
		if factor < 0 {
			factor = 0
		}
		return st.TokensPerMinute * minutesAhead * factor
	case PatternBurst:
		return st.TokensPerMinute * minutesAhead * 1.2
	default:
		return (st.TokensPerMinute + st.Acceleration/2*minutesAhead/60) * minutesAhead
	}
}

// MinutesUntilExhausted projects, at the current tokens-per-minute rate, how
// many minutes until tokensRemaining is consumed. ok is false when the rate
// is non-positive, in which case the caller falls back to its own "no limit
// in sight" sentinel.
func (st Stats) MinutesUntilExhausted(tokensRemaining int64) (minutes float64, ok bool) {
	if st.TokensPerMinute <= 0 {
		return 0, false
	}
	if tokensRemaining <= 0 {
		return 0, true
	}
	return float64(tokensRemaining) / st.TokensPerMinute, true
}
