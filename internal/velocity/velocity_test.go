package velocity

import (
	"testing"
	"time"

	"github.com/cruiseproxy/cruise/internal/models"
)

func logAt(t time.Time, tokens int64) models.UsageLog {
	return models.UsageLog{Timestamp: t.UnixMilli(), InputTokens: tokens, OutputTokens: 0}
}

func TestComputeTokensPerHour(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	logs := []models.UsageLog{
		logAt(now.Add(-30*time.Minute), 1000),
		logAt(now.Add(-10*time.Minute), 2000),
	}
	st := Compute(logs, 60)
	if st.TokensPerHour != 3000 {
		t.Fatalf("tokens per hour = %v, want 3000", st.TokensPerHour)
	}
	if st.TokensPerMinute != 50 {
		t.Fatalf("tokens per minute = %v, want 50", st.TokensPerMinute)
	}
}

func TestTrendAllAtOneInstantUsesMean(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	logs := []models.UsageLog{
		logAt(now, 100),
		logAt(now, 300),
	}
	st := Compute(logs, 60)
	for i, v := range st.Trend {
		if v != 200 {
			t.Fatalf("trend[%d] = %v, want 200 (mean of one-instant logs)", i, v)
		}
	}
}

func TestClassifyBurst(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var logs []models.UsageLog
	// Steady trickle across most buckets, then a huge spike in the last.
	for i := 0; i < 10; i++ {
		logs = append(logs, logAt(now.Add(-time.Duration(50-i*5)*time.Minute), 100))
	}
	logs = append(logs, logAt(now.Add(-1*time.Minute), 50000))

	st := Compute(logs, 60)
	if st.Pattern != PatternBurst {
		t.Fatalf("pattern = %s, want burst", st.Pattern)
	}
}

func TestClassifyDeclining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var logs []models.UsageLog
	// One even log per bucket, then a drop in the newest bucket: the trend
	// stays flat enough not to be a burst while acceleration turns negative.
	for i := 0; i < 11; i++ {
		logs = append(logs, logAt(now.Add(-time.Duration(55-i*5)*time.Minute), 100))
	}
	logs = append(logs, logAt(now, 40))
	st := Compute(logs, 60)
	if st.Pattern != PatternDeclining {
		t.Fatalf("pattern = %s, want declining", st.Pattern)
	}
}

func TestAccelerationZeroWithFewPopulatedBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	logs := []models.UsageLog{
		logAt(now.Add(-5*time.Minute), 100),
		logAt(now.Add(-2*time.Minute), 100),
	}
	st := Compute(logs, 60)
	if st.Acceleration != 0 {
		t.Fatalf("acceleration = %v, want 0 with fewer than 3 populated buckets", st.Acceleration)
	}
}

func TestMinutesUntilExhaustedNoRate(t *testing.T) {
	st := Stats{TokensPerMinute: 0}
	if _, ok := st.MinutesUntilExhausted(1000); ok {
		t.Fatalf("expected ok=false when rate is zero")
	}
}

func TestMinutesUntilExhaustedAlreadyZero(t *testing.T) {
	st := Stats{TokensPerMinute: 100}
	minutes, ok := st.MinutesUntilExhausted(0)
	if !ok || minutes != 0 {
		t.Fatalf("minutes=%v ok=%v, want 0,true", minutes, ok)
	}
}

func TestForwardProjectBurstAppliesMultiplier(t *testing.T) {
	st := Stats{TokensPerMinute: 100, Pattern: PatternBurst}
	if got := st.ForwardProject(10); got != 1200 {
		t.Fatalf("forward project = %v, want 1200", got)
	}
}

func TestForwardProjectDecliningDampens(t *testing.T) {
	st := Stats{TokensPerMinute: 100, Pattern: PatternDeclining}
	got := st.ForwardProject(60)
	want := 100.0 * 60 * (1 - 0.1*60/60)
	if got != want {
		t.Fatalf("forward project = %v, want %v", got, want)
	}
}
