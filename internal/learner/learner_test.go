package learner

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cruiseproxy/cruise/internal/db"
	"github.com/cruiseproxy/cruise/internal/ledger"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l, err := ledger.Open(conn, "")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestGetReturnsDefaultCeilingWhenUnseen(t *testing.T) {
	l := newTestLedger(t)
	lr, err := New(context.Background(), l)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	lim := lr.Get("claude-sonnet-4-20250514")
	if lim.Ceiling != 5_000_000 {
		t.Fatalf("ceiling = %d, want default 5,000,000", lim.Ceiling)
	}
	if lim.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", lim.Confidence)
	}
}

func TestRecordRateLimitEventBlendsCeiling(t *testing.T) {
	l := newTestLedger(t)
	lr, err := New(context.Background(), l)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	ctx := context.Background()
	event, err := l.AddRateLimitEvent(ctx, ledger.RateLimitEventInput{
		Model:                 "claude-haiku-4",
		ErrorType:             "rate_limit",
		TokensUsedBeforeLimit: 8_500_000,
	})
	if err != nil {
		t.Fatalf("add rate limit event: %v", err)
	}
	lr.RecordRateLimitEvent(event)

	lim := lr.Get("claude-haiku-4")
	if lim.Points != 1 {
		t.Fatalf("points = %d, want 1", lim.Points)
	}
	if lim.Ceiling == 10_000_000 {
		t.Fatalf("ceiling did not move off the default")
	}
	if lim.Confidence <= 0 {
		t.Fatalf("confidence = %v, want > 0 after one observation", lim.Confidence)
	}
}

func TestClassifyDefaultCeilings(t *testing.T) {
	cases := map[string]int64{
		"claude-opus-4":   2_000_000,
		"claude-haiku-4":  10_000_000,
		"claude-sonnet-4": 5_000_000,
		"unknown-model":   5_000_000,
	}
	for model, want := range cases {
		got := defaultCeilingFor(model)
		if got != want {
			t.Fatalf("defaultCeilingFor(%q) = %d, want %d", model, got, want)
		}
	}
}
