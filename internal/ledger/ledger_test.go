package ledger

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cruiseproxy/cruise/internal/db"
	"github.com/cruiseproxy/cruise/internal/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l, err := Open(conn, "/tmp/project")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAddLogRecomputesSessionTotals(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddLog(ctx, LogInput{Model: "claude-sonnet-4", Provider: "primary", InputTokens: 1000, OutputTokens: 500, Success: true}); err != nil {
		t.Fatalf("add log: %v", err)
	}
	if _, err := l.AddLog(ctx, LogInput{Model: "claude-sonnet-4", Provider: "primary", InputTokens: 2000, OutputTokens: 1000, Success: true}); err != nil {
		t.Fatalf("add log: %v", err)
	}

	logs, err := l.GetSessionLogs(ctx)
	if err != nil {
		t.Fatalf("get session logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}

	usage, err := l.GetTotalUsage(ctx, TimeframeSession)
	if err != nil {
		t.Fatalf("get total usage: %v", err)
	}
	if usage.RequestCount != 2 {
		t.Fatalf("request count = %d, want 2", usage.RequestCount)
	}
	if usage.InputTokens != 3000 || usage.OutputTokens != 1500 {
		t.Fatalf("unexpected token totals: %+v", usage)
	}

	var sess models.Session
	if err := l.db.WithContext(ctx).Where("session_id = ?", l.CurrentSessionID()).First(&sess).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.TotalTokens != 4500 {
		t.Fatalf("session total tokens = %d, want 4500", sess.TotalTokens)
	}
}

func TestGetTotalUsageEmptyTimeframe(t *testing.T) {
	l := newTestLedger(t)
	usage, err := l.GetTotalUsage(context.Background(), TimeframeToday)
	if err != nil {
		t.Fatalf("get total usage: %v", err)
	}
	if usage.RequestCount != 0 || usage.AvgLatency != 0 {
		t.Fatalf("expected zero usage, got %+v", usage)
	}
}

func TestRateLimitEventRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddRateLimitEvent(ctx, RateLimitEventInput{Model: "claude-sonnet-4", ErrorType: "rate_limit", TokensUsedBeforeLimit: 4_800_000}); err != nil {
		t.Fatalf("add rate limit event: %v", err)
	}

	history, err := l.GetRateLimitHistory(ctx, "claude-sonnet-4")
	if err != nil {
		t.Fatalf("get rate limit history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d events, want 1", len(history))
	}
	if history[0].WindowHours != 5 {
		t.Fatalf("window hours = %d, want default 5", history[0].WindowHours)
	}
}

func TestRoutingSavingsAccumulate(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.AddRoutingDecision(ctx, RoutingDecisionInput{OriginalProvider: "primary", RoutedProvider: "openrouter", RoutedModel: "claude-sonnet-4", Reason: "rate_limited", EstimatedSavings: 0.12}); err != nil {
		t.Fatalf("add routing decision: %v", err)
	}

	savings, err := l.GetRoutingSavings(ctx, TimeframeSession)
	if err != nil {
		t.Fatalf("get routing savings: %v", err)
	}
	if savings != 0.12 {
		t.Fatalf("savings = %v, want 0.12", savings)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
