package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cruiseproxy/cruise/internal/adapter"
	"github.com/cruiseproxy/cruise/internal/db"
	"github.com/cruiseproxy/cruise/internal/learner"
	"github.com/cruiseproxy/cruise/internal/ledger"
	"github.com/cruiseproxy/cruise/internal/prediction"
	"github.com/cruiseproxy/cruise/internal/router"
)

func newTestEngine(t *testing.T, upstream *httptest.Server) (*Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	lr, err := learner.New(t.Context(), l)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}
	pred := prediction.New(l, lr)
	rt := router.New(router.Config{
		Mode:    router.ModeManual,
		Enabled: true,
		Providers: []router.Provider{
			{Name: "primary", Type: router.ProviderPrimary, Endpoint: upstream.URL, APIKey: "test-key", Models: []string{"claude-sonnet-4"}, Priority: 1, Enabled: true},
		},
	})

	providers := map[string]ProviderTarget{
		"primary": {Name: "primary", Kind: adapter.KindPrimary, BaseURL: upstream.URL, APIKey: "test-key"},
	}
	return New(l, rt, pred, lr, providers), l
}

func TestHandleMessagesRecordsUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg_1","usage":{"input_tokens":100,"output_tokens":50}}`))
	}))
	defer upstream.Close()

	e, l := newTestEngine(t, upstream)
	r := gin.New()
	e.RegisterRoutes(r)

	body := strings.NewReader(`{"model":"claude-sonnet-4","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	logs, err := l.GetSessionLogs(t.Context())
	if err != nil {
		t.Fatalf("get session logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if logs[0].InputTokens != 100 || logs[0].OutputTokens != 50 {
		t.Fatalf("unexpected usage extracted: %+v", logs[0])
	}
}

func TestHandleMessagesRejectsMissingModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEngine(t, upstream)
	r := gin.New()
	e.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessagesRecordsRateLimitOn429(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer upstream.Close()

	e, l := newTestEngine(t, upstream)
	r := gin.New()
	e.RegisterRoutes(r)

	body := strings.NewReader(`{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	history, err := l.GetRateLimitHistory(t.Context(), "claude-sonnet-4")
	if err != nil {
		t.Fatalf("get rate limit history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d rate limit events, want 1", len(history))
	}
	if history[0].ErrorType != "rate_limit_exceeded" {
		t.Fatalf("error type = %s, want rate_limit_exceeded", history[0].ErrorType)
	}
}

func TestHandleMessagesRateLimitSumsLedgerWindow(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer upstream.Close()

	e, l := newTestEngine(t, upstream)
	ctx := t.Context()

	// Pre-seed 4,000,000 tokens for the model about to get rate-limited.
	if _, err := l.AddLog(ctx, ledger.LogInput{Model: "claude-sonnet-4", Provider: "primary", InputTokens: 3_000_000, OutputTokens: 1_000_000, Success: true}); err != nil {
		t.Fatalf("add log: %v", err)
	}

	r := gin.New()
	e.RegisterRoutes(r)
	body := strings.NewReader(`{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	history, err := l.GetRateLimitHistory(ctx, "claude-sonnet-4")
	if err != nil {
		t.Fatalf("get rate limit history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d rate limit events, want 1", len(history))
	}
	// The 429 request's own (failed, zero-usage) log is written only after
	// this event is recorded, so only the pre-seeded 4,000,000 tokens should
	// be counted.
	if history[0].TokensUsedBeforeLimit != 4_000_000 {
		t.Fatalf("tokens used before limit = %d, want 4,000,000", history[0].TokensUsedBeforeLimit)
	}

	lim := e.learner.Get("claude-sonnet-4")
	if lim.Ceiling != 3_800_000 {
		t.Fatalf("learned ceiling = %d, want 3,800,000", lim.Ceiling)
	}
}

func TestHandleHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	e, _ := newTestEngine(t, upstream)
	r := gin.New()
	e.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
