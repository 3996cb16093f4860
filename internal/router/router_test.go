package router

import (
	"testing"
	"time"

	"github.com/cruiseproxy/cruise/internal/prediction"
)

func testConfig() Config {
	return Config{
		Mode:    ModeFullAuto,
		Enabled: true,
		Providers: []Provider{
			{
				Name:     "primary",
				Type:     ProviderPrimary,
				Endpoint: "https://api.anthropic.com",
				APIKey:   "sk-ant-primary",
				Models:   []string{"claude-sonnet-4", "claude-haiku-4"},
				Enabled:  true,
				Priority: 1,
			},
			{
				Name:     "openrouter",
				Type:     ProviderOpenAICompatible,
				Endpoint: "https://openrouter.ai/api",
				APIKey:   "sk-or-key",
				Models:   []string{"anthropic/claude-sonnet-4"},
				Enabled:  true,
				Priority: 2,
			},
			{
				Name:     "local",
				Type:     ProviderLocalChat,
				Endpoint: "http://localhost:11434",
				Models:   []string{"llama3"},
				Enabled:  true,
				Priority: 3,
			},
		},
	}
}

func TestRouteDirectWhenDisabled(t *testing.T) {
	r := New(testConfig())
	r.SetEnabled(false)

	d := r.Route("claude-sonnet-4", nil)
	if d.Provider != "primary" || d.Reason != "direct" {
		t.Fatalf("got %+v, want direct primary routing", d)
	}
	if d.ShouldRoute {
		t.Fatalf("should_route = true for an unrouted direct primary request")
	}
}

func TestRouteManualModeIgnoresUsagePercent(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeManual
	r := New(cfg)
	forecast := &prediction.Forecast{UsagePercent: 99}

	d := r.Route("claude-sonnet-4", forecast)
	if d.Provider != "primary" {
		t.Fatalf("manual mode should not act on usage percent alone, got %s", d.Provider)
	}
}

func TestRouteSwitchesToHaikuAt72Percent(t *testing.T) {
	r := New(testConfig())
	forecast := &prediction.Forecast{UsagePercent: 72}

	d := r.Route("claude-sonnet-4", forecast)
	if d.Provider != "primary" {
		t.Fatalf("provider = %s, want primary", d.Provider)
	}
	if d.Model != "claude-haiku-4" {
		t.Fatalf("model = %s, want claude-haiku-4", d.Model)
	}
	if !d.ShouldRoute {
		t.Fatalf("should_route = false, want true when target model differs from requested")
	}
}

func TestRouteSwitchesToOpenRouterAt88Percent(t *testing.T) {
	r := New(testConfig())
	forecast := &prediction.Forecast{UsagePercent: 88}

	d := r.Route("claude-sonnet-4", forecast)
	if d.Provider != "openrouter" {
		t.Fatalf("provider = %s, want openrouter", d.Provider)
	}
	if !d.ShouldRoute {
		t.Fatalf("should_route = false, want true for a non-primary target")
	}
}

func TestRouteSwitchesToLocalAt96Percent(t *testing.T) {
	r := New(testConfig())
	forecast := &prediction.Forecast{UsagePercent: 96}

	d := r.Route("claude-sonnet-4", forecast)
	if d.Provider != "local" {
		t.Fatalf("provider = %s, want local", d.Provider)
	}
	if d.Model != "llama3" {
		t.Fatalf("model = %s, want llama3", d.Model)
	}
}

func TestRouteRateLimitedSkipsPrimary(t *testing.T) {
	r := New(testConfig())
	resetAt := time.Now().Add(time.Hour)
	r.RecordRateLimit(&resetAt)

	d := r.Route("claude-sonnet-4", nil)
	if d.Provider != "openrouter" {
		t.Fatalf("provider = %s, want openrouter (lowest priority non-primary)", d.Provider)
	}
	if d.Reason != "rate_limited" {
		t.Fatalf("reason = %s, want rate_limited", d.Reason)
	}
}

func TestRouteRateLimitedStaysSetImmediatelyAfterPastResetTime(t *testing.T) {
	r := New(testConfig())
	resetAt := time.Now().Add(-time.Minute)
	r.RecordRateLimit(&resetAt)

	// minRateLimitClear (60s) floors how soon the flag can clear even
	// though resetAt is already in the past.
	if !r.isRateLimited() {
		t.Fatalf("expected flag to still be set immediately after recording")
	}
}

func TestRouteRateLimitedFallsThroughWithNoAlternates(t *testing.T) {
	cfg := Config{
		Mode:    ModeFullAuto,
		Enabled: true,
		Providers: []Provider{
			{Name: "primary", Type: ProviderPrimary, Models: []string{"claude-sonnet-4"}, Enabled: true, Priority: 1},
		},
	}
	r := New(cfg)
	resetAt := time.Now().Add(time.Hour)
	r.RecordRateLimit(&resetAt)

	d := r.Route("claude-sonnet-4", nil)
	if d.Provider != "primary" || d.Reason != "direct" {
		t.Fatalf("got %+v, want direct fallback when no alternate exists", d)
	}
}

func TestUpdateProviderUpserts(t *testing.T) {
	r := New(testConfig())
	r.UpdateProvider(Provider{Name: "openrouter", Type: ProviderOpenAICompatible, Models: []string{"anthropic/claude-sonnet-4"}, Enabled: true, Priority: 1})

	resetAt := time.Now().Add(time.Hour)
	r.RecordRateLimit(&resetAt)
	d := r.Route("claude-sonnet-4", nil)
	if d.Provider != "openrouter" {
		t.Fatalf("provider = %s, want openrouter after priority bump", d.Provider)
	}
}
