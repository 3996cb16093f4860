// Package router selects which provider and model should actually serve a
// request, given the caller's requested model, the prediction engine's
// usage forecast for it, and a sticky rate-limit flag raised by prior
// responses. Configuration lives behind an atomic snapshot so request
// handling never blocks on a config-reload lock.
package router

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cruiseproxy/cruise/internal/pricing"
	"github.com/cruiseproxy/cruise/internal/prediction"
)

// Mode controls how aggressively the router acts on usage forecasts.
type Mode string

const (
	// ModeManual only reroutes once the sticky rate-limit flag is set.
	ModeManual Mode = "manual"
	// ModeSemiAuto additionally reroutes ahead of a rate limit once usage
	// crosses the configured percent thresholds.
	ModeSemiAuto Mode = "semi-auto"
	// ModeFullAuto behaves like ModeSemiAuto; the distinction between the
	// two is a dashboard/operator affordance (semi-auto surfaces a prompt
	// before acting in the original system), not a difference in this
	// package's selection order.
	ModeFullAuto Mode = "full-auto"
)

// ProviderType identifies the wire schema a provider speaks.
type ProviderType string

const (
	ProviderPrimary          ProviderType = "primary"
	ProviderOpenAICompatible ProviderType = "openai-compatible"
	ProviderLocalChat        ProviderType = "local-chat"
)

// Default percent thresholds, used when a Config leaves one unset (zero).
const (
	DefaultSwitchToHaikuPercent      = 70
	DefaultSwitchToOpenRouterPercent = 85
	DefaultSwitchToLocalPercent      = 95
)

// defaultRateLimitWindow is the fallback clearing delay for the sticky
// rate-limit flag when no reset_time is supplied.
const defaultRateLimitWindow = 5 * time.Hour

// minRateLimitClear is the floor on how soon the sticky flag can clear,
// even if a provider-supplied reset_time has already passed.
const minRateLimitClear = 60 * time.Second

// Provider is one routable upstream target.
type Provider struct {
	Name     string
	Type     ProviderType
	Endpoint string
	APIKey   string
	Models   []string
	Enabled  bool
	Priority int // Lower sorts earlier.
}

// Config is the router's externally supplied, hot-reloadable configuration.
type Config struct {
	Mode    Mode
	Enabled bool

	SwitchToHaikuPercent      float64
	SwitchToOpenRouterPercent float64
	SwitchToLocalPercent      float64

	Providers []Provider
}

func (c Config) haikuThreshold() float64 {
	if c.SwitchToHaikuPercent > 0 {
		return c.SwitchToHaikuPercent
	}
	return DefaultSwitchToHaikuPercent
}

func (c Config) openRouterThreshold() float64 {
	if c.SwitchToOpenRouterPercent > 0 {
		return c.SwitchToOpenRouterPercent
	}
	return DefaultSwitchToOpenRouterPercent
}

func (c Config) localThreshold() float64 {
	if c.SwitchToLocalPercent > 0 {
		return c.SwitchToLocalPercent
	}
	return DefaultSwitchToLocalPercent
}

// Decision is the outcome of Route.
type Decision struct {
	Provider         string
	Endpoint         string
	APIKey           string
	Model            string
	RoutedFrom       string
	Reason           string
	EstimatedSavings float64
	// ShouldRoute is true iff the target model differs from the requested
	// model or the target provider is not the primary; see the explicit
	// resolution of the should_route ambiguity this condition follows.
	ShouldRoute bool
}

// Status reports the router's live state for the /stats surface. It never
// includes provider api keys.
type Status struct {
	Mode          Mode
	Enabled       bool
	IsRateLimited bool
}

type snapshot struct {
	config Config
}

// Router holds the atomic config snapshot plus the sticky, mutex-protected
// rate-limit flag Route consults on every call.
type Router struct {
	cfg atomic.Value // snapshot

	mu            sync.Mutex
	rateLimited   bool
	rateLimitEnds time.Time
}

// New builds a Router from an initial config.
func New(cfg Config) *Router {
	r := &Router{}
	r.cfg.Store(snapshot{config: cfg})
	return r
}

func (r *Router) load() Config {
	s, _ := r.cfg.Load().(snapshot)
	return s.config
}

// SetMode atomically swaps the routing mode.
func (r *Router) SetMode(mode Mode) {
	cfg := r.load()
	cfg.Mode = mode
	r.cfg.Store(snapshot{config: cfg})
}

// SetEnabled atomically toggles routing on or off.
func (r *Router) SetEnabled(enabled bool) {
	cfg := r.load()
	cfg.Enabled = enabled
	r.cfg.Store(snapshot{config: cfg})
}

// UpdateProvider atomically upserts a provider entry by name, keeping the
// existing slice order for everything else.
func (r *Router) UpdateProvider(p Provider) {
	cfg := r.load()
	next := make([]Provider, 0, len(cfg.Providers)+1)
	replaced := false
	for _, existing := range cfg.Providers {
		if strings.EqualFold(existing.Name, p.Name) {
			next = append(next, p)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, p)
	}
	cfg.Providers = next
	r.cfg.Store(snapshot{config: cfg})
}

// RecordRateLimit sets the sticky flag. It clears after max(60s,
// resetTime-now) once resetTime is given, or after a 5-hour default
// otherwise; clearing is observed lazily by isRateLimited/GetStatus rather
// than by a background timer.
func (r *Router) RecordRateLimit(resetTime *time.Time) {
	now := time.Now()
	delay := defaultRateLimitWindow
	if resetTime != nil {
		delay = resetTime.Sub(now)
	}
	if delay < minRateLimitClear {
		delay = minRateLimitClear
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimited = true
	r.rateLimitEnds = now.Add(delay)
}

func (r *Router) isRateLimited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.rateLimited {
		return false
	}
	if time.Now().After(r.rateLimitEnds) {
		r.rateLimited = false
		return false
	}
	return true
}

// Route selects a provider/model for requestedModel. forecast may be nil
// when no prediction is available yet (e.g. the very first request for a
// model); Route then treats usage_percent as 0.
func (r *Router) Route(requestedModel string, forecast *prediction.Forecast) Decision {
	cfg := r.load()

	primary := selectByType(cfg.Providers, ProviderPrimary)
	direct := Decision{
		Provider:   providerNameOr(primary, "primary"),
		Endpoint:   endpointOf(primary),
		APIKey:     apiKeyOf(primary),
		Model:      requestedModel,
		RoutedFrom: requestedModel,
		Reason:     "direct",
	}
	direct.ShouldRoute = shouldRoute(direct.Model, requestedModel, direct.Provider)

	if !cfg.Enabled || cfg.Mode == "" {
		return direct
	}

	usagePercent := 0.0
	if forecast != nil {
		usagePercent = forecast.UsagePercent
	}

	// Step 1: the sticky rate-limit flag takes precedence over usage-percent
	// thresholds regardless of mode.
	if r.isRateLimited() {
		if d, ok := r.rateLimitFallback(cfg, requestedModel); ok {
			return d
		}
		return direct
	}

	if cfg.Mode == ModeManual {
		return direct
	}

	// Step 2: local-chat at the highest severity threshold.
	if usagePercent >= cfg.localThreshold() {
		if p := selectByType(cfg.Providers, ProviderLocalChat); p != nil && len(p.Models) > 0 {
			return decisionFor(p, p.Models[0], requestedModel, "usage_percent_local")
		}
	}

	// Step 3: openai-compatible next.
	if usagePercent >= cfg.openRouterThreshold() {
		if p := selectByType(cfg.Providers, ProviderOpenAICompatible); p != nil && len(p.Models) > 0 {
			return decisionFor(p, p.Models[0], requestedModel, "usage_percent_openrouter")
		}
	}

	// Step 4: Haiku-class on the primary.
	if usagePercent >= cfg.haikuThreshold() {
		if primary != nil && primary.Enabled {
			return decisionFor(primary, haikuModelFor(*primary), requestedModel, "usage_percent_haiku")
		}
	}

	// Step 5: no-routing.
	return direct
}

// rateLimitFallback implements step 1: the first enabled, non-primary
// provider in ascending priority order, skipping the already rate-limited
// primary.
func (r *Router) rateLimitFallback(cfg Config, requestedModel string) (Decision, bool) {
	var best *Provider
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if !p.Enabled || p.Type == ProviderPrimary {
			continue
		}
		if best == nil || p.Priority < best.Priority {
			best = p
		}
	}
	if best == nil {
		return Decision{}, false
	}

	model := ""
	if best.Type == ProviderPrimary {
		model = haikuModelFor(*best)
	} else if len(best.Models) > 0 {
		model = best.Models[0]
	}
	if model == "" {
		return Decision{}, false
	}
	return decisionFor(best, model, requestedModel, "rate_limited"), true
}

// decisionFor builds a Decision routing requestedModel to targetModel on p.
func decisionFor(p *Provider, targetModel, requestedModel, reason string) Decision {
	d := Decision{
		Provider:         p.Name,
		Endpoint:         p.Endpoint,
		APIKey:           p.APIKey,
		Model:            targetModel,
		RoutedFrom:       requestedModel,
		Reason:           reason,
		EstimatedSavings: pricing.NominalSavings(requestedModel, targetModel),
	}
	d.ShouldRoute = shouldRoute(targetModel, requestedModel, p.Name)
	return d
}

// shouldRoute is the explicit disjunction: true iff the target model
// differs from the requested model, or the target provider is not the
// primary. A route to a non-primary provider is therefore always reported,
// even when it keeps the requested model name.
func shouldRoute(targetModel, requestedModel, providerName string) bool {
	return targetModel != requestedModel || !strings.EqualFold(providerName, "primary")
}

// haikuModelFor returns the Haiku-class entry in p.Models, or its first
// model if none classifies as Haiku.
func haikuModelFor(p Provider) string {
	for _, m := range p.Models {
		if pricing.ModelClass(m) == "haiku-class" {
			return m
		}
	}
	if len(p.Models) > 0 {
		return p.Models[0]
	}
	return ""
}

// selectByType returns the enabled provider of type t with the lowest
// priority value (earliest), or nil if none is enabled.
func selectByType(providers []Provider, t ProviderType) *Provider {
	var best *Provider
	for i := range providers {
		p := &providers[i]
		if !p.Enabled || p.Type != t {
			continue
		}
		if best == nil || p.Priority < best.Priority {
			best = p
		}
	}
	return best
}

func providerNameOr(p *Provider, fallback string) string {
	if p == nil {
		return fallback
	}
	return p.Name
}

func endpointOf(p *Provider) string {
	if p == nil {
		return ""
	}
	return p.Endpoint
}

func apiKeyOf(p *Provider) string {
	if p == nil {
		return ""
	}
	return p.APIKey
}

// GetStatus reports a snapshot of mode/enabled/rate-limit state. It never
// includes provider api keys.
func (r *Router) GetStatus() Status {
	cfg := r.load()
	return Status{Mode: cfg.Mode, Enabled: cfg.Enabled, IsRateLimited: r.isRateLimited()}
}
