// Package proxy is the HTTP surface: it receives Messages-API requests,
// asks the router where they should actually go, hands them to the right
// adapter, streams the upstream response back untouched, and records the
// result in the ledger once the response is fully consumed.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"

	"github.com/cruiseproxy/cruise/internal/adapter"
	"github.com/cruiseproxy/cruise/internal/ledger"
	"github.com/cruiseproxy/cruise/internal/learner"
	"github.com/cruiseproxy/cruise/internal/prediction"
	"github.com/cruiseproxy/cruise/internal/pricing"
	"github.com/cruiseproxy/cruise/internal/router"
)

const maxRequestBodyBytes = 8 << 20 // 8 MiB, generous for a chat request.

// rateLimitWindowHours is the trailing window summed into
// tokens_used_before_limit when a 429 is observed.
const rateLimitWindowHours = 5

// ProviderTarget is one upstream the router can send requests to. BaseURL
// and APIKey here are the static fallback used for requests that bypass
// routing (passthrough); routed requests use the endpoint/api-key the
// router's Decision carries instead.
type ProviderTarget struct {
	Name    string
	Kind    adapter.Kind
	BaseURL string
	APIKey  string
}

// Engine wires the four proxy subsystems to the HTTP surface.
type Engine struct {
	ledger    *ledger.Ledger
	router    *router.Router
	predictor *prediction.Engine
	learner   *learner.Learner

	providers map[string]ProviderTarget
	client    *http.Client
	metrics   *metricsSet
	registry  *prometheus.Registry
}

// New builds an Engine. providers must include every name the router's
// Config references; an unknown provider name at request time is a 502.
// Each Engine owns its own metrics registry rather than registering onto
// the global default, so multiple Engines (one per test, say) can coexist
// in the same process.
func New(l *ledger.Ledger, r *router.Router, pred *prediction.Engine, lr *learner.Learner, providers map[string]ProviderTarget) *Engine {
	registry := prometheus.NewRegistry()
	return &Engine{
		ledger:    l,
		router:    r,
		predictor: pred,
		learner:   lr,
		providers: providers,
		client:    &http.Client{Timeout: 120 * time.Second},
		metrics:   newMetricsSet(registry),
		registry:  registry,
	}
}

// RegisterRoutes attaches the proxy's handlers to r.
func (e *Engine) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", e.handleHealth)
	r.GET("/stats", e.handleStats)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})))
	r.POST("/v1/messages", e.handleMessages)
	// Every other /v1/* path (any method) reaches the passthrough forwarder
	// through the no-route handler, beside the static /v1/messages route.
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			e.handlePassthrough(c)
		}
	})
}

func (e *Engine) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_id": e.ledger.CurrentSessionID()})
}

func (e *Engine) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	session, errSession := e.ledger.GetTotalUsage(ctx, ledger.TimeframeSession)
	today, errToday := e.ledger.GetTotalUsage(ctx, ledger.TimeframeToday)
	week, errWeek := e.ledger.GetTotalUsage(ctx, ledger.TimeframeWeek)
	if errSession != nil || errToday != nil || errWeek != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate usage"})
		return
	}

	savings, err := e.ledger.GetRoutingSavings(ctx, ledger.TimeframeToday)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate savings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":        e.ledger.CurrentSessionID(),
		"session":           session,
		"today":             today,
		"week":              week,
		"router":            e.router.GetStatus(),
		"savings_today_usd": savings,
	})
}

// handlePassthrough forwards any other /v1/* path (e.g. /v1/models) to the
// primary provider unchanged. Only /v1/messages needs schema translation.
func (e *Engine) handlePassthrough(c *gin.Context) {
	target, ok := e.providers["primary"]
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no primary provider configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	e.forward(c, target, c.Request.URL.Path, body, "", "", nil)
}

func (e *Engine) handleMessages(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	requestedModel := gjson.GetBytes(body, "model").String()
	if requestedModel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	var forecast *prediction.Forecast
	if f, errPredict := e.predictor.Predict(c.Request.Context(), requestedModel, 5); errPredict == nil {
		forecast = &f
	} else {
		log.WithError(errPredict).Warn("proxy: prediction failed, routing without forecast")
	}

	decision := e.router.Route(requestedModel, forecast)
	target, ok := e.providers[decision.Provider]
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "routed provider not configured", "provider": decision.Provider})
		return
	}
	if decision.Endpoint != "" {
		target.BaseURL = decision.Endpoint
	}
	if decision.APIKey != "" {
		target.APIKey = decision.APIKey
	}

	a, err := adapter.For(target.Kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	outBody, path, err := a.Prepare(body, decision.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	routedFrom, routingReason := "", ""
	if decision.ShouldRoute {
		routedFrom, routingReason = requestedModel, decision.Reason
		log.Infof("proxy: routing %s -> %s/%s (%s)", requestedModel, decision.Provider, decision.Model, decision.Reason)

		savings := pricing.NominalSavings(requestedModel, decision.Model)
		if _, errLog := e.ledger.AddRoutingDecision(c.Request.Context(), ledger.RoutingDecisionInput{
			OriginalProvider: "primary",
			RoutedProvider:   decision.Provider,
			RoutedModel:      decision.Model,
			Reason:           decision.Reason,
			EstimatedSavings: savings,
		}); errLog != nil {
			log.WithError(errLog).Warn("proxy: failed to record routing decision")
		}
	}

	e.forward(c, target, path, outBody, routedFrom, routingReason, forecast)
}

// forward issues the upstream call and streams its body back to the
// caller as it arrives, then records the result in the ledger. requestModel
// is the caller's originally requested model when the request was routed
// (used for the ledger's routed_from field and as the rate-limit learner's
// model key); it is empty for requests that were not routed, including
// passthrough requests, and the outgoing body's model is then the learner's
// key.
func (e *Engine) forward(c *gin.Context, target ProviderTarget, path string, body []byte, requestModel, routingReason string, forecast *prediction.Forecast) {
	ctx := c.Request.Context()
	upstreamURL := strings.TrimRight(target.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if a, errAdapter := adapter.For(target.Kind); errAdapter == nil {
		for k, vals := range a.Headers(target.APIKey, c.Request.Header) {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
	}

	model := gjson.GetBytes(body, "model").String()
	originalModel := requestModel
	if originalModel == "" {
		originalModel = model
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		latency := time.Since(start)
		e.recordFailure(ctx, target, model, requestModel, routingReason, latency, "upstream_unreachable")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)

	var buf bytes.Buffer
	flusher, canFlush := c.Writer.(http.Flusher)
	chunk := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if _, writeErr := c.Writer.Write(chunk[:n]); writeErr != nil {
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}
	latency := time.Since(start)

	if resp.StatusCode == http.StatusTooManyRequests {
		e.recordRateLimit(ctx, originalModel)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	usage := extractUsage(buf.String())
	e.metrics.observe(target.Name, model, success, latency.Seconds(), usage)

	errorType := ""
	var errorDetail datatypes.JSON
	if !success {
		errorType = errorTypeForStatus(resp.StatusCode)
		errorDetail = errorDetailJSON(buf.Bytes())
	}

	if _, err := e.ledger.AddLog(ctx, ledger.LogInput{
		Model:            model,
		Provider:         target.Name,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		LatencyMS:        latency.Milliseconds(),
		Success:          success,
		ErrorType:        errorType,
		ErrorDetail:      errorDetail,
		RoutedFrom:       requestModel,
		RoutingReason:    routingReason,
	}); err != nil {
		log.WithError(err).Warn("proxy: failed to record usage log")
	}
}

func (e *Engine) recordFailure(ctx context.Context, target ProviderTarget, model, requestModel, routingReason string, latency time.Duration, errorType string) {
	e.metrics.observe(target.Name, model, false, latency.Seconds(), extractedUsage{})
	if _, err := e.ledger.AddLog(ctx, ledger.LogInput{
		Model:         model,
		Provider:      target.Name,
		LatencyMS:     latency.Milliseconds(),
		Success:       false,
		ErrorType:     errorType,
		RoutedFrom:    requestModel,
		RoutingReason: routingReason,
	}); err != nil {
		log.WithError(err).Warn("proxy: failed to record failed request")
	}
}

// errorDetailJSON wraps a failed response body as a JSON column value. When
// body is already a JSON object or array it is stored verbatim; otherwise
// it is wrapped as {"raw": "..."} so the column always holds valid JSON.
func errorDetailJSON(body []byte) datatypes.JSON {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return datatypes.JSON(trimmed)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(trimmed)})
	if err != nil {
		return nil
	}
	return datatypes.JSON(wrapped)
}

// recordRateLimit sums the trailing rate-limit window's usage for
// originalModel (the model the client originally requested, not whatever it
// was routed to), folds that into the learner's ceiling, persists the event,
// and flips the router's sticky rate-limit flag.
func (e *Engine) recordRateLimit(ctx context.Context, originalModel string) {
	logs, err := e.ledger.GetWindowLogs(ctx, rateLimitWindowHours)
	if err != nil {
		log.WithError(err).Warn("proxy: failed to read rate limit window")
		return
	}
	var tokensBeforeLimit int64
	for _, l := range logs {
		if l.Model != originalModel {
			continue
		}
		tokensBeforeLimit += l.InputTokens + l.OutputTokens
	}

	event, err := e.ledger.AddRateLimitEvent(ctx, ledger.RateLimitEventInput{
		Model:                 originalModel,
		ErrorType:             "rate_limit_exceeded",
		TokensUsedBeforeLimit: tokensBeforeLimit,
		WindowHours:           rateLimitWindowHours,
	})
	if err != nil {
		log.WithError(err).Warn("proxy: failed to record rate limit event")
		return
	}
	e.learner.RecordRateLimitEvent(event)
	e.router.RecordRateLimit(nil)
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error"
	case status >= 500:
		return "upstream_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}
