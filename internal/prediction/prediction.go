// Package prediction combines the usage ledger's window totals, the limit
// learner's ceiling and the velocity package's rate/trend into a single
// forecast: how much of the learned quota is used, how long until it's
// likely exhausted, and what the router should do about it.
package prediction

import (
	"context"
	"math"
	"time"

	"github.com/cruiseproxy/cruise/internal/ledger"
	"github.com/cruiseproxy/cruise/internal/learner"
	"github.com/cruiseproxy/cruise/internal/velocity"
)

// noLimitInSightMinutes is the sentinel returned when the current velocity
// would never exhaust the remaining budget (or velocity is zero).
const noLimitInSightMinutes = 999

// Action is the router-facing recommendation derived from a Forecast.
type Action string

const (
	ActionPause          Action = "pause"
	ActionSwitchProvider Action = "switch_provider"
	ActionSwitchModel    Action = "switch_model"
	ActionContinue       Action = "continue"
)

// Forecast is the output of Predict for one model over one window.
type Forecast struct {
	Model              string
	WindowHours        float64
	UsagePercent       float64
	TokensUsed         int64
	TokensRemaining    int64
	CeilingTokens      int64
	MinutesUntilLimit  float64 // noLimitInSightMinutes sentinel when not projectable.
	EstimatedLimitTime time.Time
	Confidence         float64
	Pattern            velocity.Pattern
	RecommendedAction  Action
}

// Engine predicts quota exhaustion per model from a ledger and learner.
type Engine struct {
	ledger  *ledger.Ledger
	learner *learner.Learner
}

// New builds a prediction Engine over l and lr.
func New(l *ledger.Ledger, lr *learner.Learner) *Engine {
	return &Engine{ledger: l, learner: lr}
}

// Predict forecasts usage for model over the trailing windowHours.
func (e *Engine) Predict(ctx context.Context, model string, windowHours float64) (Forecast, error) {
	now := time.Now().UTC()

	logs, err := e.ledger.GetWindowLogs(ctx, windowHours)
	if err != nil {
		return Forecast{}, err
	}

	var tokensUsed int64
	filtered := logs[:0:0]
	for _, l := range logs {
		if l.Model != model {
			continue
		}
		filtered = append(filtered, l)
		tokensUsed += l.InputTokens + l.OutputTokens
	}
	logCount := len(filtered)

	lim := e.learner.Get(model)
	ceiling := lim.Ceiling
	if ceiling <= 0 {
		ceiling = 1
	}

	usagePercent := math.Min(100, float64(tokensUsed)/float64(ceiling)*100)
	tokensRemaining := ceiling - tokensUsed
	if tokensRemaining < 0 {
		tokensRemaining = 0
	}

	vel := velocity.Compute(filtered, windowHours*60)

	minutesUntilLimit := float64(noLimitInSightMinutes)
	estimatedLimitTime := now.Add(time.Duration(noLimitInSightMinutes) * time.Minute)
	if minutes, ok := vel.MinutesUntilExhausted(tokensRemaining); ok {
		minutesUntilLimit = minutes
		estimatedLimitTime = now.Add(time.Duration(minutes * float64(time.Minute)))
	}

	confidence := math.Floor((lim.Confidence + math.Min(100, float64(logCount)*2)) / 2)

	forecast := Forecast{
		Model:              model,
		WindowHours:        windowHours,
		UsagePercent:       usagePercent,
		TokensUsed:         tokensUsed,
		TokensRemaining:    tokensRemaining,
		CeilingTokens:      ceiling,
		MinutesUntilLimit:  minutesUntilLimit,
		EstimatedLimitTime: estimatedLimitTime,
		Confidence:         confidence,
		Pattern:            vel.Pattern,
	}
	forecast.RecommendedAction = recommend(forecast)
	return forecast, nil
}

// recommend applies the decision table: pause beats switch_provider beats
// switch_model beats continue, each guarded by its own usage/urgency cutoff.
func recommend(f Forecast) Action {
	switch {
	case f.MinutesUntilLimit < 10 || f.UsagePercent > 95:
		return ActionPause
	case f.UsagePercent > 85 || (f.Pattern == velocity.PatternBurst && f.UsagePercent > 70):
		return ActionSwitchProvider
	case f.UsagePercent > 70:
		return ActionSwitchModel
	default:
		return ActionContinue
	}
}
