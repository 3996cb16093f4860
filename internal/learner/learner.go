// Package learner maintains the learned per-model token ceiling the
// prediction engine divides usage by. Ceilings start at a conservative
// default and drift toward the actual provider-observed limit every time a
// rate-limit event is recorded.
package learner

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cruiseproxy/cruise/internal/ledger"
	"github.com/cruiseproxy/cruise/internal/models"
)

// defaultCeilings are the conservative starting ceilings used until the
// first rate-limit event for a model is observed; that event's value
// replaces the default outright.
var defaultCeilings = map[string]int64{
	"sonnet-class": 5_000_000,
	"haiku-class":  10_000_000,
	"opus-class":   2_000_000,
}

const defaultWindowHours = 5

// blendWeight is the safety factor applied to each observed
// tokens-before-limit value before it is folded into the running average,
// so the learned ceiling sits 5% below what was actually observed.
const blendWeight = 0.95

// Limit is the learned state for one model.
type Limit struct {
	Model       string
	Ceiling     int64
	WindowHours int
	Points      int64 // Number of rate-limit events folded into Ceiling.
	Confidence  float64
	UpdatedAt   time.Time
}

// Learner holds learned ceilings for every model seen so far, refreshed
// from the ledger's rate-limit history on construction and updated
// in-memory as new events are recorded.
type Learner struct {
	mu     sync.RWMutex
	limits map[string]*Limit
}

// New builds a Learner from the last 30 days of rate-limit history in l.
func New(ctx context.Context, l *ledger.Ledger) (*Learner, error) {
	lr := &Learner{limits: make(map[string]*Limit)}

	events, err := l.GetRateLimitWindow(ctx, 30*24)
	if err != nil {
		return nil, err
	}

	// Events come back newest-first; fold them oldest-first so the running
	// average accumulates in observation order.
	for i := len(events) - 1; i >= 0; i-- {
		lr.fold(events[i])
	}
	return lr, nil
}

func (lr *Learner) fold(e models.RateLimitEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	lim, ok := lr.limits[e.Model]
	if !ok {
		lim = &Limit{
			Model:       e.Model,
			Ceiling:     defaultCeilingFor(e.Model),
			WindowHours: defaultWindowHours,
		}
		lr.limits[e.Model] = lim
	}
	if e.WindowHours > 0 {
		lim.WindowHours = e.WindowHours
	}

	if e.TokensUsedBeforeLimit > 0 {
		observed := float64(e.TokensUsedBeforeLimit)
		blended := (float64(lim.Ceiling)*float64(lim.Points) + observed*blendWeight) / float64(lim.Points+1)
		lim.Ceiling = int64(math.Floor(blended))
		lim.Points++
	}
	lim.Confidence = confidenceFor(lim.Points)
	lim.UpdatedAt = time.UnixMilli(e.Timestamp).UTC()
}

// RecordRateLimitEvent folds a freshly observed event into the in-memory
// ceiling. Callers are also responsible for persisting the event via the
// ledger; this only updates the learned state.
func (lr *Learner) RecordRateLimitEvent(e models.RateLimitEvent) {
	lr.fold(e)
}

// Get returns the current learned limit for model, synthesizing a default
// entry if none has been observed yet.
func (lr *Learner) Get(model string) Limit {
	lr.mu.RLock()
	lim, ok := lr.limits[model]
	lr.mu.RUnlock()
	if ok {
		return *lim
	}
	return Limit{
		Model:       model,
		Ceiling:     defaultCeilingFor(model),
		WindowHours: defaultWindowHours,
		Confidence:  0,
	}
}

func defaultCeilingFor(model string) int64 {
	class := classify(model)
	if c, ok := defaultCeilings[class]; ok {
		return c
	}
	return defaultCeilings["sonnet-class"]
}

// classify buckets a free-form model name into one of the default-ceiling
// classes, independent of pricing.ModelClass's finer-grained buckets.
func classify(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		return "opus-class"
	case strings.Contains(lower, "haiku"):
		return "haiku-class"
	default:
		return "sonnet-class"
	}
}

// confidenceFor rises from 0 toward 100 as more rate-limit events
// accumulate: the first observation sets confidence to 20, and it then
// climbs linearly to 100 by saturationPoints observations, since the
// provider limit rarely drifts after that many.
func confidenceFor(points int64) float64 {
	const saturationPoints = 10
	const firstEventConfidence = 20
	switch {
	case points <= 0:
		return 0
	case points == 1:
		return firstEventConfidence
	case points >= saturationPoints:
		return 100
	default:
		step := (100 - firstEventConfidence) / float64(saturationPoints-1)
		return firstEventConfidence + step*float64(points-1)
	}
}
