// Package ledger implements the usage ledger: a durable, append-only log of
// per-request token accounting, keyed by session and time, from which every
// other cruise subsystem (limit learner, prediction engine, router) derives
// its decisions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/cruiseproxy/cruise/internal/db"
	"github.com/cruiseproxy/cruise/internal/models"
	"github.com/cruiseproxy/cruise/internal/pricing"
	"github.com/cruiseproxy/cruise/internal/session"
)

// Ledger is the usage ledger. It uniquely owns the durable
// store; every other component holds a reference and invokes its
// operations rather than mutating persisted state directly.
type Ledger struct {
	db *gorm.DB

	mu               sync.Mutex // guards currentSessionID and the close-once semantics.
	currentSessionID string
	closed           bool
}

// Open creates a new current session and returns a Ledger bound to conn. conn must already have Migrate(conn) applied.
func Open(conn *gorm.DB, projectPath string) (*Ledger, error) {
	if conn == nil {
		return nil, errors.New("ledger: nil db connection")
	}

	now := time.Now().UTC()
	sess := models.Session{
		SessionID:   session.GenerateID(now),
		StartedAt:   now.UnixMilli(),
		ProjectPath: projectPath,
	}
	if err := conn.WithContext(context.Background()).Create(&sess).Error; err != nil {
		return nil, fmt.Errorf("ledger: create session: %w", err)
	}

	return &Ledger{db: conn, currentSessionID: sess.SessionID}, nil
}

// CurrentSessionID returns the id of the process's one "current" session.
func (l *Ledger) CurrentSessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSessionID
}

// AddLog assigns a fresh id and the current session id, computes cost,
// writes the row, then recomputes the current session's totals in one
// atomic operation.
func (l *Ledger) AddLog(ctx context.Context, in LogInput) (models.UsageLog, error) {
	l.mu.Lock()
	sessionID := l.currentSessionID
	l.mu.Unlock()

	now := time.Now().UTC()
	ts := in.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}

	row := models.UsageLog{
		ID:               newID(now),
		Timestamp:        ts,
		SessionID:        sessionID,
		Model:            in.Model,
		Provider:         in.Provider,
		InputTokens:      in.InputTokens,
		OutputTokens:     in.OutputTokens,
		CacheReadTokens:  in.CacheReadTokens,
		CacheWriteTokens: in.CacheWriteTokens,
		CostUSD:          pricing.Cost(in.Model, in.InputTokens, in.OutputTokens, in.CacheReadTokens, in.CacheWriteTokens),
		LatencyMS:        in.LatencyMS,
		Success:          in.Success,
		ErrorType:        in.ErrorType,
		ErrorDetail:      in.ErrorDetail,
		ProjectPath:      in.ProjectPath,
		RoutedFrom:       in.RoutedFrom,
		RoutingReason:    in.RoutingReason,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		return recomputeSessionTotals(tx, sessionID)
	})
	if err != nil {
		return models.UsageLog{}, fmt.Errorf("ledger: add log: %w", err)
	}
	return row, nil
}

// recomputeSessionTotals sets Session.total_cost/total_tokens to the sum
// over all of its UsageLogs.
func recomputeSessionTotals(tx *gorm.DB, sessionID string) error {
	var agg struct {
		TotalCost   float64
		TotalTokens int64
	}
	if err := tx.Model(&models.UsageLog{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(SUM(cost_usd), 0) AS total_cost, COALESCE(SUM(input_tokens + output_tokens), 0) AS total_tokens").
		Scan(&agg).Error; err != nil {
		return err
	}
	return tx.Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"total_cost":   agg.TotalCost,
			"total_tokens": agg.TotalTokens,
		}).Error
}

// GetWindowLogs returns logs covering [now-hours, now], newest first.
func (l *Ledger) GetWindowLogs(ctx context.Context, hours float64) ([]models.UsageLog, error) {
	since := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour))).UnixMilli()
	var rows []models.UsageLog
	err := l.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: get window logs: %w", err)
	}
	return rows, nil
}

// GetSessionLogs returns the current session's logs, newest first.
func (l *Ledger) GetSessionLogs(ctx context.Context) ([]models.UsageLog, error) {
	var rows []models.UsageLog
	err := l.db.WithContext(ctx).
		Where("session_id = ?", l.CurrentSessionID()).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: get session logs: %w", err)
	}
	return rows, nil
}

// GetTodayLogs returns logs from local midnight today, newest first.
func (l *Ledger) GetTodayLogs(ctx context.Context) ([]models.UsageLog, error) {
	since := localMidnight(time.Now()).UnixMilli()
	var rows []models.UsageLog
	err := l.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: get today logs: %w", err)
	}
	return rows, nil
}

func localMidnight(t time.Time) time.Time {
	t = t.Local()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GetTotalUsage reduces over the timeframe's window.
// avg_latency is the arithmetic mean over counted entries, 0 when
// request_count is 0.
func (l *Ledger) GetTotalUsage(ctx context.Context, tf Timeframe) (TotalUsage, error) {
	rows, err := l.logsForTimeframe(ctx, tf)
	if err != nil {
		return TotalUsage{}, err
	}

	var out TotalUsage
	var latencySum int64
	for _, r := range rows {
		out.InputTokens += r.InputTokens
		out.OutputTokens += r.OutputTokens
		out.TotalCost += r.CostUSD
		latencySum += r.LatencyMS
		out.RequestCount++
	}
	if out.RequestCount > 0 {
		out.AvgLatency = float64(latencySum) / float64(out.RequestCount)
	}
	return out, nil
}

func (l *Ledger) logsForTimeframe(ctx context.Context, tf Timeframe) ([]models.UsageLog, error) {
	switch tf {
	case TimeframeSession:
		return l.GetSessionLogs(ctx)
	case TimeframeToday:
		return l.GetTodayLogs(ctx)
	case TimeframeWeek:
		return l.GetWindowLogs(ctx, 7*24)
	default:
		return nil, fmt.Errorf("ledger: unknown timeframe %q", tf)
	}
}

// AddRateLimitEvent inserts an event. It does not update learned limits —
// that is the limit learner's job.
func (l *Ledger) AddRateLimitEvent(ctx context.Context, in RateLimitEventInput) (models.RateLimitEvent, error) {
	now := time.Now().UTC()
	ts := in.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	windowHours := in.WindowHours
	if windowHours <= 0 {
		windowHours = 5
	}

	row := models.RateLimitEvent{
		ID:                    newID(now),
		Timestamp:             ts,
		Model:                 in.Model,
		ErrorType:             in.ErrorType,
		ResetTime:             in.ResetTime,
		TokensUsedBeforeLimit: in.TokensUsedBeforeLimit,
		WindowHours:           windowHours,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.RateLimitEvent{}, fmt.Errorf("ledger: add rate limit event: %w", err)
	}
	return row, nil
}

// GetRateLimitHistory returns all rate-limit events for a model, newest first.
func (l *Ledger) GetRateLimitHistory(ctx context.Context, model string) ([]models.RateLimitEvent, error) {
	var rows []models.RateLimitEvent
	err := l.db.WithContext(ctx).
		Where("model = ?", model).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: get rate limit history: %w", err)
	}
	return rows, nil
}

// GetRateLimitWindow returns rate-limit events within the last `hours`.
func (l *Ledger) GetRateLimitWindow(ctx context.Context, hours float64) ([]models.RateLimitEvent, error) {
	since := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour))).UnixMilli()
	var rows []models.RateLimitEvent
	err := l.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: get rate limit window: %w", err)
	}
	return rows, nil
}

// AddRoutingDecision inserts a decision row for the current session.
func (l *Ledger) AddRoutingDecision(ctx context.Context, in RoutingDecisionInput) (models.RoutingDecision, error) {
	now := time.Now().UTC()
	ts := in.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	row := models.RoutingDecision{
		ID:               newID(now),
		Timestamp:        ts,
		SessionID:        l.CurrentSessionID(),
		OriginalProvider: in.OriginalProvider,
		RoutedProvider:   in.RoutedProvider,
		RoutedModel:      in.RoutedModel,
		Reason:           in.Reason,
		EstimatedSavings: in.EstimatedSavings,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.RoutingDecision{}, fmt.Errorf("ledger: add routing decision: %w", err)
	}
	return row, nil
}

// GetRoutingSavings sums estimated_savings over the selected window.
func (l *Ledger) GetRoutingSavings(ctx context.Context, tf Timeframe) (float64, error) {
	var since int64
	switch tf {
	case TimeframeSession:
		var sum float64
		err := l.db.WithContext(ctx).Model(&models.RoutingDecision{}).
			Where("session_id = ?", l.CurrentSessionID()).
			Select("COALESCE(SUM(estimated_savings), 0)").
			Scan(&sum).Error
		if err != nil {
			return 0, fmt.Errorf("ledger: get routing savings: %w", err)
		}
		return sum, nil
	case TimeframeToday:
		since = localMidnight(time.Now()).UnixMilli()
	case TimeframeWeek:
		since = time.Now().UTC().Add(-7 * 24 * time.Hour).UnixMilli()
	default:
		return 0, fmt.Errorf("ledger: unknown timeframe %q", tf)
	}

	var sum float64
	err := l.db.WithContext(ctx).Model(&models.RoutingDecision{}).
		Where("timestamp >= ?", since).
		Select("COALESCE(SUM(estimated_savings), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: get routing savings: %w", err)
	}
	return sum, nil
}

// Cleanup deletes UsageLog rows older than retentionDays and returns the
// deleted count.
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()
	res := l.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.UsageLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: cleanup: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Vacuum reclaims space. It issues VACUUM on SQLite and is a no-op on
// dialects with their own autovacuum (Postgres, MySQL).
func (l *Ledger) Vacuum(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("ledger: vacuum: %w", err)
	}
	if !db.IsSQLite(l.db) {
		return nil
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		log.WithError(err).Warn("ledger: pragma optimize failed")
	}
	_, err = sqlDB.ExecContext(ctx, "VACUUM")
	if err != nil {
		return fmt.Errorf("ledger: vacuum: %w", err)
	}
	return nil
}

// Close marks the current session ended and closes the store handle. It is
// idempotent.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sessionID := l.currentSessionID
	l.mu.Unlock()

	now := time.Now().UTC().UnixMilli()
	if err := l.db.Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Update("ended_at", now).Error; err != nil {
		log.WithError(err).Warn("ledger: close: mark session ended failed")
	}

	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}
	return sqlDB.Close()
}
