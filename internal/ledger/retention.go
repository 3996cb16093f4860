package ledger

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultRetentionInterval = 6 * time.Hour
	defaultRetentionDays     = 30
)

// RetentionCleaner periodically runs Cleanup in the background so a
// long-lived process doesn't accumulate usage history forever.
type RetentionCleaner struct {
	ledger        *Ledger
	interval      time.Duration
	retentionDays int
}

// NewRetentionCleaner builds a cleaner for l. A retentionDays of 0 uses
// the ledger's own default (30 days).
func NewRetentionCleaner(l *Ledger, retentionDays int) *RetentionCleaner {
	return &RetentionCleaner{
		ledger:        l,
		interval:      defaultRetentionInterval,
		retentionDays: retentionDays,
	}
}

// Start launches the cleanup loop in a background goroutine and returns
// immediately. The loop exits once ctx is done.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil || c.ledger == nil {
		return
	}
	go c.run(ctx)
	log.WithField("interval", c.interval).Info("ledger: retention cleaner started")
}

func (c *RetentionCleaner) run(ctx context.Context) {
	c.cleanupOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanupOnce(ctx)
		}
	}
}

func (c *RetentionCleaner) cleanupOnce(ctx context.Context) {
	deleted, err := c.ledger.Cleanup(ctx, c.retentionDays)
	if err != nil {
		log.WithError(err).Warn("ledger: retention cleanup failed")
		return
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("ledger: retention cleanup removed old usage rows")
	}
}
