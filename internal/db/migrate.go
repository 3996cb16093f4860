package db

import (
	"gorm.io/gorm"

	"github.com/cruiseproxy/cruise/internal/models"
)

// Migrate runs auto-migration for the ledger schema: usage_logs,
// rate_limit_events, routing_decisions, sessions.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return gorm.ErrInvalidDB
	}
	return conn.AutoMigrate(
		&models.Session{},
		&models.UsageLog{},
		&models.RateLimitEvent{},
		&models.RoutingDecision{},
	)
}
