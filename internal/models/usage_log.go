package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageLog records token accounting for a single proxied response.
type UsageLog struct {
	ID        string `gorm:"primaryKey;type:text"`  // Monotonic millis + random suffix.
	Timestamp int64  `gorm:"not null;index"`        // Millisecond instant.
	SessionID string `gorm:"not null;index;type:text"`

	Model    string `gorm:"not null;type:text;index"` // Effective target model.
	Provider string `gorm:"not null;type:text"`       // Provider tag.

	InputTokens      int64 `gorm:"not null;default:0"`
	OutputTokens     int64 `gorm:"not null;default:0"`
	CacheReadTokens  int64 `gorm:"not null;default:0"`
	CacheWriteTokens int64 `gorm:"not null;default:0"`

	CostUSD   float64 `gorm:"not null;default:0"`
	LatencyMS int64   `gorm:"not null;default:0"`
	Success   bool    `gorm:"not null;default:true"`
	ErrorType string  `gorm:"type:text"`

	// ErrorDetail carries the raw upstream error body (or a {"raw":...}
	// wrapper when it wasn't valid JSON) for failed requests; nil on success.
	ErrorDetail datatypes.JSON `gorm:""`

	ProjectPath   string `gorm:"type:text"`
	RoutedFrom    string `gorm:"type:text"` // Original requested model, when routed.
	RoutingReason string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName overrides the default table name.
func (UsageLog) TableName() string { return "usage_logs" }

// TotalTokens returns input+output tokens, the quantity the quota model bills against.
func (u UsageLog) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }
