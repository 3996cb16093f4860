package models

import "time"

// RateLimitEvent records one observed quota-rejection from an upstream provider.
type RateLimitEvent struct {
	ID        string `gorm:"primaryKey;type:text"`
	Timestamp int64  `gorm:"not null;index:idx_rate_limit_model_ts"`

	Model     string `gorm:"not null;type:text;index:idx_rate_limit_model_ts"` // Originally requested model.
	ErrorType string `gorm:"type:text"`

	ResetTime             *int64 `gorm:""` // Optional millisecond instant.
	TokensUsedBeforeLimit int64  `gorm:"not null;default:0"`
	WindowHours           int    `gorm:"not null;default:5"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName overrides the default table name.
func (RateLimitEvent) TableName() string { return "rate_limit_events" }
