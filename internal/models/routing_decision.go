package models

import "time"

// RoutingDecision records one response that actually switched provider or model.
type RoutingDecision struct {
	ID        string `gorm:"primaryKey;type:text"`
	Timestamp int64  `gorm:"not null;index"`
	SessionID string `gorm:"not null;type:text;index"`

	OriginalProvider string `gorm:"type:text"`
	RoutedProvider   string `gorm:"type:text"`
	RoutedModel      string `gorm:"type:text"`
	Reason           string `gorm:"type:text"`

	EstimatedSavings float64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName overrides the default table name.
func (RoutingDecision) TableName() string { return "routing_decisions" }
