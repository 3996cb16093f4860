package models

import "time"

// Session is a process lifetime unit used to bucket totals.
type Session struct {
	SessionID string     `gorm:"primaryKey;type:text"`
	StartedAt int64      `gorm:"not null"`
	EndedAt   *int64     `gorm:""`

	TotalCost   float64 `gorm:"not null;default:0"`
	TotalTokens int64   `gorm:"not null;default:0"`
	ProjectPath string  `gorm:"type:text"`
}

// TableName overrides the default table name.
func (Session) TableName() string { return "sessions" }

// IsClosed reports whether the session has an EndedAt stamp.
func (s Session) IsClosed() bool { return s.EndedAt != nil }

// Started returns StartedAt as a time.Time in UTC.
func (s Session) Started() time.Time {
	return time.UnixMilli(s.StartedAt).UTC()
}
