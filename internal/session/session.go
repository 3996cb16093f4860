// Package session provides the pure, storage-agnostic pieces of the
// process-lifetime session unit: ID formatting and a summary view type.
// Neither the ledger nor the /stats endpoint returns a Summary. The durable
// Session row itself is owned by the usage ledger.
package session

import (
	"fmt"
	"time"
)

// GenerateID returns a monotonic "session_<start-instant-ms>" identifier.
func GenerateID(now time.Time) string {
	return fmt.Sprintf("session_%d", now.UnixMilli())
}

// Summary is a read-only dashboard/stats view of a session's totals.
type Summary struct {
	SessionID   string
	StartedAt   time.Time
	EndedAt     *time.Time
	TotalCost   float64
	TotalTokens int64
	Requests    int64
}
