package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newID returns "<millis>-<random-suffix>"
// suffix is a collision-avoidance measure, not a security measure.
func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
