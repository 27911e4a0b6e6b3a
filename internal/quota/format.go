package quota

import (
	"fmt"
	"time"
)

// ReadyText is shown once a reset time has passed.
const ReadyText = "Ready"

// FormatTimeUntil renders a countdown with day, hour and minute granularity.
func FormatTimeUntil(d time.Duration) string {
	if d <= 0 {
		return ReadyText
	}
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins == 0 {
		mins = 1
	}
	days := mins / (24 * 60)
	hours := (mins % (24 * 60)) / 60
	mins = mins % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
