package monitor

import (
	"fmt"
	"strings"
	"time"
)

// FormatScore formats a score on the 0-10 scale as "X.XX/10".
func FormatScore(score float64) string {
	return fmt.Sprintf("%.2f/10", score)
}

// FormatDelta formats a score change with an explicit sign.
func FormatDelta(delta float64) string {
	if delta >= 0 {
		return fmt.Sprintf("+%.2f", delta)
	}
	return fmt.Sprintf("%.2f", delta)
}

// FormatPhase turns a phase name like "capturing_after" into "capturing after".
func FormatPhase(phase string) string {
	if phase == "" {
		return "waiting"
	}
	return strings.ReplaceAll(phase, "_", " ")
}

// FormatElapsed formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func FormatElapsed(d time.Duration) string {
	seconds := int64(d.Seconds())
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
