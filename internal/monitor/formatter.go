package monitor

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/breaker"
)

// FormatRate formats a rate value as "X.X req/s".
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f req/s", rate)
}

// FormatPercentage formats a ratio (0-1) as percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatOpenFor formats how long a breaker has been open as "Xm Ys" or "Xs".
func FormatOpenFor(openedAt, now time.Time) string {
	if openedAt.IsZero() {
		return "-"
	}
	d := now.Sub(openedAt).Truncate(time.Second)
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// stateBadge renders a breaker state with its color.
func stateBadge(s breaker.State) string {
	switch s {
	case breaker.Closed:
		return healthyStyle.Render("● CLOSED")
	case breaker.HalfOpen:
		return warningStyle.Render("◐ HALF_OPEN")
	case breaker.Open:
		return errorStyle.Render("○ OPEN")
	default:
		return dimStyle.Render(string(s))
	}
}

// statusBadge renders the daemon's overall status.
func statusBadge(status string) string {
	switch status {
	case "ok":
		return healthyStyle.Render("✓ OK")
	case "degraded":
		return warningStyle.Render("⚠ DEGRADED")
	default:
		return errorStyle.Render("✗ " + status)
	}
}
