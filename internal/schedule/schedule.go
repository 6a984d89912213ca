// Package schedule computes decision-cycle times from candle boundaries.
//
// Crypto markets trade continuously, so scheduling is pure bar arithmetic:
// ticks fire a fixed buffer after each bar close, giving the exchange time
// to finalize the closed candle before it is fetched.
package schedule

import (
	"fmt"
	"time"
)

// DefaultBuffer is the delay past a bar close before the tick fires.
const DefaultBuffer = 30 * time.Second

// NextCandleClose returns the first bar boundary strictly after now.
// Bars are aligned to the Unix epoch, which for whole-hour timeframes
// coincides with UTC midnight.
func NextCandleClose(now time.Time, bar time.Duration) time.Time {
	return now.UTC().Truncate(bar).Add(bar)
}

// NextTick returns the next decision-cycle time: the first instant of the
// form (bar close + buffer) strictly after now. A process started between
// a close and close+buffer still catches that bar's tick.
func NextTick(now time.Time, bar, buffer time.Duration) time.Time {
	return now.UTC().Add(-buffer).Truncate(bar).Add(bar).Add(buffer)
}

// TimeUntilTick returns the wait until the next decision cycle.
func TimeUntilTick(now time.Time, bar, buffer time.Duration) time.Duration {
	return NextTick(now, bar, buffer).Sub(now.UTC())
}

// StatusString returns a human-readable scheduling status for startup logs.
func StatusString(now time.Time, bar, buffer time.Duration) string {
	next := NextTick(now, bar, buffer)
	return fmt.Sprintf("next cycle at %s (%s from now)",
		next.Format(time.RFC3339), fmtDur(next.Sub(now.UTC())))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
