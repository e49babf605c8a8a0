package logic

import "time"

// ASCTimers derives the anti-short-cycle interlock flags from the pump's last
// start and stop stamps. It belongs to the integrating system, not to Tick:
// the caller overlays the result onto the state before ticking.
//
// minOff blocks a restart until the pump has been stopped that long; minRun
// blocks a stop until it has been running that long. A zero stamp (never
// started or stopped) never blocks.
func ASCTimers(p Pump, now time.Time, minOff, minRun time.Duration) (minOffActive, minRunActive bool) {
	if !p.PumpRunning && !p.LastStopTime.IsZero() {
		minOffActive = now.Sub(p.LastStopTime) < minOff
	}
	if p.PumpRunning && !p.LastStartTime.IsZero() {
		minRunActive = now.Sub(p.LastStartTime) < minRun
	}
	return minOffActive, minRunActive
}
