// Package status provides a thread-safe status tracker for the water-sim daemon.
// It is read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/water-sim/internal/logic"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Instance    string
	RunID       string
	BasePath    string
	Store       string
	TickMs      int64
	HeartbeatMs int64
	MinOffMs    int64
	MinRunMs    int64
	Broker      string
	HTTPPort    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	State         logic.ProcessState
	Scanned       bool // at least one scan completed
	Gated         bool // last scan found the gate closed
	Counts        logic.EventCounts
	Scans         int
	ScanErrors    int
	LastError     string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the simulation is scanning.
func (s Snapshot) Ready() bool {
	return s.Scanned && !s.Gated
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records a completed scan. A gated scan keeps the last known state.
// Called from runLoop on every tick.
func (t *Tracker) Update(state logic.ProcessState, gated bool, counts logic.EventCounts) {
	t.mu.Lock()
	if !gated {
		t.snap.State = state.Clone()
	}
	t.snap.Scanned = true
	t.snap.Gated = gated
	t.snap.Counts = counts
	t.snap.Scans++
	t.mu.Unlock()
}

// SetState replaces the displayed state without counting a scan.
// Used at startup before the first tick.
func (t *Tracker) SetState(state logic.ProcessState) {
	t.mu.Lock()
	t.snap.State = state.Clone()
	t.mu.Unlock()
}

// RecordError counts a failed scan.
func (t *Tracker) RecordError(err error) {
	t.mu.Lock()
	t.snap.ScanErrors++
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.State = s.State.Clone()
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
