// Package logic contains the pure scan-cycle logic for the water plant simulation.
// This package has NO external dependencies (no tag store, MQTT, GPIO, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// TickPeriod is the scan interval the logic is tuned for.
const TickPeriod = 2 * time.Second

const (
	// tickSeconds is TickPeriod in whole seconds, the backwash timer increment.
	tickSeconds = 2

	// FillRate is the level gained by the served tank per tick, in percent.
	FillRate = 0.3

	// MaxLevel is the level clamp, in percent.
	MaxLevel = 100.0
)

// Mode holds the plant-wide fault and mode inputs.
type Mode struct {
	EStop         bool
	PressureFault bool
	FlowFault     bool
	BypassPFFault bool // pressure fault bypass
	AutoSelected  bool

	// Derived each tick
	EffectiveFault bool
}

// Tank is a single tank fed from the shared fill line.
type Tank struct {
	ID       string // tag folder, e.g. "Tank_2"
	Name     string
	Priority int // 1 = highest

	LevelPct float64
	LevelX10 int // LevelPct*10, rounded
	LowSP    float64

	Enabled    bool
	AutoEnable bool
	SensorOpen bool // float/safety sensor, true blocks filling

	// Derived each tick
	FillReq     bool
	ValveCmd    bool
	ValveOutput bool
}

// Pump is the shared fill pump.
type Pump struct {
	PumpRunning   bool
	PumpRequest   bool
	AnyDemand     bool
	PumpAvailable bool

	// Anti-short-cycle interlocks. True means the timer is still counting and
	// the corresponding transition is blocked. Never written by Tick.
	ASCMinOffTimer bool
	ASCMinRunTimer bool

	RunHours      float64
	LastStartTime time.Time
	LastStopTime  time.Time
}

// Backwash is the timed backwash cycle.
type Backwash struct {
	Active          bool
	Start           bool
	TimerPV         int // seconds elapsed
	DurationSetting int // seconds
	Valve           bool
}

// System holds scan bookkeeping.
type System struct {
	LastUpdate time.Time
}

// ProcessState is the full process image read and written each tick.
type ProcessState struct {
	SimulationActive bool
	Initialized      bool

	Mode     Mode
	Tanks    []Tank
	Pump     Pump
	Backwash Backwash
	System   System
}

// Ready reports whether the scan gate is open.
func (s ProcessState) Ready() bool {
	return s.SimulationActive && s.Initialized
}

// Clone returns a copy that shares no memory with s.
func (s ProcessState) Clone() ProcessState {
	c := s
	if s.Tanks != nil {
		c.Tanks = make([]Tank, len(s.Tanks))
		copy(c.Tanks, s.Tanks)
	}
	return c
}

// ServedTank returns the index of the tank with an open valve, or -1.
func (s ProcessState) ServedTank() int {
	for i, t := range s.Tanks {
		if t.ValveCmd {
			return i
		}
	}
	return -1
}
