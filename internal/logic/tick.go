package logic

import (
	"math"
	"time"
)

// Tick computes the next process state from s. The input is not modified.
// If the scan gate is closed, s is returned unchanged.
//
// Order is fixed: fault, fill requests, arbitration, demand, pump, level
// integration, backwash timer.
func Tick(s ProcessState, now time.Time) ProcessState {
	if !s.Ready() {
		return s
	}

	next := s.Clone()

	// Backwash state as of the start of the scan drives arbitration and demand.
	backwash := next.Backwash.Active

	next.Mode.EffectiveFault = EvaluateFault(next.Mode)
	EvaluateFillRequests(next.Tanks, next.Mode)
	Arbitrate(next.Tanks, backwash)
	next.Pump.AnyDemand = AggregateDemand(next.Tanks, backwash)

	wasRunning := next.Pump.PumpRunning
	next.Pump = ControlPump(next.Pump, next.Mode.EffectiveFault)
	recordPumpRun(&next.Pump, wasRunning, now)

	IntegrateLevels(next.Tanks, next.Pump.PumpRunning, next.Mode.EffectiveFault)
	next.Backwash = StepBackwash(next.Backwash)

	next.System.LastUpdate = now
	return next
}

// EvaluateFault combines the raw fault inputs into the effective fault.
func EvaluateFault(m Mode) bool {
	return m.EStop || (m.PressureFault && !m.BypassPFFault) || m.FlowFault
}

// FillRequest reports whether a single tank wants filling.
// m.EffectiveFault must already be evaluated.
func FillRequest(t Tank, m Mode) bool {
	return t.Enabled &&
		t.AutoEnable &&
		t.LevelPct < t.LowSP &&
		!t.SensorOpen &&
		m.AutoSelected &&
		!m.EffectiveFault
}

// EvaluateFillRequests sets FillReq on every tank.
func EvaluateFillRequests(tanks []Tank, m Mode) {
	for i := range tanks {
		tanks[i].FillReq = FillRequest(tanks[i], m)
	}
}

// Arbitrate opens the valve of at most one requesting tank and closes the
// rest. The lowest Priority value wins; equal priorities go to the tank that
// comes first. While backwash is active every valve is closed.
// Returns the winning index, or -1 if no valve was opened.
func Arbitrate(tanks []Tank, backwashActive bool) int {
	winner := -1
	if !backwashActive {
		for i, t := range tanks {
			if !t.FillReq {
				continue
			}
			if winner < 0 || t.Priority < tanks[winner].Priority {
				winner = i
			}
		}
	}

	for i := range tanks {
		open := i == winner
		tanks[i].ValveCmd = open
		tanks[i].ValveOutput = open
	}
	return winner
}

// AggregateDemand reports whether the pump is needed. Must run after Arbitrate.
func AggregateDemand(tanks []Tank, backwashActive bool) bool {
	if backwashActive {
		return true
	}
	for _, t := range tanks {
		if t.ValveCmd {
			return true
		}
	}
	return false
}

// ControlPump applies the run/stop decision with anti-short-cycle interlocks.
// p.AnyDemand must already be aggregated. The ASC flags are read, never written.
func ControlPump(p Pump, fault bool) Pump {
	if fault {
		p.PumpRunning = false
		p.PumpRequest = false
		return p
	}

	p.PumpRequest = p.AnyDemand

	switch {
	case p.PumpRequest && !p.PumpRunning && !p.ASCMinOffTimer:
		p.PumpRunning = true
	case !p.PumpRequest && p.PumpRunning && !p.ASCMinRunTimer:
		p.PumpRunning = false
	}
	// Otherwise interlocked: hold and re-evaluate next tick.
	return p
}

// recordPumpRun updates run hours and start/stop stamps after ControlPump.
func recordPumpRun(p *Pump, wasRunning bool, now time.Time) {
	switch {
	case p.PumpRunning && !wasRunning:
		p.LastStartTime = now
	case !p.PumpRunning && wasRunning:
		p.LastStopTime = now
	}
	if p.PumpRunning {
		p.RunHours += float64(tickSeconds) / 3600.0
	}
}

// IntegrateLevels advances the level of the served tank. Other tanks are
// left unchanged (no drain is simulated).
func IntegrateLevels(tanks []Tank, pumpRunning, fault bool) {
	if !pumpRunning || fault {
		return
	}
	for i := range tanks {
		if !tanks[i].ValveCmd {
			continue
		}
		tanks[i].LevelPct = math.Min(tanks[i].LevelPct+FillRate, MaxLevel)
		tanks[i].LevelX10 = LevelX10(tanks[i].LevelPct)
	}
}

// LevelX10 returns the fixed-point mirror of a level percentage.
func LevelX10(levelPct float64) int {
	return int(math.Round(levelPct * 10))
}

// StepBackwash advances the backwash timer by one tick.
// Entry into the active state is external; completion is the only exit.
func StepBackwash(b Backwash) Backwash {
	if !b.Active {
		return b
	}

	if b.TimerPV < b.DurationSetting {
		b.TimerPV += tickSeconds
		b.Valve = true
		return b
	}

	b.Active = false
	b.Valve = false
	b.TimerPV = 0
	b.Start = false
	return b
}
