package logic

import (
	"fmt"
	"time"
)

// TankSnapshot is a display row for one tank.
type TankSnapshot struct {
	ID        string
	Name      string
	LevelPct  float64
	Enabled   bool
	FillReq   bool
	ValveOpen bool
}

// TankSnapshots projects the tanks of s for display.
func TankSnapshots(s ProcessState) []TankSnapshot {
	out := make([]TankSnapshot, 0, len(s.Tanks))
	for _, t := range s.Tanks {
		out = append(out, TankSnapshot{
			ID:        t.ID,
			Name:      t.Name,
			LevelPct:  t.LevelPct,
			Enabled:   t.Enabled,
			FillReq:   t.FillReq,
			ValveOpen: t.ValveOutput,
		})
	}
	return out
}

// DiagnosticRow is one line of the diagnostics table.
type DiagnosticRow struct {
	Component  string
	Parameter  string
	Value      string
	Status     string
	LastUpdate time.Time
}

// Diagnostics projects s into the diagnostics table: pump, backwash, then
// one level row per tank.
func Diagnostics(s ProcessState) []DiagnosticRow {
	at := s.System.LastUpdate
	pumpStatus := "OK"
	if s.Mode.EffectiveFault {
		pumpStatus = "Fault"
	}

	rows := []DiagnosticRow{
		{Component: "Pump", Parameter: "Running", Value: yesNo(s.Pump.PumpRunning), Status: pumpStatus, LastUpdate: at},
		{Component: "Pump", Parameter: "Run Hours", Value: fmt.Sprintf("%.1f hrs", s.Pump.RunHours), Status: "OK", LastUpdate: at},
	}

	bwStatus := "Idle"
	if s.Backwash.Active {
		bwStatus = "Active"
	}
	rows = append(rows, DiagnosticRow{
		Component:  "Backwash",
		Parameter:  "Timer",
		Value:      fmt.Sprintf("%d/%d s", s.Backwash.TimerPV, s.Backwash.DurationSetting),
		Status:     bwStatus,
		LastUpdate: at,
	})

	for _, t := range s.Tanks {
		status := "OK"
		if !t.Enabled {
			status = "Disabled"
		}
		rows = append(rows, DiagnosticRow{
			Component:  t.Name,
			Parameter:  "Level",
			Value:      fmt.Sprintf("%.1f%%", t.LevelPct),
			Status:     status,
			LastUpdate: at,
		})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
