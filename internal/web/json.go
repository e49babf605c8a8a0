package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/status"
)

// TanksJSON is the /tanks.json envelope.
type TanksJSON struct {
	Tanks []status.TankJSON `json:"tanks"`
}

// DiagnosticsJSON is the /diagnostics.json envelope.
type DiagnosticsJSON struct {
	Diagnostics []DiagnosticJSON `json:"diagnostics"`
}

// DiagnosticJSON is one row of the diagnostics table.
type DiagnosticJSON struct {
	Component  string `json:"component"`
	Parameter  string `json:"parameter"`
	Value      string `json:"value"`
	Status     string `json:"status"`
	LastUpdate string `json:"last_update,omitempty"`
}

func formatTanks(rows []logic.TankSnapshot) []byte {
	data, _ := json.MarshalIndent(TanksJSON{Tanks: status.Tanks(rows)}, "", "  ")
	return data
}

func formatTank(row logic.TankSnapshot) []byte {
	data, _ := json.MarshalIndent(status.Tanks([]logic.TankSnapshot{row})[0], "", "  ")
	return data
}

func formatDiagnostics(rows []logic.DiagnosticRow) []byte {
	data, _ := json.MarshalIndent(DiagnosticsJSON{Diagnostics: diagnostics(rows)}, "", "  ")
	return data
}

func diagnostics(rows []logic.DiagnosticRow) []DiagnosticJSON {
	out := make([]DiagnosticJSON, len(rows))
	for i, r := range rows {
		out[i] = DiagnosticJSON{
			Component: r.Component,
			Parameter: r.Parameter,
			Value:     r.Value,
			Status:    r.Status,
		}
		if !r.LastUpdate.IsZero() {
			out[i].LastUpdate = r.LastUpdate.UTC().Format(time.RFC3339)
		}
	}
	return out
}

// StateJSON is the /state.json view of the process image. The state
// command prints the same shape whether it reads the daemon or the store.
type StateJSON struct {
	GateOpen    bool              `json:"gate_open"`
	Fault       bool              `json:"fault"`
	Tanks       []status.TankJSON `json:"tanks"`
	Diagnostics []DiagnosticJSON  `json:"diagnostics"`
}

// NewStateJSON projects s into a StateJSON.
func NewStateJSON(s logic.ProcessState) StateJSON {
	return StateJSON{
		GateOpen:    s.Ready(),
		Fault:       s.Mode.EffectiveFault,
		Tanks:       status.Tanks(logic.TankSnapshots(s)),
		Diagnostics: diagnostics(logic.Diagnostics(s)),
	}
}

// TagJSON is the response to a tag write.
type TagJSON struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}
