package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/water-sim/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Fault         bool         `json:"fault"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastScan      string       `json:"last_scan,omitempty"`
	Scans         int          `json:"scans"`
	ScanErrors    int          `json:"scan_errors"`
	LastError     string       `json:"last_error,omitempty"`
	Pump          PumpJSON     `json:"pump"`
	Backwash      BackwashJSON `json:"backwash"`
	Tanks         []TankJSON   `json:"tanks"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PumpJSON is the JSON representation of the fill pump.
type PumpJSON struct {
	Running   bool    `json:"running"`
	Requested bool    `json:"requested"`
	RunHours  float64 `json:"run_hours"`
}

// BackwashJSON is the JSON representation of the backwash sequencer.
type BackwashJSON struct {
	Active          bool `json:"active"`
	TimerSeconds    int  `json:"timer_s"`
	DurationSeconds int  `json:"duration_s"`
}

// TankJSON is the JSON representation of one tank.
type TankJSON struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	LevelPct  float64 `json:"level_pct"`
	Enabled   bool    `json:"enabled"`
	FillReq   bool    `json:"fill_req"`
	ValveOpen bool    `json:"valve_open"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	PumpStarts     int `json:"pump_starts"`
	PumpStops      int `json:"pump_stops"`
	Faults         int `json:"faults"`
	BackwashCycles int `json:"backwash_cycles"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Instance    string `json:"instance"`
	RunID       string `json:"run_id"`
	BasePath    string `json:"base_path"`
	Store       string `json:"store"`
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	MinOffMs    int64  `json:"asc_min_off_ms"`
	MinRunMs    int64  `json:"asc_min_run_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	WSBroker    string `json:"ws_broker,omitempty"`
}

// Tanks converts tank snapshots to their JSON form.
func Tanks(rows []logic.TankSnapshot) []TankJSON {
	out := make([]TankJSON, len(rows))
	for i, r := range rows {
		out[i] = TankJSON{
			ID:        r.ID,
			Name:      r.Name,
			LevelPct:  r.LevelPct,
			Enabled:   r.Enabled,
			FillReq:   r.FillReq,
			ValveOpen: r.ValveOpen,
		}
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.State
	inner := StatusInner{
		Ready:         snap.Ready(),
		Fault:         st.Mode.EffectiveFault,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Scans:         snap.Scans,
		ScanErrors:    snap.ScanErrors,
		LastError:     snap.LastError,
		Pump: PumpJSON{
			Running:   st.Pump.PumpRunning,
			Requested: st.Pump.PumpRequest,
			RunHours:  st.Pump.RunHours,
		},
		Backwash: BackwashJSON{
			Active:          st.Backwash.Active,
			TimerSeconds:    st.Backwash.TimerPV,
			DurationSeconds: st.Backwash.DurationSetting,
		},
		Tanks: Tanks(logic.TankSnapshots(st)),
		MQTT:  MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			PumpStarts:     snap.Counts.PumpStarts,
			PumpStops:      snap.Counts.PumpStops,
			Faults:         snap.Counts.Faults,
			BackwashCycles: snap.Counts.BackwashCycles,
		},
		Config: ConfigJSON{
			Instance:    snap.Config.Instance,
			RunID:       snap.Config.RunID,
			BasePath:    snap.Config.BasePath,
			Store:       snap.Config.Store,
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			MinOffMs:    snap.Config.MinOffMs,
			MinRunMs:    snap.Config.MinRunMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			WSBroker:    snap.Config.WSBroker,
		},
	}
	if !st.System.LastUpdate.IsZero() {
		inner.LastScan = st.System.LastUpdate.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
