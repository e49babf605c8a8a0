package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/scan"
)

// Scan results, partitioned by instance.
const (
	ResultOK    = "ok"
	ResultGated = "gated"
	ResultBusy  = "busy"
	ResultError = "error"
)

var (
	// Scan cycle
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watersim",
		Subsystem: "scan",
		Name:      "total",
		Help:      "Total scans by result",
	}, []string{"instance", "result"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watersim",
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Scan duration including store reads and commit",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"instance"})

	TagWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watersim",
		Subsystem: "scan",
		Name:      "tag_writes_total",
		Help:      "Total tags committed",
	}, []string{"instance"})

	// Process
	PumpRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watersim",
		Subsystem: "pump",
		Name:      "running",
		Help:      "1 if the fill pump is running",
	}, []string{"instance"})

	PumpRunHours = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watersim",
		Subsystem: "pump",
		Name:      "run_hours",
		Help:      "Accumulated pump run hours",
	}, []string{"instance"})

	TankLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watersim",
		Subsystem: "tank",
		Name:      "level_percent",
		Help:      "Tank level in percent",
	}, []string{"instance", "tank"})

	ValveOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watersim",
		Subsystem: "tank",
		Name:      "valve_open",
		Help:      "1 if the tank fill valve is commanded open",
	}, []string{"instance", "tank"})

	FaultActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watersim",
		Subsystem: "mode",
		Name:      "fault_active",
		Help:      "1 if the effective fault is active",
	}, []string{"instance"})

	BackwashActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watersim",
		Subsystem: "backwash",
		Name:      "active",
		Help:      "1 if a backwash cycle is running",
	}, []string{"instance"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watersim",
		Subsystem: "process",
		Name:      "events_total",
		Help:      "Total process events by type",
	}, []string{"instance", "type"})

	// Publishing
	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watersim",
		Subsystem: "mqtt",
		Name:      "publish_errors_total",
		Help:      "Total failed MQTT publishes",
	}, []string{"instance"})
)

// RecordScan updates the scan and process metrics from one scan.
func RecordScan(instance string, res scan.Result, err error, d time.Duration) {
	switch {
	case errors.Is(err, scan.ErrBusy):
		ScansTotal.WithLabelValues(instance, ResultBusy).Inc()
		return
	case err != nil:
		ScansTotal.WithLabelValues(instance, ResultError).Inc()
		return
	case res.Gated:
		ScansTotal.WithLabelValues(instance, ResultGated).Inc()
		return
	}

	ScansTotal.WithLabelValues(instance, ResultOK).Inc()
	ScanDuration.WithLabelValues(instance).Observe(d.Seconds())
	TagWrites.WithLabelValues(instance).Add(float64(res.Writes))
	for _, e := range res.Events {
		EventsTotal.WithLabelValues(instance, string(e.Type)).Inc()
	}
	RecordState(instance, res.Next)
}

// RecordState sets the process gauges from s.
func RecordState(instance string, s logic.ProcessState) {
	PumpRunning.WithLabelValues(instance).Set(boolToFloat(s.Pump.PumpRunning))
	PumpRunHours.WithLabelValues(instance).Set(s.Pump.RunHours)
	FaultActive.WithLabelValues(instance).Set(boolToFloat(s.Mode.EffectiveFault))
	BackwashActive.WithLabelValues(instance).Set(boolToFloat(s.Backwash.Active))
	for _, t := range s.Tanks {
		TankLevel.WithLabelValues(instance, t.ID).Set(t.LevelPct)
		ValveOpen.WithLabelValues(instance, t.ID).Set(boolToFloat(t.ValveCmd))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
