package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/mqtt"
	"github.com/sweeney/water-sim/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"level": func(pct float64) string {
		return fmt.Sprintf("%.1f%%", pct)
	},
	"hours": func(h float64) string {
		return fmt.Sprintf("%.1f hrs", h)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Water Sim: {{.Config.Instance}}</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.bar { display: inline-block; height: 8px; background: #4a90d9; vertical-align: middle; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Water Sim: {{.Config.Instance}}{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Process</h2>
<table>
<tr><th>Simulation</th><td>{{if .Ready}}running{{else if .Scanned}}gated{{else}}waiting{{end}}</td></tr>
<tr><th>Fault</th><td class="{{if .State.Mode.EffectiveFault}}fault{{else}}off{{end}}">{{if .State.Mode.EffectiveFault}}ACTIVE{{else}}none{{end}}</td></tr>
<tr><th>Pump</th><td class="{{if .State.Pump.PumpRunning}}on{{else}}off{{end}}">{{if .State.Pump.PumpRunning}}RUNNING{{else}}STOPPED{{end}}</td></tr>
<tr><th>Run Hours</th><td>{{hours .State.Pump.RunHours}}</td></tr>
<tr><th>Backwash</th><td class="{{if .State.Backwash.Active}}on{{else}}off{{end}}">{{if .State.Backwash.Active}}{{.State.Backwash.TimerPV}}/{{.State.Backwash.DurationSetting}} s{{else}}idle{{end}}</td></tr>
</table>

<h2>Tanks</h2>
<table>
<tr><th>Tank</th><th>Level</th><th>Fill</th><th>Valve</th></tr>
{{range .Tanks}}<tr>
<td>{{.Name}}{{if not .Enabled}} (disabled){{end}}</td>
<td><span class="bar" style="width: {{printf "%.0f" .LevelPct}}px"></span> {{level .LevelPct}}</td>
<td>{{if .FillReq}}requested{{else}}-{{end}}</td>
<td class="{{if .ValveOpen}}on{{else}}off{{end}}">{{if .ValveOpen}}OPEN{{else}}closed{{end}}</td>
</tr>
{{end}}</table>

<h2>Diagnostics</h2>
<table>
<tr><th>Component</th><th>Parameter</th><th>Value</th><th>Status</th></tr>
{{range .Diagnostics}}<tr><td>{{.Component}}</td><td>{{.Parameter}}</td><td>{{.Value}}</td><td>{{.Status}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Pump starts</th><td>{{.Counts.PumpStarts}}</td></tr>
<tr><th>Pump stops</th><td>{{.Counts.PumpStops}}</td></tr>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
<tr><th>Backwash cycles</th><td>{{.Counts.BackwashCycles}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Run ID</th><td>{{.Config.RunID}}</td></tr>
<tr><th>Scans</th><td>{{.Scans}} ({{.ScanErrors}} failed)</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="fault">{{.LastError}}</td></tr>{{end}}
<tr><th>Store</th><td>{{.Config.Store}} at {{.Config.BasePath}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/tanks.json">tanks</a> | <a href="/diagnostics.json">diagnostics</a> | <a href="/metrics">metrics</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.EventsTopic}}";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  // Any process event changes what the page shows.
  client.on("message", function() {
    window.location.reload();
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has methods the template cannot call with arguments, so the
	// derived views are precomputed.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		Ready       bool
		Tanks       []logic.TankSnapshot
		Diagnostics []logic.DiagnosticRow
		EventsTopic string
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		Ready:       snap.Ready(),
		Tanks:       logic.TankSnapshots(snap.State),
		Diagnostics: logic.Diagnostics(snap.State),
		EventsTopic: mqtt.EventsTopic(snap.Config.Instance),
	}
	indexTmpl.Execute(w, data)
}
