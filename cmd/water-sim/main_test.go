package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/water-sim/internal/config"
	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/mqtt"
	"github.com/sweeney/water-sim/internal/scan"
	"github.com/sweeney/water-sim/internal/status"
	"github.com/sweeney/water-sim/internal/tags"
	"github.com/sweeney/water-sim/internal/web"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	info := readNetworkInfo()
	if info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.Type != "" || info.IP != "" || info.SSID != "" {
		t.Errorf("expected other fields empty, got %+v", info)
	}
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		name   string
		ws     string
		broker string
		want   string
	}{
		{"derived", "=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
		{"explicit", "ws://example.com:8080/mqtt", "tcp://192.168.1.200:1883", "ws://example.com:8080/mqtt"},
		{"off", "off", "tcp://192.168.1.200:1883", ""},
		{"no broker", "=broker", "", ""},
		{"unparseable broker", "=broker", "://bad", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveWSBroker(tt.ws, tt.broker); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeClock returns a function that advances by step on each call.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// demoScanner seeds a memory store with the default four-tank plant.
// Tank_3 starts below its low setpoint, so the first scan opens its valve.
func demoScanner(t *testing.T) (*scan.Scanner, *tags.MemStore, config.Config) {
	t.Helper()
	cfg := config.Default()
	st := tags.NewMemStore()
	if err := tags.Seed(st, cfg.BasePath, cfg.InitialState()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return scan.New(st, scan.Config{Base: cfg.BasePath, TankIDs: cfg.TankIDs()}), st, cfg
}

// stubScanner returns the same result and error on every scan.
type stubScanner struct {
	res   scan.Result
	err   error
	calls int
}

func (s *stubScanner) Scan(now time.Time) (scan.Result, error) {
	s.calls++
	return s.res, s.err
}

// runRunLoop drives runLoop for nTicks and then delivers signal.
func runRunLoop(t *testing.T, scanner scanRunner, pub *mqtt.FakePublisher, tracker *status.Tracker, heartbeat time.Duration, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(scanner, pub, pub, tracker, "test", heartbeat, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func newTracker() *status.Tracker {
	return status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{Instance: "test"})
}

func decodeStatus(t *testing.T, raw []byte) status.StatusInner {
	t.Helper()
	var s status.StatusJSON
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	return s.Status
}

func TestRunLoopPublishesTransitions(t *testing.T) {
	scanner, _, _ := demoScanner(t)
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, scanner, pub, tracker, 0, clock, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []logic.Event{
		{Type: logic.EventValveOpen, Tank: "Tank_3"},
		{Type: logic.EventPumpStart},
	}
	if len(pub.Events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(pub.Events), pub.Events)
	}
	for i, w := range want {
		if pub.Events[i].Type != w.Type || pub.Events[i].Tank != w.Tank {
			t.Errorf("event %d: got %s/%s, want %s/%s", i, pub.Events[i].Type, pub.Events[i].Tank, w.Type, w.Tank)
		}
	}

	snap := tracker.Snapshot()
	if snap.Scans != 3 {
		t.Errorf("expected 3 scans, got %d", snap.Scans)
	}
	if snap.Counts.PumpStarts != 1 {
		t.Errorf("expected 1 pump start, got %d", snap.Counts.PumpStarts)
	}
	if !snap.State.Pump.PumpRunning {
		t.Error("expected tracker state to show pump running")
	}
	if !snap.Ready() {
		t.Error("expected tracker ready after ungated scans")
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	scanner, _, _ := demoScanner(t)
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, scanner, pub, newTracker(), 0, clock, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	se := pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN, got %q", se.Event)
	}
	if se.Reason != "SIGINT" {
		t.Errorf("expected reason SIGINT, got %q", se.Reason)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}

	inner := decodeStatus(t, se.RawPayload)
	if inner.Event != "SHUTDOWN" || inner.Reason != "SIGINT" {
		t.Errorf("payload event/reason: got %q/%q", inner.Event, inner.Reason)
	}
}

func TestRunLoopShutdownReasons(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
			if err := runRunLoop(t, &stubScanner{}, pub, newTracker(), 0, clock, 0, tt.sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}
			if got := pub.SystemEvents[0].Reason; got != tt.want {
				t.Errorf("reason: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: start, then one per tick at +5m steps. With a 15m
	// interval the third tick (+15m) fires and the fourth (+20m) does not.
	scanner, _, _ := demoScanner(t)
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)

	if err := runRunLoop(t, scanner, pub, newTracker(), 15*time.Minute, clock, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, se := range pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.Retained {
				t.Error("HEARTBEAT should not be retained")
			}
			inner := decodeStatus(t, se.RawPayload)
			if inner.Scans != 3 {
				t.Errorf("heartbeat scans: got %d, want 3", inner.Scans)
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)

	if err := runRunLoop(t, &stubScanner{}, pub, newTracker(), 0, clock, 5, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(pub.SystemEvents) != 1 {
		t.Errorf("expected only SHUTDOWN, got %d system events", len(pub.SystemEvents))
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "associated")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Minute)

	if err := runRunLoop(t, &stubScanner{}, pub, newTracker(), 15*time.Minute, clock, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var hb *mqtt.SystemEvent
	for i := range pub.SystemEvents {
		if pub.SystemEvents[i].Event == "HEARTBEAT" {
			hb = &pub.SystemEvents[i]
			break
		}
	}
	if hb == nil {
		t.Fatal("expected a HEARTBEAT system event")
	}

	inner := decodeStatus(t, hb.RawPayload)
	if inner.Network == nil {
		t.Fatal("HEARTBEAT payload missing network info")
	}
	want := status.NetworkJSON{
		Type:       "wifi",
		IP:         "192.168.1.42",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "associated",
		SSID:       "HomeNet",
	}
	if *inner.Network != want {
		t.Errorf("network: got %+v, want %+v", *inner.Network, want)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	// Publish fails; the loop keeps scanning and still shuts down cleanly.
	scanner, st, cfg := demoScanner(t)
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker unavailable")
	tracker := newTracker()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, scanner, pub, tracker, 0, clock, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("expected no recorded events, got %d", len(pub.Events))
	}
	if tracker.Snapshot().Scans != 2 {
		t.Errorf("expected 2 scans, got %d", tracker.Snapshot().Scans)
	}
	v, err := st.Read(tags.Key(cfg.BasePath, tags.GroupPump, "PumpRunning"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != true {
		t.Error("expected the scan to commit despite publish failures")
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN system event, got %+v", pub.SystemEvents)
	}
}

func TestRunLoopScanError(t *testing.T) {
	// Every commit fails; the loop records the errors and keeps running.
	scanner, st, _ := demoScanner(t)
	st.WriteErr = errors.New("disk full")
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, scanner, pub, tracker, 0, clock, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := tracker.Snapshot()
	if snap.ScanErrors != 3 {
		t.Errorf("expected 3 scan errors, got %d", snap.ScanErrors)
	}
	if snap.Scans != 0 {
		t.Errorf("failed scans should not count as scans, got %d", snap.Scans)
	}
	if !strings.Contains(snap.LastError, "disk full") {
		t.Errorf("last error: got %q", snap.LastError)
	}
	if len(pub.Events) != 0 {
		t.Errorf("expected no events from failed scans, got %d", len(pub.Events))
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN system event, got %+v", pub.SystemEvents)
	}
}

func TestRunLoopBusyScanIsNotAnError(t *testing.T) {
	scanner := &stubScanner{err: scan.ErrBusy}
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, scanner, pub, tracker, 0, clock, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if scanner.calls != 2 {
		t.Errorf("expected 2 scan calls, got %d", scanner.calls)
	}
	snap := tracker.Snapshot()
	if snap.ScanErrors != 0 || snap.Scans != 0 {
		t.Errorf("busy scans should not count: scans=%d errors=%d", snap.Scans, snap.ScanErrors)
	}
}

func TestRunLoopGatedScan(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, &stubScanner{res: scan.Result{Gated: true}}, pub, tracker, 0, clock, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := tracker.Snapshot()
	if snap.Ready() {
		t.Error("expected tracker not ready while gated")
	}
	if snap.Scans != 2 {
		t.Errorf("expected 2 scans, got %d", snap.Scans)
	}
	if len(pub.Events) != 0 {
		t.Errorf("expected no events while gated, got %d", len(pub.Events))
	}
}

func TestRunLoopTracksMQTTConnection(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := newTracker()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2*time.Second)

	if err := runRunLoop(t, &stubScanner{}, pub, tracker, 0, clock, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTT connected in tracker")
	}
}

func TestEnsureSeeded(t *testing.T) {
	cfg := config.Default()
	st := tags.NewMemStore()

	seeded, err := ensureSeeded(st, cfg)
	if err != nil {
		t.Fatalf("ensureSeeded: %v", err)
	}
	if !seeded {
		t.Error("expected empty store to be seeded")
	}

	// Operator changes survive a restart.
	key := tags.TankKey(cfg.BasePath, "Tank_1", "LowSP")
	if err := st.Write(key, 55.0); err != nil {
		t.Fatalf("write: %v", err)
	}
	seeded, err = ensureSeeded(st, cfg)
	if err != nil {
		t.Fatalf("ensureSeeded: %v", err)
	}
	if seeded {
		t.Error("expected existing store to be left alone")
	}
	if v, _ := st.Read(key); v != 55.0 {
		t.Errorf("LowSP: got %v, want 55", v)
	}
}

func TestEnsureSeededReadError(t *testing.T) {
	cfg := config.Default()
	st := tags.NewMemStore()
	if err := st.Write(tags.Key(cfg.BasePath, tags.GroupSystem, "SimulationActive"), "yes"); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ensureSeeded(st, cfg); err == nil {
		t.Error("expected error for mistyped gate tag")
	}
}

func TestNopPublisher(t *testing.T) {
	pub, conn, err := newPublisher("", "test", "run")
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if err := pub.Publish(logic.Event{Type: logic.EventPumpStart}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := pub.PublishSystem(mqtt.SystemEvent{Event: "STARTUP"}); err != nil {
		t.Errorf("PublishSystem: %v", err)
	}
	if conn.IsConnected() {
		t.Error("nop publisher should report disconnected")
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSeedRefusesExisting(t *testing.T) {
	cfg := config.Default()
	st := tags.NewMemStore()

	if err := seed(st, cfg, false); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := seed(st, cfg, false); err == nil {
		t.Error("expected second seed without force to fail")
	}
	if err := seed(st, cfg, true); err != nil {
		t.Errorf("forced seed: %v", err)
	}
}

func TestPrintState(t *testing.T) {
	st := web.NewStateJSON(config.Default().InitialState())
	var buf bytes.Buffer
	if err := printState(&buf, st); err != nil {
		t.Fatalf("printState: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Tank_3", "35.0%", "CLOSED", "Run Hours", "0/60 s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStateJSON(t *testing.T) {
	st := web.NewStateJSON(config.Default().InitialState())
	var buf bytes.Buffer
	if err := printStateJSON(&buf, st); err != nil {
		t.Fatalf("printStateJSON: %v", err)
	}

	var got web.StateJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.GateOpen {
		t.Error("expected gate open")
	}
	if len(got.Tanks) != 4 {
		t.Errorf("expected 4 tanks, got %d", len(got.Tanks))
	}
	if len(got.Diagnostics) != 7 {
		t.Errorf("expected 7 diagnostic rows, got %d", len(got.Diagnostics))
	}
}

// execRoot runs the root command with args and returns its output.
func execRoot(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func backwashActive(st web.StateJSON) bool {
	for _, d := range st.Diagnostics {
		if d.Component == "Backwash" && d.Status == "Active" {
			return true
		}
	}
	return false
}

func TestOperatorCommandsSQLite(t *testing.T) {
	t.Setenv("WATERSIM_STORE", "sqlite")
	t.Setenv("WATERSIM_STORE_PATH", filepath.Join(t.TempDir(), "tags.db"))
	t.Setenv("WATERSIM_HTTP_ADDR", "")

	if _, err := execRoot("seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := execRoot("seed"); err == nil {
		t.Error("expected second seed to fail")
	}
	if out, err := execRoot("set", "/Tanks/Tank_2/LowSP/", "62.5"); err != nil {
		t.Fatalf("set: %v", err)
	} else if !strings.Contains(out, "WaterSim/Tanks/Tank_2/LowSP = 62.5") {
		t.Errorf("set output: %q", out)
	}
	if _, err := execRoot("set", "Mode/EStop", "sometimes"); err == nil {
		t.Error("expected parse error for bool tag")
	}
	if _, err := execRoot("set", "Mode/Nope", "true"); err == nil {
		t.Error("expected error for unknown tag")
	}
	if _, err := execRoot("backwash"); err != nil {
		t.Fatalf("backwash: %v", err)
	}

	out, err := execRoot("state", "--json")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var got web.StateJSON
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal state: %v\n%s", err, out)
	}
	if !backwashActive(got) {
		t.Errorf("expected backwash active in diagnostics: %+v", got.Diagnostics)
	}
}

func TestOperatorCommandsNeedPersistentStore(t *testing.T) {
	t.Setenv("WATERSIM_STORE", "memory")

	for _, args := range [][]string{
		{"state", "--daemon", "off"},
		{"backwash", "--daemon", "off"},
		{"set", "Mode/EStop", "true", "--daemon", "off"},
	} {
		out, err := execRoot(args...)
		if err == nil {
			t.Errorf("%v: expected error for memory store", args)
		} else if !strings.Contains(err.Error(), "no daemon reachable") {
			t.Errorf("%v: error %q should say no daemon was reachable (%s)", args, err, out)
		}
	}
}

// runningDaemon serves the status and operator routes over a seeded
// badger store, the way the run command does, and returns its URL.
func runningDaemon(t *testing.T, dir string) (string, *scan.Scanner, *status.Tracker, config.Config) {
	t.Helper()
	cfg := config.Default()
	store, err := tags.Open("badger", dir)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := tags.Seed(store, cfg.BasePath, cfg.InitialState()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	scanner := scan.New(store, scan.Config{Base: cfg.BasePath, TankIDs: cfg.TankIDs()})
	tracker := newTracker()
	state, err := scanner.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	tracker.SetState(state)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := web.New(ln.Addr().String(), tracker, scanner)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return "http://" + ln.Addr().String(), scanner, tracker, cfg
}

func TestOperatorCommandsReachRunningBadgerDaemon(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WATERSIM_STORE", "badger")
	t.Setenv("WATERSIM_STORE_PATH", dir)
	url, scanner, tracker, cfg := runningDaemon(t, dir)

	// The daemon holds the directory lock, so only its HTTP server can
	// reach the store.
	if st, err := tags.Open("badger", dir); err == nil {
		st.Close()
		t.Fatal("expected badger to refuse a second open while the daemon runs")
	}

	if out, err := execRoot("backwash", "--daemon", url); err != nil {
		t.Fatalf("backwash: %v (%s)", err, out)
	} else if !strings.Contains(out, "backwash requested") {
		t.Errorf("backwash output: %q", out)
	}
	if out, err := execRoot("set", "Mode/EStop", "true", "--daemon", url); err != nil {
		t.Fatalf("set: %v (%s)", err, out)
	} else if !strings.Contains(out, "WaterSim/Mode/EStop = true") {
		t.Errorf("set output: %q", out)
	}
	if _, err := execRoot("set", "Mode/Nope", "true", "--daemon", url); err == nil {
		t.Error("expected unknown tag to be refused by the daemon")
	}
	if _, err := execRoot("seed", "--daemon", url); err == nil {
		t.Error("expected seed to refuse while a daemon runs")
	}

	res, err := scanner.Scan(time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var started bool
	for _, e := range res.Events {
		if e.Type == logic.EventBackwashStart {
			started = true
		}
	}
	if !started {
		t.Errorf("expected %s after backwash request, got %+v", logic.EventBackwashStart, res.Events)
	}
	if !res.Next.Mode.EffectiveFault {
		t.Error("expected EStop written through the daemon to fault the plant")
	}
	tracker.Update(res.Next, res.Gated, logic.EventCounts{})

	out, err := execRoot("state", "--json", "--daemon", url)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var got web.StateJSON
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal state: %v\n%s", err, out)
	}
	if !got.Fault {
		t.Error("expected fault in daemon state")
	}
	if len(got.Tanks) != len(cfg.Tanks) {
		t.Errorf("tanks: got %d, want %d", len(got.Tanks), len(cfg.Tanks))
	}
}

func TestDaemonClientUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	g := &globalFlags{daemonURL: "http://" + addr}
	d := g.daemon(config.Default())
	if err := d.StartBackwash(context.Background()); !errors.Is(err, errNoDaemon) {
		t.Errorf("expected errNoDaemon, got %v", err)
	}

	done, err := viaDaemon(d, func(d *daemonClient) error {
		return d.StartBackwash(context.Background())
	})
	if done || err != nil {
		t.Errorf("viaDaemon: got done=%v err=%v, want fallback", done, err)
	}
}

func TestDaemonSelection(t *testing.T) {
	tests := []struct {
		flag string
		addr string
		want string
	}{
		{"", ":80", "http://127.0.0.1:80"},
		{"", "0.0.0.0:8080", "http://127.0.0.1:8080"},
		{"", "[::]:8080", "http://127.0.0.1:8080"},
		{"", "10.0.0.5:8080", "http://10.0.0.5:8080"},
		{"", "", ""},
		{"off", ":80", ""},
		{"http://plc.local:8080/", ":80", "http://plc.local:8080"},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.HTTP.Addr = tt.addr
		g := &globalFlags{daemonURL: tt.flag}

		var got string
		if d := g.daemon(cfg); d != nil {
			got = d.base
		}
		if got != tt.want {
			t.Errorf("daemon(flag=%q, addr=%q): got %q, want %q", tt.flag, tt.addr, got, tt.want)
		}
	}
}
