package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/sweeney/water-sim/internal/config"
	"github.com/sweeney/water-sim/internal/gpio"
	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/metrics"
	"github.com/sweeney/water-sim/internal/mqtt"
	"github.com/sweeney/water-sim/internal/scan"
	"github.com/sweeney/water-sim/internal/status"
	"github.com/sweeney/water-sim/internal/tags"
	"github.com/sweeney/water-sim/internal/web"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		broker   string
		httpAddr string
		wsBroker string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scan cycle until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("broker") {
				cfg.MQTT.Broker = broker
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}
			return run(cfg, resolveWSBroker(wsBroker, cfg.MQTT.Broker))
		},
	}

	cmd.Flags().StringVar(&broker, "broker", "", "MQTT broker address (empty disables publishing)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP status address (empty to disable)")
	cmd.Flags().StringVar(&wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	return cmd
}

func run(cfg config.Config, wsBroker string) error {
	runID := xid.New().String()

	store, err := tags.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	seeded, err := ensureSeeded(store, cfg)
	if err != nil {
		return err
	}
	if seeded {
		log.Printf("seeded %d tanks under %s", len(cfg.Tanks), cfg.BasePath)
	}

	scanCfg := scan.Config{
		Base:    cfg.BasePath,
		TankIDs: cfg.TankIDs(),
		MinOff:  cfg.ASC.MinOff,
		MinRun:  cfg.ASC.MinRun,
	}
	if cfg.GPIO.Enabled {
		reader, err := gpio.NewRealReader(gpio.Pins{
			EStop:         cfg.GPIO.EStop,
			PressureFault: cfg.GPIO.PressureFault,
			FlowFault:     cfg.GPIO.FlowFault,
		})
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		scanCfg.Inputs = reader
	}
	scanner := scan.New(store, scanCfg)

	publisher, mqttStatus, err := newPublisher(cfg.MQTT.Broker, cfg.Instance, runID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Instance:    cfg.Instance,
		RunID:       runID,
		BasePath:    cfg.BasePath,
		Store:       cfg.Store.Backend,
		TickMs:      cfg.TickPeriod.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		MinOffMs:    cfg.ASC.MinOff.Milliseconds(),
		MinRunMs:    cfg.ASC.MinRun.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		WSBroker:    wsBroker,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	if state, err := scanner.Snapshot(); err != nil {
		log.Printf("initial state unavailable: %v", err)
	} else {
		tracker.SetState(state)
		metrics.RecordState(cfg.Instance, state)
	}
	tracker.SetMQTTConnected(mqttStatus.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, scanner)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: run=%s instance=%s store=%s tick=%v broker=%q heartbeat=%v",
		runID, cfg.Instance, cfg.Store.Backend, cfg.TickPeriod, cfg.MQTT.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.TickPeriod)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(scanner, publisher, mqttStatus, tracker, cfg.Instance, cfg.Heartbeat, time.Now, ticker.C, sigCh)
}

// ensureSeeded writes the initial process image if the store has none.
// It reports whether it did.
func ensureSeeded(store tags.Store, cfg config.Config) (bool, error) {
	_, _, err := tags.LoadGate(store, cfg.BasePath)
	var nf *tags.NotFoundError
	switch {
	case err == nil:
		return false, nil
	case errors.As(err, &nf):
		if err := tags.Seed(store, cfg.BasePath, cfg.InitialState()); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("read scan gate: %w", err)
	}
}

// nopPublisher stands in when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) Publish(logic.Event) error            { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }
func (nopPublisher) IsConnected() bool                    { return false }

func newPublisher(broker, instance, runID string) (mqtt.Publisher, mqtt.ConnectionStatus, error) {
	if broker == "" {
		log.Printf("no broker configured, mqtt publishing disabled")
		return nopPublisher{}, nopPublisher{}, nil
	}
	p, err := mqtt.NewRealPublisher(broker, instance, "water-sim-"+runID)
	if err != nil {
		return nil, nil, err
	}
	return p, p, nil
}

// scanRunner runs one scan cycle.
type scanRunner interface {
	Scan(now time.Time) (scan.Result, error)
}

func runLoop(scanner scanRunner, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, instance string, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastBeat := now()
	var (
		counts logic.EventCounts
		gated  bool
	)

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			start := time.Now()
			res, err := scanner.Scan(t)
			metrics.RecordScan(instance, res, err, time.Since(start))

			switch {
			case errors.Is(err, scan.ErrBusy):
				log.Printf("scan skipped: %v", err)
			case err != nil:
				log.Printf("scan error: %v", err)
				tracker.RecordError(err)
			default:
				if res.Gated != gated {
					gated = res.Gated
					if gated {
						log.Printf("scan gate closed, holding state")
					} else {
						log.Printf("scan gate open, scanning")
					}
				}

				for _, event := range res.Events {
					log.Printf("event: %s tank=%s", event.Type, event.Tank)
					if err := publisher.Publish(event); err != nil {
						log.Printf("publish error: %v", err)
						metrics.PublishErrors.WithLabelValues(instance).Inc()
						// Don't crash on publish failure
					}
				}
				counts.Add(res.Events)
				tracker.Update(res.Next, res.Gated, counts)
			}
			tracker.SetMQTTConnected(mqttStatus.IsConnected())

			if heartbeat > 0 && t.Sub(lastBeat) >= heartbeat {
				lastBeat = t
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v scans=%d errors=%d pump_starts=%d",
					snap.Uptime().Round(time.Second), snap.Scans, snap.ScanErrors, snap.Counts.PumpStarts)
				hbEvent := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or no
// broker disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
