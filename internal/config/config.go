// Package config loads the simulator configuration from a YAML file, an
// optional env file and WATERSIM_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/water-sim/internal/logic"
)

// Config describes one simulator instance.
type Config struct {
	// Instance names this simulator in MQTT topics.
	Instance string `yaml:"instance"`

	// BasePath is the tag path prefix.
	BasePath string `yaml:"base_path"`

	TickPeriod time.Duration `yaml:"tick_period"`
	Heartbeat  time.Duration `yaml:"heartbeat"`

	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	ASC      ASCConfig      `yaml:"asc"`
	Backwash BackwashConfig `yaml:"backwash"`

	Tanks []TankConfig `yaml:"tanks"`
}

// StoreConfig selects the tag store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, badger or sqlite
	Path    string `yaml:"path"`
}

// MQTTConfig configures event publishing. An empty broker disables it.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// GPIOConfig configures the hard-wired fault inputs.
type GPIOConfig struct {
	Enabled       bool `yaml:"enabled"`
	EStop         int  `yaml:"estop_pin"`
	PressureFault int  `yaml:"pressure_fault_pin"`
	FlowFault     int  `yaml:"flow_fault_pin"`
}

// ASCConfig holds the pump anti-short-cycle durations. Zero leaves the
// interlock flags to whatever else writes them.
type ASCConfig struct {
	MinOff time.Duration `yaml:"min_off"`
	MinRun time.Duration `yaml:"min_run"`
}

// BackwashConfig configures the backwash cycle.
type BackwashConfig struct {
	DurationSeconds int `yaml:"duration_seconds"`
}

// TankConfig describes one tank. Tanks are arbitrated in list order on
// priority ties.
type TankConfig struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Priority   int     `yaml:"priority"`
	LowSP      float64 `yaml:"low_sp"`
	Level      float64 `yaml:"level"`
	Enabled    bool    `yaml:"enabled"`
	AutoEnable bool    `yaml:"auto_enable"`
}

// Default returns the four-tank demo configuration.
func Default() Config {
	cfg := Config{
		Instance:   "demo",
		BasePath:   "WaterSim",
		TickPeriod: logic.TickPeriod,
		Heartbeat:  15 * time.Minute,
		Store:      StoreConfig{Backend: "memory"},
		HTTP:       HTTPConfig{Addr: ":80"},
		GPIO: GPIOConfig{
			EStop:         26,
			PressureFault: 16,
			FlowFault:     20,
		},
		Backwash: BackwashConfig{DurationSeconds: 60},
	}
	levels := []float64{75, 55, 35, 90}
	for i, lvl := range levels {
		cfg.Tanks = append(cfg.Tanks, TankConfig{
			ID:         fmt.Sprintf("Tank_%d", i+1),
			Name:       fmt.Sprintf("Tank %d", i+1),
			Priority:   i + 1,
			LowSP:      40,
			Level:      lvl,
			Enabled:    true,
			AutoEnable: true,
		})
	}
	return cfg
}

// Load builds the configuration. Either path may be empty.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str("WATERSIM_INSTANCE", &c.Instance)
	str("WATERSIM_BASE_PATH", &c.BasePath)
	str("WATERSIM_STORE", &c.Store.Backend)
	str("WATERSIM_STORE_PATH", &c.Store.Path)
	str("WATERSIM_BROKER", &c.MQTT.Broker)
	str("WATERSIM_HTTP_ADDR", &c.HTTP.Addr)

	for name, dst := range map[string]*time.Duration{
		"WATERSIM_TICK":        &c.TickPeriod,
		"WATERSIM_HEARTBEAT":   &c.Heartbeat,
		"WATERSIM_ASC_MIN_OFF": &c.ASC.MinOff,
		"WATERSIM_ASC_MIN_RUN": &c.ASC.MinRun,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("WATERSIM_GPIO"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WATERSIM_GPIO: %w", err)
		}
		c.GPIO.Enabled = b
	}
	return nil
}

// Validate checks the configuration for values the simulator cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.BasePath == "" {
		errs = append(errs, errors.New("base_path is required"))
	}
	if c.TickPeriod <= 0 {
		errs = append(errs, fmt.Errorf("tick_period must be positive, got %s", c.TickPeriod))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %s", c.Heartbeat))
	}
	if c.ASC.MinOff < 0 || c.ASC.MinRun < 0 {
		errs = append(errs, errors.New("asc durations must not be negative"))
	}
	if c.Backwash.DurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("backwash duration must not be negative, got %d", c.Backwash.DurationSeconds))
	}

	switch c.Store.Backend {
	case "", "memory":
	case "badger", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store path is required for %s", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if len(c.Tanks) == 0 {
		errs = append(errs, errors.New("at least one tank is required"))
	}
	seen := make(map[string]bool)
	for i, t := range c.Tanks {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("tank %d: id is required", i))
		case seen[t.ID]:
			errs = append(errs, fmt.Errorf("tank %s: duplicate id", t.ID))
		}
		seen[t.ID] = true
		if t.Level < 0 || t.Level > logic.MaxLevel {
			errs = append(errs, fmt.Errorf("tank %s: level %v out of range", t.ID, t.Level))
		}
		if t.LowSP < 0 || t.LowSP > logic.MaxLevel {
			errs = append(errs, fmt.Errorf("tank %s: low_sp %v out of range", t.ID, t.LowSP))
		}
	}

	return errors.Join(errs...)
}

// TankIDs returns the tank ids in arbitration order.
func (c Config) TankIDs() []string {
	ids := make([]string, len(c.Tanks))
	for i, t := range c.Tanks {
		ids[i] = t.ID
	}
	return ids
}

// InitialState is the process image a fresh store is seeded with: gate open,
// auto mode, pump stopped, all valves closed.
func (c Config) InitialState() logic.ProcessState {
	s := logic.ProcessState{
		SimulationActive: true,
		Initialized:      true,
		Mode:             logic.Mode{AutoSelected: true},
		Pump:             logic.Pump{PumpAvailable: true},
		Backwash:         logic.Backwash{DurationSetting: c.Backwash.DurationSeconds},
	}
	for _, t := range c.Tanks {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		s.Tanks = append(s.Tanks, logic.Tank{
			ID:         t.ID,
			Name:       name,
			Priority:   t.Priority,
			LevelPct:   t.Level,
			LevelX10:   logic.LevelX10(t.Level),
			LowSP:      t.LowSP,
			Enabled:    t.Enabled,
			AutoEnable: t.AutoEnable,
		})
	}
	return s
}
