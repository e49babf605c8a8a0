// Package scan runs one scan cycle against a tag store: read the process
// image, apply field overlays, tick the logic and commit the changes.
package scan

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/water-sim/internal/gpio"
	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/tags"
)

// ErrBusy is returned when a scan is requested while another is running.
var ErrBusy = errors.New("scan already in progress")

// Config configures a Scanner.
type Config struct {
	// Base is the tag path prefix, e.g. "WaterSim".
	Base string

	// TankIDs lists the tank folders in arbitration order.
	TankIDs []string

	// Inputs, if set, supplies the fault inputs each scan.
	Inputs gpio.Reader

	// MinOff and MinRun are the anti-short-cycle durations. When both are
	// zero the stored interlock flags are used as-is.
	MinOff time.Duration
	MinRun time.Duration
}

// Result describes one completed scan.
type Result struct {
	// Gated is true when the scan gate was closed and nothing ran.
	Gated bool

	Prev   logic.ProcessState
	Next   logic.ProcessState
	Events []logic.Event

	// Writes is the number of tags committed.
	Writes int
}

// Scanner executes scans. It is safe to call Scan from several goroutines;
// overlapping calls fail with ErrBusy.
type Scanner struct {
	store tags.Store
	cfg   Config
	mu    sync.Mutex
}

// New creates a Scanner over store.
func New(store tags.Store, cfg Config) *Scanner {
	return &Scanner{store: store, cfg: cfg}
}

// Scan runs one scan cycle at now. Nothing is written until the whole next
// state has been computed.
func (s *Scanner) Scan(now time.Time) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer s.mu.Unlock()

	active, initialized, err := tags.LoadGate(s.store, s.cfg.Base)
	if err != nil {
		return Result{}, fmt.Errorf("read scan gate: %w", err)
	}
	if !active || !initialized {
		return Result{Gated: true}, nil
	}

	prev, err := tags.Load(s.store, s.cfg.Base, s.cfg.TankIDs)
	if err != nil {
		return Result{}, fmt.Errorf("load state: %w", err)
	}

	in := prev.Clone()
	if err := s.overlay(&in, now); err != nil {
		return Result{}, err
	}

	next := logic.Tick(in, now)
	writes := tags.Changes(s.cfg.Base, prev, next)
	if err := tags.Commit(s.store, writes); err != nil {
		return Result{}, fmt.Errorf("commit state: %w", err)
	}

	return Result{
		Prev:   prev,
		Next:   next,
		Events: logic.Transitions(prev, next, now),
		Writes: len(writes),
	}, nil
}

// overlay applies field inputs and interlock timers to the loaded state.
func (s *Scanner) overlay(st *logic.ProcessState, now time.Time) error {
	if s.cfg.Inputs != nil {
		in, err := s.cfg.Inputs.Read()
		if err != nil {
			return fmt.Errorf("read inputs: %w", err)
		}
		st.Mode.EStop = in.EStop
		st.Mode.PressureFault = in.PressureFault
		st.Mode.FlowFault = in.FlowFault
	}

	if s.cfg.MinOff > 0 || s.cfg.MinRun > 0 {
		st.Pump.ASCMinOffTimer, st.Pump.ASCMinRunTimer =
			logic.ASCTimers(st.Pump, now, s.cfg.MinOff, s.cfg.MinRun)
	}
	return nil
}

// Snapshot loads the current state without ticking.
func (s *Scanner) Snapshot() (logic.ProcessState, error) {
	return tags.Load(s.store, s.cfg.Base, s.cfg.TankIDs)
}

// StartBackwash requests a backwash cycle through the scanner's store. It
// waits for a running scan to finish so the request cannot be lost in that
// scan's commit.
func (s *Scanner) StartBackwash() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StartBackwash(s.store, s.cfg.Base)
}

// SetTag writes one operator value between scans. path is relative to the
// base path. Fault inputs are overwritten by the next scan when a GPIO reader
// is configured.
func (s *Scanner) SetTag(path, raw string) (string, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tags.Set(s.store, s.cfg.Base, path, raw)
}

// StartBackwash requests a backwash cycle. The sequencer picks it up on the
// next scan.
func StartBackwash(st tags.Store, base string) error {
	writes := []tags.Write{
		{Key: tags.Key(base, tags.GroupBackwash, "Active"), Value: true},
		{Key: tags.Key(base, tags.GroupBackwash, "Start"), Value: true},
		{Key: tags.Key(base, tags.GroupBackwash, "TimerPV"), Value: 0},
	}
	if err := tags.Commit(st, writes); err != nil {
		return fmt.Errorf("start backwash: %w", err)
	}
	return nil
}
