//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads field inputs from actual hardware using Linux GPIO
// character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line // EStop, PressureFault, FlowFault
}

// NewRealReader requests the input lines on gpiochip0.
func NewRealReader(pins Pins) (*RealReader, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealReader{chip: chip}
	named := []struct {
		name string
		pin  int
	}{
		{"EStop", pins.EStop},
		{"PressureFault", pins.PressureFault},
		{"FlowFault", pins.FlowFault},
	}
	for _, n := range named {
		// Pull-down matches Pi boot defaults.
		line, err := chip.RequestLine(n.pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", n.name, n.pin, err)
		}
		r.lines = append(r.lines, line)
	}

	return r, nil
}

// Read returns the logical input states.
// Inverts raw GPIO: raw inactive (0) = asserted.
func (r *RealReader) Read() (Inputs, error) {
	var v [3]bool
	for i, line := range r.lines {
		raw, err := line.Value()
		if err != nil {
			return Inputs{}, fmt.Errorf("read line %d: %w", i, err)
		}
		v[i] = raw == 0
	}

	return Inputs{
		EStop:         v[0],
		PressureFault: v[1],
		FlowFault:     v[2],
	}, nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults)
// before closing so the panel never sees a driven line during reboot.
func (r *RealReader) Close() error {
	var errs []error

	for i, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", i, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", i, err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
