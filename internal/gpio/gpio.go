// Package gpio provides field input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Inputs are the hard-wired plant fault inputs, in logical form.
type Inputs struct {
	EStop         bool
	PressureFault bool
	FlowFault     bool
}

// Reader reads field inputs.
type Reader interface {
	// Read returns the logical input states.
	// The raw GPIO values are inverted: raw inactive = input asserted.
	Read() (Inputs, error)

	// Close releases GPIO resources.
	Close() error
}

// Pins maps each input to a BCM line offset.
type Pins struct {
	EStop         int
	PressureFault int
	FlowFault     int
}

// DefaultPins is the wiring of the reference panel (BCM numbering).
var DefaultPins = Pins{
	EStop:         26,
	PressureFault: 16,
	FlowFault:     20,
}
