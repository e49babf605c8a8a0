package logic

import "time"

// EventType identifies a process transition.
type EventType string

const (
	EventPumpStart        EventType = "PUMP_START"
	EventPumpStop         EventType = "PUMP_STOP"
	EventValveOpen        EventType = "VALVE_OPEN"
	EventValveClose       EventType = "VALVE_CLOSE"
	EventFault            EventType = "FAULT"
	EventFaultClear       EventType = "FAULT_CLEAR"
	EventBackwashStart    EventType = "BACKWASH_START"
	EventBackwashComplete EventType = "BACKWASH_COMPLETE"
)

// Event represents a process transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Tank      string // tank ID for valve events, empty otherwise
}

// EventCounts tracks the number of selected event types since startup.
type EventCounts struct {
	PumpStarts     int
	PumpStops      int
	Faults         int
	BackwashCycles int
}

// Add counts the given events.
func (c *EventCounts) Add(events []Event) {
	for _, e := range events {
		switch e.Type {
		case EventPumpStart:
			c.PumpStarts++
		case EventPumpStop:
			c.PumpStops++
		case EventFault:
			c.Faults++
		case EventBackwashComplete:
			c.BackwashCycles++
		}
	}
}

// Transitions returns the events between two consecutive states.
// Order: fault, valves (closes before opens), pump, backwash.
func Transitions(prev, next ProcessState, now time.Time) []Event {
	var events []Event
	emit := func(t EventType, tank string) {
		events = append(events, Event{Timestamp: now, Type: t, Tank: tank})
	}

	if next.Mode.EffectiveFault != prev.Mode.EffectiveFault {
		if next.Mode.EffectiveFault {
			emit(EventFault, "")
		} else {
			emit(EventFaultClear, "")
		}
	}

	// Tanks are matched by ID so a reordered or resized list cannot pair the
	// wrong valves.
	before := make(map[string]bool, len(prev.Tanks))
	for _, t := range prev.Tanks {
		before[t.ID] = t.ValveCmd
	}
	for _, t := range next.Tanks {
		if before[t.ID] && !t.ValveCmd {
			emit(EventValveClose, t.ID)
		}
	}
	for _, t := range next.Tanks {
		if !before[t.ID] && t.ValveCmd {
			emit(EventValveOpen, t.ID)
		}
	}

	if next.Pump.PumpRunning != prev.Pump.PumpRunning {
		if next.Pump.PumpRunning {
			emit(EventPumpStart, "")
		} else {
			emit(EventPumpStop, "")
		}
	}

	// A zero-length cycle starts and completes in the same tick.
	if prev.Backwash.Active && prev.Backwash.TimerPV == 0 {
		emit(EventBackwashStart, "")
	}
	if prev.Backwash.Active && !next.Backwash.Active {
		emit(EventBackwashComplete, "")
	}

	return events
}
