package tags

import (
	"fmt"
	"math"
	"time"

	"github.com/sweeney/water-sim/internal/logic"
)

// binding ties a tag key to a field of a ProcessState.
type binding struct {
	key string
	ptr any // *bool, *int, *float64, *string or *time.Time
}

// bindings lists every tag of s in a fixed order. The first two are the
// scan gate flags.
func bindings(base string, s *logic.ProcessState) []binding {
	sys := func(f string) string { return Key(base, GroupSystem, f) }
	mode := func(f string) string { return Key(base, GroupMode, f) }
	pump := func(f string) string { return Key(base, GroupPump, f) }
	bw := func(f string) string { return Key(base, GroupBackwash, f) }

	b := []binding{
		{sys("SimulationActive"), &s.SimulationActive},
		{sys("Initialized"), &s.Initialized},
		{sys("LastUpdate"), &s.System.LastUpdate},

		{mode("EStop"), &s.Mode.EStop},
		{mode("PressureFault"), &s.Mode.PressureFault},
		{mode("FlowFault"), &s.Mode.FlowFault},
		{mode("BypassPFFault"), &s.Mode.BypassPFFault},
		{mode("AutoSelected"), &s.Mode.AutoSelected},
		{mode("EffectiveFault"), &s.Mode.EffectiveFault},
	}

	for i := range s.Tanks {
		t := &s.Tanks[i]
		tk := func(f string) string { return TankKey(base, t.ID, f) }
		b = append(b,
			binding{tk("Name"), &t.Name},
			binding{tk("Priority"), &t.Priority},
			binding{tk("LevelPct"), &t.LevelPct},
			binding{tk("LevelX10"), &t.LevelX10},
			binding{tk("LowSP"), &t.LowSP},
			binding{tk("Enabled"), &t.Enabled},
			binding{tk("AutoEnable"), &t.AutoEnable},
			binding{tk("SensorOpen"), &t.SensorOpen},
			binding{tk("FillReq"), &t.FillReq},
			binding{tk("ValveCmd"), &t.ValveCmd},
			binding{tk("ValveOutput"), &t.ValveOutput},
		)
	}

	return append(b,
		binding{pump("PumpRunning"), &s.Pump.PumpRunning},
		binding{pump("PumpRequest"), &s.Pump.PumpRequest},
		binding{pump("AnyDemand"), &s.Pump.AnyDemand},
		binding{pump("PumpAvailable"), &s.Pump.PumpAvailable},
		binding{pump("ASCMinOffTimer"), &s.Pump.ASCMinOffTimer},
		binding{pump("ASCMinRunTimer"), &s.Pump.ASCMinRunTimer},
		binding{pump("RunHours"), &s.Pump.RunHours},
		binding{pump("LastStartTime"), &s.Pump.LastStartTime},
		binding{pump("LastStopTime"), &s.Pump.LastStopTime},

		binding{bw("Active"), &s.Backwash.Active},
		binding{bw("Start"), &s.Backwash.Start},
		binding{bw("TimerPV"), &s.Backwash.TimerPV},
		binding{bw("DurationSetting"), &s.Backwash.DurationSetting},
		binding{bw("Valve"), &s.Backwash.Valve},
	)
}

func (b binding) value() any {
	switch p := b.ptr.(type) {
	case *bool:
		return *p
	case *int:
		return *p
	case *float64:
		return *p
	case *string:
		return *p
	case *time.Time:
		return *p
	}
	panic(fmt.Sprintf("tags: unsupported binding type %T", b.ptr))
}

func (b binding) assign(v any) error {
	switch p := b.ptr.(type) {
	case *bool:
		x, ok := v.(bool)
		if !ok {
			return &TypeError{Key: b.key, Want: "bool", Got: v}
		}
		*p = x
	case *int:
		switch x := v.(type) {
		case int:
			*p = x
		case int64:
			*p = int(x)
		case float64:
			if x != math.Trunc(x) {
				return &TypeError{Key: b.key, Want: "int", Got: v}
			}
			*p = int(x)
		default:
			return &TypeError{Key: b.key, Want: "int", Got: v}
		}
	case *float64:
		switch x := v.(type) {
		case float64:
			*p = x
		case int:
			*p = float64(x)
		case int64:
			*p = float64(x)
		default:
			return &TypeError{Key: b.key, Want: "float", Got: v}
		}
	case *string:
		x, ok := v.(string)
		if !ok {
			return &TypeError{Key: b.key, Want: "string", Got: v}
		}
		*p = x
	case *time.Time:
		x, ok := v.(time.Time)
		if !ok {
			return &TypeError{Key: b.key, Want: "time", Got: v}
		}
		*p = x
	}
	return nil
}

// LoadGate reads only the scan gate flags.
func LoadGate(r Reader, base string) (active, initialized bool, err error) {
	var s logic.ProcessState
	for _, b := range bindings(base, &s)[:2] {
		v, err := r.Read(b.key)
		if err != nil {
			return false, false, err
		}
		if err := b.assign(v); err != nil {
			return false, false, err
		}
	}
	return s.SimulationActive, s.Initialized, nil
}

// Load reads the full process state for the given tanks, in order.
func Load(r Reader, base string, tankIDs []string) (logic.ProcessState, error) {
	var s logic.ProcessState
	s.Tanks = make([]logic.Tank, len(tankIDs))
	for i, id := range tankIDs {
		s.Tanks[i].ID = id
	}

	for _, b := range bindings(base, &s) {
		v, err := r.Read(b.key)
		if err != nil {
			return logic.ProcessState{}, err
		}
		if err := b.assign(v); err != nil {
			return logic.ProcessState{}, err
		}
	}
	return s, nil
}

// All returns a write for every tag of s.
func All(base string, s logic.ProcessState) []Write {
	s = s.Clone()
	bs := bindings(base, &s)
	writes := make([]Write, len(bs))
	for i, b := range bs {
		writes[i] = Write{Key: b.key, Value: b.value()}
	}
	return writes
}

// Changes returns writes for the tags that differ between prev and next.
// Both states must describe the same tanks in the same order.
func Changes(base string, prev, next logic.ProcessState) []Write {
	before := All(base, prev)
	after := All(base, next)

	var writes []Write
	for i, w := range after {
		if i < len(before) && before[i].Key == w.Key && equal(before[i].Value, w.Value) {
			continue
		}
		writes = append(writes, w)
	}
	return writes
}

// Seed writes every tag of s.
func Seed(st Store, base string, s logic.ProcessState) error {
	if err := Commit(st, All(base, s)); err != nil {
		return fmt.Errorf("seed %s: %w", base, err)
	}
	return nil
}

func equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
