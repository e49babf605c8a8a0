package tags

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the persisted form of a tag value. The type travels with the
// value so ints, floats and timestamps survive a round trip through JSON.
type envelope struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

func encodeValue(v any) ([]byte, error) {
	var typ string
	switch x := v.(type) {
	case bool:
		typ = "bool"
	case int, int64:
		typ = "int"
	case float64:
		typ = "float"
	case string:
		typ = "string"
	case time.Time:
		typ = "time"
		v = x.UTC().Format(time.RFC3339Nano)
	default:
		return nil, fmt.Errorf("unsupported tag value type %T", v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Value: raw})
}

func decodeValue(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode tag envelope: %w", err)
	}

	switch env.Type {
	case "bool":
		var b bool
		err := json.Unmarshal(env.Value, &b)
		return b, err
	case "int":
		var i int
		err := json.Unmarshal(env.Value, &i)
		return i, err
	case "float":
		var f float64
		err := json.Unmarshal(env.Value, &f)
		return f, err
	case "string":
		var s string
		err := json.Unmarshal(env.Value, &s)
		return s, err
	case "time":
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("unknown tag value type %q", env.Type)
	}
}
