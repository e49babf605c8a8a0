package tags

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseAs parses raw into the type of current. Used by operator tools that
// take values as text.
func ParseAs(current any, raw string) (any, error) {
	switch current.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case int, int64:
		return strconv.Atoi(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case string:
		return raw, nil
	case time.Time:
		return time.Parse(time.RFC3339, raw)
	default:
		return nil, fmt.Errorf("cannot parse into %T", current)
	}
}

// ValueError is returned when operator input cannot be parsed as the type
// stored under Key.
type ValueError struct {
	Key string
	Raw string
	Err error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("tag %q: cannot use %q: %v", e.Key, e.Raw, e.Err)
}

func (e *ValueError) Unwrap() error {
	return e.Err
}

// Set writes raw to base/path, parsed as the type already stored there.
// Unknown tags are refused rather than created. It returns the full key and
// the value written.
func Set(st Store, base, path, raw string) (string, any, error) {
	key := Key(base, strings.Trim(path, "/"))
	current, err := st.Read(key)
	if err != nil {
		return "", nil, err
	}
	v, err := ParseAs(current, raw)
	if err != nil {
		return "", nil, &ValueError{Key: key, Raw: raw, Err: err}
	}
	if err := st.Write(key, v); err != nil {
		return "", nil, err
	}
	return key, v, nil
}
