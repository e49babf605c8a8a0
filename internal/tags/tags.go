// Package tags provides the tag store the scan cycle reads from and writes to.
// Tags are typed values addressed by path: <base>/<Group>/<Field>.
// The memory implementation serves tests and demos; badger and sqlite
// implementations persist tags across restarts.
package tags

import (
	"fmt"
	"strings"
)

// Reader reads tags by key.
type Reader interface {
	// Read returns the value stored under key.
	// Returns *NotFoundError if the key does not exist.
	Read(key string) (any, error)
}

// Store reads and writes tags.
type Store interface {
	Reader

	// Write stores value under key.
	// Returns *WriteError if the store cannot accept the write.
	Write(key string, value any) error

	// Close releases store resources.
	Close() error
}

// Batcher is implemented by stores that apply several writes atomically:
// either every write lands or none does.
type Batcher interface {
	WriteBatch(writes []Write) error
}

// Write is a single pending tag write.
type Write struct {
	Key   string
	Value any
}

// Tag groups under the base path.
const (
	GroupSystem   = "System"
	GroupMode     = "Mode"
	GroupTanks    = "Tanks"
	GroupPump     = "Pump"
	GroupBackwash = "Backwash"
)

// Key joins a base path and path segments.
func Key(base string, parts ...string) string {
	return base + "/" + strings.Join(parts, "/")
}

// TankKey returns the key of a field of one tank.
func TankKey(base, tankID, field string) string {
	return Key(base, GroupTanks, tankID, field)
}

// NotFoundError is returned when a key does not exist. It indicates a
// provisioning mismatch and aborts the scan.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tag %q not found", e.Key)
}

// WriteError is returned when the store cannot accept a write.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write tag %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// TypeError is returned when a stored value has the wrong type for its field.
type TypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("tag %q: want %s, got %T", e.Key, e.Want, e.Got)
}

// Commit applies writes to s. Stores implementing Batcher apply them in one
// transaction; otherwise writes are applied in order and the first failure
// abandons the rest.
func Commit(s Store, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	if b, ok := s.(Batcher); ok {
		return b.WriteBatch(writes)
	}
	for _, w := range writes {
		if err := s.Write(w.Key, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// Open opens a store by backend name: "memory", "badger" or "sqlite".
// path is ignored for memory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemStore(), nil
	case "badger":
		cfg := DefaultBadgerConfig()
		cfg.Path = path
		return OpenBadger(cfg)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
