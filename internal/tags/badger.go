package tags

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM (tests).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's own log output. Nil disables it.
	Logger *log.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults: synchronous writes and a
// 5 minute value log GC.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts log.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Printf("badger: error: "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Printf("badger: warning: "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {}

// BadgerStore persists tags in an embedded BadgerDB.
// Each key holds one encoded value; a batch commits in a single transaction.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// OpenBadger opens (or creates) a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Read returns the value stored under key.
func (s *BadgerStore) Read(key string) (any, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("read tag %q: %w", key, err)
	}

	v, err := decodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("read tag %q: %w", key, err)
	}
	return v, nil
}

// Write stores value under key.
func (s *BadgerStore) Write(key string, value any) error {
	return s.WriteBatch([]Write{{Key: key, Value: value}})
}

// WriteBatch applies all writes in one transaction.
func (s *BadgerStore) WriteBatch(writes []Write) error {
	var failed string
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			failed = w.Key
			data, err := encodeValue(w.Value)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(w.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &WriteError{Key: failed, Err: err}
	}
	return nil
}

// Close stops value log GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				log.Printf("badger: value log gc: %v", err)
			}
		}
	}
}
