// Package snapshot persists the module tree so a restart can paint the last
// known network state before the first fetch completes.
//
// The cache never expires by age. It is invalidated only by bumping
// SchemaVersion whenever the shape of network.Module changes.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

const (
	// SchemaVersion tags every stored snapshot.
	SchemaVersion = "network-v1"

	// Key is the well-known name the snapshot is stored under.
	Key = "network:snapshot"
)

// Config holds configuration for the snapshot store.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM; used by tests.
	InMemory bool

	// SyncWrites fsyncs every save.
	SyncWrites bool

	// Version overrides SchemaVersion.
	Version string

	Logger *zap.Logger
}

type document struct {
	Version string           `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Modules []network.Module `json:"modules"`
}

// Cache reads and writes the versioned snapshot.
type Cache struct {
	db      *badger.DB
	version string
	logger  *zap.Logger
	now     func() time.Time
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// Open opens (creating if needed) the snapshot store.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required for persistent snapshots")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{s: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = SchemaVersion
	}
	return &Cache{db: db, version: version, logger: logger, now: time.Now}, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Version returns the schema tag this cache writes and accepts.
func (c *Cache) Version() string {
	return c.version
}

// Save overwrites the stored snapshot with modules.
func (c *Cache) Save(modules []network.Module) error {
	if modules == nil {
		modules = []network.Module{}
	}
	payload, err := json.Marshal(document{
		Version: c.version,
		SavedAt: c.now().UTC(),
		Modules: modules,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key), payload)
	}); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load returns the stored tree when its version matches. Any read or decode
// failure, or a version mismatch, is reported as absent.
func (c *Cache) Load() ([]network.Module, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("snapshot read failed", zap.Error(err))
		}
		return nil, false
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.Warn("snapshot is malformed, ignoring", zap.Error(err))
		return nil, false
	}
	if doc.Version != c.version {
		c.logger.Info("snapshot version mismatch, ignoring",
			zap.String("stored", doc.Version),
			zap.String("expected", c.version))
		return nil, false
	}
	if doc.Modules == nil {
		return nil, false
	}
	return doc.Modules, true
}
