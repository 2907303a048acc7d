package badgerdb

import (
	"fmt"
	"os"

	applogger "RegimeWatch/pkg/logger"

	"github.com/timshannon/badgerhold/v4"
)

// DB manages the embedded Badger database.
type DB struct {
	store  *badgerhold.Store
	logger *applogger.Logger
	dir    string
}

// Option configures DB.
type Option func(*DB)

func WithLogger(l *applogger.Logger) Option {
	return func(d *DB) {
		if l != nil {
			d.logger = l
		}
	}
}

// Open opens (or creates) a Badger database under dir.
func Open(dir string, opts ...Option) (*DB, error) {
	db := &DB{dir: dir, logger: applogger.Nop()}
	for _, opt := range opts {
		opt(db)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	db.store = store

	db.logger.Debug("badger opened", applogger.String("dir", dir))
	return db, nil
}

// Store returns the underlying badgerhold store.
func (d *DB) Store() *badgerhold.Store {
	return d.store
}

// Ping fails once the database has been closed.
func (d *DB) Ping() error {
	if d.store == nil || d.store.Badger().IsClosed() {
		return fmt.Errorf("badger %s is closed", d.dir)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
