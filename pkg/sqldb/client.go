package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"               // postgres driver
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// Config holds relational connection settings.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Option configures Config.
type Option func(*Config)

func WithPool(maxOpen, maxIdle int) Option {
	return func(c *Config) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
	}
}

func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.QueryTimeout = d
		}
	}
}

// Client wraps a sqlx handle for postgres or duckdb.
type Client struct {
	db  *sqlx.DB
	cfg Config
}

// Open connects and pings. For duckdb the DSN is a file path or ":memory:".
func Open(driver, dsn string, opts ...Option) (*Client, error) {
	cfg := Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch driver {
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
	case DriverDuckDB:
		// duckdb allows a single writer process; one connection keeps writes serialized
		cfg.MaxOpenConns, cfg.MaxIdleConns = 1, 1
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &Client{db: db, cfg: cfg}, nil
}

// New wraps an existing handle, e.g. one backed by sqlmock.
func New(db *sqlx.DB, queryTimeout time.Duration) *Client {
	return &Client{db: db, cfg: Config{Driver: db.DriverName(), QueryTimeout: queryTimeout}}
}

// DB returns the underlying sqlx handle.
func (c *Client) DB() *sqlx.DB { return c.db }

// Driver returns the driver name.
func (c *Client) Driver() string { return c.cfg.Driver }

// QueryTimeout is the per-statement deadline.
func (c *Client) QueryTimeout() time.Duration { return c.cfg.QueryTimeout }

// InitSchema runs DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
