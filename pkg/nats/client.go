package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds NATS client configuration.
type Config struct {
	URL           string
	StreamName    string
	Subjects      []string
	RetryAttempts int
	RetryDelay    time.Duration
	MaxAge        time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "REGIME",
		Subjects:      []string{"regime.>"},
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Client wraps a JetStream publisher for alert fan-out.
type Client struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("regime-watch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.RetryAttempts),
		nats.ReconnectWait(cfg.RetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Client{nc: nc, js: js, cfg: cfg}, nil
}

// EnsureStream creates or updates the stream alerts are published to.
// Limits retention keeps alerts for MaxAge regardless of consumers.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.StreamName,
		Subjects:  c.cfg.Subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    c.cfg.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", c.cfg.StreamName, err)
	}
	return nil
}

// Publish waits for the JetStream ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
