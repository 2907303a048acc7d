package logger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships a batch of aggregated entries. pkg/kafka.Producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // periodic flush, default 30s
	CountThreshold int           // distinct entries that force a flush, default 100
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration // per batch, default 10s
	QueueSize      int           // batches waiting for the sender, default 4
}

// AggregatedLogEntry is one distinct (level, message, fields, caller) tuple
// and how often it was seen since the last flush.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates error logs and publishes them in batches from a
// single sender goroutine. When the sender falls behind, batches are dropped
// and counted rather than queued without bound.
type LogCollector struct {
	config *CollectionConfig
	zl     zerolog.Logger

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	closed  bool

	batches chan []AggregatedLogEntry
	stop    chan struct{}
	ticker  sync.WaitGroup
	sender  sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewLogCollector starts the flush and sender goroutines. Publish failures
// are reported on zl, which must not itself feed the collector.
func NewLogCollector(config *CollectionConfig, zl zerolog.Logger) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}

	c := &LogCollector{
		config:  &cfg,
		zl:      zl,
		entries: make(map[string]*AggregatedLogEntry),
		batches: make(chan []AggregatedLogEntry, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
	c.ticker.Add(1)
	go c.periodicFlush()
	c.sender.Add(1)
	go c.send()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.entries) >= c.config.CountThreshold {
		c.enqueueLocked()
	}
}

// Dropped is the number of batches discarded because the sender was busy.
func (c *LogCollector) Dropped() int64 { return c.dropped.Load() }

// Failed is the number of batches the publisher rejected.
func (c *LogCollector) Failed() int64 { return c.failed.Load() }

func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	data, _ := json.Marshal(struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// takeLocked empties the current window. c.mu must be held.
func (c *LogCollector) takeLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	return out
}

// enqueueLocked hands the window to the sender without blocking. c.mu must be held.
func (c *LogCollector) enqueueLocked() {
	batch := c.takeLocked()
	if batch == nil {
		return
	}
	select {
	case c.batches <- batch:
	default:
		c.dropped.Add(1)
	}
}

func (c *LogCollector) periodicFlush() {
	defer c.ticker.Done()
	t := time.NewTicker(c.config.TimeInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.mu.Lock()
			if !c.closed {
				c.enqueueLocked()
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *LogCollector) send() {
	defer c.sender.Done()
	for batch := range c.batches {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.PublishTimeout)
		err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch)
		cancel()
		if err != nil {
			c.failed.Add(1)
			c.zl.Warn().Err(err).
				Str("topic", c.config.Topic).
				Int("entries", len(batch)).
				Msg("log collector publish failed")
		}
	}
}

// Close flushes what is left and waits for the sender to drain.
func (c *LogCollector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	final := c.takeLocked()
	c.mu.Unlock()

	close(c.stop)
	c.ticker.Wait()
	if final != nil {
		c.batches <- final
	}
	close(c.batches)
	c.sender.Wait()
}
