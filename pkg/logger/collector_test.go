package logger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	err     error
	hold    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *fakePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.hold != nil {
		<-p.hold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return p.err
}

func (p *fakePublisher) published() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorFlushesAtCountThreshold(t *testing.T) {
	pub := &fakePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "regime.logs", Publisher: pub}, zerolog.Nop())
	defer c.Close()

	fields := map[string]interface{}{"channel": "discord"}
	c.AddLog("error", "delivery failed", fields, "notify/dispatcher.go:10")
	c.AddLog("error", "delivery failed", fields, "notify/dispatcher.go:10")
	assert.Empty(t, pub.published(), "duplicates do not count toward the threshold")

	c.AddLog("error", "save failed", nil, "usecase/regime_evaluation.go:20")
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)

	batch := pub.published()[0]
	require.Len(t, batch, 2)
	counts := map[string]int{}
	for _, e := range batch {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, map[string]int{"delivery failed": 2, "save failed": 1}, counts)
	assert.Equal(t, []string{"regime.logs"}, pub.topics)
}

func TestCollectorFlushesOnClose(t *testing.T) {
	pub := &fakePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "regime.logs", Publisher: pub}, zerolog.Nop())

	c.AddLog("error", "ping failed", nil, "x.go:1")
	c.Close()

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, "ping failed", got[0][0].Message)

	c.AddLog("error", "after close", nil, "x.go:2")
	c.Close()
	assert.Len(t, pub.published(), 1)
}

func TestCollectorReportsPublishFailure(t *testing.T) {
	var buf bytes.Buffer
	pub := &fakePublisher{err: errors.New("broker down")}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "regime.logs", Publisher: pub}, zerolog.New(&buf))

	c.AddLog("error", "ping failed", nil, "x.go:1")
	c.Close()

	assert.Equal(t, int64(1), c.Failed())
	assert.Contains(t, buf.String(), "log collector publish failed")
	assert.Contains(t, buf.String(), "broker down")
}

func TestCollectorDropsWhenSenderIsBusy(t *testing.T) {
	pub := &fakePublisher{hold: make(chan struct{}), entered: make(chan struct{}, 3)}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 1, QueueSize: 1, Publisher: pub}, zerolog.Nop())

	c.AddLog("error", "a", nil, "x.go:1")
	select {
	case <-pub.entered:
	case <-time.After(time.Second):
		t.Fatal("sender never picked up the first batch")
	}
	c.AddLog("error", "b", nil, "x.go:2") // waits in the queue
	c.AddLog("error", "c", nil, "x.go:3") // queue full
	assert.Equal(t, int64(1), c.Dropped())

	close(pub.hold)
	c.Close()
	got := pub.published()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0][0].Message)
	assert.Equal(t, "b", got[1][0].Message)
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &fakePublisher{}
	l := &Logger{zl: zerolog.Nop()}
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "regime.logs", Publisher: pub})

	l.Warn("not collected")
	l.With("store").Error("save failed", String("date", "2025-03-01"))
	l.RemoveCollector()

	got := pub.published()
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)
	e := got[0][0]
	assert.Equal(t, "error", e.Level)
	assert.Equal(t, "save failed", e.Message)
	assert.Equal(t, "2025-03-01", e.Fields["date"])
	assert.Contains(t, e.Caller, "collector_test.go")
}
