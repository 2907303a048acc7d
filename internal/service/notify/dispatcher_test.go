package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	name  string
	err   error
	block bool

	mu   sync.Mutex
	got  []service.Notification
	errs []error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(ctx context.Context, n service.Notification) error {
	if r.block {
		<-ctx.Done()
		r.mu.Lock()
		r.errs = append(r.errs, ctx.Err())
		r.mu.Unlock()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) received() []service.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.Notification(nil), r.got...)
}

type fakeMetrics struct {
	mu            sync.Mutex
	notifications map[string]int
	errors        map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{notifications: map[string]int{}, errors: map[string]int{}}
}

func (m *fakeMetrics) RecordEvaluation(string)       {}
func (m *fakeMetrics) RecordAlert(string, string)    {}
func (m *fakeMetrics) RecordLatency(string, float64) {}
func (m *fakeMetrics) RecordCurrentState(string)     {}
func (m *fakeMetrics) RecordError(kind string)       { m.mu.Lock(); m.errors[kind]++; m.mu.Unlock() }
func (m *fakeMetrics) RecordNotification(ch, res string) {
	m.mu.Lock()
	m.notifications[ch+"/"+res]++
	m.mu.Unlock()
}

func (m *fakeMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[key]
}

func critical() service.Notification {
	return service.Notification{
		Date:      "2025-09-01",
		State:     models.StateRiskOff,
		AlertType: models.AlertFlipConfirmed,
		Level:     models.LevelCritical,
		Message:   "regime changed: NEU -> OFF",
	}
}

func TestDispatchSkipsWarnings(t *testing.T) {
	n := &recordingNotifier{name: "a"}
	d := NewDispatcher([]service.Notifier{n})

	w := critical()
	w.Level = models.LevelWarning
	assert.Equal(t, 0, d.Dispatch(context.Background(), w))
	d.Wait()
	assert.Empty(t, n.received())
}

func TestDispatchAssignsID(t *testing.T) {
	n := &recordingNotifier{name: "a"}
	d := NewDispatcher([]service.Notifier{n})

	require.Equal(t, 1, d.Dispatch(context.Background(), critical()))
	d.Wait()
	got := n.received()
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
}

func TestDispatchIsolatesChannels(t *testing.T) {
	failing := &recordingNotifier{name: "failing", err: errors.New("boom")}
	slow := &recordingNotifier{name: "slow", block: true}
	ok := &recordingNotifier{name: "ok"}
	m := newFakeMetrics()
	d := NewDispatcher([]service.Notifier{failing, slow, ok}, WithTimeout(50*time.Millisecond), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, 3, d.Dispatch(ctx, critical()))
	// caller cancellation does not abort delivery
	cancel()

	closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, d.Close(closeCtx))

	assert.Len(t, ok.received(), 1)
	assert.Equal(t, 1, m.count("ok/ok"))
	assert.Equal(t, 1, m.count("failing/error"))
	assert.Equal(t, 1, m.count("slow/error"))
	require.Len(t, slow.errs, 1)
	assert.ErrorIs(t, slow.errs[0], context.DeadlineExceeded)
}

func TestDispatchBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := &recordingNotifier{name: "hook", err: errors.New("503")}
	m := newFakeMetrics()
	d := NewDispatcher([]service.Notifier{failing}, WithMetrics(m))

	for i := 0; i < 4; i++ {
		d.Dispatch(context.Background(), critical())
		d.Wait()
	}
	assert.Equal(t, 3, m.count("hook/error"))
	assert.Equal(t, 1, m.count("hook/breaker_open"))
	assert.Len(t, failing.received(), 3)
}

func TestDispatchAfterCloseIsDropped(t *testing.T) {
	n := &recordingNotifier{name: "a"}
	d := NewDispatcher([]service.Notifier{n})

	require.Equal(t, 1, d.Dispatch(context.Background(), critical()))
	require.NoError(t, d.Close(context.Background()))
	require.Len(t, n.received(), 1)

	assert.Equal(t, 0, d.Dispatch(context.Background(), critical()))
	d.Wait()
	assert.Len(t, n.received(), 1)
}

func TestDispatchRacesClose(t *testing.T) {
	n := &recordingNotifier{name: "a"}
	d := NewDispatcher([]service.Notifier{n})

	var started sync.WaitGroup
	var accepted int
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		started.Add(1)
		go func() {
			defer started.Done()
			c := d.Dispatch(context.Background(), critical())
			mu.Lock()
			accepted += c
			mu.Unlock()
		}()
	}
	require.NoError(t, d.Close(context.Background()))
	started.Wait()
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, n.received(), accepted)
}

func TestChannels(t *testing.T) {
	d := NewDispatcher([]service.Notifier{&recordingNotifier{name: "a"}, nil, &recordingNotifier{name: "b"}})
	assert.Equal(t, []string{"a", "b"}, d.Channels())
}

func TestFromAlert(t *testing.T) {
	prev := models.StateNeutral
	alert := &models.RegimeAlert{
		Type:              models.AlertFlipConfirmed,
		Level:             models.LevelCritical,
		Message:           "regime changed: NEU -> ON",
		TriggerConditions: []string{"z_score=0.700 > 0.5"},
	}
	sig := models.RegimeSignal{
		Spread:     decimal.RequireFromString("0.0012346"),
		ZScore:     decimal.RequireFromString("0.7"),
		BreadthPct: decimal.RequireFromString("33.333"),
	}
	n := FromAlert(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), models.StateRiskOn, &prev, alert, sig)

	assert.Equal(t, "2025-09-01", n.Date)
	assert.Equal(t, "0.001235", n.Spread)
	assert.Equal(t, "0.700", n.ZScore)
	assert.Equal(t, "33.3", n.BreadthPct)
	assert.Equal(t, models.StateNeutral, *n.Previous)
	assert.NotEmpty(t, n.ID)
}
