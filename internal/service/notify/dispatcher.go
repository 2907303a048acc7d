package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/repository"
	"RegimeWatch/internal/domain/service"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/util"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	resultOK      = "ok"
	resultError   = "error"
	resultTripped = "breaker_open"
)

type channel struct {
	notifier service.Notifier
	breaker  *gobreaker.CircuitBreaker
}

// Dispatcher fans CRITICAL notifications out to every configured channel.
// Each channel is delivered in its own goroutine, bounded by a timeout and
// guarded by a circuit breaker. Failures never propagate to the caller.
type Dispatcher struct {
	channels []channel
	timeout  time.Duration
	logger   *applogger.Logger
	metrics  repository.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(dp *Dispatcher) { dp.logger = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(dp *Dispatcher) { dp.metrics = m }
}

func NewDispatcher(notifiers []service.Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: 5 * time.Second, logger: applogger.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		d.channels = append(d.channels, channel{notifier: n, breaker: newBreaker(n.Name())})
	}
	return d
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "notify-" + name,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
}

// Channels lists the configured channel names.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		out = append(out, c.notifier.Name())
	}
	return out
}

// Dispatch starts delivery of n and returns immediately. Non-CRITICAL
// notifications are dropped, as is everything once Close has begun. It
// returns the number of channels started.
func (d *Dispatcher) Dispatch(ctx context.Context, n service.Notification) int {
	if n.Level != models.LevelCritical {
		return 0
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, notification dropped",
			applogger.String("id", n.ID),
			applogger.String("alert_type", string(n.AlertType)))
		return 0
	}
	d.wg.Add(len(d.channels))
	d.mu.Unlock()

	// delivery outlives the request that triggered it
	base := context.WithoutCancel(ctx)
	for _, c := range d.channels {
		go d.deliver(base, c, n)
	}
	return len(d.channels)
}

func (d *Dispatcher) deliver(ctx context.Context, c channel, n service.Notification) {
	defer d.wg.Done()
	name := c.notifier.Name()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notifier panicked", applogger.String("channel", name), applogger.Any("panic", r))
			d.record(name, resultError)
		}
	}()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.notifier.Notify(ctx, n)
	})
	if err != nil {
		result := resultError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = resultTripped
		}
		derr := models.NewDeliveryError(name, err)
		d.logger.Warn("notification delivery failed",
			applogger.String("channel", name),
			applogger.String("id", n.ID),
			applogger.String("alert_type", string(n.AlertType)),
			applogger.Error(derr))
		d.record(name, result)
		if d.metrics != nil {
			d.metrics.RecordError(string(models.KindDelivery))
		}
		return
	}
	d.logger.Debug("notification delivered",
		applogger.String("channel", name),
		applogger.String("id", n.ID),
		applogger.Duration("duration_ms", time.Since(start)))
	d.record(name, resultOK)
}

func (d *Dispatcher) record(channel, result string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(channel, result)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close stops accepting notifications and waits for in-flight deliveries
// or ctx expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify close: %w", ctx.Err())
	}
}

// FromAlert builds the outbound summary of an evaluation's alert.
func FromAlert(date time.Time, state models.RegimeState, prev *models.RegimeState, alert *models.RegimeAlert, sig models.RegimeSignal) service.Notification {
	return service.Notification{
		ID:         uuid.NewString(),
		Date:       util.FormatDate(date),
		State:      state,
		Previous:   prev,
		AlertType:  alert.Type,
		Level:      alert.Level,
		Spread:     sig.Spread.StringFixed(6),
		ZScore:     sig.ZScore.StringFixed(3),
		BreadthPct: sig.BreadthPct.StringFixed(1),
		Message:    alert.Message,
		Conditions: alert.TriggerConditions,
	}
}
