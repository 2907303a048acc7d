package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RegimeWatch/internal/domain/repository"
	"RegimeWatch/internal/service/notify"
	"RegimeWatch/internal/usecase"
	xhttp "RegimeWatch/pkg/http"
	pkgkafka "RegimeWatch/pkg/kafka"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/queue"
)

// App owns the long-running components and their shutdown order.
type App struct {
	logger     *applogger.Logger
	store      repository.RegimeStore
	httpServer *xhttp.Server
	dispatcher *notify.Dispatcher
	hub        *notify.Hub
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	scheduler  *usecase.DailyScheduler
	backfillQ  *queue.RedisQueue
	closers    []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

type Option func(*App)

// WithConsumer starts c with handler h registered.
func WithConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.kh = h
	}
}

func WithScheduler(s *usecase.DailyScheduler) Option {
	return func(a *App) { a.scheduler = s }
}

// WithBackfillQueue starts the single-worker backfill consumer.
func WithBackfillQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.backfillQ = q }
}

func WithHub(h *notify.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithCloser registers a client closed after everything else has stopped.
func WithCloser(name string, fn func() error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, namedCloser{name: name, close: fn})
		}
	}
}

func New(logger *applogger.Logger, store repository.RegimeStore, httpServer *xhttp.Server, dispatcher *notify.Dispatcher, opts ...Option) *App {
	if logger == nil {
		logger = applogger.Nop()
	}
	a := &App{logger: logger, store: store, httpServer: httpServer, dispatcher: dispatcher}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))

	timeout := 15 * time.Second
	if a.httpServer != nil {
		timeout = a.httpServer.ShutdownTimeout()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Start launches background components. It does not block.
func (a *App) Start() error {
	if a.backfillQ != nil {
		if err := a.backfillQ.Start(); err != nil {
			return err
		}
		a.logger.Info("backfill queue consumer started")
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	return nil
}

// Shutdown stops intake first, then drains notifications, then closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")
	var errs []error

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.backfillQ != nil {
		if err := a.backfillQ.Stop(ctx); err != nil {
			a.logger.Warn("backfill queue stop error", applogger.Error(err))
		}
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warn("notifications still in flight at shutdown", applogger.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close error", applogger.String("client", c.name), applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
