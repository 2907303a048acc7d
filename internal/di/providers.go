package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/repository"
	"RegimeWatch/internal/domain/service"
	"RegimeWatch/internal/handler/api"
	internalrepo "RegimeWatch/internal/repository"
	"RegimeWatch/internal/service/indexfeed"
	imetrics "RegimeWatch/internal/service/metrics"
	"RegimeWatch/internal/service/notify"
	"RegimeWatch/internal/service/ratelimit"
	"RegimeWatch/internal/usecase"
	"RegimeWatch/pkg/badgerdb"
	"RegimeWatch/pkg/cache"
	pkgch "RegimeWatch/pkg/clickhouse"
	"RegimeWatch/pkg/config"
	xhttp "RegimeWatch/pkg/http"
	"RegimeWatch/pkg/http/middleware"
	pkgkafka "RegimeWatch/pkg/kafka"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/metrics"
	pkgnats "RegimeWatch/pkg/nats"
	"RegimeWatch/pkg/queue"
	"RegimeWatch/pkg/server"
	"RegimeWatch/pkg/sqldb"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ProvideLogger builds the app logger. Error logs are aggregated onto
// log.collect_topic when a Kafka producer is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.CollectTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.CollectInterval,
			CountThreshold: 100,
			Topic:          cfg.Log.CollectTopic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideRegisterer returns the process-wide registry; the kafka package
// registers its collectors there too.
func ProvideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func ProvideMetrics(reg prometheus.Registerer) repository.Metrics {
	return metrics.New(reg)
}

func ProvideAPIMetrics(reg prometheus.Registerer) *imetrics.APIMetrics {
	return imetrics.NewAPIMetrics(reg)
}

func ProvideRegimeParameters(cfg *config.Config) models.RegimeParameters {
	r := cfg.Regime
	return models.RegimeParameters{
		EMAShort:          r.EMAShort,
		EMALong:           r.EMALong,
		ZEnter:            r.ZEnter,
		PersistDays:       r.PersistDays,
		CooldownDays:      r.CooldownDays,
		BreadthOnMax:      r.BreadthOnMax,
		BreadthOffMin:     r.BreadthOffMin,
		PegSingleBps:      r.PegSingleBps,
		PegAggBps:         r.PegAggBps,
		PegClearHours:     r.PegClearHours,
		VolatilityEpsilon: r.VolatilityEpsilon,
	}
}

// ProvideRegimeStore opens the configured backend and ensures its schema.
func ProvideRegimeStore(cfg *config.Config, logger *applogger.Logger) (repository.RegimeStore, error) {
	var store repository.RegimeStore
	switch cfg.Store.Backend {
	case "badger":
		db, err := badgerdb.Open(cfg.Store.Badger.Dir, badgerdb.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("badger: %w", err)
		}
		store = internalrepo.NewBadgerRegimeStore(db, logger)
	case "postgres", "duckdb":
		driver, dsn := sqldb.DriverPostgres, cfg.Store.Postgres.DSN
		if cfg.Store.Backend == "duckdb" {
			driver, dsn = sqldb.DriverDuckDB, cfg.Store.DuckDB.Path
		}
		client, err := sqldb.Open(driver, dsn,
			sqldb.WithPool(cfg.Store.MaxOpenConns, cfg.Store.MaxOpenConns/2),
			sqldb.WithQueryTimeout(cfg.Store.QueryTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", driver, err)
		}
		store = internalrepo.NewSQLRegimeStore(client, logger)
	case "clickhouse":
		ch, err := ProvideClickHouseClient(cfg)
		if err != nil {
			return nil, err
		}
		store = internalrepo.NewCHRegimeStore(ch, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Store.Backend, err)
	}
	return store, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer returns nil when nothing publishes to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Notify.Kafka && cfg.Log.CollectTopic == "" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer returns nil unless Kafka ingest is enabled.
func ProvideKafkaConsumer(cfg *config.Config, logger *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(logger,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	return consumer, nil
}

// ProvideRedisClient returns nil when redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache prefers redis and falls back to an in-process cache.
func ProvideCache(cfg *config.Config, rc *redis.Client) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	if rc != nil {
		return cache.NewRedisCache(rc, "regime")
	}
	return cache.NewMemoryCache()
}

// ProvideNATSClient returns nil unless the nats channel is enabled.
func ProvideNATSClient(cfg *config.Config) (*pkgnats.Client, error) {
	if !cfg.Notify.NATS {
		return nil, nil
	}
	nc := pkgnats.DefaultConfig()
	nc.URL = cfg.NATS.URL
	nc.StreamName = cfg.NATS.Stream
	nc.Subjects = []string{cfg.NATS.Subject}
	client, err := pkgnats.NewClient(nc)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureStream(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("nats stream: %w", err)
	}
	return client, nil
}

func ProvideHub(cfg *config.Config, logger *applogger.Logger) *notify.Hub {
	if !cfg.Notify.WebSocket {
		return nil
	}
	return notify.NewHub(logger)
}

// ProvideNotifiers builds the enabled outbound channels.
func ProvideNotifiers(cfg *config.Config, producer *pkgkafka.Producer, nc *pkgnats.Client, rc *redis.Client, hub *notify.Hub, logger *applogger.Logger) []service.Notifier {
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Notify.Timeout))
	var out []service.Notifier
	for _, u := range cfg.Notify.Webhooks {
		out = append(out, notify.NewWebhookNotifier(u, client))
	}
	if cfg.Notify.DiscordURL != "" {
		out = append(out, notify.NewDiscordNotifier(cfg.Notify.DiscordURL, client))
	}
	if producer != nil && cfg.Notify.Kafka {
		out = append(out, notify.NewKafkaNotifier(producer, cfg.Kafka.AlertTopic))
	}
	if nc != nil {
		out = append(out, notify.NewNATSNotifier(nc, cfg.NATS.Subject))
	}
	if rc != nil && cfg.Notify.RedisList != "" {
		out = append(out, notify.NewRedisNotifier(queue.NewRedisPublisher(logger, rc, queue.WithKeyPrefix(cfg.Notify.RedisList))))
	}
	if hub != nil {
		out = append(out, hub)
	}
	return out
}

func ProvideDispatcher(cfg *config.Config, notifiers []service.Notifier, m repository.Metrics, logger *applogger.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(notifiers,
		notify.WithTimeout(cfg.Notify.Timeout),
		notify.WithMetrics(m),
		notify.WithLogger(logger),
	)
}

func ProvideEvaluationService(
	cfg *config.Config,
	store repository.RegimeStore,
	params models.RegimeParameters,
	dispatcher *notify.Dispatcher,
	c cache.Service,
	m repository.Metrics,
	logger *applogger.Logger,
) *usecase.RegimeEvaluationService {
	opts := []usecase.ServiceOption{
		usecase.WithDispatcher(dispatcher),
		usecase.WithServiceMetrics(m),
		usecase.WithServiceLogger(logger),
		usecase.WithBackend(cfg.Store.Backend),
	}
	if c != nil {
		opts = append(opts, usecase.WithCache(c, cfg.Cache.TTL))
	}
	return usecase.NewRegimeEvaluationService(store, params, opts...)
}

// ProvideBackfillQueue returns a single-worker queue, or nil when backfills run inline.
func ProvideBackfillQueue(cfg *config.Config, rc *redis.Client, logger *applogger.Logger) *queue.RedisQueue {
	if !cfg.Backfill.UseQueue || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(logger, &queue.QueueConfig{Workers: 1, RetryLimit: 2, RetryDelay: 30 * time.Second},
		rc, queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Backfill.KeyPrefix))
}

func ProvideBackfillService(svc *usecase.RegimeEvaluationService, c cache.Service, q *queue.RedisQueue, logger *applogger.Logger) *usecase.BackfillService {
	opts := []usecase.BackfillOption{usecase.WithBackfillLogger(logger)}
	if c != nil {
		opts = append(opts, usecase.WithBackfillLock(c, 30*time.Minute))
	}
	if q != nil {
		opts = append(opts, usecase.WithBackfillQueue(q))
	}
	b := usecase.NewBackfillService(svc, opts...)
	if q != nil {
		q.RegisterJob(usecase.NewBackfillJob(b))
	}
	return b
}

func ProvideIndexHandler(cfg *config.Config, svc *usecase.RegimeEvaluationService, m repository.Metrics, logger *applogger.Logger) *usecase.KafkaIndexHandler {
	return usecase.NewKafkaIndexHandler(cfg.Kafka.InputTopic, svc, m, logger)
}

// ProvideScheduler returns nil unless the daily pull is enabled.
func ProvideScheduler(cfg *config.Config, svc *usecase.RegimeEvaluationService, logger *applogger.Logger) *usecase.DailyScheduler {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	feed := indexfeed.New(cfg.Scheduler.IndexAPIURL,
		xhttp.NewClient(xhttp.WithTimeout(cfg.Scheduler.Timeout), xhttp.WithUserAgent(cfg.Server.UserAgent)),
		indexfeed.WithLogger(logger),
	)
	return usecase.NewDailyScheduler(cfg.Scheduler.Spec, feed, svc, 3*cfg.Scheduler.Timeout, logger)
}

func ProvideRegimeHandler(logger *applogger.Logger, svc *usecase.RegimeEvaluationService, b *usecase.BackfillService, hub *notify.Hub, m *imetrics.APIMetrics) *api.RegimeEchoHandler {
	var alerts http.Handler
	if hub != nil {
		alerts = hub
	}
	return api.NewRegimeEchoHandler(logger, svc, b, alerts, m)
}

func ProvideHTTPServer(cfg *config.Config, h *api.RegimeEchoHandler, logger *applogger.Logger) *xhttp.Server {
	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(path),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(logger),
		xhttp.WithMiddleware(middleware.RateLimit(limiter, "/healthz", path, "/ws/alerts")),
	)
}

// ProvideApp assembles the server; optional components are attached only when configured.
func ProvideApp(
	logger *applogger.Logger,
	store repository.RegimeStore,
	httpServer *xhttp.Server,
	dispatcher *notify.Dispatcher,
	hub *notify.Hub,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaIndexHandler,
	scheduler *usecase.DailyScheduler,
	backfillQ *queue.RedisQueue,
	producer *pkgkafka.Producer,
	nc *pkgnats.Client,
	rc *redis.Client,
) *server.App {
	opts := []server.Option{}
	if hub != nil {
		opts = append(opts, server.WithHub(hub))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, kh))
	}
	if scheduler != nil {
		opts = append(opts, server.WithScheduler(scheduler))
	}
	if backfillQ != nil {
		opts = append(opts, server.WithBackfillQueue(backfillQ))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka", producer.Close))
	}
	if nc != nil {
		opts = append(opts, server.WithCloser("nats", func() error { nc.Close(); return nil }))
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc.Close))
	}
	return server.New(logger, store, httpServer, dispatcher, opts...)
}
