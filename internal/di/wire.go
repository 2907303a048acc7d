//go:build wireinject
// +build wireinject

package di

import (
	"RegimeWatch/pkg/config"
	"RegimeWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRegisterer,
		ProvideMetrics,
		ProvideAPIMetrics,

		// Storage and clients
		ProvideRegimeParameters,
		ProvideRegimeStore,
		ProvideRedisClient,
		ProvideCache,
		ProvideNATSClient,

		// Notifications
		ProvideHub,
		ProvideNotifiers,
		ProvideDispatcher,

		// Use cases
		ProvideEvaluationService,
		ProvideBackfillQueue,
		ProvideBackfillService,
		ProvideKafkaConsumer,
		ProvideIndexHandler,
		ProvideScheduler,

		// HTTP and application server
		ProvideRegimeHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeService wires only what offline commands need: store, service and backfill.
func InitializeService(cfg *config.Config) (*Offline, error) {
	wire.Build(
		ProvideOfflineLogger,
		ProvideRegimeParameters,
		ProvideRegimeStore,
		ProvideOfflineEvaluationService,
		ProvideOfflineBackfill,
		wire.Struct(new(Offline), "*"),
	)
	return &Offline{}, nil
}
