package di

import (
	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/repository"
	"RegimeWatch/internal/usecase"
	"RegimeWatch/pkg/config"
	applogger "RegimeWatch/pkg/logger"
)

// Offline bundles the components the CLI uses without starting any server.
// Notifications are not sent from offline runs.
type Offline struct {
	Logger   *applogger.Logger
	Store    repository.RegimeStore
	Service  *usecase.RegimeEvaluationService
	Backfill *usecase.BackfillService
}

// Close releases the store.
func (o *Offline) Close() error {
	return o.Store.Close()
}

func ProvideOfflineLogger(cfg *config.Config) (*applogger.Logger, error) {
	return ProvideLogger(cfg, nil)
}

func ProvideOfflineEvaluationService(cfg *config.Config, store repository.RegimeStore, params models.RegimeParameters, logger *applogger.Logger) *usecase.RegimeEvaluationService {
	return usecase.NewRegimeEvaluationService(store, params,
		usecase.WithServiceLogger(logger),
		usecase.WithBackend(cfg.Store.Backend),
	)
}

func ProvideOfflineBackfill(svc *usecase.RegimeEvaluationService, logger *applogger.Logger) *usecase.BackfillService {
	return usecase.NewBackfillService(svc, usecase.WithBackfillLogger(logger))
}
