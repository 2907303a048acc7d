package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/service/indexfeed"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/util"

	"github.com/robfig/cron/v3"
)

// IndexSource returns the raw inputs for one date.
type IndexSource interface {
	Daily(ctx context.Context, date time.Time) (*models.EvaluateRequest, error)
}

// DailyScheduler pulls the previous UTC day's index on a cron spec and upserts it.
type DailyScheduler struct {
	spec    string
	source  IndexSource
	svc     *RegimeEvaluationService
	cron    *cron.Cron
	timeout time.Duration
	logger  *applogger.Logger
	now     func() time.Time
}

func NewDailyScheduler(spec string, source IndexSource, svc *RegimeEvaluationService, timeout time.Duration, logger *applogger.Logger) *DailyScheduler {
	if logger == nil {
		logger = applogger.Nop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &DailyScheduler{
		spec:    spec,
		source:  source,
		svc:     svc,
		timeout: timeout,
		logger:  logger.With("scheduler"),
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:     time.Now,
	}
}

func (s *DailyScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("daily scheduler started", applogger.String("spec", s.spec))
	return nil
}

// Stop waits for a running pull to finish or ctx to expire.
func (s *DailyScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DailyScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	date := util.AddDays(util.StartOfDay(s.now().UTC()), -1)
	if _, err := s.RunOnce(ctx, date); err != nil {
		s.logger.Error("scheduled evaluation failed", applogger.Date("date", date), applogger.Error(err))
	}
}

// RunOnce fetches and upserts one date. A date the upstream has not published
// yet yields a nil result and no error.
func (s *DailyScheduler) RunOnce(ctx context.Context, date time.Time) (*models.EvaluationResult, error) {
	req, err := s.source.Daily(ctx, date)
	if err != nil {
		if errors.Is(err, indexfeed.ErrNotPublished) {
			s.logger.Warn("index not published yet", applogger.Date("date", date))
			return nil, nil
		}
		return nil, err
	}
	res, err := s.svc.Upsert(ctx, *req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scheduled evaluation done",
		applogger.String("date", res.Date),
		applogger.String("state", string(res.State)))
	return res, nil
}
