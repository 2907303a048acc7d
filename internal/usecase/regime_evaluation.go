package usecase

import (
	"context"
	"errors"
	"time"

	"RegimeWatch/internal/domain/models"
	domrepo "RegimeWatch/internal/domain/repository"
	"RegimeWatch/internal/domain/service"
	"RegimeWatch/internal/service/notify"
	"RegimeWatch/internal/services/features"
	"RegimeWatch/internal/services/regime"
	"RegimeWatch/pkg/cache"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/util"

	"github.com/shopspring/decimal"
)

const (
	lookbackDays  = 365
	maxHistoryRow = 5000

	cacheKeyCurrent = "current"
	cacheKeyStats   = "stats"
)

var (
	decZero = decimal.Zero
	decOne  = decimal.NewFromInt(1)
)

// AlertDispatcher delivers CRITICAL notifications without blocking the caller.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, n service.Notification) int
	Channels() []string
}

// CurrentRegime is the latest stored evaluation.
type CurrentRegime struct {
	Date          string              `json:"date"`
	State         models.RegimeState  `json:"state"`
	PreviousState *models.RegimeState `json:"previous_state,omitempty"`
	DaysInState   int                 `json:"days_in_state"`
	Signal        models.RegimeSignal `json:"signal"`
	Alert         *models.RegimeAlert `json:"alert,omitempty"`
}

// RegimeEvaluationService runs the daily classification pipeline:
// signal, state transition, alert, persistence, then notification.
type RegimeEvaluationService struct {
	store      domrepo.RegimeStore
	params     models.RegimeParameters
	processor  *features.Processor
	machine    *regime.StateMachine
	alerts     *regime.AlertEngine
	dispatcher AlertDispatcher
	cache      cache.Service
	cacheTTL   time.Duration
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	backend    string
	now        func() time.Time
}

type ServiceOption func(*RegimeEvaluationService)

func WithDispatcher(d AlertDispatcher) ServiceOption {
	return func(s *RegimeEvaluationService) { s.dispatcher = d }
}

func WithCache(c cache.Service, ttl time.Duration) ServiceOption {
	return func(s *RegimeEvaluationService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithServiceMetrics(m domrepo.Metrics) ServiceOption {
	return func(s *RegimeEvaluationService) { s.metrics = m }
}

func WithServiceLogger(l *applogger.Logger) ServiceOption {
	return func(s *RegimeEvaluationService) { s.logger = l }
}

// WithBackend names the store backend in health reports.
func WithBackend(name string) ServiceOption {
	return func(s *RegimeEvaluationService) { s.backend = name }
}

func NewRegimeEvaluationService(store domrepo.RegimeStore, params models.RegimeParameters, opts ...ServiceOption) *RegimeEvaluationService {
	s := &RegimeEvaluationService{
		store:     store,
		params:    params,
		processor: features.NewProcessor(params),
		machine:   regime.NewStateMachine(params),
		alerts:    regime.NewAlertEngine(params),
		cacheTTL:  5 * time.Minute,
		logger:    applogger.Nop(),
		backend:   "unknown",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate computes and persists the regime for req.Date, replacing any
// stored records for that date.
func (s *RegimeEvaluationService) Evaluate(ctx context.Context, req models.EvaluateRequest) (*models.EvaluationResult, error) {
	start := time.Now()
	defer s.latency("evaluate", start)

	date, err := validateEvaluate(req)
	if err != nil {
		return nil, s.fail(err)
	}
	log := s.logger.With("evaluate")

	history, err := s.store.RecentSignals(ctx, date, s.params.HistoryWindow())
	if err != nil {
		return nil, s.fail(models.NewStorageError("load signal history", err))
	}

	signal, comps, err := s.processor.Compute(features.SignalInput{
		SYI:        req.SYI,
		TBill3M:    req.TBill3M,
		Components: req.Components,
	}, history)
	if err != nil {
		if models.KindOf(err) == "" {
			err = models.NewComputationError("compute signal", err)
		}
		log.Error("signal computation failed", applogger.Date("date", date), applogger.Error(err))
		return nil, s.fail(err)
	}

	pegOverride := s.params.PegOverride(req.PegStatus)

	prior, err := s.store.StatesBetween(ctx, util.AddDays(date, -lookbackDays), util.AddDays(date, -1))
	if err != nil {
		return nil, s.fail(models.NewStorageError("load prior states", err))
	}
	carried := carryForward(prior)

	tr := s.machine.Next(regime.TransitionInput{
		Date:          date,
		Signal:        signal,
		PegOverride:   pegOverride,
		Previous:      carried.previous,
		CooldownUntil: carried.cooldownUntil,
		OverrideUntil: carried.overrideUntil,
	})

	alert := s.alerts.Classify(regime.AlertInput{
		Previous:    tr.Previous,
		Next:        tr.State,
		PegOverride: pegOverride,
		Peg:         req.PegStatus,
		Signal:      signal,
	})

	now := s.now().UTC()
	sigRec := &models.SignalRecord{
		Date:       date,
		SYI:        req.SYI,
		TBill3M:    req.TBill3M,
		Signal:     signal,
		Components: comps,
		Peg:        req.PegStatus,
		CreatedAt:  now,
	}
	stRec := &models.StateRecord{
		Date:          date,
		State:         tr.State,
		PreviousState: tr.Previous,
		DaysInState:   daysInState(prior, date, tr.State),
		CooldownUntil: tr.CooldownUntil,
		OverrideUntil: tr.OverrideUntil,
		Alert:         alert,
		PegOverride:   pegOverride,
		OffStreak:     tr.OffStreak,
		OnStreak:      tr.OnStreak,
		CreatedAt:     now,
	}

	if err := s.store.Save(ctx, sigRec, stRec); err != nil {
		log.Error("persist evaluation failed", applogger.Date("date", date), applogger.Error(err))
		return nil, s.fail(models.NewStorageError("save evaluation", err))
	}

	s.afterSave(ctx, sigRec, stRec)

	log.Info("regime evaluated",
		applogger.Date("date", date),
		applogger.String("state", string(tr.State)),
		applogger.String("rule", string(tr.Rule)),
		applogger.Int("days_in_state", stRec.DaysInState),
		applogger.Bool("peg_override", pegOverride),
		applogger.Duration("duration_ms", time.Since(start)))

	return resultFor(sigRec, stRec, carried), nil
}

// Upsert returns the stored evaluation for req.Date when one exists, unless
// ForceRecalculate is set; otherwise it evaluates.
func (s *RegimeEvaluationService) Upsert(ctx context.Context, req models.EvaluateRequest) (*models.EvaluationResult, error) {
	if req.ForceRecalculate {
		return s.Evaluate(ctx, req)
	}
	date, err := validateEvaluate(req)
	if err != nil {
		return nil, s.fail(err)
	}

	sig, st, err := s.store.Get(ctx, date)
	if err != nil {
		return nil, s.fail(models.NewStorageError("load stored evaluation", err))
	}
	if sig == nil || st == nil {
		return s.Evaluate(ctx, req)
	}

	prior, err := s.store.StatesBetween(ctx, util.AddDays(date, -lookbackDays), util.AddDays(date, -1))
	if err != nil {
		return nil, s.fail(models.NewStorageError("load prior states", err))
	}
	s.logger.Debug("upsert hit stored evaluation", applogger.Date("date", date))
	return resultFor(sig, st, carryForward(prior)), nil
}

// History returns the signal/state join for [from, to]. An empty range is not an error.
func (s *RegimeEvaluationService) History(ctx context.Context, req models.HistoryRequest) ([]models.HistoryPoint, error) {
	defer s.latency("history", time.Now())

	from, err := util.ParseDate(req.From)
	if err != nil {
		return nil, s.fail(models.NewValidationError("from must be YYYY-MM-DD, got %q", req.From))
	}
	to, err := util.ParseDate(req.To)
	if err != nil {
		return nil, s.fail(models.NewValidationError("to must be YYYY-MM-DD, got %q", req.To))
	}
	if from.After(to) {
		return nil, s.fail(models.NewValidationError("from %s is after to %s", req.From, req.To))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = lookbackDays
	}
	if limit > maxHistoryRow {
		return nil, s.fail(models.NewValidationError("limit must be <= %d", maxHistoryRow))
	}

	points, err := s.store.History(ctx, from, to, limit)
	if err != nil {
		return nil, s.fail(models.NewStorageError("load history", err))
	}
	if points == nil {
		points = []models.HistoryPoint{}
	}
	return points, nil
}

// Stats aggregates all stored state records.
func (s *RegimeEvaluationService) Stats(ctx context.Context) (*models.RegimeStats, error) {
	var cached models.RegimeStats
	if s.cacheGet(ctx, cacheKeyStats, &cached) {
		return &cached, nil
	}

	raw, err := s.store.Stats(ctx)
	if err != nil {
		return nil, s.fail(models.NewStorageError("load stats", err))
	}
	out := &models.RegimeStats{
		StateCounts: make(map[models.RegimeState]int, len(models.AllStates)),
		TotalDays:   raw.TotalDays,
		TotalFlips:  raw.Flips,
	}
	for _, st := range models.AllStates {
		out.StateCounts[st] = raw.Counts[st]
	}
	flips := raw.Flips
	if flips < 1 {
		flips = 1
	}
	out.AvgRegimeDuration = float64(raw.TotalDays) / float64(flips)
	if raw.Latest != nil {
		st := raw.Latest.State
		out.CurrentState = &st
		out.CurrentDate = util.FormatDate(raw.Latest.Date)
		out.CurrentDuration = raw.Latest.DaysInState
	}

	s.cacheSet(ctx, cacheKeyStats, out)
	return out, nil
}

// Current returns the most recent evaluation, or a not-found error on an empty store.
func (s *RegimeEvaluationService) Current(ctx context.Context) (*CurrentRegime, error) {
	var cached CurrentRegime
	if s.cacheGet(ctx, cacheKeyCurrent, &cached) {
		return &cached, nil
	}

	raw, err := s.store.Stats(ctx)
	if err != nil {
		return nil, s.fail(models.NewStorageError("load latest state", err))
	}
	if raw.Latest == nil {
		return nil, models.NewNotFoundError("no evaluations stored")
	}
	sig, st, err := s.store.Get(ctx, raw.Latest.Date)
	if err != nil {
		return nil, s.fail(models.NewStorageError("load latest evaluation", err))
	}
	if sig == nil || st == nil {
		return nil, models.NewNotFoundError("evaluation for %s incomplete", util.FormatDate(raw.Latest.Date))
	}
	out := &CurrentRegime{
		Date:          util.FormatDate(st.Date),
		State:         st.State,
		PreviousState: st.PreviousState,
		DaysInState:   st.DaysInState,
		Signal:        sig.Signal,
		Alert:         st.Alert,
	}
	s.cacheSet(ctx, cacheKeyCurrent, out)
	return out, nil
}

// Health pings the store and reports the latest evaluated date.
func (s *RegimeEvaluationService) Health(ctx context.Context) *models.HealthReport {
	rep := &models.HealthReport{Status: "healthy", Store: "ok", Backend: s.backend}
	if s.dispatcher != nil {
		rep.Channels = len(s.dispatcher.Channels())
	}
	if err := s.store.Health(ctx); err != nil {
		rep.Status, rep.Store, rep.Error = "unhealthy", "unreachable", err.Error()
		return rep
	}
	raw, err := s.store.Stats(ctx)
	if err != nil {
		rep.Status, rep.Store, rep.Error = "degraded", "error", err.Error()
		return rep
	}
	if raw.Latest != nil {
		rep.LatestDate = util.FormatDate(raw.Latest.Date)
	}
	return rep
}

func (s *RegimeEvaluationService) afterSave(ctx context.Context, sig *models.SignalRecord, st *models.StateRecord) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKeyCurrent, cacheKeyStats); err != nil {
			s.logger.Warn("cache invalidation failed", applogger.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.RecordEvaluation(string(st.State))
		s.metrics.RecordCurrentState(string(st.State))
		if st.Alert != nil {
			s.metrics.RecordAlert(string(st.Alert.Type), string(st.Alert.Level))
		}
	}
	if st.Alert != nil && st.Alert.Level == models.LevelCritical && s.dispatcher != nil {
		n := notify.FromAlert(st.Date, st.State, st.PreviousState, st.Alert, sig.Signal)
		s.dispatcher.Dispatch(ctx, n)
	}
}

func (s *RegimeEvaluationService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.Get(ctx, key, dest)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("cache read failed", applogger.String("key", key), applogger.Error(err))
	}
	return err == nil
}

func (s *RegimeEvaluationService) cacheSet(ctx context.Context, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, v, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", applogger.String("key", key), applogger.Error(err))
	}
}

func (s *RegimeEvaluationService) fail(err error) error {
	if s.metrics != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = "unknown"
		}
		s.metrics.RecordError(string(kind))
	}
	return err
}

func (s *RegimeEvaluationService) latency(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordLatency(op, time.Since(start).Seconds())
	}
}

func validateEvaluate(req models.EvaluateRequest) (time.Time, error) {
	date, err := util.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, models.NewValidationError("date must be YYYY-MM-DD, got %q", req.Date)
	}
	if !req.SYI.IsPositive() || req.SYI.GreaterThan(decOne) {
		return time.Time{}, models.NewValidationError("syi must be within (0, 1], got %s", req.SYI)
	}
	if req.TBill3M.LessThan(decZero) || req.TBill3M.GreaterThan(decOne) {
		return time.Time{}, models.NewValidationError("tbill_3m must be within [0, 1], got %s", req.TBill3M)
	}
	seen := make(map[string]struct{}, len(req.Components))
	for i, c := range req.Components {
		if c.Symbol == "" {
			return time.Time{}, models.NewValidationError("components[%d].symbol is required", i)
		}
		if _, dup := seen[c.Symbol]; dup {
			return time.Time{}, models.NewValidationError("duplicate component symbol %q", c.Symbol)
		}
		seen[c.Symbol] = struct{}{}
	}
	return date, nil
}

// carried is what an evaluation inherits from earlier dates.
type carried struct {
	previous      *models.StateRecord
	cooldownUntil *time.Time
	overrideUntil *time.Time
}

// carryForward takes prior states in ascending order and returns the latest
// one together with the furthest cooldown and override deadlines set on any of them.
func carryForward(prior []models.StateRecord) carried {
	var c carried
	for i := range prior {
		st := &prior[i]
		c.previous = st
		if st.CooldownUntil != nil && (c.cooldownUntil == nil || st.CooldownUntil.After(*c.cooldownUntil)) {
			t := *st.CooldownUntil
			c.cooldownUntil = &t
		}
		if st.OverrideUntil != nil && (c.overrideUntil == nil || st.OverrideUntil.After(*c.overrideUntil)) {
			t := *st.OverrideUntil
			c.overrideUntil = &t
		}
	}
	return c
}

// daysInState counts date plus the consecutive calendar days before it that
// held the same state, capped at 365.
func daysInState(prior []models.StateRecord, date time.Time, state models.RegimeState) int {
	byDate := make(map[string]models.RegimeState, len(prior))
	for _, st := range prior {
		byDate[util.FormatDate(st.Date)] = st.State
	}
	days := 1
	for d := util.AddDays(date, -1); days < lookbackDays; d = util.AddDays(d, -1) {
		if s, ok := byDate[util.FormatDate(d)]; !ok || s != state {
			break
		}
		days++
	}
	return days
}

// resultFor renders stored records as an evaluation result. Cooldown and
// override deadlines are reported while they are active on the record's date.
func resultFor(sig *models.SignalRecord, st *models.StateRecord, c carried) *models.EvaluationResult {
	res := &models.EvaluationResult{
		Date:          util.FormatDate(st.Date),
		State:         st.State,
		Signal:        sig.Signal,
		Alert:         st.Alert,
		PreviousState: st.PreviousState,
		DaysInState:   st.DaysInState,
	}

	cooldown := st.CooldownUntil
	if cooldown == nil && c.cooldownUntil != nil && !st.Date.After(*c.cooldownUntil) {
		cooldown = c.cooldownUntil
	}
	if cooldown != nil {
		s := util.FormatDate(*cooldown)
		res.CooldownUntil = &s
	}

	override := st.OverrideUntil
	if override == nil && c.overrideUntil != nil && !st.Date.After(*c.overrideUntil) {
		override = c.overrideUntil
	}
	if override != nil {
		t := override.UTC()
		res.OverrideUntil = &t
	}
	return res
}
