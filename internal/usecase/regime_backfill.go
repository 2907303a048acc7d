package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/pkg/cache"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/queue"

	"github.com/google/uuid"
)

// MessageTypeBackfill is the queue message type for backfill batches.
const MessageTypeBackfill = "regime_backfill"

const backfillLockKey = "backfill:lock"

// BackfillReport summarises one replay. Replays stop at the first failing date.
type BackfillReport struct {
	JobID     string `json:"job_id"`
	Queued    bool   `json:"queued"`
	Total     int    `json:"total"`
	Evaluated int    `json:"evaluated"`
	FirstDate string `json:"first_date,omitempty"`
	LastDate  string `json:"last_date,omitempty"`
	FailedAt  string `json:"failed_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

type backfillPayload struct {
	JobID   string                 `json:"job_id"`
	Request models.BackfillRequest `json:"request"`
}

// BackfillService replays historical inputs in ascending date order, one at a time.
type BackfillService struct {
	svc     *RegimeEvaluationService
	locker  cache.Service
	lockTTL time.Duration
	queue   queue.QueueService
	logger  *applogger.Logger
}

type BackfillOption func(*BackfillService)

// WithBackfillLock serialises replays across processes through the cache lock.
func WithBackfillLock(c cache.Service, ttl time.Duration) BackfillOption {
	return func(b *BackfillService) {
		b.locker = c
		b.lockTTL = ttl
	}
}

// WithBackfillQueue hands batches to a queue consumer instead of running inline.
func WithBackfillQueue(q queue.QueueService) BackfillOption {
	return func(b *BackfillService) { b.queue = q }
}

func WithBackfillLogger(l *applogger.Logger) BackfillOption {
	return func(b *BackfillService) { b.logger = l }
}

func NewBackfillService(svc *RegimeEvaluationService, opts ...BackfillOption) *BackfillService {
	b := &BackfillService{svc: svc, lockTTL: 30 * time.Minute, logger: applogger.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit enqueues the batch when a queue is configured, otherwise it runs inline.
func (b *BackfillService) Submit(ctx context.Context, req models.BackfillRequest) (*BackfillReport, error) {
	inputs, err := orderInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	req.Inputs = inputs
	jobID := uuid.NewString()

	if b.queue == nil {
		return b.run(ctx, jobID, req)
	}
	if err := b.queue.PublishMessage(ctx, MessageTypeBackfill, backfillPayload{JobID: jobID, Request: req}); err != nil {
		return nil, models.NewStorageError("enqueue backfill", err)
	}
	b.logger.Info("backfill queued", applogger.String("job_id", jobID), applogger.Int("inputs", len(inputs)))
	return &BackfillReport{
		JobID:     jobID,
		Queued:    true,
		Total:     len(inputs),
		FirstDate: inputs[0].Date,
		LastDate:  inputs[len(inputs)-1].Date,
	}, nil
}

// Run replays the batch inline.
func (b *BackfillService) Run(ctx context.Context, req models.BackfillRequest) (*BackfillReport, error) {
	inputs, err := orderInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	req.Inputs = inputs
	return b.run(ctx, uuid.NewString(), req)
}

func (b *BackfillService) run(ctx context.Context, jobID string, req models.BackfillRequest) (*BackfillReport, error) {
	log := b.logger.With("backfill")
	if b.locker != nil {
		ok, err := b.locker.TryLock(ctx, backfillLockKey, b.lockTTL)
		if err != nil {
			return nil, models.NewStorageError("acquire backfill lock", err)
		}
		if !ok {
			return nil, models.NewValidationError("a backfill is already running")
		}
		defer func() {
			if err := b.locker.Unlock(context.WithoutCancel(ctx), backfillLockKey); err != nil {
				log.Warn("release backfill lock failed", applogger.Error(err))
			}
		}()
	}

	rep := &BackfillReport{JobID: jobID, Total: len(req.Inputs)}
	if len(req.Inputs) > 0 {
		rep.FirstDate = req.Inputs[0].Date
		rep.LastDate = req.Inputs[len(req.Inputs)-1].Date
	}
	start := time.Now()
	for _, in := range req.Inputs {
		if err := ctx.Err(); err != nil {
			rep.FailedAt, rep.Error = in.Date, err.Error()
			break
		}
		in.ForceRecalculate = in.ForceRecalculate || req.Force
		if _, err := b.svc.Upsert(ctx, in); err != nil {
			rep.FailedAt, rep.Error = in.Date, err.Error()
			log.Error("backfill stopped", applogger.String("job_id", jobID), applogger.String("date", in.Date), applogger.Error(err))
			break
		}
		rep.Evaluated++
	}

	log.Info("backfill finished",
		applogger.String("job_id", jobID),
		applogger.Int("evaluated", rep.Evaluated),
		applogger.Int("total", rep.Total),
		applogger.Duration("duration_ms", time.Since(start)))
	return rep, nil
}

// orderInputs sorts inputs by date and rejects unparseable or repeated dates.
func orderInputs(in []models.EvaluateRequest) ([]models.EvaluateRequest, error) {
	if len(in) == 0 {
		return nil, models.NewValidationError("inputs must not be empty")
	}
	type dated struct {
		at  time.Time
		req models.EvaluateRequest
	}
	rows := make([]dated, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, r := range in {
		at, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, models.NewValidationError("inputs[%d].date must be YYYY-MM-DD, got %q", i, r.Date)
		}
		if _, dup := seen[r.Date]; dup {
			return nil, models.NewValidationError("duplicate input date %s", r.Date)
		}
		seen[r.Date] = struct{}{}
		rows = append(rows, dated{at: at, req: r})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })

	out := make([]models.EvaluateRequest, len(rows))
	for i, r := range rows {
		out[i] = r.req
	}
	return out, nil
}

// BackfillJob runs queued backfill batches. Register it on a single-worker consumer.
type BackfillJob struct {
	backfill *BackfillService
}

func NewBackfillJob(b *BackfillService) *BackfillJob {
	return &BackfillJob{backfill: b}
}

func (j *BackfillJob) Name() string { return "regime-backfill" }

func (j *BackfillJob) Type() string { return MessageTypeBackfill }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[backfillPayload](payload)
	if err != nil {
		return fmt.Errorf("parse backfill payload: %w", err)
	}
	rep, err := j.backfill.run(ctx, p.JobID, p.Request)
	if err != nil {
		return err
	}
	if rep.FailedAt != "" {
		return fmt.Errorf("backfill %s failed at %s: %s", p.JobID, rep.FailedAt, rep.Error)
	}
	return nil
}

var _ queue.Job = (*BackfillJob)(nil)
