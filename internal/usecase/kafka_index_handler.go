package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RegimeWatch/internal/domain/models"
	domrepo "RegimeWatch/internal/domain/repository"
	pkgkafka "RegimeWatch/pkg/kafka"
	applogger "RegimeWatch/pkg/logger"
)

// KafkaIndexHandler consumes daily index payloads and upserts them, so
// redelivered messages do not re-evaluate a stored date.
type KafkaIndexHandler struct {
	topic   string
	svc     *RegimeEvaluationService
	metrics domrepo.Metrics
	logger  *applogger.Logger
}

func NewKafkaIndexHandler(topic string, svc *RegimeEvaluationService, metrics domrepo.Metrics, logger *applogger.Logger) *KafkaIndexHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &KafkaIndexHandler{topic: topic, svc: svc, metrics: metrics, logger: logger}
}

func (h *KafkaIndexHandler) Topic() string { return h.topic }

// Handle expects an EvaluateRequest JSON body. Validation failures are not
// retryable and are acknowledged after logging.
func (h *KafkaIndexHandler) Handle(ctx context.Context, b []byte) error {
	var req models.EvaluateRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.recordError("consumer_unmarshal")
		h.logger.Warn("drop malformed index message", applogger.Error(err), applogger.Int("bytes", len(b)))
		return nil
	}

	start := time.Now()
	res, err := h.svc.Upsert(ctx, req)
	if h.metrics != nil {
		h.metrics.RecordLatency("kafka_ingest", time.Since(start).Seconds())
	}
	if err != nil {
		if models.IsValidation(err) {
			h.logger.Warn("drop invalid index message", applogger.String("date", req.Date), applogger.Error(err))
			return nil
		}
		h.recordError("consumer_upsert")
		return fmt.Errorf("upsert %s: %w", req.Date, err)
	}
	h.logger.Debug("index message applied", applogger.String("date", res.Date), applogger.String("state", string(res.State)))
	return nil
}

func (h *KafkaIndexHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaIndexHandler)(nil)
