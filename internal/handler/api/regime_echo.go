package api

import (
	"errors"
	"net/http"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/service/metrics"
	"RegimeWatch/internal/usecase"
	xhttp "RegimeWatch/pkg/http"
	xlogger "RegimeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RegimeEchoHandler serves the regime evaluation API.
type RegimeEchoHandler struct {
	logger   *xlogger.Logger
	svc      *usecase.RegimeEvaluationService
	backfill *usecase.BackfillService
	alerts   http.Handler
	metrics  *metrics.APIMetrics
}

// NewRegimeEchoHandler wires the API. backfill, alerts and m may be nil.
func NewRegimeEchoHandler(logger *xlogger.Logger, svc *usecase.RegimeEvaluationService, backfill *usecase.BackfillService, alerts http.Handler, m *metrics.APIMetrics) *RegimeEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &RegimeEchoHandler{logger: logger.With("api"), svc: svc, backfill: backfill, alerts: alerts, metrics: m}
}

func (h *RegimeEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/regime")
	g.POST("/evaluate", h.Evaluate)
	g.POST("/upsert", h.Upsert)
	g.GET("/history", h.History)
	g.GET("/stats", h.Stats)
	g.GET("/health", h.Health)
	g.GET("/current", h.Current)
	if h.backfill != nil {
		g.POST("/backfill", h.Backfill)
	}
	if h.alerts != nil {
		e.GET("/ws/alerts", echo.WrapHandler(h.alerts))
	}
}

func (h *RegimeEchoHandler) Evaluate(c echo.Context) error {
	defer h.observe("evaluate")()
	req := &models.EvaluateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.countError("evaluate", models.KindValidation)
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Evaluate(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "evaluate", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RegimeEchoHandler) Upsert(c echo.Context) error {
	defer h.observe("upsert")()
	req := &models.EvaluateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.countError("upsert", models.KindValidation)
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Upsert(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "upsert", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RegimeEchoHandler) History(c echo.Context) error {
	defer h.observe("history")()
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.countError("history", models.KindValidation)
		return xhttp.BadRequestResponse(c, verr)
	}
	points, err := h.svc.History(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "history", err)
	}
	return xhttp.ListResponse(c, points, int64(len(points)))
}

func (h *RegimeEchoHandler) Stats(c echo.Context) error {
	defer h.observe("stats")()
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, "stats", err)
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *RegimeEchoHandler) Current(c echo.Context) error {
	defer h.observe("current")()
	cur, err := h.svc.Current(c.Request().Context())
	if err != nil {
		return h.fail(c, "current", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, cur)
}

func (h *RegimeEchoHandler) Health(c echo.Context) error {
	rep := h.svc.Health(c.Request().Context())
	if rep.Status != "healthy" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, rep)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *RegimeEchoHandler) Backfill(c echo.Context) error {
	defer h.observe("backfill")()
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.countError("backfill", models.KindValidation)
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.backfill.Submit(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "backfill", err)
	}
	if rep.Queued {
		return xhttp.AcceptedResponse(c, rep)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *RegimeEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	kind := models.KindOf(err)
	h.countError(endpoint, kind)
	if kind == "" || kind == models.KindStorage {
		h.logger.Error("regime usecase error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, toAppError(err))
}

func (h *RegimeEchoHandler) observe(endpoint string) func() {
	if h.metrics == nil {
		return func() {}
	}
	return h.metrics.Observe(endpoint)
}

func (h *RegimeEchoHandler) countError(endpoint string, kind models.ErrorKind) {
	if h.metrics == nil {
		return
	}
	if kind == "" {
		kind = "internal"
	}
	h.metrics.Error(endpoint, string(kind))
}

// toAppError maps service error kinds onto HTTP errors. Causes stay server side.
func toAppError(err error) *xhttp.AppError {
	var re *models.RegimeError
	if !errors.As(err, &re) {
		return xhttp.InternalError("internal error").WithError(err)
	}
	switch re.Kind {
	case models.KindValidation:
		return xhttp.BadRequestError(re.Message).WithError(err)
	case models.KindComputation:
		return xhttp.UnprocessableError(re.Message).WithError(err)
	case models.KindStorage:
		return xhttp.ServiceUnavailableError("storage unavailable").WithError(err)
	case models.KindNotFound:
		return xhttp.NotFoundError(re.Message).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
