package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/repository"
	"RegimeWatch/internal/service/metrics"
	"RegimeWatch/internal/usecase"
	"RegimeWatch/pkg/badgerdb"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestAPI(t *testing.T) (*echo.Echo, *prometheus.Registry) {
	t.Helper()
	db, err := badgerdb.Open(t.TempDir())
	require.NoError(t, err)
	store := repository.NewBadgerRegimeStore(db, nil)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))

	svc := usecase.NewRegimeEvaluationService(store, models.DefaultRegimeParameters(), usecase.WithBackend("badger"))
	reg := prometheus.NewRegistry()
	m := metrics.NewAPIMetrics(reg)
	h := NewRegimeEchoHandler(nil, svc, usecase.NewBackfillService(svc), nil, m)

	e := echo.New()
	h.RegisterRoutes(e)
	return e, reg
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

const evalBody = `{"date":"2025-06-01","syi":"0.05","tbill_3m":"0.04","components":[{"symbol":"USDC","ray":"0.051"}]}`

func TestEvaluateAndRead(t *testing.T) {
	e, _ := newTestAPI(t)

	rec, env := do(t, e, http.MethodPost, "/api/regime/evaluate", evalBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res models.EvaluationResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "2025-06-01", res.Date)
	assert.Equal(t, models.StateNeutral, res.State)

	rec, env = do(t, e, http.MethodPost, "/api/regime/upsert", evalBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, e, http.MethodGet, "/api/regime/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=15", rec.Header().Get(echo.HeaderCacheControl))
	var cur usecase.CurrentRegime
	require.NoError(t, json.Unmarshal(env.Data, &cur))
	assert.Equal(t, "2025-06-01", cur.Date)

	rec, env = do(t, e, http.MethodGet, "/api/regime/history?from=2025-05-01&to=2025-06-30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.HistoryPoint `json:"rows"`
		Total int64                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, models.StateNeutral, list.Rows[0].State)

	rec, env = do(t, e, http.MethodGet, "/api/regime/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.RegimeStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.TotalDays)

	rec, _ = do(t, e, http.MethodGet, "/api/regime/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluateValidation(t *testing.T) {
	e, reg := newTestAPI(t)

	rec, _ := do(t, e, http.MethodPost, "/api/regime/evaluate", `{"syi":"0.05","tbill_3m":"0.04"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"date"`)

	rec, _ = do(t, e, http.MethodPost, "/api/regime/evaluate", `{"date":"2025-06-01","syi":"1.5","tbill_3m":"0.04"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec, _ = do(t, e, http.MethodGet, "/api/regime/history?from=2025-06-10&to=2025-06-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	n, err := testutil.GatherAndCount(reg, "regime_api_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCurrentEmptyStore(t *testing.T) {
	e, _ := newTestAPI(t)
	rec, _ := do(t, e, http.MethodGet, "/api/regime/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestBackfillEndpoint(t *testing.T) {
	e, _ := newTestAPI(t)
	body := `{"inputs":[
		{"date":"2025-06-02","syi":"0.05","tbill_3m":"0.04"},
		{"date":"2025-06-01","syi":"0.05","tbill_3m":"0.04"}
	]}`

	rec, env := do(t, e, http.MethodPost, "/api/regime/backfill", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep usecase.BackfillReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, 2, rep.Evaluated)
	assert.Equal(t, "2025-06-01", rep.FirstDate)

	rec, _ = do(t, e, http.MethodPost, "/api/regime/backfill", `{"inputs":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{models.NewValidationError("bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{models.NewComputationError("nan", nil), http.StatusUnprocessableEntity, "COMPUTATION_ERROR"},
		{models.NewStorageError("save", errors.New("io")), http.StatusServiceUnavailable, "STORAGE_ERROR"},
		{models.NewNotFoundError("none"), http.StatusNotFound, "NOT_FOUND"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		ae := toAppError(tc.err)
		assert.Equal(t, tc.status, ae.Status, tc.code)
		assert.Equal(t, tc.code, ae.Code)
	}
}
