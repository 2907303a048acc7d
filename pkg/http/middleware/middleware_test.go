package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	applogger "RegimeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type denyAfter struct{ n int }

func (d *denyAfter) Allow(string) bool {
	d.n--
	return d.n >= 0
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(&denyAfter{n: 1}, "/healthz"))
	e.GET("/api/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	do := func(path string) int {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do("/api/x"))
	assert.Equal(t, http.StatusTooManyRequests, do("/api/x"))
	assert.Equal(t, http.StatusOK, do("/healthz"))
}

func TestRecoverAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := echo.New()
	e.Use(Recover(applogger.Nop()))
	e.Use(Metrics(reg, applogger.Nop(), 0))
	e.GET("/boom", func(c echo.Context) error { panic("kaboom") })
	e.GET("/ok/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	for _, id := range []string{"1", "2"} {
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok/"+id, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	m := newHTTPMetrics(reg)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/ok/:id", http.MethodGet, "200")))
}
