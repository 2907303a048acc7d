package indexfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	pkghttp "RegimeWatch/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

func TestDailyDecodesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/index/daily", r.URL.Path)
		assert.Equal(t, "2025-09-01", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"date":"2025-09-01","syi":"0.0512","tbill_3m":"0.0431","components":[{"symbol":"USDC","ray":"0.05"}],"peg_status":{"max_depeg_bps":12,"agg_depeg_bps":20}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", pkghttp.NewClient())
	req, err := c.Daily(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", req.Date)
	assert.Equal(t, "0.0512", req.SYI.String())
	require.Len(t, req.Components, 1)
	assert.Equal(t, "USDC", req.Components[0].Symbol)
	require.NotNil(t, req.PegStatus)
	assert.Equal(t, uint(20), req.PegStatus.AggDepegBps)
}

func TestDailyNotPublished(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Daily(context.Background(), day)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotPublished))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDailyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"syi":"0.05","tbill_3m":"0.04"}`))
	}))
	defer srv.Close()

	req, err := New(srv.URL, nil, WithRetries(3, time.Millisecond)).Daily(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", req.Date)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDailyRejectsWrongDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"date":"2025-08-31","syi":"0.05","tbill_3m":"0.04"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Daily(context.Background(), day)
	assert.Error(t, err)
}
