package indexfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"RegimeWatch/internal/domain/models"
	pkghttp "RegimeWatch/pkg/http"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/util"
)

// ErrNotPublished means the upstream has no index for the requested date yet.
var ErrNotPublished = errors.New("index not published")

// Client pulls daily index inputs from the index-calculation service.
type Client struct {
	baseURL    string
	http       *pkghttp.Client
	retries    int
	retryDelay time.Duration
	logger     *applogger.Logger
}

type Option func(*Client)

func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.retryDelay = delay
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, httpClient *pkghttp.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = pkghttp.NewClient(pkghttp.WithTimeout(10 * time.Second))
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       httpClient,
		retries:    3,
		retryDelay: 2 * time.Second,
		logger:     applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Daily fetches GET {base}/v1/index/daily?date=YYYY-MM-DD. The response body
// is an evaluate request; its date must match the one asked for.
func (c *Client) Daily(ctx context.Context, date time.Time) (*models.EvaluateRequest, error) {
	day := util.FormatDate(date)
	opts := &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.baseURL + "/v1/index/daily",
		QueryParams: map[string][]string{"date": {day}},
		Headers:     map[string]string{"Accept": "application/json"},
	}

	var (
		req     models.EvaluateRequest
		lastErr error
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		lastErr = c.http.SendAndParse(ctx, opts, &req)
		if lastErr == nil {
			break
		}
		var se *pkghttp.StatusError
		if errors.As(lastErr, &se) && se.StatusCode < http.StatusInternalServerError {
			if se.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("%s: %w", day, ErrNotPublished)
			}
			return nil, fmt.Errorf("fetch index %s: %w", day, lastErr)
		}
		c.logger.Warn("index fetch failed",
			applogger.String("date", day),
			applogger.Int("attempt", attempt+1),
			applogger.Error(lastErr))
	}
	if lastErr != nil {
		return nil, fmt.Errorf("fetch index %s: %w", day, lastErr)
	}

	if req.Date == "" {
		req.Date = day
	}
	if req.Date != day {
		return nil, fmt.Errorf("index api returned %s for %s", req.Date, day)
	}
	return &req, nil
}
