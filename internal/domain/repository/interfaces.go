package repository

import (
	"context"
	"time"

	"RegimeWatch/internal/domain/models"
)

// RegimeStore persists one SignalRecord and one StateRecord per calendar date.
// Dates are UTC midnight. Lookups that find nothing return nil records and a nil error.
type RegimeStore interface {
	Init(ctx context.Context) error
	// Save replaces both records for sig.Date as one unit: either both are written or neither is.
	Save(ctx context.Context, sig *models.SignalRecord, st *models.StateRecord) error
	Get(ctx context.Context, date time.Time) (*models.SignalRecord, *models.StateRecord, error)
	// RecentSignals returns at most n signals dated strictly before the given date, ascending.
	RecentSignals(ctx context.Context, before time.Time, n int) ([]models.SignalRecord, error)
	// StatesBetween returns state records in [from, to], ascending.
	StatesBetween(ctx context.Context, from, to time.Time) ([]models.StateRecord, error)
	// History joins signal and state records in [from, to], ascending, capped at limit rows.
	History(ctx context.Context, from, to time.Time, limit int) ([]models.HistoryPoint, error)
	Stats(ctx context.Context) (*models.StoreStats, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordEvaluation(state string)
	RecordAlert(alertType, level string)
	RecordNotification(channel, result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordCurrentState(state string)
}
