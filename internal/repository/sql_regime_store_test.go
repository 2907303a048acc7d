package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/pkg/sqldb"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLStore(t *testing.T) (*SQLRegimeStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := sqldb.New(sqlx.NewDb(mockDB, "sqlmock"), time.Second)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewSQLRegimeStore(client, nil), mock
}

func TestSQLSaveCommitsBothRows(t *testing.T) {
	s, mock := newMockSQLStore(t)
	sig, st := records(0, models.StateRiskOn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO regime_signals").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO regime_states").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), sig, st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSaveRollsBackOnStateFailure(t *testing.T) {
	s, mock := newMockSQLStore(t)
	sig, st := records(0, models.StateRiskOn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO regime_signals").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO regime_states").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Save(context.Background(), sig, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSaveRejectsMismatchedDates(t *testing.T) {
	s, mock := newMockSQLStore(t)
	sig, _ := records(0, models.StateRiskOn)
	_, st := records(1, models.StateRiskOn)

	require.Error(t, s.Save(context.Background(), sig, st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGetMissingReturnsNil(t *testing.T) {
	s, mock := newMockSQLStore(t)
	mock.ExpectQuery("SELECT (.+) FROM regime_signals WHERE eval_date").
		WillReturnRows(sqlmock.NewRows(signalColumns))

	sig, st, err := s.Get(context.Background(), base)
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRecentSignalsAscending(t *testing.T) {
	s, mock := newMockSQLStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(signalColumns).
		AddRow(base.AddDate(0, 0, 2), 0.05, 0.04, 0.012, 0.001, 0.6, 0.0001, 30.0, 0.002, 0.011, 0.01, `[{"symbol":"USDC","excess":"0.012"}]`, nil, nil, now).
		AddRow(base.AddDate(0, 0, 1), 0.05, 0.04, 0.011, 0.001, 0.6, 0.0001, 30.0, 0.002, 0.011, 0.01, `[]`, int64(20), int64(40), now)
	mock.ExpectQuery("SELECT (.+) FROM regime_signals WHERE eval_date < (.+) ORDER BY eval_date DESC LIMIT").
		WithArgs(base.AddDate(0, 0, 3), 2).
		WillReturnRows(rows)

	got, err := s.RecentSignals(context.Background(), base.AddDate(0, 0, 3), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.AddDate(0, 0, 1), got[0].Date)
	assert.Equal(t, base.AddDate(0, 0, 2), got[1].Date)
	require.NotNil(t, got[0].Peg)
	assert.Equal(t, uint(40), got[0].Peg.AggDepegBps)
	assert.Nil(t, got[1].Peg)
	require.Len(t, got[1].Components, 1)
	assert.Equal(t, "USDC", got[1].Components[0].Symbol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	q := upsertSQL("regime_states", []string{"eval_date", "state", "days_in_state"})
	assert.Equal(t,
		"INSERT INTO regime_states (eval_date, state, days_in_state) VALUES (?, ?, ?) ON CONFLICT (eval_date) DO UPDATE SET state = EXCLUDED.state, days_in_state = EXCLUDED.days_in_state",
		q)
}

func TestSQLStateRowRejectsUnknownState(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := sqlStateRow{EvalDate: day, State: "SIDEWAYS"}.toModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2025-03-01")

	rec, err := sqlStateRow{EvalDate: day, State: "OFF_OVERRIDE", OffStreak: 2}.toModel()
	require.NoError(t, err)
	assert.Equal(t, models.StateOffOverride, rec.State)
	assert.Equal(t, 2, rec.OffStreak)
}
