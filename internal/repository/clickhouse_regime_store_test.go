package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"RegimeWatch/internal/domain/models"
	pkgch "RegimeWatch/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCHStore(t *testing.T) (*CHRegimeStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewCHRegimeStore(pkgch.New(db, "regime", time.Second), nil)
	s.now = func() time.Time { return time.Unix(0, 42) }
	return s, mock
}

func TestCHSaveWritesBothRowsWithVersion(t *testing.T) {
	s, mock := newMockCHStore(t)
	sig, st := records(0, models.StateRiskOff)

	mock.ExpectExec(`INSERT INTO regime\.regime_signals`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO regime\.regime_states`).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Save(context.Background(), sig, st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHSaveCompensatesFailedStateInsert(t *testing.T) {
	s, mock := newMockCHStore(t)
	sig, st := records(0, models.StateRiskOff)

	mock.ExpectExec(`INSERT INTO regime\.regime_signals`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO regime\.regime_states`).WillReturnError(errors.New("too many parts"))
	mock.ExpectExec(`ALTER TABLE regime\.regime_signals DELETE`).
		WithArgs(sig.Date, uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Save(context.Background(), sig, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many parts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHGetMissing(t *testing.T) {
	s, mock := newMockCHStore(t)
	mock.ExpectQuery(`FROM regime\.regime_signals FINAL WHERE eval_date`).
		WillReturnRows(sqlmock.NewRows([]string{"eval_date"}))

	sig, st, err := s.Get(context.Background(), base)
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Nil(t, st)
}

func TestParseDecimals5(t *testing.T) {
	a, _, _, _, e, err := parseDecimals5("0.012", "1", "2", "3", "-0.5")
	require.NoError(t, err)
	assert.Equal(t, "0.012", a.String())
	assert.Equal(t, "-0.5", e.String())

	_, _, _, _, _, err = parseDecimals5("x", "1", "2", "3", "4")
	assert.Error(t, err)
}
