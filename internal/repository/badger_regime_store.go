package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/repository"
	"RegimeWatch/pkg/badgerdb"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/util"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// badgerSignal and badgerState wrap domain records with the date key used for
// range queries. ISO dates sort lexically.
type badgerSignal struct {
	DateKey string
	Record  models.SignalRecord
}

type badgerState struct {
	DateKey string
	Record  models.StateRecord
}

// BadgerRegimeStore keeps regime records in an embedded badgerhold store.
type BadgerRegimeStore struct {
	db     *badgerdb.DB
	logger *applogger.Logger
}

var _ repository.RegimeStore = (*BadgerRegimeStore)(nil)

func NewBadgerRegimeStore(db *badgerdb.DB, logger *applogger.Logger) *BadgerRegimeStore {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &BadgerRegimeStore{db: db, logger: logger}
}

// Init is a no-op: badgerhold creates buckets lazily.
func (s *BadgerRegimeStore) Init(ctx context.Context) error {
	return s.db.Ping()
}

// Save writes both records inside one badger transaction.
func (s *BadgerRegimeStore) Save(ctx context.Context, sig *models.SignalRecord, st *models.StateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sig.Date.Equal(st.Date) {
		return fmt.Errorf("signal date %s does not match state date %s", util.FormatDate(sig.Date), util.FormatDate(st.Date))
	}
	key := util.FormatDate(sig.Date)
	store := s.db.Store()

	err := store.Badger().Update(func(txn *badger.Txn) error {
		if err := store.TxUpsert(txn, key, &badgerSignal{DateKey: key, Record: *sig}); err != nil {
			return fmt.Errorf("upsert signal: %w", err)
		}
		if err := store.TxUpsert(txn, key, &badgerState{DateKey: key, Record: *st}); err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger save %s: %w", key, err)
	}
	return nil
}

func (s *BadgerRegimeStore) Get(ctx context.Context, date time.Time) (*models.SignalRecord, *models.StateRecord, error) {
	key := util.FormatDate(date)
	store := s.db.Store()

	var sig badgerSignal
	if err := store.Get(key, &sig); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("get signal %s: %w", key, err)
	}
	var st badgerState
	if err := store.Get(key, &st); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &sig.Record, nil, nil
		}
		return nil, nil, fmt.Errorf("get state %s: %w", key, err)
	}
	return &sig.Record, &st.Record, nil
}

func (s *BadgerRegimeStore) RecentSignals(ctx context.Context, before time.Time, n int) ([]models.SignalRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []badgerSignal
	q := badgerhold.Where("DateKey").Lt(util.FormatDate(before)).SortBy("DateKey").Reverse().Limit(n)
	if err := s.db.Store().Find(&rows, q); err != nil {
		return nil, fmt.Errorf("find recent signals: %w", err)
	}
	out := make([]models.SignalRecord, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.Record
	}
	return out, nil
}

func (s *BadgerRegimeStore) StatesBetween(ctx context.Context, from, to time.Time) ([]models.StateRecord, error) {
	var rows []badgerState
	q := badgerhold.Where("DateKey").Ge(util.FormatDate(from)).And("DateKey").Le(util.FormatDate(to)).SortBy("DateKey")
	if err := s.db.Store().Find(&rows, q); err != nil {
		return nil, fmt.Errorf("find states: %w", err)
	}
	out := make([]models.StateRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Record)
	}
	return out, nil
}

func (s *BadgerRegimeStore) History(ctx context.Context, from, to time.Time, limit int) ([]models.HistoryPoint, error) {
	fromKey, toKey := util.FormatDate(from), util.FormatDate(to)
	store := s.db.Store()

	var states []badgerState
	q := badgerhold.Where("DateKey").Ge(fromKey).And("DateKey").Le(toKey).SortBy("DateKey")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := store.Find(&states, q); err != nil {
		return nil, fmt.Errorf("find history states: %w", err)
	}

	out := make([]models.HistoryPoint, 0, len(states))
	for _, st := range states {
		var sig badgerSignal
		if err := store.Get(st.DateKey, &sig); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				s.logger.Warn("state without signal", applogger.String("date", st.DateKey))
				continue
			}
			return nil, fmt.Errorf("get history signal %s: %w", st.DateKey, err)
		}
		out = append(out, joinHistory(&sig.Record, &st.Record))
	}
	return out, nil
}

func (s *BadgerRegimeStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	var states []badgerState
	if err := s.db.Store().Find(&states, badgerhold.Where("DateKey").Ne("").SortBy("DateKey")); err != nil {
		return nil, fmt.Errorf("find states: %w", err)
	}
	stats := &models.StoreStats{Counts: make(map[models.RegimeState]int)}
	for i := range states {
		rec := states[i].Record
		stats.Counts[rec.State]++
		stats.TotalDays++
		if rec.IsFlip() {
			stats.Flips++
		}
		stats.Latest = &rec
	}
	return stats, nil
}

func (s *BadgerRegimeStore) Health(ctx context.Context) error {
	return s.db.Ping()
}

func (s *BadgerRegimeStore) Close() error {
	return s.db.Close()
}

// joinHistory flattens one signal/state pair into a history row.
func joinHistory(sig *models.SignalRecord, st *models.StateRecord) models.HistoryPoint {
	p := models.HistoryPoint{
		Date:       util.FormatDate(st.Date),
		State:      st.State,
		SYIExcess:  sig.Signal.SYIExcess,
		ZScore:     sig.Signal.ZScore,
		Spread:     sig.Signal.Spread,
		Slope7:     sig.Signal.Slope7,
		BreadthPct: sig.Signal.BreadthPct,
	}
	if st.Alert != nil {
		t := st.Alert.Type
		p.AlertType = &t
	}
	return p
}
