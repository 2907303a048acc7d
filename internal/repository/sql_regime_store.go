package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/repository"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/sqldb"
	"RegimeWatch/pkg/util"

	"github.com/shopspring/decimal"
)

// RegimeSQLSchema is shared by postgres and duckdb.
var RegimeSQLSchema = []string{
	`CREATE TABLE IF NOT EXISTS regime_signals (
		eval_date DATE PRIMARY KEY,
		syi FLOAT8 NOT NULL,
		tbill_3m FLOAT8 NOT NULL,
		syi_excess FLOAT8 NOT NULL,
		spread FLOAT8 NOT NULL,
		z_score FLOAT8 NOT NULL,
		slope7 FLOAT8 NOT NULL,
		breadth_pct FLOAT8 NOT NULL,
		volatility_30d FLOAT8 NOT NULL,
		ema_short FLOAT8 NOT NULL,
		ema_long FLOAT8 NOT NULL,
		components TEXT NOT NULL,
		max_depeg_bps INTEGER,
		agg_depeg_bps INTEGER,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS regime_states (
		eval_date DATE PRIMARY KEY,
		state VARCHAR(16) NOT NULL,
		previous_state VARCHAR(16),
		days_in_state INTEGER NOT NULL,
		cooldown_until DATE,
		override_until TIMESTAMP,
		alert_type VARCHAR(32),
		alert_level VARCHAR(16),
		alert_message TEXT,
		trigger_conditions TEXT,
		peg_override BOOLEAN NOT NULL,
		off_streak INTEGER NOT NULL,
		on_streak INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

var (
	signalColumns = []string{
		"eval_date", "syi", "tbill_3m", "syi_excess", "spread", "z_score", "slope7", "breadth_pct",
		"volatility_30d", "ema_short", "ema_long", "components", "max_depeg_bps", "agg_depeg_bps", "created_at",
	}
	stateColumns = []string{
		"eval_date", "state", "previous_state", "days_in_state", "cooldown_until", "override_until",
		"alert_type", "alert_level", "alert_message", "trigger_conditions", "peg_override",
		"off_streak", "on_streak", "created_at",
	}
)

type sqlSignalRow struct {
	EvalDate      time.Time     `db:"eval_date"`
	SYI           float64       `db:"syi"`
	TBill3M       float64       `db:"tbill_3m"`
	SYIExcess     float64       `db:"syi_excess"`
	Spread        float64       `db:"spread"`
	ZScore        float64       `db:"z_score"`
	Slope7        float64       `db:"slope7"`
	BreadthPct    float64       `db:"breadth_pct"`
	Volatility30d float64       `db:"volatility_30d"`
	EMAShort      float64       `db:"ema_short"`
	EMALong       float64       `db:"ema_long"`
	Components    string        `db:"components"`
	MaxDepegBps   sql.NullInt64 `db:"max_depeg_bps"`
	AggDepegBps   sql.NullInt64 `db:"agg_depeg_bps"`
	CreatedAt     time.Time     `db:"created_at"`
}

type sqlStateRow struct {
	EvalDate          time.Time      `db:"eval_date"`
	State             string         `db:"state"`
	PreviousState     sql.NullString `db:"previous_state"`
	DaysInState       int            `db:"days_in_state"`
	CooldownUntil     sql.NullTime   `db:"cooldown_until"`
	OverrideUntil     sql.NullTime   `db:"override_until"`
	AlertType         sql.NullString `db:"alert_type"`
	AlertLevel        sql.NullString `db:"alert_level"`
	AlertMessage      sql.NullString `db:"alert_message"`
	TriggerConditions sql.NullString `db:"trigger_conditions"`
	PegOverride       bool           `db:"peg_override"`
	OffStreak         int            `db:"off_streak"`
	OnStreak          int            `db:"on_streak"`
	CreatedAt         time.Time      `db:"created_at"`
}

type sqlHistoryRow struct {
	EvalDate   time.Time      `db:"eval_date"`
	State      string         `db:"state"`
	SYIExcess  float64        `db:"syi_excess"`
	ZScore     float64        `db:"z_score"`
	Spread     float64        `db:"spread"`
	Slope7     float64        `db:"slope7"`
	BreadthPct float64        `db:"breadth_pct"`
	AlertType  sql.NullString `db:"alert_type"`
}

// SQLRegimeStore persists regime records in postgres or duckdb.
type SQLRegimeStore struct {
	client *sqldb.Client
	logger *applogger.Logger
}

var _ repository.RegimeStore = (*SQLRegimeStore)(nil)

func NewSQLRegimeStore(client *sqldb.Client, logger *applogger.Logger) *SQLRegimeStore {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &SQLRegimeStore{client: client, logger: logger}
}

func (s *SQLRegimeStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, RegimeSQLSchema)
}

func (s *SQLRegimeStore) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.client.QueryTimeout())
}

// Save upserts the signal then the state in one transaction.
func (s *SQLRegimeStore) Save(ctx context.Context, sig *models.SignalRecord, st *models.StateRecord) (err error) {
	if !sig.Date.Equal(st.Date) {
		return fmt.Errorf("signal date %s does not match state date %s", util.FormatDate(sig.Date), util.FormatDate(st.Date))
	}
	sigArgs, err := signalArgs(sig)
	if err != nil {
		return err
	}
	stArgs, err := stateArgs(st)
	if err != nil {
		return err
	}

	ctx, cancel := s.timeout(ctx)
	defer cancel()

	db := s.client.DB()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", applogger.Error(rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, db.Rebind(upsertSQL("regime_signals", signalColumns)), sigArgs...); err != nil {
		return fmt.Errorf("upsert signal %s: %w", util.FormatDate(sig.Date), err)
	}
	if _, err = tx.ExecContext(ctx, db.Rebind(upsertSQL("regime_states", stateColumns)), stArgs...); err != nil {
		return fmt.Errorf("upsert state %s: %w", util.FormatDate(st.Date), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLRegimeStore) Get(ctx context.Context, date time.Time) (*models.SignalRecord, *models.StateRecord, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	db := s.client.DB()

	var sigRow sqlSignalRow
	q := fmt.Sprintf("SELECT %s FROM regime_signals WHERE eval_date = ?", strings.Join(signalColumns, ", "))
	if err := db.GetContext(ctx, &sigRow, db.Rebind(q), date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("get signal: %w", err)
	}
	sig, err := sigRow.toModel()
	if err != nil {
		return nil, nil, err
	}

	var stRow sqlStateRow
	q = fmt.Sprintf("SELECT %s FROM regime_states WHERE eval_date = ?", strings.Join(stateColumns, ", "))
	if err := db.GetContext(ctx, &stRow, db.Rebind(q), date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sig, nil, nil
		}
		return nil, nil, fmt.Errorf("get state: %w", err)
	}
	st, err := stRow.toModel()
	if err != nil {
		return nil, nil, err
	}
	return sig, st, nil
}

func (s *SQLRegimeStore) RecentSignals(ctx context.Context, before time.Time, n int) ([]models.SignalRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	db := s.client.DB()

	var rows []sqlSignalRow
	q := fmt.Sprintf("SELECT %s FROM regime_signals WHERE eval_date < ? ORDER BY eval_date DESC LIMIT ?", strings.Join(signalColumns, ", "))
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), before, n); err != nil {
		return nil, fmt.Errorf("select recent signals: %w", err)
	}
	out := make([]models.SignalRecord, len(rows))
	for i, r := range rows {
		sig, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = *sig
	}
	return out, nil
}

func (s *SQLRegimeStore) StatesBetween(ctx context.Context, from, to time.Time) ([]models.StateRecord, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	db := s.client.DB()

	var rows []sqlStateRow
	q := fmt.Sprintf("SELECT %s FROM regime_states WHERE eval_date >= ? AND eval_date <= ? ORDER BY eval_date ASC", strings.Join(stateColumns, ", "))
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), from, to); err != nil {
		return nil, fmt.Errorf("select states: %w", err)
	}
	out := make([]models.StateRecord, 0, len(rows))
	for _, r := range rows {
		st, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *SQLRegimeStore) History(ctx context.Context, from, to time.Time, limit int) ([]models.HistoryPoint, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	db := s.client.DB()

	q := `SELECT st.eval_date, st.state, sg.syi_excess, sg.z_score, sg.spread, sg.slope7, sg.breadth_pct, st.alert_type
		FROM regime_states st
		JOIN regime_signals sg ON sg.eval_date = st.eval_date
		WHERE st.eval_date >= ? AND st.eval_date <= ?
		ORDER BY st.eval_date ASC
		LIMIT ?`
	var rows []sqlHistoryRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), from, to, limit); err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}

	out := make([]models.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		p := models.HistoryPoint{
			Date:       util.FormatDate(r.EvalDate),
			State:      models.RegimeState(r.State),
			SYIExcess:  decimal.NewFromFloat(r.SYIExcess),
			ZScore:     decimal.NewFromFloat(r.ZScore),
			Spread:     decimal.NewFromFloat(r.Spread),
			Slope7:     decimal.NewFromFloat(r.Slope7),
			BreadthPct: decimal.NewFromFloat(r.BreadthPct),
		}
		if r.AlertType.Valid {
			t := models.AlertType(r.AlertType.String)
			p.AlertType = &t
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLRegimeStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	db := s.client.DB()

	var counts []struct {
		State string `db:"state"`
		N     int    `db:"n"`
	}
	if err := db.SelectContext(ctx, &counts, "SELECT state, COUNT(*) AS n FROM regime_states GROUP BY state"); err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	stats := &models.StoreStats{Counts: make(map[models.RegimeState]int)}
	for _, c := range counts {
		stats.Counts[models.RegimeState(c.State)] = c.N
		stats.TotalDays += c.N
	}

	if err := db.GetContext(ctx, &stats.Flips, db.Rebind("SELECT COUNT(*) FROM regime_states WHERE alert_type = ?"), string(models.AlertFlipConfirmed)); err != nil {
		return nil, fmt.Errorf("count flips: %w", err)
	}

	var latest sqlStateRow
	q := fmt.Sprintf("SELECT %s FROM regime_states ORDER BY eval_date DESC LIMIT 1", strings.Join(stateColumns, ", "))
	if err := db.GetContext(ctx, &latest, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stats, nil
		}
		return nil, fmt.Errorf("latest state: %w", err)
	}
	st, err := latest.toModel()
	if err != nil {
		return nil, err
	}
	stats.Latest = st
	return stats, nil
}

func (s *SQLRegimeStore) Health(ctx context.Context) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	return s.client.Ping(ctx)
}

func (s *SQLRegimeStore) Close() error {
	return s.client.Close()
}

// upsertSQL builds an INSERT ... ON CONFLICT (eval_date) DO UPDATE statement
// with ? placeholders; callers Rebind for the driver.
func upsertSQL(table string, cols []string) string {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (eval_date) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(sets, ", "))
}

func signalArgs(r *models.SignalRecord) ([]interface{}, error) {
	comps, err := json.Marshal(r.Components)
	if err != nil {
		return nil, fmt.Errorf("marshal components: %w", err)
	}
	var maxBps, aggBps sql.NullInt64
	if r.Peg != nil {
		maxBps = sql.NullInt64{Int64: int64(r.Peg.MaxDepegBps), Valid: true}
		aggBps = sql.NullInt64{Int64: int64(r.Peg.AggDepegBps), Valid: true}
	}
	s := r.Signal
	return []interface{}{
		r.Date, r.SYI.InexactFloat64(), r.TBill3M.InexactFloat64(),
		s.SYIExcess.InexactFloat64(), s.Spread.InexactFloat64(), s.ZScore.InexactFloat64(), s.Slope7.InexactFloat64(),
		s.BreadthPct.InexactFloat64(), s.Volatility30d.InexactFloat64(), s.EMAShort.InexactFloat64(), s.EMALong.InexactFloat64(),
		string(comps), maxBps, aggBps, r.CreatedAt,
	}, nil
}

func stateArgs(r *models.StateRecord) ([]interface{}, error) {
	var prev, alertType, alertLevel, alertMsg, conditions sql.NullString
	if r.PreviousState != nil {
		prev = sql.NullString{String: string(*r.PreviousState), Valid: true}
	}
	if r.Alert != nil {
		b, err := json.Marshal(r.Alert.TriggerConditions)
		if err != nil {
			return nil, fmt.Errorf("marshal trigger conditions: %w", err)
		}
		alertType = sql.NullString{String: string(r.Alert.Type), Valid: true}
		alertLevel = sql.NullString{String: string(r.Alert.Level), Valid: true}
		alertMsg = sql.NullString{String: r.Alert.Message, Valid: true}
		conditions = sql.NullString{String: string(b), Valid: true}
	}
	return []interface{}{
		r.Date, string(r.State), prev, r.DaysInState, nullTime(r.CooldownUntil), nullTime(r.OverrideUntil),
		alertType, alertLevel, alertMsg, conditions, r.PegOverride, r.OffStreak, r.OnStreak, r.CreatedAt,
	}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r sqlSignalRow) toModel() (*models.SignalRecord, error) {
	rec := &models.SignalRecord{
		Date:    util.StartOfDay(r.EvalDate),
		SYI:     decimal.NewFromFloat(r.SYI),
		TBill3M: decimal.NewFromFloat(r.TBill3M),
		Signal: models.RegimeSignal{
			SYIExcess:     decimal.NewFromFloat(r.SYIExcess),
			Spread:        decimal.NewFromFloat(r.Spread),
			ZScore:        decimal.NewFromFloat(r.ZScore),
			Slope7:        decimal.NewFromFloat(r.Slope7),
			BreadthPct:    decimal.NewFromFloat(r.BreadthPct),
			Volatility30d: decimal.NewFromFloat(r.Volatility30d),
			EMAShort:      decimal.NewFromFloat(r.EMAShort),
			EMALong:       decimal.NewFromFloat(r.EMALong),
		},
		CreatedAt: r.CreatedAt,
	}
	if r.Components != "" {
		if err := json.Unmarshal([]byte(r.Components), &rec.Components); err != nil {
			return nil, fmt.Errorf("decode components for %s: %w", util.FormatDate(r.EvalDate), err)
		}
	}
	if r.MaxDepegBps.Valid || r.AggDepegBps.Valid {
		rec.Peg = &models.PegStatus{MaxDepegBps: uint(r.MaxDepegBps.Int64), AggDepegBps: uint(r.AggDepegBps.Int64)}
	}
	return rec, nil
}

func (r sqlStateRow) toModel() (*models.StateRecord, error) {
	state, err := models.ParseRegimeState(r.State)
	if err != nil {
		return nil, fmt.Errorf("state row %s: %w", util.FormatDate(r.EvalDate), err)
	}
	rec := &models.StateRecord{
		Date:        util.StartOfDay(r.EvalDate),
		State:       state,
		DaysInState: r.DaysInState,
		PegOverride: r.PegOverride,
		OffStreak:   r.OffStreak,
		OnStreak:    r.OnStreak,
		CreatedAt:   r.CreatedAt,
	}
	if r.PreviousState.Valid {
		p := models.RegimeState(r.PreviousState.String)
		rec.PreviousState = &p
	}
	if r.CooldownUntil.Valid {
		t := util.StartOfDay(r.CooldownUntil.Time)
		rec.CooldownUntil = &t
	}
	if r.OverrideUntil.Valid {
		t := r.OverrideUntil.Time.UTC()
		rec.OverrideUntil = &t
	}
	if r.AlertType.Valid {
		rec.Alert = &models.RegimeAlert{
			Type:    models.AlertType(r.AlertType.String),
			Level:   models.AlertLevel(r.AlertLevel.String),
			Message: r.AlertMessage.String,
		}
		if r.TriggerConditions.Valid && r.TriggerConditions.String != "" {
			if err := json.Unmarshal([]byte(r.TriggerConditions.String), &rec.Alert.TriggerConditions); err != nil {
				return nil, fmt.Errorf("decode trigger conditions for %s: %w", util.FormatDate(r.EvalDate), err)
			}
		}
	}
	return rec, nil
}
