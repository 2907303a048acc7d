package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/repository"
	pkgch "RegimeWatch/pkg/clickhouse"
	applogger "RegimeWatch/pkg/logger"
	"RegimeWatch/pkg/util"

	"github.com/shopspring/decimal"
)

// ClickHouseRegimeSchema creates the regime tables in db. Rows are versioned and
// collapsed by ReplacingMergeTree; reads use FINAL.
func ClickHouseRegimeSchema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.regime_signals (
			eval_date Date,
			syi Decimal(38, 18),
			tbill_3m Decimal(38, 18),
			syi_excess Decimal(38, 18),
			spread Decimal(38, 18),
			z_score Decimal(38, 18),
			slope7 Decimal(38, 18),
			breadth_pct Decimal(38, 18),
			volatility_30d Decimal(38, 18),
			ema_short Decimal(38, 18),
			ema_long Decimal(38, 18),
			components String,
			max_depeg_bps Nullable(Int64),
			agg_depeg_bps Nullable(Int64),
			created_at DateTime64(3, 'UTC'),
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY eval_date`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.regime_states (
			eval_date Date,
			state LowCardinality(String),
			previous_state Nullable(String),
			days_in_state Int64,
			cooldown_until Nullable(Date),
			override_until Nullable(DateTime64(3, 'UTC')),
			alert_type Nullable(String),
			alert_level Nullable(String),
			alert_message Nullable(String),
			trigger_conditions Nullable(String),
			peg_override Bool,
			off_streak Int64,
			on_streak Int64,
			created_at DateTime64(3, 'UTC'),
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY eval_date`, db),
	}
}

// decimal columns are read back through toString to keep them exact
var chSignalSelect = `eval_date, toString(syi), toString(tbill_3m), toString(syi_excess), toString(spread),
	toString(z_score), toString(slope7), toString(breadth_pct), toString(volatility_30d),
	toString(ema_short), toString(ema_long), components, max_depeg_bps, agg_depeg_bps, created_at`

// CHRegimeStore implements RegimeStore on ClickHouse.
type CHRegimeStore struct {
	ch  *pkgch.Client
	db  *sql.DB
	l   *applogger.Logger
	now func() time.Time
}

var _ repository.RegimeStore = (*CHRegimeStore)(nil)

func NewCHRegimeStore(ch *pkgch.Client, l *applogger.Logger) *CHRegimeStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHRegimeStore{ch: ch, db: ch.DB(), l: l, now: time.Now}
}

func (s *CHRegimeStore) table(name string) string {
	return s.ch.Database() + "." + name
}

func (s *CHRegimeStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, ClickHouseRegimeSchema(s.ch.Database()))
}

// Save inserts the signal row, then the state row with the same version.
// ClickHouse has no multi-table transactions, so a failed state insert
// deletes the signal row it just wrote.
func (s *CHRegimeStore) Save(ctx context.Context, sig *models.SignalRecord, st *models.StateRecord) error {
	if !sig.Date.Equal(st.Date) {
		return fmt.Errorf("signal date %s does not match state date %s", util.FormatDate(sig.Date), util.FormatDate(st.Date))
	}
	ctx, cancel := context.WithTimeout(ctx, s.ch.Timeout())
	defer cancel()

	version := uint64(s.now().UnixNano())
	comps, err := json.Marshal(sig.Components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	var maxBps, aggBps sql.NullInt64
	if sig.Peg != nil {
		maxBps = sql.NullInt64{Int64: int64(sig.Peg.MaxDepegBps), Valid: true}
		aggBps = sql.NullInt64{Int64: int64(sig.Peg.AggDepegBps), Valid: true}
	}
	v := sig.Signal
	sigQ := fmt.Sprintf(`INSERT INTO %s (%s, version) VALUES (%s)`,
		s.table("regime_signals"), strings.Join(signalColumns, ", "), placeholders(len(signalColumns)+1))
	if _, err := s.db.ExecContext(ctx, sigQ,
		sig.Date, sig.SYI, sig.TBill3M, v.SYIExcess, v.Spread, v.ZScore, v.Slope7, v.BreadthPct,
		v.Volatility30d, v.EMAShort, v.EMALong, string(comps), maxBps, aggBps, sig.CreatedAt, version,
	); err != nil {
		s.l.Error("clickhouse insert signal error", applogger.Date("date", sig.Date), applogger.Error(err))
		return fmt.Errorf("insert signal %s: %w", util.FormatDate(sig.Date), err)
	}

	stArgs, err := stateArgs(st)
	if err == nil {
		stQ := fmt.Sprintf(`INSERT INTO %s (%s, version) VALUES (%s)`,
			s.table("regime_states"), strings.Join(stateColumns, ", "), placeholders(len(stateColumns)+1))
		_, err = s.db.ExecContext(ctx, stQ, append(stArgs, version)...)
	}
	if err != nil {
		s.l.Error("clickhouse insert state error", applogger.Date("date", st.Date), applogger.Error(err))
		delQ := fmt.Sprintf(`ALTER TABLE %s DELETE WHERE eval_date = ? AND version = ?`, s.table("regime_signals"))
		if _, delErr := s.db.ExecContext(context.WithoutCancel(ctx), delQ, sig.Date, version); delErr != nil {
			s.l.Warn("clickhouse signal rollback failed", applogger.Date("date", sig.Date), applogger.Error(delErr))
		}
		return fmt.Errorf("insert state %s: %w", util.FormatDate(st.Date), err)
	}
	return nil
}

func (s *CHRegimeStore) Get(ctx context.Context, date time.Time) (*models.SignalRecord, *models.StateRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL WHERE eval_date = ?`, chSignalSelect, s.table("regime_signals"))
	sigs, err := s.querySignals(ctx, q, date)
	if err != nil {
		return nil, nil, err
	}
	if len(sigs) == 0 {
		return nil, nil, nil
	}
	q = fmt.Sprintf(`SELECT %s FROM %s FINAL WHERE eval_date = ?`, strings.Join(stateColumns, ", "), s.table("regime_states"))
	states, err := s.queryStates(ctx, q, date)
	if err != nil {
		return nil, nil, err
	}
	if len(states) == 0 {
		return &sigs[0], nil, nil
	}
	return &sigs[0], &states[0], nil
}

func (s *CHRegimeStore) RecentSignals(ctx context.Context, before time.Time, n int) ([]models.SignalRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL WHERE eval_date < ? ORDER BY eval_date DESC LIMIT ?`,
		chSignalSelect, s.table("regime_signals"))
	out, err := s.querySignals(ctx, q, before, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHRegimeStore) StatesBetween(ctx context.Context, from, to time.Time) ([]models.StateRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL WHERE eval_date >= ? AND eval_date <= ? ORDER BY eval_date ASC`,
		strings.Join(stateColumns, ", "), s.table("regime_states"))
	return s.queryStates(ctx, q, from, to)
}

func (s *CHRegimeStore) History(ctx context.Context, from, to time.Time, limit int) ([]models.HistoryPoint, error) {
	start := time.Now()
	q := fmt.Sprintf(`
		SELECT st.eval_date, st.state, toString(sg.syi_excess), toString(sg.z_score), toString(sg.spread),
			toString(sg.slope7), toString(sg.breadth_pct), st.alert_type
		FROM %s AS st FINAL
		INNER JOIN (SELECT * FROM %s FINAL) AS sg ON sg.eval_date = st.eval_date
		WHERE st.eval_date >= ? AND st.eval_date <= ?
		ORDER BY st.eval_date ASC
		LIMIT ?`, s.table("regime_states"), s.table("regime_signals"))

	ctx, cancel := context.WithTimeout(ctx, s.ch.Timeout())
	defer cancel()
	rows, err := s.db.QueryContext(ctx, q, from, to, limit)
	if err != nil {
		s.l.Error("clickhouse history query error", applogger.Error(err))
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryPoint, 0, limit)
	for rows.Next() {
		var (
			date                      time.Time
			state                     string
			excess, z, spread, slope7 string
			breadth                   string
			alertType                 sql.NullString
		)
		if err := rows.Scan(&date, &state, &excess, &z, &spread, &slope7, &breadth, &alertType); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		p := models.HistoryPoint{Date: util.FormatDate(date), State: models.RegimeState(state)}
		if p.SYIExcess, p.ZScore, p.Spread, p.Slope7, p.BreadthPct, err = parseDecimals5(excess, z, spread, slope7, breadth); err != nil {
			return nil, err
		}
		if alertType.Valid {
			t := models.AlertType(alertType.String)
			p.AlertType = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse history ok", applogger.Int("rows", len(out)), applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

func (s *CHRegimeStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ch.Timeout())
	defer cancel()

	q := fmt.Sprintf(`SELECT state, count() FROM %s FINAL GROUP BY state`, s.table("regime_states"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	stats := &models.StoreStats{Counts: make(map[models.RegimeState]int)}
	for rows.Next() {
		var state string
		var n uint64
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan count: %w", err)
		}
		stats.Counts[models.RegimeState(state)] = int(n)
		stats.TotalDays += int(n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	var flips uint64
	q = fmt.Sprintf(`SELECT countIf(alert_type = ?) FROM %s FINAL`, s.table("regime_states"))
	if err := s.db.QueryRowContext(ctx, q, string(models.AlertFlipConfirmed)).Scan(&flips); err != nil {
		return nil, fmt.Errorf("count flips: %w", err)
	}
	stats.Flips = int(flips)

	q = fmt.Sprintf(`SELECT %s FROM %s FINAL ORDER BY eval_date DESC LIMIT 1`, strings.Join(stateColumns, ", "), s.table("regime_states"))
	latest, err := s.queryStates(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		stats.Latest = &latest[0]
	}
	return stats, nil
}

func (s *CHRegimeStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHRegimeStore) Close() error {
	return s.ch.Close()
}

func (s *CHRegimeStore) querySignals(ctx context.Context, q string, args ...interface{}) ([]models.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ch.Timeout())
	defer cancel()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse signals query error", applogger.Error(err))
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []models.SignalRecord
	for rows.Next() {
		var (
			date, created            time.Time
			syi, tbill               string
			excess, spread, z, slope string
			breadth, vol, short, lng string
			comps                    string
			maxBps, aggBps           sql.NullInt64
		)
		if err := rows.Scan(&date, &syi, &tbill, &excess, &spread, &z, &slope, &breadth, &vol, &short, &lng,
			&comps, &maxBps, &aggBps, &created); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		rec := models.SignalRecord{Date: util.StartOfDay(date), CreatedAt: created}
		var err error
		if rec.SYI, rec.TBill3M, rec.Signal.SYIExcess, rec.Signal.Spread, rec.Signal.ZScore, err = parseDecimals5(syi, tbill, excess, spread, z); err != nil {
			return nil, err
		}
		if rec.Signal.Slope7, rec.Signal.BreadthPct, rec.Signal.Volatility30d, rec.Signal.EMAShort, rec.Signal.EMALong, err = parseDecimals5(slope, breadth, vol, short, lng); err != nil {
			return nil, err
		}
		if comps != "" {
			if err := json.Unmarshal([]byte(comps), &rec.Components); err != nil {
				return nil, fmt.Errorf("decode components: %w", err)
			}
		}
		if maxBps.Valid || aggBps.Valid {
			rec.Peg = &models.PegStatus{MaxDepegBps: uint(maxBps.Int64), AggDepegBps: uint(aggBps.Int64)}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHRegimeStore) queryStates(ctx context.Context, q string, args ...interface{}) ([]models.StateRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ch.Timeout())
	defer cancel()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse states query error", applogger.Error(err))
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var out []models.StateRecord
	for rows.Next() {
		var r sqlStateRow
		if err := rows.Scan(&r.EvalDate, &r.State, &r.PreviousState, &r.DaysInState, &r.CooldownUntil, &r.OverrideUntil,
			&r.AlertType, &r.AlertLevel, &r.AlertMessage, &r.TriggerConditions, &r.PegOverride,
			&r.OffStreak, &r.OnStreak, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		rec, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func parseDecimals5(a, b, c, d, e string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	var out [5]decimal.Decimal
	for i, s := range [5]string{a, b, c, d, e} {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return out[0], out[1], out[2], out[3], out[4], fmt.Errorf("parse decimal %q: %w", s, err)
		}
		out[i] = v
	}
	return out[0], out[1], out[2], out[3], out[4], nil
}
