package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const sqliteDateLayout = "2006-01-02"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS rate_snapshots (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		as_of           INTEGER NOT NULL,
		series          TEXT NOT NULL,
		sgs_code        INTEGER NOT NULL,
		strategy        TEXT NOT NULL,
		lookback_months INTEGER NOT NULL,
		basis           TEXT NOT NULL DEFAULT '',
		value_pct       TEXT,
		period_start    TEXT,
		period_end      TEXT,
		observations    INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		error           TEXT,
		created_at      INTEGER NOT NULL,
		UNIQUE (as_of, series, strategy, lookback_months)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_snapshots_watch ON rate_snapshots(series, strategy, lookback_months, as_of)`,
	`CREATE TABLE IF NOT EXISTS rate_alerts (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		as_of           INTEGER NOT NULL,
		series          TEXT NOT NULL,
		strategy        TEXT NOT NULL,
		lookback_months INTEGER NOT NULL,
		previous_pct    TEXT NOT NULL,
		current_pct     TEXT NOT NULL,
		change_pp       TEXT NOT NULL,
		threshold_pp    TEXT NOT NULL,
		direction       TEXT NOT NULL,
		channels        TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		UNIQUE (as_of, series, strategy, lookback_months)
	)`,
}

const sqliteSnapshotColumns = `id, as_of, series, sgs_code, strategy, lookback_months, basis,
	value_pct, period_start, period_end, observations, status, error, created_at`

const sqliteAlertColumns = `id, as_of, series, strategy, lookback_months, previous_pct,
	current_pct, change_pp, threshold_pp, direction, channels, created_at`

// SQLiteStore persists snapshots and alerts in a local SQLite file. Timestamps
// are stored as unix seconds and decimals as text.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap RateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO rate_snapshots
		(as_of, series, sgs_code, strategy, lookback_months, basis, value_pct,
		 period_start, period_end, observations, status, error, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (as_of, series, strategy, lookback_months) DO UPDATE SET
			sgs_code     = excluded.sgs_code,
			basis        = excluded.basis,
			value_pct    = excluded.value_pct,
			period_start = excluded.period_start,
			period_end   = excluded.period_end,
			observations = excluded.observations,
			status       = excluded.status,
			error        = excluded.error`,
		snap.AsOf.Unix(), snap.Series, snap.SGSCode, snap.Strategy, snap.LookbackMonths, snap.Basis,
		nullDecimal(snap.ValuePct), nullDate(snap.PeriodStart), nullDate(snap.PeriodEnd),
		snap.Observations, snap.Status, nullString(snap.Error), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert rate snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, key WatchKey, before time.Time) (RateSnapshot, bool, error) {
	snaps, err := s.querySnapshots(ctx, `SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots
		WHERE series = ? AND strategy = ? AND lookback_months = ? AND status = 'complete' AND as_of < ?
		ORDER BY as_of DESC LIMIT 1`,
		key.Series, key.Strategy, key.LookbackMonths, before.Unix())
	if err != nil {
		return RateSnapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return RateSnapshot{}, false, nil
	}
	return snaps[0], true, nil
}

func (s *SQLiteStore) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]RateSnapshot, error) {
	snaps, err := s.querySnapshots(ctx, `SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots
		WHERE as_of >= ? AND as_of < ?
		ORDER BY as_of, series, strategy, lookback_months`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	return snaps, nil
}

func (s *SQLiteStore) ListRecentSnapshots(ctx context.Context, limit int) ([]RateSnapshot, error) {
	snaps, err := s.querySnapshots(ctx, `SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots
		ORDER BY as_of DESC, series, strategy, lookback_months LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	return snaps, nil
}

func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `INSERT INTO rate_alerts
		(as_of, series, strategy, lookback_months, previous_pct, current_pct,
		 change_pp, threshold_pp, direction, channels, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (as_of, series, strategy, lookback_months) DO UPDATE SET
			previous_pct = excluded.previous_pct,
			current_pct  = excluded.current_pct,
			change_pp    = excluded.change_pp,
			threshold_pp = excluded.threshold_pp,
			direction    = excluded.direction,
			channels     = excluded.channels
		RETURNING `+sqliteAlertColumns,
		alert.AsOf.Unix(), alert.Series, alert.Strategy, alert.LookbackMonths,
		alert.PreviousPct.String(), alert.CurrentPct.String(), alert.ChangePP.String(),
		alert.ThresholdPP.String(), alert.Direction, strings.Join(alert.Channels, ","), s.now().Unix(),
	)
	rec, err := scanSQLiteAlert(row)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteAlertColumns+` FROM rate_alerts
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_alerts WHERE created_at < ?`, olderThan.Unix()); err != nil {
		return fmt.Errorf("delete alerts before: %w", err)
	}
	return nil
}

func (s *SQLiteStore) querySnapshots(ctx context.Context, query string, args ...any) ([]RateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []RateSnapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row rowScanner) (RateSnapshot, error) {
	var (
		snap        RateSnapshot
		asOf        int64
		createdAt   int64
		value       sql.NullString
		periodStart sql.NullString
		periodEnd   sql.NullString
		errMsg      sql.NullString
	)
	if err := row.Scan(
		&snap.ID, &asOf, &snap.Series, &snap.SGSCode, &snap.Strategy, &snap.LookbackMonths,
		&snap.Basis, &value, &periodStart, &periodEnd, &snap.Observations, &snap.Status,
		&errMsg, &createdAt,
	); err != nil {
		return RateSnapshot{}, err
	}

	snap.AsOf = time.Unix(asOf, 0).UTC()
	snap.CreatedAt = time.Unix(createdAt, 0).UTC()

	if value.Valid {
		parsed, err := decimal.NewFromString(value.String)
		if err != nil {
			return RateSnapshot{}, fmt.Errorf("parse value pct: %w", err)
		}
		snap.ValuePct = &parsed
	}
	var err error
	if snap.PeriodStart, err = parseNullDate(periodStart); err != nil {
		return RateSnapshot{}, err
	}
	if snap.PeriodEnd, err = parseNullDate(periodEnd); err != nil {
		return RateSnapshot{}, err
	}
	if errMsg.Valid {
		msg := errMsg.String
		snap.Error = &msg
	}
	return snap, nil
}

func scanSQLiteAlert(row rowScanner) (AlertRecord, error) {
	var (
		rec                                  AlertRecord
		asOf, createdAt                      int64
		previous, current, change, threshold string
		channels                             string
	)
	if err := row.Scan(
		&rec.ID, &asOf, &rec.Series, &rec.Strategy, &rec.LookbackMonths,
		&previous, &current, &change, &threshold, &rec.Direction, &channels, &createdAt,
	); err != nil {
		return AlertRecord{}, err
	}
	rec.AsOf = time.Unix(asOf, 0).UTC()
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.Channels = []string{}
	if channels != "" {
		rec.Channels = strings.Split(channels, ",")
	}
	return parseAlertDecimals(rec, previous, current, change, threshold)
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(sqliteDateLayout)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func parseNullDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(sqliteDateLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", v.String, err)
	}
	return &t, nil
}

var _ Repository = (*SQLiteStore)(nil)
