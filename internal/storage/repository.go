package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS rate_snapshots (
        id              BIGSERIAL PRIMARY KEY,
        as_of           TIMESTAMPTZ NOT NULL,
        series          TEXT NOT NULL,
        sgs_code        INTEGER NOT NULL,
        strategy        TEXT NOT NULL,
        lookback_months INTEGER NOT NULL,
        basis           TEXT NOT NULL DEFAULT '',
        value_pct       NUMERIC(20,10),
        period_start    DATE,
        period_end      DATE,
        observations    INTEGER NOT NULL DEFAULT 0,
        status          TEXT NOT NULL,
        error           TEXT,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (as_of, series, strategy, lookback_months)
    );`,
	`CREATE INDEX IF NOT EXISTS idx_rate_snapshots_watch
        ON rate_snapshots (series, strategy, lookback_months, as_of DESC);`,
	`CREATE TABLE IF NOT EXISTS rate_alerts (
        id              BIGSERIAL PRIMARY KEY,
        as_of           TIMESTAMPTZ NOT NULL,
        series          TEXT NOT NULL,
        strategy        TEXT NOT NULL,
        lookback_months INTEGER NOT NULL,
        previous_pct    NUMERIC(20,10) NOT NULL,
        current_pct     NUMERIC(20,10) NOT NULL,
        change_pp       NUMERIC(20,10) NOT NULL,
        threshold_pp    NUMERIC(20,10) NOT NULL,
        direction       TEXT NOT NULL,
        channels        TEXT[] NOT NULL DEFAULT '{}',
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (as_of, series, strategy, lookback_months)
    );`,
}

const (
	snapshotColumns = `id, as_of, series, sgs_code, strategy, lookback_months, basis,
        value_pct::text, period_start, period_end, observations, status, error, created_at`

	upsertSnapshotSQL = `INSERT INTO rate_snapshots (
        as_of,
        series,
        sgs_code,
        strategy,
        lookback_months,
        basis,
        value_pct,
        period_start,
        period_end,
        observations,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (as_of, series, strategy, lookback_months) DO UPDATE
    SET
        sgs_code     = EXCLUDED.sgs_code,
        basis        = EXCLUDED.basis,
        value_pct    = EXCLUDED.value_pct,
        period_start = EXCLUDED.period_start,
        period_end   = EXCLUDED.period_end,
        observations = EXCLUDED.observations,
        status       = EXCLUDED.status,
        error        = EXCLUDED.error;`

	latestSnapshotSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    WHERE series = $1
      AND strategy = $2
      AND lookback_months = $3
      AND status = 'complete'
      AND as_of < $4
    ORDER BY as_of DESC
    LIMIT 1;`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    WHERE as_of >= $1
      AND as_of < $2
    ORDER BY as_of, series, strategy, lookback_months;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    ORDER BY as_of DESC, series, strategy, lookback_months
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM rate_snapshots;`

	insertAlertSQL = `INSERT INTO rate_alerts (
        as_of,
        series,
        strategy,
        lookback_months,
        previous_pct,
        current_pct,
        change_pp,
        threshold_pp,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (as_of, series, strategy, lookback_months) DO UPDATE
    SET previous_pct = EXCLUDED.previous_pct,
        current_pct  = EXCLUDED.current_pct,
        change_pp    = EXCLUDED.change_pp,
        threshold_pp = EXCLUDED.threshold_pp,
        direction    = EXCLUDED.direction,
        channels     = EXCLUDED.channels
    RETURNING ` + alertColumns + `;`

	alertColumns = `id, as_of, series, strategy, lookback_months, previous_pct::text,
        current_pct::text, change_pp::text, threshold_pp::text, direction, channels, created_at`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM rate_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM rate_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL backend for snapshots and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or replaces the snapshot for its as-of and watch.
func (s *Store) UpsertSnapshot(ctx context.Context, snap RateSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var value interface{}
	if snap.ValuePct != nil {
		value = snap.ValuePct.String()
	}
	var errMsg interface{}
	if snap.Error != nil {
		errMsg = *snap.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.AsOf,
		snap.Series,
		snap.SGSCode,
		snap.Strategy,
		snap.LookbackMonths,
		snap.Basis,
		value,
		snap.PeriodStart,
		snap.PeriodEnd,
		snap.Observations,
		snap.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert rate snapshot: %w", execErr)
	}
	return nil
}

// LatestSnapshot returns the newest complete snapshot of key strictly before the given instant.
func (s *Store) LatestSnapshot(ctx context.Context, key WatchKey, before time.Time) (RateSnapshot, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateSnapshot{}, false, err
	}

	rows, err := pool.Query(ctx, latestSnapshotSQL, key.Series, key.Strategy, key.LookbackMonths, before)
	if err != nil {
		return RateSnapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	snaps, err := collectSnapshots(rows, 1)
	if err != nil {
		return RateSnapshot{}, false, err
	}
	if len(snaps) == 0 {
		return RateSnapshot{}, false, nil
	}
	return snaps[0], true, nil
}

// ListSnapshotsBetween lists snapshots within [from, to).
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	return collectSnapshots(rows, 0)
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending as-of.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	return collectSnapshots(rows, limit)
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.AsOf,
		alert.Series,
		alert.Strategy,
		alert.LookbackMonths,
		alert.PreviousPct.String(),
		alert.CurrentPct.String(),
		alert.ChangePP.String(),
		alert.ThresholdPP.String(),
		alert.Direction,
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]RateSnapshot, error) {
	defer rows.Close()

	snaps := make([]RateSnapshot, 0, capacity)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanSnapshot(rows pgx.Rows) (RateSnapshot, error) {
	var (
		snap        RateSnapshot
		value       sql.NullString
		periodStart sql.NullTime
		periodEnd   sql.NullTime
		errMsg      sql.NullString
	)

	if err := rows.Scan(
		&snap.ID,
		&snap.AsOf,
		&snap.Series,
		&snap.SGSCode,
		&snap.Strategy,
		&snap.LookbackMonths,
		&snap.Basis,
		&value,
		&periodStart,
		&periodEnd,
		&snap.Observations,
		&snap.Status,
		&errMsg,
		&snap.CreatedAt,
	); err != nil {
		return RateSnapshot{}, err
	}

	if value.Valid {
		parsed, err := decimal.NewFromString(value.String)
		if err != nil {
			return RateSnapshot{}, fmt.Errorf("parse value pct: %w", err)
		}
		snap.ValuePct = &parsed
	}
	if periodStart.Valid {
		t := periodStart.Time
		snap.PeriodStart = &t
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		snap.PeriodEnd = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		snap.Error = &msg
	}
	return snap, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec                                  AlertRecord
		previous, current, change, threshold string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.AsOf,
		&rec.Series,
		&rec.Strategy,
		&rec.LookbackMonths,
		&previous,
		&current,
		&change,
		&threshold,
		&rec.Direction,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	return parseAlertDecimals(rec, previous, current, change, threshold)
}

func parseAlertDecimals(rec AlertRecord, previous, current, change, threshold string) (AlertRecord, error) {
	var err error
	if rec.PreviousPct, err = decimal.NewFromString(previous); err != nil {
		return AlertRecord{}, fmt.Errorf("parse previous pct: %w", err)
	}
	if rec.CurrentPct, err = decimal.NewFromString(current); err != nil {
		return AlertRecord{}, fmt.Errorf("parse current pct: %w", err)
	}
	if rec.ChangePP, err = decimal.NewFromString(change); err != nil {
		return AlertRecord{}, fmt.Errorf("parse change pp: %w", err)
	}
	if rec.ThresholdPP, err = decimal.NewFromString(threshold); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pp: %w", err)
	}
	return rec, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
