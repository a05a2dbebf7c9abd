package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/rules"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSampleSQL = `INSERT INTO metric_samples (
        metric_key,
        value,
        observed_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (metric_key, observed_at) DO UPDATE
    SET value = EXCLUDED.value;`

	listSamplesBetweenSQL = `SELECT
        metric_key,
        value,
        observed_at,
        created_at
    FROM metric_samples
    WHERE metric_key = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT
        metric_key,
        value,
        observed_at,
        created_at
    FROM metric_samples
    ORDER BY observed_at DESC
    LIMIT $1;`

	deleteSamplesBeforeSQL = `DELETE FROM metric_samples WHERE observed_at < $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM metric_samples;`

	insertAlertSQL = `INSERT INTO alert_transitions (
        rule_id,
        metric_key,
        severity,
        from_status,
        to_status,
        value,
        bound,
        transitioned_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        rule_id,
        metric_key,
        severity,
        from_status,
        to_status,
        value,
        bound,
        transitioned_at,
        created_at
    FROM alert_transitions
    ORDER BY transitioned_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alert_transitions WHERE transitioned_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleArchive defines operations for sample persistence.
type SampleArchive interface {
	UpsertSample(ctx context.Context, row SampleRow) error
	ListSamplesBetween(ctx context.Context, key metric.Key, from, to time.Time) ([]SampleRow, error)
	ListRecentSamples(ctx context.Context, limit int) ([]SampleRow, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error
	CountSamples(ctx context.Context) (int64, error)
}

// AlertArchive defines operations for alert auditing.
type AlertArchive interface {
	InsertAlert(ctx context.Context, row AlertRow) (AlertRow, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRow, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to archived samples and alerts.
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
		// best effort; the lock dies with the connection anyway
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

// UpsertSample persists or updates an archived sample.
func (s *Store) UpsertSample(ctx context.Context, row SampleRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertSampleSQL, string(row.Key), row.Value, row.ObservedAt); execErr != nil {
		return fmt.Errorf("upsert sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists archived samples for a key within [from, to).
func (s *Store) ListSamplesBetween(ctx context.Context, key metric.Key, from, to time.Time) ([]SampleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, string(key), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent archived samples across keys.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]SampleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// DeleteSamplesBefore prunes archived samples.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete samples before: %w", execErr)
	}
	return nil
}

// CountSamples counts archived samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert transition.
func (s *Store) InsertAlert(ctx context.Context, row AlertRow) (AlertRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRow{}, err
	}

	rec := row
	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		row.RuleID,
		string(row.Key),
		string(row.Severity),
		string(row.From),
		string(row.To),
		row.Value,
		row.Bound,
		row.At,
	).Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRow{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	return rec, nil
}

// ListRecentAlerts lists most recent archived alert transitions.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRow, 0, limit)
	for rows.Next() {
		var (
			rec      AlertRow
			key      string
			severity string
			from     string
			to       string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RuleID,
			&key,
			&severity,
			&from,
			&to,
			&rec.Value,
			&rec.Bound,
			&rec.At,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Key = metric.Key(key)
		rec.Severity = rules.Severity(severity)
		rec.From = rules.Status(from)
		rec.To = rules.Status(to)
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alert transitions.
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

func collectSamples(rows pgx.Rows, sizeHint int) ([]SampleRow, error) {
	samples := make([]SampleRow, 0, sizeHint)
	for rows.Next() {
		var (
			row SampleRow
			key string
		)
		if err := rows.Scan(&key, &row.Value, &row.ObservedAt, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Key = metric.Key(key)
		samples = append(samples, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}
