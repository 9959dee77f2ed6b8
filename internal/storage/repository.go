package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSampleSQL = `INSERT INTO price_samples (
        symbol,
        price,
        volume,
        source,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, created_at;`

	latestSampleSQL = `SELECT
        id, symbol, price, volume, source, observed_at, created_at
    FROM price_samples
    WHERE symbol = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT 1;`

	listSamplesSinceSQL = `SELECT
        id, symbol, price, volume, source, observed_at, created_at
    FROM price_samples
    WHERE symbol = $1
      AND observed_at >= $2
    ORDER BY observed_at;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	insertEventSQL = `INSERT INTO volatility_events (
        symbol,
        price,
        volatility,
        alert_level,
        sentinel_output,
        deep_output,
        delivered,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listEventsBetweenSQL = `SELECT
        id, symbol, price, volatility, alert_level, sentinel_output, deep_output, delivered, triggered_at, created_at
    FROM volatility_events
    WHERE triggered_at >= $1
      AND triggered_at < $2
    ORDER BY triggered_at;`

	listRecentEventsSQL = `SELECT
        id, symbol, price, volatility, alert_level, sentinel_output, deep_output, delivered, triggered_at, created_at
    FROM volatility_events
    ORDER BY triggered_at DESC
    LIMIT $1;`

	latestEventPerSymbolSQL = `SELECT DISTINCT ON (symbol)
        id, symbol, price, volatility, alert_level, sentinel_output, deep_output, delivered, triggered_at, created_at
    FROM volatility_events
    ORDER BY symbol, triggered_at DESC;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for price sample persistence.
type SampleStore interface {
	InsertSample(ctx context.Context, sample Sample) (Sample, error)
	LatestSample(ctx context.Context, symbol string) (*Sample, error)
	ListSamplesSince(ctx context.Context, symbol string, since time.Time) ([]Sample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// EventStore defines operations for the escalation audit trail.
type EventStore interface {
	InsertEvent(ctx context.Context, event Event) (Event, error)
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]Event, error)
	LatestEventPerSymbol(ctx context.Context) ([]Event, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples and events.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
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

// InsertSample appends one price observation. History is append-only.
func (s *Store) InsertSample(ctx context.Context, sample Sample) (Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return Sample{}, err
	}

	row := pool.QueryRow(ctx, insertSampleSQL,
		sample.Symbol,
		sample.Price.String(),
		sample.Volume.String(),
		sample.Source,
		sample.ObservedAt,
	)
	if scanErr := row.Scan(&sample.ID, &sample.CreatedAt); scanErr != nil {
		return Sample{}, fmt.Errorf("insert sample: %w", scanErr)
	}
	return sample, nil
}

// LatestSample returns the most recent observation for a symbol, or nil when none exists.
func (s *Store) LatestSample(ctx context.Context, symbol string) (*Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestSampleSQL, symbol)
	if queryErr != nil {
		return nil, fmt.Errorf("latest sample: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}

	sample, scanErr := scanSample(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &sample, nil
}

// ListSamplesSince lists observations for a symbol from a point in time onward.
func (s *Store) ListSamplesSince(ctx context.Context, symbol string, since time.Time) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesSinceSQL, symbol, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples since: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored observations.
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

// InsertEvent appends one escalation record.
func (s *Store) InsertEvent(ctx context.Context, event Event) (Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return Event{}, err
	}

	var deep interface{}
	if event.DeepOutput != nil {
		deep = *event.DeepOutput
	}

	row := pool.QueryRow(ctx, insertEventSQL,
		event.Symbol,
		event.Price.String(),
		event.Volatility.String(),
		event.Level,
		event.SentinelOutput,
		deep,
		event.Delivered,
		event.TriggeredAt,
	)
	if scanErr := row.Scan(&event.ID, &event.CreatedAt); scanErr != nil {
		return Event{}, fmt.Errorf("insert event: %w", scanErr)
	}
	return event, nil
}

// ListEventsBetween lists events within a time window.
func (s *Store) ListEventsBetween(ctx context.Context, from, to time.Time) ([]Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events between: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListRecentEvents lists the most recent events ordered by descending trigger time.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// LatestEventPerSymbol returns the newest event for every symbol that has any.
func (s *Store) LatestEventPerSymbol(ctx context.Context) ([]Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestEventPerSymbolSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest event per symbol: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	events := make([]Event, 0)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanSample(rows pgx.Rows) (Sample, error) {
	var (
		sample    Sample
		priceStr  string
		volumeStr string
	)

	if err := rows.Scan(
		&sample.ID,
		&sample.Symbol,
		&priceStr,
		&volumeStr,
		&sample.Source,
		&sample.ObservedAt,
		&sample.CreatedAt,
	); err != nil {
		return Sample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse price: %w", err)
	}
	volume, err := decimal.NewFromString(volumeStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse volume: %w", err)
	}

	sample.Price = price
	sample.Volume = volume
	return sample, nil
}

func scanEvent(rows pgx.Rows) (Event, error) {
	var (
		event         Event
		priceStr      string
		volatilityStr string
		deep          sql.NullString
	)

	if err := rows.Scan(
		&event.ID,
		&event.Symbol,
		&priceStr,
		&volatilityStr,
		&event.Level,
		&event.SentinelOutput,
		&deep,
		&event.Delivered,
		&event.TriggeredAt,
		&event.CreatedAt,
	); err != nil {
		return Event{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Event{}, fmt.Errorf("parse price: %w", err)
	}
	volatility, err := decimal.NewFromString(volatilityStr)
	if err != nil {
		return Event{}, fmt.Errorf("parse volatility: %w", err)
	}

	event.Price = price
	event.Volatility = volatility
	if deep.Valid {
		output := deep.String
		event.DeepOutput = &output
	}

	return event, nil
}
