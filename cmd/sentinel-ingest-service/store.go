// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sentinel-works/sentinel/lib/clock"
	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
	"github.com/sentinel-works/sentinel/lib/sqlitepool"
)

// Store is the durable log of classified readings plus the daily
// rollup table derived from it. It is the single source of truth:
// trailing statistics and device statistics are computed from the
// readings table on every call, never cached.
//
// Write path: Append inserts one reading in an IMMEDIATE transaction,
// so a reading is either fully visible to subsequent reads or not
// visible at all. SQLite serializes Append against DeleteOlderThan at
// the storage layer; a sweep can never observe a half-written row.
//
// Rollup path: RefreshDailyRollup recomputes one date's aggregate
// from the current readings and replaces the daily_stats row in a
// single upsert. Refreshes for the same date are mutually exclusive
// via a per-date lock; different dates proceed concurrently.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// rollupMu guards rollupLocks; each date gets its own mutex so
	// that same-date refreshes serialize without blocking refreshes
	// for other dates.
	rollupMu    sync.Mutex
	rollupLocks map[string]*sync.Mutex
}

// StoreConfig holds the parameters for opening a store.
type StoreConfig struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize is the connection pool size. Zero selects the
	// sqlitepool default.
	PoolSize int

	// Clock provides recorded_at timestamps and the trailing-window
	// anchor.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// readingColumns is the SELECT list shared by every reading query, in
// scanReading's column order.
const readingColumns = "id, device_id, label, score, status, severity, timestamp, created_at"

// storeSchema creates the tables and indexes. Runs on every pooled
// connection; all statements are idempotent.
const storeSchema = `
	CREATE TABLE IF NOT EXISTS readings (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id  TEXT    NOT NULL,
		label      TEXT    NOT NULL,
		score      REAL    NOT NULL,
		status     TEXT    NOT NULL,
		severity   TEXT    NOT NULL,
		timestamp  INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_status ON readings(status);
	CREATE INDEX IF NOT EXISTS idx_readings_device ON readings(device_id);

	CREATE TABLE IF NOT EXISTS daily_stats (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		date           TEXT NOT NULL UNIQUE,
		total_readings INTEGER NOT NULL DEFAULT 0,
		normal_count   INTEGER NOT NULL DEFAULT 0,
		warning_count  INTEGER NOT NULL DEFAULT 0,
		critical_count INTEGER NOT NULL DEFAULT 0,
		avg_score      REAL NOT NULL DEFAULT 0
	);
`

// OpenStore opens (and if needed creates) the reading store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("sensor store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("sensor store: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sensor store: %w", err)
	}

	return &Store{
		pool:        pool,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		rollupLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the connection pool, blocking until borrowed
// connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// storeErr tags a low-level failure with the store-unavailable
// category so API and ingest callers can classify it with errors.Is.
func storeErr(op string, err error) error {
	return fmt.Errorf("sensor store: %s: %w: %w", op, anomaly.ErrStoreUnavailable, err)
}

// Append durably inserts one classified reading and returns it with
// the store-assigned id and recorded_at. Ids are strictly increasing
// across successful appends (AUTOINCREMENT never reuses rowids).
func (s *Store) Append(ctx context.Context, classified anomaly.Classification) (reading anomaly.Reading, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return anomaly.Reading{}, storeErr("append", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return anomaly.Reading{}, storeErr("append: begin", err)
	}
	// A commit failure surfaces through the named return.
	defer endTransaction(&err)

	recordedAt := s.clock.Now().UTC()

	err = sqlitex.Execute(conn,
		`INSERT INTO readings (device_id, label, score, status, severity, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				classified.DeviceID,
				string(classified.Label),
				classified.Score,
				string(classified.Status),
				string(classified.Severity),
				classified.ObservedAt.UTC().UnixNano(),
				recordedAt.UnixNano(),
			},
		})
	if err != nil {
		return anomaly.Reading{}, storeErr("append: insert", err)
	}

	return anomaly.Reading{
		ID:         conn.LastInsertRowID(),
		DeviceID:   classified.DeviceID,
		Label:      classified.Label,
		Score:      classified.Score,
		Status:     classified.Status,
		Severity:   classified.Severity,
		ObservedAt: classified.ObservedAt.UTC(),
		RecordedAt: recordedAt,
	}, nil
}

// RecentReadings returns up to limit readings, newest first. A
// non-positive limit selects the default of 50.
func (s *Store) RecentReadings(ctx context.Context, limit int) ([]anomaly.Reading, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, storeErr("recent readings", err)
	}
	defer s.pool.Put(conn)

	var readings []anomaly.Reading
	err = sqlitex.Execute(conn,
		"SELECT "+readingColumns+" FROM readings ORDER BY timestamp DESC, id DESC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				readings = append(readings, scanReading(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, storeErr("recent readings", err)
	}
	return readings, nil
}

// ReadingsInPeriod returns readings observed in [start, end]
// inclusive, newest first.
func (s *Store) ReadingsInPeriod(ctx context.Context, start, end time.Time) ([]anomaly.Reading, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, storeErr("readings in period", err)
	}
	defer s.pool.Put(conn)

	var readings []anomaly.Reading
	err = sqlitex.Execute(conn,
		"SELECT "+readingColumns+" FROM readings WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp DESC, id DESC",
		&sqlitex.ExecOptions{
			Args: []any{start.UTC().UnixNano(), end.UTC().UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				readings = append(readings, scanReading(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, storeErr("readings in period", err)
	}
	return readings, nil
}

// DeleteOlderThan bulk-deletes readings observed strictly before
// cutoff and returns the deleted row count. The single DELETE runs
// atomically, so a concurrent Append either survives entirely or was
// never visible to the sweep.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, storeErr("delete older than", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM readings WHERE timestamp < ?",
		&sqlitex.ExecOptions{Args: []any{cutoff.UTC().UnixNano()}})
	if err != nil {
		return 0, storeErr("delete older than", err)
	}
	return int64(conn.Changes()), nil
}

// dateOf returns the UTC calendar date key for a reading time.
func dateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// dayBounds returns the [start, end) nanosecond bounds of a date key.
func dayBounds(date string) (int64, int64, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day.UnixNano(), day.Add(24 * time.Hour).UnixNano(), nil
}

// lockForDate returns the refresh mutex for one calendar date,
// creating it on first use. Lock granularity is the date key, so
// refreshes for different dates never contend.
func (s *Store) lockForDate(date string) *sync.Mutex {
	s.rollupMu.Lock()
	defer s.rollupMu.Unlock()

	lock, ok := s.rollupLocks[date]
	if !ok {
		lock = &sync.Mutex{}
		s.rollupLocks[date] = lock
	}
	return lock
}

// RefreshDailyRollup recomputes the full aggregate for one date from
// the current readings and replaces the daily_stats row. The upsert
// is a single INSERT ... SELECT ... ON CONFLICT statement, so the
// recompute and the replacement are atomic; repeated refreshes with no
// intervening writes are no-ops on the stored row.
//
// A date with no remaining readings gets its row deleted, keeping the
// row equal to what a fresh recompute would produce.
func (s *Store) RefreshDailyRollup(ctx context.Context, date string) (anomaly.DailyAggregate, error) {
	dayStart, dayEnd, err := dayBounds(date)
	if err != nil {
		return anomaly.DailyAggregate{}, fmt.Errorf("sensor store: refresh rollup: %w", err)
	}

	lock := s.lockForDate(date)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return anomaly.DailyAggregate{}, storeErr("refresh rollup", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO daily_stats (date, total_readings, normal_count, warning_count, critical_count, avg_score)
		 SELECT ?,
		        COUNT(*),
		        SUM(CASE WHEN status = 'normal' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'warning' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'critical' THEN 1 ELSE 0 END),
		        AVG(score)
		 FROM readings
		 WHERE timestamp >= ? AND timestamp < ?
		 HAVING COUNT(*) > 0
		 ON CONFLICT(date) DO UPDATE SET
		   total_readings = excluded.total_readings,
		   normal_count   = excluded.normal_count,
		   warning_count  = excluded.warning_count,
		   critical_count = excluded.critical_count,
		   avg_score      = excluded.avg_score`,
		&sqlitex.ExecOptions{Args: []any{date, dayStart, dayEnd}})
	if err != nil {
		return anomaly.DailyAggregate{}, storeErr("refresh rollup", err)
	}

	// Zero upserted rows means the date has no readings left; drop
	// any stale row so the table matches a fresh recompute.
	if conn.Changes() == 0 {
		err = sqlitex.Execute(conn,
			"DELETE FROM daily_stats WHERE date = ?",
			&sqlitex.ExecOptions{Args: []any{date}})
		if err != nil {
			return anomaly.DailyAggregate{}, storeErr("refresh rollup: clear", err)
		}
		return anomaly.DailyAggregate{Date: date}, nil
	}

	aggregate, _, err := s.DailyRollup(ctx, date)
	if err != nil {
		return anomaly.DailyAggregate{}, err
	}
	return aggregate, nil
}

// DailyRollup reads one daily_stats row. The second return is false
// when no row exists for the date.
func (s *Store) DailyRollup(ctx context.Context, date string) (anomaly.DailyAggregate, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return anomaly.DailyAggregate{}, false, storeErr("daily rollup", err)
	}
	defer s.pool.Put(conn)

	var aggregate anomaly.DailyAggregate
	found := false
	err = sqlitex.Execute(conn,
		`SELECT date, total_readings, normal_count, warning_count, critical_count, avg_score
		 FROM daily_stats WHERE date = ?`,
		&sqlitex.ExecOptions{
			Args: []any{date},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				aggregate = anomaly.DailyAggregate{
					Date:          stmt.ColumnText(0),
					TotalReadings: stmt.ColumnInt64(1),
					NormalCount:   stmt.ColumnInt64(2),
					WarningCount:  stmt.ColumnInt64(3),
					CriticalCount: stmt.ColumnInt64(4),
					AvgScore:      stmt.ColumnFloat(5),
				}
				return nil
			},
		})
	if err != nil {
		return anomaly.DailyAggregate{}, false, storeErr("daily rollup", err)
	}
	return aggregate, found, nil
}

// TrailingStats computes the live aggregate over the trailing window
// ending now. Every call scans the readings table; nothing is cached,
// so staleness is zero.
func (s *Store) TrailingStats(ctx context.Context, window time.Duration) (anomaly.TrailingStats, error) {
	since := s.clock.Now().UTC().Add(-window).UnixNano()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return anomaly.TrailingStats{}, storeErr("trailing stats", err)
	}
	defer s.pool.Put(conn)

	var stats anomaly.TrailingStats
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*),
		        SUM(CASE WHEN status = 'normal' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'warning' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'critical' THEN 1 ELSE 0 END),
		        AVG(score),
		        MAX(timestamp)
		 FROM readings WHERE timestamp >= ?`,
		&sqlitex.ExecOptions{
			Args: []any{since},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Total = stmt.ColumnInt64(0)
				if stats.Total == 0 {
					return nil
				}
				stats.Normal = stmt.ColumnInt64(1)
				stats.Warning = stmt.ColumnInt64(2)
				stats.Critical = stmt.ColumnInt64(3)
				stats.AvgScore = stmt.ColumnFloat(4)
				stats.LastUpdate = time.Unix(0, stmt.ColumnInt64(5)).UTC()
				return nil
			},
		})
	if err != nil {
		return anomaly.TrailingStats{}, storeErr("trailing stats", err)
	}
	return stats, nil
}

// DeviceStats computes per-device counts and averages over the same
// trailing window as TrailingStats, grouped by the reported device_id.
func (s *Store) DeviceStats(ctx context.Context, window time.Duration) ([]anomaly.DeviceStats, error) {
	since := s.clock.Now().UTC().Add(-window).UnixNano()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, storeErr("device stats", err)
	}
	defer s.pool.Put(conn)

	var devices []anomaly.DeviceStats
	err = sqlitex.Execute(conn,
		`SELECT device_id,
		        COUNT(*),
		        SUM(CASE WHEN status = 'critical' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'warning' THEN 1 ELSE 0 END),
		        AVG(score),
		        MAX(timestamp)
		 FROM readings WHERE timestamp >= ?
		 GROUP BY device_id
		 ORDER BY device_id`,
		&sqlitex.ExecOptions{
			Args: []any{since},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				devices = append(devices, anomaly.DeviceStats{
					DeviceID:      stmt.ColumnText(0),
					TotalReadings: stmt.ColumnInt64(1),
					CriticalCount: stmt.ColumnInt64(2),
					WarningCount:  stmt.ColumnInt64(3),
					AvgScore:      stmt.ColumnFloat(4),
					LastSeen:      time.Unix(0, stmt.ColumnInt64(5)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, storeErr("device stats", err)
	}
	return devices, nil
}

// scanReading decodes one row of readingColumns.
func scanReading(stmt *sqlite.Stmt) anomaly.Reading {
	return anomaly.Reading{
		ID:         stmt.ColumnInt64(0),
		DeviceID:   stmt.ColumnText(1),
		Label:      anomaly.Label(stmt.ColumnText(2)),
		Score:      stmt.ColumnFloat(3),
		Status:     anomaly.Status(stmt.ColumnText(4)),
		Severity:   anomaly.Severity(stmt.ColumnText(5)),
		ObservedAt: time.Unix(0, stmt.ColumnInt64(6)).UTC(),
		RecordedAt: time.Unix(0, stmt.ColumnInt64(7)).UTC(),
	}
}
