package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS collection_points (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id    TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL,
	address        TEXT NOT NULL,
	neighborhood   TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL,
	state          TEXT NOT NULL DEFAULT '',
	zip_code       TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	notes          TEXT NOT NULL DEFAULT '',
	latitude       REAL,
	longitude      REAL,
	frequency      TEXT NOT NULL DEFAULT '',
	days_of_week   TEXT NOT NULL DEFAULT '',
	weeks_of_month TEXT NOT NULL DEFAULT '',
	is_active      INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS point_deletions (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL,
	point       TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	deleted     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	restored    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_collection_points_city ON collection_points(city, state);
CREATE INDEX IF NOT EXISTS idx_point_deletions_job ON point_deletions(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CheckExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		out[id] = false
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM collection_points WHERE is_active = 1 AND external_id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: check existing")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan external id")
		}
		out[id] = true
	}
	return out, eris.Wrap(rows.Err(), "sqlite: check existing iterate")
}

// UpsertBatch writes points in one transaction. A point counts as updated
// when an active point with its external id existed; reactivating a
// soft-deleted point counts as created.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, points []model.CollectionPoint) (*pointstore.BatchResult, error) {
	keyed, skipped := splitByExternalID(points)
	res := &pointstore.BatchResult{Results: skipped}
	if len(keyed) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	for _, p := range keyed {
		var active sql.NullBool
		err := tx.QueryRowContext(ctx,
			`SELECT is_active FROM collection_points WHERE external_id = ?`, p.ExternalID,
		).Scan(&active)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(err, "sqlite: lookup %s", p.ExternalID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO collection_points (
				external_id, name, address, neighborhood, city, state, zip_code, phone, email, notes,
				latitude, longitude, frequency, days_of_week, weeks_of_month, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET
				name = excluded.name,
				address = excluded.address,
				neighborhood = excluded.neighborhood,
				city = excluded.city,
				state = excluded.state,
				zip_code = excluded.zip_code,
				phone = excluded.phone,
				email = excluded.email,
				notes = excluded.notes,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				frequency = excluded.frequency,
				days_of_week = excluded.days_of_week,
				weeks_of_month = excluded.weeks_of_month,
				is_active = 1,
				updated_at = excluded.updated_at`,
			p.ExternalID, p.Name, p.Address, p.Neighborhood, p.City, p.State, p.ZipCode, p.Phone, p.Email, p.Notes,
			nullFloat(p.Latitude), nullFloat(p.Longitude), p.Frequency, p.DaysOfWeek, p.WeeksOfMonth, now, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert %s", p.ExternalID)
		}

		created := !active.Valid || !active.Bool
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Results = append(res.Results, pointstore.PointResult{ExternalID: p.ExternalID, Success: true, Created: created})
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert")
	}
	return res, nil
}

// DeleteByExternalID soft-deletes the point.
func (s *SQLiteStore) DeleteByExternalID(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_points SET is_active = 0, updated_at = ? WHERE external_id = ? AND is_active = 1`,
		s.now(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete %s", externalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const sqlitePointColumns = `id, external_id, name, address, neighborhood, city, state, zip_code, phone, email, notes,
	latitude, longitude, frequency, days_of_week, weeks_of_month, is_active, created_at, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, externalID string) (*model.CollectionPoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePointColumns+` FROM collection_points WHERE external_id = ? AND is_active = 1`,
		externalID,
	)
	p, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", externalID)
	}
	return p, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.CollectionPoint, error) {
	query := `SELECT ` + sqlitePointColumns + ` FROM collection_points WHERE 1=1`
	var args []any

	if !filter.IncludeInactive {
		query += ` AND is_active = 1`
	}
	if filter.City != "" {
		query += ` AND city = ? COLLATE NOCASE`
		args = append(args, filter.City)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, strings.ToUpper(filter.State))
	}
	query += ` ORDER BY external_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list points")
	}
	defer rows.Close() //nolint:errcheck

	var points []model.CollectionPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan point")
		}
		points = append(points, *p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: list points iterate")
}

func (s *SQLiteStore) RecordDeletion(ctx context.Context, entry resilience.DeletionEntry) error {
	pointJSON, err := json.Marshal(entry.Point)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal deleted point")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO point_deletions (id, job_id, external_id, point, reason, deleted, error, restored, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			deleted = excluded.deleted,
			error = excluded.error,
			restored = excluded.restored`,
		entry.ID, entry.JobID, entry.ExternalID, string(pointJSON), entry.Reason,
		entry.Deleted, entry.Error, entry.Restored, entry.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record deletion %s", entry.ExternalID)
}

func (s *SQLiteStore) ListDeletions(ctx context.Context, filter resilience.DeletionFilter) ([]resilience.DeletionEntry, error) {
	query := `SELECT id, job_id, external_id, point, reason, deleted, error, restored, created_at FROM point_deletions WHERE 1=1`
	var args []any

	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.OnlyDeleted {
		query += ` AND deleted = 1`
	}
	if filter.OnlyPending {
		query += ` AND deleted = 1 AND restored = 0`
	}
	query += ` ORDER BY created_at, external_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deletions")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DeletionEntry
	for rows.Next() {
		var e resilience.DeletionEntry
		var pointJSON string
		if err := rows.Scan(&e.ID, &e.JobID, &e.ExternalID, &pointJSON, &e.Reason, &e.Deleted, &e.Error, &e.Restored, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deletion")
		}
		if err := json.Unmarshal([]byte(pointJSON), &e.Point); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal deleted point")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list deletions iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPoint(row scannable) (*model.CollectionPoint, error) {
	var p model.CollectionPoint
	var lat, lon sql.NullFloat64
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Name, &p.Address, &p.Neighborhood, &p.City, &p.State, &p.ZipCode,
		&p.Phone, &p.Email, &p.Notes, &lat, &lon, &p.Frequency, &p.DaysOfWeek, &p.WeeksOfMonth,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lon.Valid {
		p.Longitude = &lon.Float64
	}
	return &p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
