package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/db"
	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const pgPointColumns = `id, external_id, name, address, neighborhood, city, state, zip_code, phone, email, notes,
	latitude, longitude, frequency, days_of_week, weeks_of_month, is_active, created_at, updated_at`

const (
	sqlCheckExisting = `SELECT external_id FROM collection_points WHERE is_active AND external_id = ANY($1)`
	sqlSoftDelete    = `UPDATE collection_points SET is_active = false, updated_at = $1 WHERE external_id = $2 AND is_active`
	sqlGetPoint      = `SELECT ` + pgPointColumns + ` FROM collection_points WHERE external_id = $1 AND is_active`
	sqlRecordDelete  = `INSERT INTO point_deletions (id, job_id, external_id, point, reason, deleted, error, restored, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET deleted = EXCLUDED.deleted, error = EXCLUDED.error, restored = EXCLUDED.restored`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"check_existing": sqlCheckExisting,
	"soft_delete":    sqlSoftDelete,
	"get_point":      sqlGetPoint,
	"record_delete":  sqlRecordDelete,
}

// pointUpsert describes the bulk upsert of collection_points.
var pointUpsert = db.UpsertConfig{
	Table: "collection_points",
	Columns: []string{
		"external_id", "name", "address", "neighborhood", "city", "state", "zip_code", "phone", "email", "notes",
		"latitude", "longitude", "frequency", "days_of_week", "weeks_of_month", "is_active", "created_at", "updated_at",
	},
	ConflictKeys: []string{"external_id"},
	UpdateCols: []string{
		"name", "address", "neighborhood", "city", "state", "zip_code", "phone", "email", "notes",
		"latitude", "longitude", "frequency", "days_of_week", "weeks_of_month", "is_active", "updated_at",
	},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn, now: func() time.Time { return time.Now().UTC() }}
}

// Pool returns the underlying database pool, shared with the geocode cache.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS collection_points (
	id             BIGSERIAL PRIMARY KEY,
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
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	frequency      TEXT NOT NULL DEFAULT '',
	days_of_week   TEXT NOT NULL DEFAULT '',
	weeks_of_month TEXT NOT NULL DEFAULT '',
	is_active      BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_collection_points_city ON collection_points(city, state);

CREATE TABLE IF NOT EXISTS point_deletions (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL,
	point       JSONB NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	deleted     BOOLEAN NOT NULL DEFAULT false,
	error       TEXT NOT NULL DEFAULT '',
	restored    BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_point_deletions_job ON point_deletions(job_id);

CREATE TABLE IF NOT EXISTS geocode_cache (
	query_hash TEXT PRIMARY KEY,
	candidates JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CheckExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = false
	}

	rows, err := s.pool.Query(ctx, sqlCheckExisting, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: check existing")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan external id")
		}
		out[id] = true
	}
	return out, eris.Wrap(rows.Err(), "postgres: check existing iterate")
}

// UpsertBatch writes points through a temp-table bulk upsert. A point counts
// as updated when an active point with its external id existed beforehand.
func (s *PostgresStore) UpsertBatch(ctx context.Context, points []model.CollectionPoint) (*pointstore.BatchResult, error) {
	keyed, skipped := splitByExternalID(points)
	res := &pointstore.BatchResult{Results: skipped}
	if len(keyed) == 0 {
		return res, nil
	}

	ids := make([]string, len(keyed))
	for i, p := range keyed {
		ids[i] = p.ExternalID
	}
	active, err := s.CheckExisting(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert batch")
	}

	now := s.now()
	rows := make([][]any, len(keyed))
	for i, p := range keyed {
		rows[i] = []any{
			p.ExternalID, p.Name, p.Address, p.Neighborhood, p.City, p.State, p.ZipCode, p.Phone, p.Email, p.Notes,
			p.Latitude, p.Longitude, p.Frequency, p.DaysOfWeek, p.WeeksOfMonth, true, now, now,
		}
	}

	counts, err := db.BulkUpsert(ctx, s.pool, pointUpsert, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert batch")
	}
	zap.L().Debug("postgres: upserted points",
		zap.Int64("inserted", counts.Inserted),
		zap.Int64("updated", counts.Updated),
	)

	for _, p := range keyed {
		created := !active[p.ExternalID]
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Results = append(res.Results, pointstore.PointResult{ExternalID: p.ExternalID, Success: true, Created: created})
	}
	return res, nil
}

// DeleteByExternalID soft-deletes the point.
func (s *PostgresStore) DeleteByExternalID(ctx context.Context, externalID string) error {
	tag, err := s.pool.Exec(ctx, sqlSoftDelete, s.now(), externalID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, externalID string) (*model.CollectionPoint, error) {
	p, err := scanPoint(s.pool.QueryRow(ctx, sqlGetPoint, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", externalID)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.CollectionPoint, error) {
	query := `SELECT ` + pgPointColumns + ` FROM collection_points WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.IncludeInactive {
		query += ` AND is_active`
	}
	if filter.City != "" {
		query += fmt.Sprintf(` AND lower(city) = lower($%d)`, argIdx)
		args = append(args, filter.City)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, strings.ToUpper(filter.State))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY external_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list points")
	}
	defer rows.Close()

	var points []model.CollectionPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan point")
		}
		points = append(points, *p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: list points iterate")
}

func (s *PostgresStore) RecordDeletion(ctx context.Context, entry resilience.DeletionEntry) error {
	pointJSON, err := json.Marshal(entry.Point)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal deleted point")
	}
	_, err = s.pool.Exec(ctx, sqlRecordDelete,
		entry.ID, entry.JobID, entry.ExternalID, pointJSON, entry.Reason,
		entry.Deleted, entry.Error, entry.Restored, entry.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record deletion %s", entry.ExternalID)
}

func (s *PostgresStore) ListDeletions(ctx context.Context, filter resilience.DeletionFilter) ([]resilience.DeletionEntry, error) {
	query := `SELECT id, job_id, external_id, point, reason, deleted, error, restored, created_at FROM point_deletions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.OnlyDeleted {
		query += ` AND deleted`
	}
	if filter.OnlyPending {
		query += ` AND deleted AND NOT restored`
	}
	query += fmt.Sprintf(` ORDER BY created_at, external_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deletions")
	}
	defer rows.Close()

	var entries []resilience.DeletionEntry
	for rows.Next() {
		var e resilience.DeletionEntry
		var pointJSON []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.ExternalID, &pointJSON, &e.Reason, &e.Deleted, &e.Error, &e.Restored, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deletion")
		}
		if err := json.Unmarshal(pointJSON, &e.Point); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal deleted point")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list deletions iterate")
}
