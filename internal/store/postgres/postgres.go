package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS violations (
  id               TEXT PRIMARY KEY,
  camera_id        TEXT NOT NULL,
  hazard_kind      TEXT NOT NULL,
  worker_id        TEXT NOT NULL,
  machine_id       TEXT NOT NULL DEFAULT '',
  subject_key      TEXT NOT NULL,
  status           TEXT NOT NULL,
  opened_at        TIMESTAMPTZ NOT NULL,
  last_seen_at     TIMESTAMPTZ NOT NULL,
  resolved_at      TIMESTAMPTZ,
  duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
  attributes       JSONB NOT NULL DEFAULT '{}',
  screenshot       TEXT NOT NULL DEFAULT '',
  resolved_by      TEXT NOT NULL DEFAULT '',
  version          BIGINT NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_camera ON violations (camera_id);
CREATE INDEX IF NOT EXISTS idx_violations_status ON violations (status);
CREATE INDEX IF NOT EXISTS idx_violations_opened ON violations (opened_at DESC);
`

const columns = `id, camera_id, hazard_kind, worker_id, machine_id, subject_key, status,
  opened_at, last_seen_at, resolved_at, duration_seconds, attributes,
  screenshot, resolved_by, version, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, connectionString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, v *models.Violation) error {
	attrs, err := json.Marshal(v.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	subjectKey := v.SubjectKey
	if subjectKey == "" {
		subjectKey = v.Subject.String()
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO violations (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  last_seen_at = EXCLUDED.last_seen_at,
  resolved_at = EXCLUDED.resolved_at,
  duration_seconds = EXCLUDED.duration_seconds,
  attributes = EXCLUDED.attributes,
  screenshot = COALESCE(NULLIF(EXCLUDED.screenshot, ''), violations.screenshot),
  resolved_by = EXCLUDED.resolved_by,
  version = EXCLUDED.version,
  updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.version > violations.version
  AND NOT (violations.status = 'resolved' AND EXCLUDED.status <> 'resolved')`,
		v.ID, v.CameraID, string(v.Kind), v.Subject.WorkerID, v.Subject.MachineID,
		subjectKey, string(v.Status), v.OpenedAt, v.LastSeenAt, v.ResolvedAt,
		v.DurationSeconds, attrs, v.Screenshot, string(v.ResolvedBy), v.Version, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert violation %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, id string, at time.Time, reason models.ResolveReason) (models.ResolveOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	v, err := scan(tx.QueryRow(ctx, "SELECT "+columns+" FROM violations WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, store.ErrNotFound) {
		return models.ResolveNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if !store.MarkResolved(v, at, reason) {
		return models.ResolveAlreadyResolved, nil
	}

	if _, err := tx.Exec(ctx, `
UPDATE violations
SET status = $1, resolved_at = $2, resolved_by = $3, duration_seconds = $4, version = $5, updated_at = $6
WHERE id = $7`,
		string(v.Status), v.ResolvedAt, string(v.ResolvedBy), v.DurationSeconds, v.Version, v.UpdatedAt, id,
	); err != nil {
		return "", fmt.Errorf("failed to resolve violation %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit resolve: %w", err)
	}
	return models.ResolveApplied, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Violation, error) {
	return scan(s.pool.QueryRow(ctx, "SELECT "+columns+" FROM violations WHERE id = $1", id))
}

func (s *Store) BulkRead(ctx context.Context, filter store.Filter) ([]*models.Violation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CameraID != "" {
		where = append(where, "camera_id = "+arg(filter.CameraID))
	}
	if filter.Kind != "" {
		where = append(where, "hazard_kind = "+arg(string(filter.Kind)))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if !filter.OpenedFrom.IsZero() {
		where = append(where, "opened_at >= "+arg(filter.OpenedFrom))
	}
	if !filter.OpenedTo.IsZero() {
		where = append(where, "opened_at <= "+arg(filter.OpenedTo))
	}

	query := "SELECT " + columns + " FROM violations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY opened_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	out := []*models.Violation{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate violations: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scan(row pgx.Row) (*models.Violation, error) {
	var (
		v                        models.Violation
		kind, status, resolvedBy string
		workerID, machineID      string
		attrs                    []byte
	)

	if err := row.Scan(
		&v.ID, &v.CameraID, &kind, &workerID, &machineID, &v.SubjectKey, &status,
		&v.OpenedAt, &v.LastSeenAt, &v.ResolvedAt, &v.DurationSeconds, &attrs,
		&v.Screenshot, &resolvedBy, &v.Version, &v.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan violation: %w", err)
	}

	v.Kind = models.HazardKind(kind)
	v.Status = models.ViolationStatus(status)
	v.ResolvedBy = models.ResolveReason(resolvedBy)
	v.Subject = models.SubjectKey{CameraID: v.CameraID, WorkerID: workerID, MachineID: machineID}
	v.OpenedAt = v.OpenedAt.UTC()
	v.LastSeenAt = v.LastSeenAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	if v.ResolvedAt != nil {
		t := v.ResolvedAt.UTC()
		v.ResolvedAt = &t
	}
	if err := json.Unmarshal(attrs, &v.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for %s: %w", v.ID, err)
	}

	return &v, nil
}
