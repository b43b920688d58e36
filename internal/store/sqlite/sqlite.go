package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/EricMurray-e-m-dev/SiteGuard/internal/db"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
)

const columns = `id, camera_id, hazard_kind, worker_id, machine_id, subject_key, status,
  opened_at_ms, last_seen_at_ms, resolved_at_ms, duration_seconds, attributes,
  screenshot, resolved_by, version, updated_at_ms`

// Store persists violations in sqlite. Reads go straight to the pool, writes are
// serialized through a db.Worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
	owned  bool
}

// New wraps an already migrated connection
func New(conn *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: conn, writer: writer}
}

// Open opens, migrates and owns the database at cfg.Path
func Open(ctx context.Context, cfg dbpkg.Config) (*Store, error) {
	conn, err := dbpkg.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := New(conn, dbpkg.NewWorker(conn))
	s.owned = true
	return s, nil
}

func (s *Store) Put(ctx context.Context, v *models.Violation) error {
	attrs, err := json.Marshal(v.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// version gate; a resolved row is never reopened
		_, err := tx.ExecContext(ctx, `
INSERT INTO violations(`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  last_seen_at_ms = excluded.last_seen_at_ms,
  resolved_at_ms = excluded.resolved_at_ms,
  duration_seconds = excluded.duration_seconds,
  attributes = excluded.attributes,
  screenshot = CASE WHEN excluded.screenshot = '' THEN violations.screenshot ELSE excluded.screenshot END,
  resolved_by = excluded.resolved_by,
  version = excluded.version,
  updated_at_ms = excluded.updated_at_ms
WHERE excluded.version > violations.version
  AND NOT (violations.status = 'resolved' AND excluded.status != 'resolved');
`,
			v.ID, v.CameraID, string(v.Kind), v.Subject.WorkerID, v.Subject.MachineID,
			subjectKey(v), string(v.Status),
			toMs(v.OpenedAt), toMs(v.LastSeenAt), nullableMs(v.ResolvedAt),
			v.DurationSeconds, string(attrs), v.Screenshot, string(v.ResolvedBy),
			v.Version, toMs(v.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert violation %s: %w", v.ID, err)
		}
		return nil
	})
}

func (s *Store) Resolve(ctx context.Context, id string, at time.Time, reason models.ResolveReason) (models.ResolveOutcome, error) {
	outcome := models.ResolveNotFound

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		v, err := scanOne(tx.QueryRowContext(ctx, "SELECT "+columns+" FROM violations WHERE id = ?;", id))
		if errors.Is(err, store.ErrNotFound) {
			outcome = models.ResolveNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if !store.MarkResolved(v, at, reason) {
			outcome = models.ResolveAlreadyResolved
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE violations
SET status = ?, resolved_at_ms = ?, resolved_by = ?, duration_seconds = ?, version = ?, updated_at_ms = ?
WHERE id = ?;
`, string(v.Status), nullableMs(v.ResolvedAt), string(v.ResolvedBy), v.DurationSeconds,
			v.Version, toMs(v.UpdatedAt), id); err != nil {
			return fmt.Errorf("failed to resolve violation %s: %w", id, err)
		}
		outcome = models.ResolveApplied
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Violation, error) {
	return scanOne(s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM violations WHERE id = ?;", id))
}

func (s *Store) BulkRead(ctx context.Context, filter store.Filter) ([]*models.Violation, error) {
	var (
		where []string
		args  []any
	)
	if filter.CameraID != "" {
		where = append(where, "camera_id = ?")
		args = append(args, filter.CameraID)
	}
	if filter.Kind != "" {
		where = append(where, "hazard_kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.OpenedFrom.IsZero() {
		where = append(where, "opened_at_ms >= ?")
		args = append(args, toMs(filter.OpenedFrom))
	}
	if !filter.OpenedTo.IsZero() {
		where = append(where, "opened_at_ms <= ?")
		args = append(args, toMs(filter.OpenedTo))
	}

	query := "SELECT " + columns + " FROM violations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY opened_at_ms DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return s.db.PingContext(ctx)
}

// Close stops the write worker; the connection is closed only if Open created it
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	s.writer.Close()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*models.Violation, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return v, err
}

func scan(row scanner) (*models.Violation, error) {
	var (
		v                           models.Violation
		kind, status, resolvedBy    string
		workerID, machineID         string
		openedMs, lastSeenMs, updMs int64
		resolvedMs                  sql.NullInt64
		attrs                       string
	)

	if err := row.Scan(
		&v.ID, &v.CameraID, &kind, &workerID, &machineID, &v.SubjectKey, &status,
		&openedMs, &lastSeenMs, &resolvedMs, &v.DurationSeconds, &attrs,
		&v.Screenshot, &resolvedBy, &v.Version, &updMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan violation: %w", err)
	}

	v.Kind = models.HazardKind(kind)
	v.Status = models.ViolationStatus(status)
	v.ResolvedBy = models.ResolveReason(resolvedBy)
	v.Subject = models.SubjectKey{CameraID: v.CameraID, WorkerID: workerID, MachineID: machineID}
	v.OpenedAt = fromMs(openedMs)
	v.LastSeenAt = fromMs(lastSeenMs)
	v.UpdatedAt = fromMs(updMs)
	if resolvedMs.Valid {
		t := fromMs(resolvedMs.Int64)
		v.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(attrs), &v.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for %s: %w", v.ID, err)
	}

	return &v, nil
}

func subjectKey(v *models.Violation) string {
	if v.SubjectKey != "" {
		return v.SubjectKey
	}
	return v.Subject.String()
}

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullableMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMs(*t)
}
