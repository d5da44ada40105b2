package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for an unknown job id.
var ErrNotFound = errors.New("journal record not found")

// Record is one row of the job journal. Timestamps with zero values are
// stored as NULL.
type Record struct {
	JobID          string
	Name           string
	Type           string
	Processor      string
	Status         string
	TotalItems     int
	ProcessedItems int
	SucceededItems int
	FailedItems    int
	ErrorCount     int
	Duration       time.Duration
	Throughput     float64
	LastError      string
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
	UpdatedAt      time.Time
}

const recordColumns = `job_id, name, job_type, processor, status,
	total_items, processed_items, succeeded_items, failed_items, error_count,
	duration_ms, throughput, last_error, created_at, started_at, completed_at, updated_at`

// Upsert writes or replaces the journal row for a job.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.JobID == "" {
		return errors.New("journal record requires a job id")
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err := s.execWithRetry(ctx, `
		INSERT INTO job_journal (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			name = excluded.name,
			job_type = excluded.job_type,
			processor = excluded.processor,
			status = excluded.status,
			total_items = excluded.total_items,
			processed_items = excluded.processed_items,
			succeeded_items = excluded.succeeded_items,
			failed_items = excluded.failed_items,
			error_count = excluded.error_count,
			duration_ms = excluded.duration_ms,
			throughput = excluded.throughput,
			last_error = excluded.last_error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		rec.JobID, rec.Name, rec.Type, rec.Processor, rec.Status,
		rec.TotalItems, rec.ProcessedItems, rec.SucceededItems, rec.FailedItems, rec.ErrorCount,
		rec.Duration.Milliseconds(), rec.Throughput, rec.LastError,
		formatTime(rec.CreatedAt), nullableTime(rec.StartedAt), nullableTime(rec.CompletedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert journal record: %w", err)
	}
	return nil
}

// Get returns the journal row for one job.
func (s *Store) Get(ctx context.Context, jobID string) (Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM job_journal WHERE job_id = ?`, jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get journal record: %w", err)
	}
	return rec, nil
}

// List returns journal rows, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...string) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + recordColumns + ` FROM job_journal`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?, ", len(statuses))
		query += ` WHERE status IN (` + placeholders[:len(placeholders)-2] + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats returns a count of journal rows grouped by status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM job_journal GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Clear removes rows in the given statuses, or every row when none are
// given. Returns the number of rows removed.
func (s *Store) Clear(ctx context.Context, statuses ...string) (int64, error) {
	query := `DELETE FROM job_journal`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?, ", len(statuses))
		query += ` WHERE status IN (` + placeholders[:len(placeholders)-2] + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear journal: %w", err)
	}
	return res.RowsAffected()
}

// Health reports basic diagnostics about the journal database.
type Health struct {
	Path     string
	Readable bool
	Total    int
	ByStatus map[string]int
	Error    string
}

// Health pings the database and aggregates row counts for diagnostics.
func (s *Store) Health(ctx context.Context) (Health, error) {
	health := Health{Path: s.path}

	pingCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping journal database: %w", err)
	}
	health.Readable = true

	stats, err := s.Stats(ctx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.ByStatus = stats
	for _, count := range stats {
		health.Total += count
	}
	return health, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		durationMS int64
		created    string
		updated    string
		started    sql.NullString
		completed  sql.NullString
	)
	err := row.Scan(
		&rec.JobID, &rec.Name, &rec.Type, &rec.Processor, &rec.Status,
		&rec.TotalItems, &rec.ProcessedItems, &rec.SucceededItems, &rec.FailedItems, &rec.ErrorCount,
		&durationMS, &rec.Throughput, &rec.LastError,
		&created, &started, &completed, &updated,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	if started.Valid {
		rec.StartedAt = parseTime(started.String)
	}
	if completed.Valid {
		rec.CompletedAt = parseTime(completed.String)
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
