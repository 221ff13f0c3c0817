package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages instance history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	defaultRecentLimit = 50
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert writes the latest snapshot of an instance. The same instance is
// written repeatedly as it moves through its lifecycle; immutable columns
// keep their original values on conflict.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.InstanceID == "" {
		return errors.New("instance id is empty")
	}
	if rec.Unit == "" {
		return errors.New("unit name is empty")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO instances (
            instance_id, unit, attempt, pid, state, outcome,
            exit_description, started_at, ready_at, exited_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(instance_id) DO UPDATE SET
            pid = excluded.pid,
            state = excluded.state,
            outcome = excluded.outcome,
            exit_description = excluded.exit_description,
            ready_at = excluded.ready_at,
            exited_at = excluded.exited_at`,
		rec.InstanceID,
		rec.Unit,
		rec.Attempt,
		nullableInt(rec.PID),
		rec.State,
		nullableString(rec.Outcome),
		nullableString(rec.ExitDescription),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(rec.ReadyAt),
		nullableTime(rec.ExitedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}
	return nil
}

// Get fetches one instance record by identifier.
func (s *Store) Get(ctx context.Context, instanceID string) (*Record, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+recordColumns+` FROM instances WHERE instance_id = ?`,
		instanceID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return rec, nil
}

// Recent returns the newest records first, optionally filtered by unit.
func (s *Store) Recent(ctx context.Context, unit string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	base := `SELECT ` + recordColumns + ` FROM instances`
	order := ` ORDER BY started_at DESC LIMIT ?`
	if unit == "" {
		rows, err = s.db.QueryContext(ensureContext(ctx), base+order, limit)
	} else {
		rows, err = s.db.QueryContext(ensureContext(ctx), base+` WHERE unit = ?`+order, unit, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent instances: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats aggregates attempt and failure counts per unit.
func (s *Store) Stats(ctx context.Context) ([]UnitStats, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT
            unit,
            COUNT(1) AS attempts,
            SUM(CASE WHEN outcome IN (?, ?) THEN 1 ELSE 0 END) AS failures,
            (SELECT i2.outcome FROM instances AS i2
             WHERE i2.unit = instances.unit AND i2.outcome IS NOT NULL
             ORDER BY i2.started_at DESC LIMIT 1) AS last_outcome
        FROM instances
        GROUP BY unit
        ORDER BY unit`,
		OutcomeStartupFailure,
		OutcomeRuntimeCrash,
	)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats []UnitStats
	for rows.Next() {
		var (
			entry       UnitStats
			failures    sql.NullInt64
			lastOutcome sql.NullString
		)
		if err := rows.Scan(&entry.Unit, &entry.Attempts, &failures, &lastOutcome); err != nil {
			return nil, err
		}
		entry.Failures = int(failures.Int64)
		entry.LastOutcome = lastOutcome.String
		stats = append(stats, entry)
	}
	return stats, rows.Err()
}

// Prune deletes exited instances that finished before the cutoff. Rows for
// live instances are never removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM instances WHERE exited_at IS NOT NULL AND exited_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune instances: %w", err)
	}
	return res.RowsAffected()
}

const recordColumns = "instance_id, unit, attempt, pid, state, outcome, exit_description, started_at, ready_at, exited_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		instanceID string
		unitName   string
		attempt    int
		pid        sql.NullInt64
		state      string
		outcome    sql.NullString
		exitDesc   sql.NullString
		startedRaw string
		readyRaw   sql.NullString
		exitedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&instanceID,
		&unitName,
		&attempt,
		&pid,
		&state,
		&outcome,
		&exitDesc,
		&startedRaw,
		&readyRaw,
		&exitedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		InstanceID:      instanceID,
		Unit:            unitName,
		Attempt:         attempt,
		State:           state,
		Outcome:         outcome.String,
		ExitDescription: exitDesc.String,
	}
	if pid.Valid {
		rec.PID = int(pid.Int64)
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		rec.StartedAt = started
	}
	if readyRaw.Valid {
		if ready, err := parseTimeString(readyRaw.String); err == nil {
			rec.ReadyAt = &ready
		}
	}
	if exitedRaw.Valid {
		if exited, err := parseTimeString(exitedRaw.String); err == nil {
			rec.ExitedAt = &exited
		}
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value <= 0 {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
