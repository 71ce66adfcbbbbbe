package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // cgo-free sqlite driver
)

// SQLite is a Store backed by a local SQLite database, the default for
// single-machine CLI runs.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if necessary) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// Serialize writers; sqlite has a single write lock anyway and this
	// avoids SQLITE_BUSY under concurrent crawl workers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			source      TEXT NOT NULL,
			url         TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			comp_key    TEXT NOT NULL DEFAULT '',
			price       REAL NOT NULL,
			currency    TEXT NOT NULL,
			condition   TEXT NOT NULL DEFAULT 'unknown',
			observed_at INTEGER NOT NULL,
			metadata    TEXT
		);
		CREATE TABLE IF NOT EXISTS comps (
			comp_key     TEXT PRIMARY KEY,
			avg_price    REAL NOT NULL,
			median_price REAL NOT NULL,
			count        INTEGER NOT NULL,
			last_updated INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agent_jobs (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			priority     TEXT NOT NULL,
			input        TEXT,
			output       TEXT,
			error        TEXT NOT NULL DEFAULT '',
			attempt      INTEGER NOT NULL DEFAULT 0,
			run_after    INTEGER NOT NULL,
			created_at   INTEGER NOT NULL,
			started_at   INTEGER,
			completed_at INTEGER
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return nil
}

// UpsertListing inserts or refreshes a listing keyed by URL.
func (s *SQLite) UpsertListing(ctx context.Context, l Listing) error {
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal listing metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO listings (source, url, title, comp_key, price, currency, condition, observed_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   source = excluded.source, title = excluded.title, comp_key = excluded.comp_key,
		   price = excluded.price, currency = excluded.currency, condition = excluded.condition,
		   observed_at = excluded.observed_at, metadata = excluded.metadata`,
		l.Source, l.URL, l.Title, l.CompKey, l.Price, l.Currency, string(l.Condition),
		l.ObservedAt.UnixNano(), string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", l.URL, err)
	}
	return nil
}

func scanSQLiteListing(scan func(dest ...any) error) (*Listing, error) {
	var l Listing
	var cond, meta string
	var observed int64
	if err := scan(&l.Source, &l.URL, &l.Title, &l.CompKey, &l.Price, &l.Currency, &cond, &observed, &meta); err != nil {
		return nil, err
	}
	l.Condition = Condition(cond)
	l.ObservedAt = time.Unix(0, observed)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &l.Metadata)
	}
	return &l, nil
}

// GetListingByURL retrieves a listing by its URL.
func (s *SQLite) GetListingByURL(ctx context.Context, url string) (*Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, url, title, comp_key, price, currency, condition, observed_at, metadata
		 FROM listings WHERE url = ?`, url)
	l, err := scanSQLiteListing(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// ListListings retrieves listings for a source, newest first.
func (s *SQLite) ListListings(ctx context.Context, source string, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT source, url, title, comp_key, price, currency, condition, observed_at, metadata FROM listings`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY observed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Listing
	for rows.Next() {
		l, err := scanSQLiteListing(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CountListings reports the number of rows stored for a URL.
func (s *SQLite) CountListings(ctx context.Context, url string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE url = ?`, url).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

// UpsertComp inserts or replaces a comp aggregate.
func (s *SQLite) UpsertComp(ctx context.Context, c Comp) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comps (comp_key, avg_price, median_price, count, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(comp_key) DO UPDATE SET
		   avg_price = excluded.avg_price, median_price = excluded.median_price,
		   count = excluded.count, last_updated = excluded.last_updated`,
		c.CompKey, c.AvgPrice, c.MedianPrice, c.Count, c.LastUpdated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert comp %s: %w", c.CompKey, err)
	}
	return nil
}

// GetComp retrieves a comp aggregate by key.
func (s *SQLite) GetComp(ctx context.Context, compKey string) (*Comp, error) {
	var c Comp
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT comp_key, avg_price, median_price, count, last_updated FROM comps WHERE comp_key = ?`,
		compKey,
	).Scan(&c.CompKey, &c.AvgPrice, &c.MedianPrice, &c.Count, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get comp: %w", err)
	}
	c.LastUpdated = time.Unix(0, updated)
	return &c, nil
}

// ListCompKeys returns every canonical comp key.
func (s *SQLite) ListCompKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT comp_key FROM comps ORDER BY comp_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list comp keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan comp key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CreateJob persists a new agent job.
func (s *SQLite) CreateJob(ctx context.Context, j AgentJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_jobs (id, type, status, priority, input, output, error, attempt, run_after, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Type, string(j.Status), string(j.Priority),
		string(j.Input), string(j.Output), j.Error, j.Attempt,
		j.RunAfter.UnixNano(), j.CreatedAt.UnixNano(), nanosOrNil(j.StartedAt), nanosOrNil(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func nanosOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeOrNil(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func scanSQLiteJob(scan func(dest ...any) error) (*AgentJob, error) {
	var j AgentJob
	var id, status, priority string
	var input, output sql.NullString
	var runAfter, createdAt int64
	var startedAt, completedAt sql.NullInt64
	if err := scan(&id, &j.Type, &status, &priority, &input, &output,
		&j.Error, &j.Attempt, &runAfter, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("malformed job id %q: %w", id, err)
	}
	j.ID = parsed
	j.Status = JobStatus(status)
	j.Priority = JobPriority(priority)
	if input.Valid {
		j.Input = json.RawMessage(input.String)
	}
	if output.Valid {
		j.Output = json.RawMessage(output.String)
	}
	j.RunAfter = time.Unix(0, runAfter)
	j.CreatedAt = time.Unix(0, createdAt)
	j.StartedAt = timeOrNil(startedAt)
	j.CompletedAt = timeOrNil(completedAt)
	return &j, nil
}

const sqliteJobSelect = `SELECT id, type, status, priority, input, output, error, attempt, run_after, created_at, started_at, completed_at FROM agent_jobs`

// GetJob retrieves a job by ID.
func (s *SQLite) GetJob(ctx context.Context, id uuid.UUID) (*AgentJob, error) {
	row := s.db.QueryRowContext(ctx, sqliteJobSelect+` WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs ordered by priority then FIFO.
func (s *SQLite) ListJobs(ctx context.Context, status JobStatus, limit int) ([]AgentJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := sqliteJobSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []AgentJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// DequeueJobs claims up to n runnable queued jobs inside a transaction.
func (s *SQLite) DequeueJobs(ctx context.Context, n int, now time.Time) ([]AgentJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		sqliteJobSelect+`
		 WHERE status = 'queued' AND run_after <= ?
		 ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at
		 LIMIT ?`,
		now.UnixNano(), n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select queued jobs: %w", err)
	}
	var jobs []AgentJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range jobs {
		started := now
		jobs[i].Status = JobRunning
		jobs[i].StartedAt = &started
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_jobs SET status = 'running', started_at = ? WHERE id = ?`,
			now.UnixNano(), jobs[i].ID.String(),
		); err != nil {
			return nil, fmt.Errorf("failed to mark job running: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies fn inside a transaction.
func (s *SQLite) UpdateJob(ctx context.Context, id uuid.UUID, fn func(j *AgentJob)) (*AgentJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, sqliteJobSelect+` WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	fn(j)

	_, err = tx.ExecContext(ctx,
		`UPDATE agent_jobs SET status = ?, priority = ?, output = ?, error = ?,
		   attempt = ?, run_after = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(j.Status), string(j.Priority), string(j.Output), j.Error,
		j.Attempt, j.RunAfter.UnixNano(), nanosOrNil(j.StartedAt), nanosOrNil(j.CompletedAt),
		j.ID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return j, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
