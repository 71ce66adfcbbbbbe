package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres establishes a connection pool and verifies it.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// InitSchema creates the tables if they do not exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			source      TEXT NOT NULL,
			url         TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			comp_key    TEXT NOT NULL DEFAULT '',
			price       DOUBLE PRECISION NOT NULL,
			currency    TEXT NOT NULL,
			condition   TEXT NOT NULL DEFAULT 'unknown',
			observed_at TIMESTAMPTZ NOT NULL,
			metadata    JSONB
		);
		CREATE TABLE IF NOT EXISTS comps (
			comp_key     TEXT PRIMARY KEY,
			avg_price    DOUBLE PRECISION NOT NULL,
			median_price DOUBLE PRECISION NOT NULL,
			count        INTEGER NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agent_jobs (
			id           UUID PRIMARY KEY,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			priority     TEXT NOT NULL,
			input        JSONB,
			output       JSONB,
			error        TEXT NOT NULL DEFAULT '',
			attempt      INTEGER NOT NULL DEFAULT 0,
			run_after    TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_agent_jobs_queue
			ON agent_jobs (status, run_after, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertListing inserts or refreshes a listing keyed by URL.
func (p *Postgres) UpsertListing(ctx context.Context, l Listing) error {
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal listing metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO listings (source, url, title, comp_key, price, currency, condition, observed_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (url) DO UPDATE SET
		   source = $1, title = $3, comp_key = $4, price = $5,
		   currency = $6, condition = $7, observed_at = $8, metadata = $9`,
		l.Source, l.URL, l.Title, l.CompKey, l.Price, l.Currency, string(l.Condition), l.ObservedAt, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", l.URL, err)
	}
	return nil
}

// GetListingByURL retrieves a listing by its URL.
func (p *Postgres) GetListingByURL(ctx context.Context, url string) (*Listing, error) {
	var l Listing
	var cond string
	var meta []byte
	err := p.pool.QueryRow(ctx,
		`SELECT source, url, title, comp_key, price, currency, condition, observed_at, metadata
		 FROM listings WHERE url = $1`, url,
	).Scan(&l.Source, &l.URL, &l.Title, &l.CompKey, &l.Price, &l.Currency, &cond, &l.ObservedAt, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	l.Condition = Condition(cond)
	if meta != nil {
		_ = json.Unmarshal(meta, &l.Metadata)
	}
	return &l, nil
}

// ListListings retrieves listings for a source, newest first.
func (p *Postgres) ListListings(ctx context.Context, source string, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT source, url, title, comp_key, price, currency, condition, observed_at, metadata
		FROM listings`
	args := []any{}
	if source != "" {
		query += ` WHERE source = $1 ORDER BY observed_at DESC LIMIT $2`
		args = append(args, source, limit)
	} else {
		query += ` ORDER BY observed_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		var l Listing
		var cond string
		var meta []byte
		if err := rows.Scan(&l.Source, &l.URL, &l.Title, &l.CompKey, &l.Price, &l.Currency, &cond, &l.ObservedAt, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		l.Condition = Condition(cond)
		if meta != nil {
			_ = json.Unmarshal(meta, &l.Metadata)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountListings reports the number of rows stored for a URL.
func (p *Postgres) CountListings(ctx context.Context, url string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE url = $1`, url).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

// UpsertComp inserts or replaces a comp aggregate.
func (p *Postgres) UpsertComp(ctx context.Context, c Comp) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO comps (comp_key, avg_price, median_price, count, last_updated)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (comp_key) DO UPDATE SET
		   avg_price = $2, median_price = $3, count = $4, last_updated = $5`,
		c.CompKey, c.AvgPrice, c.MedianPrice, c.Count, c.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert comp %s: %w", c.CompKey, err)
	}
	return nil
}

// GetComp retrieves a comp aggregate by key.
func (p *Postgres) GetComp(ctx context.Context, compKey string) (*Comp, error) {
	var c Comp
	err := p.pool.QueryRow(ctx,
		`SELECT comp_key, avg_price, median_price, count, last_updated FROM comps WHERE comp_key = $1`,
		compKey,
	).Scan(&c.CompKey, &c.AvgPrice, &c.MedianPrice, &c.Count, &c.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get comp: %w", err)
	}
	return &c, nil
}

// ListCompKeys returns every canonical comp key.
func (p *Postgres) ListCompKeys(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT comp_key FROM comps ORDER BY comp_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list comp keys: %w", err)
	}
	defer rows.Close()

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
func (p *Postgres) CreateJob(ctx context.Context, j AgentJob) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO agent_jobs (id, type, status, priority, input, output, error, attempt, run_after, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.Type, string(j.Status), string(j.Priority), []byte(j.Input), []byte(j.Output),
		j.Error, j.Attempt, j.RunAfter, j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*AgentJob, error) {
	j, err := scanJob(p.pool.QueryRow(ctx, jobSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

const jobSelect = `SELECT id, type, status, priority, input, output, error, attempt, run_after, created_at, started_at, completed_at FROM agent_jobs`

func scanJob(row pgx.Row) (*AgentJob, error) {
	var j AgentJob
	var status, priority string
	var input, output []byte
	if err := row.Scan(&j.ID, &j.Type, &status, &priority, &input, &output,
		&j.Error, &j.Attempt, &j.RunAfter, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.Priority = JobPriority(priority)
	j.Input = input
	j.Output = output
	return &j, nil
}

// ListJobs returns jobs ordered by priority then FIFO.
func (p *Postgres) ListJobs(ctx context.Context, status JobStatus, limit int) ([]AgentJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := jobSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1
			ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at LIMIT $2`
		args = append(args, string(status), limit)
	} else {
		query += ` ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []AgentJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// DequeueJobs claims up to n runnable queued jobs using SKIP LOCKED so
// concurrent workers never claim the same job.
func (p *Postgres) DequeueJobs(ctx context.Context, n int, now time.Time) ([]AgentJob, error) {
	rows, err := p.pool.Query(ctx,
		`UPDATE agent_jobs SET status = 'running', started_at = $2
		 WHERE id IN (
		   SELECT id FROM agent_jobs
		   WHERE status = 'queued' AND run_after <= $2
		   ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, type, status, priority, input, output, error, attempt, run_after, created_at, started_at, completed_at`,
		n, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue jobs: %w", err)
	}
	defer rows.Close()

	var jobs []AgentJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not guarantee order; restore priority-then-FIFO.
	sortJobs(jobs)
	return jobs, nil
}

// UpdateJob applies fn inside a transaction with the row locked.
func (p *Postgres) UpdateJob(ctx context.Context, id uuid.UUID, fn func(j *AgentJob)) (*AgentJob, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx, jobSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	fn(j)

	_, err = tx.Exec(ctx,
		`UPDATE agent_jobs SET status = $2, priority = $3, output = $4, error = $5,
		   attempt = $6, run_after = $7, started_at = $8, completed_at = $9
		 WHERE id = $1`,
		j.ID, string(j.Status), string(j.Priority), []byte(j.Output), j.Error,
		j.Attempt, j.RunAfter, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return j, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
