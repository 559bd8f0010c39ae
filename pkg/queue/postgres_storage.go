package queue

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/courier/pkg/pg"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresMigrations returns the goose migrations of the queue schema
func PostgresMigrations() pg.Migrations {
	return pg.Migrations{FS: migrationsFS, Dir: "migrations"}
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStorage implements Storage on PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so several processes can share the tables.
type PostgresStorage struct {
	db DBTX
}

// NewPostgresStorage creates a storage backed by db
func NewPostgresStorage(db DBTX) *PostgresStorage {
	return &PostgresStorage{db: db}
}

const jobColumns = `id, queue, kind, origin_kind, user_id, payload, priority,
	respect_quiet_hours, requested_delay_ms, dispatch_at, attempt, max_attempts,
	base_backoff_ms, state, last_error, parent_id, batch_id, created_at,
	updated_at, last_attempt_at, terminal_at, retry_id`

// CreateJob implements EnqueueRepository
func (s *PostgresStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO courier_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		jobArgs(job)...,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimJob implements DispatchRepository
func (s *PostgresStorage) ClaimJob(ctx context.Context, queues []QueueName, now time.Time) (*Job, error) {
	if len(queues) == 0 {
		return nil, ErrNoJobToClaim
	}

	names := make([]string, len(queues))
	for i, q := range queues {
		names[i] = string(q)
	}

	row := s.db.QueryRow(ctx,
		`UPDATE courier_jobs
		 SET state = 'dispatching', attempt = attempt + 1, last_attempt_at = $2, updated_at = $2
		 WHERE id = (
		     SELECT id FROM courier_jobs
		     WHERE state = 'scheduled'
		       AND queue = ANY($1::text[])
		       AND dispatch_at <= $2
		       AND attempt < max_attempts
		     ORDER BY priority DESC, dispatch_at ASC, created_at ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		names, now,
	)

	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// UpdateJob implements DispatchRepository
func (s *PostgresStorage) UpdateJob(ctx context.Context, job *Job, expected State) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	args := append(jobArgs(job), string(expected))
	tag, err := s.db.Exec(ctx,
		`UPDATE courier_jobs SET
		     queue = $2, kind = $3, origin_kind = $4, user_id = $5, payload = $6,
		     priority = $7, respect_quiet_hours = $8, requested_delay_ms = $9,
		     dispatch_at = $10, attempt = $11, max_attempts = $12,
		     base_backoff_ms = $13, state = $14, last_error = $15, parent_id = $16,
		     batch_id = $17, created_at = $18, updated_at = $19,
		     last_attempt_at = $20, terminal_at = $21, retry_id = $22
		 WHERE id = $1 AND state = $23`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT state FROM courier_jobs WHERE id = $1`, job.ID).Scan(&current)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return ErrJobNotFound
		}
		return fmt.Errorf("read job %s state: %w", job.ID, err)
	}
	return &StateConflictError{JobID: job.ID, State: State(current), Op: "update"}
}

// ListStale implements DispatchRepository
func (s *PostgresStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM courier_jobs
		 WHERE state = 'dispatching' AND last_attempt_at < $1
		 ORDER BY last_attempt_at ASC
		 LIMIT $2`,
		cutoff, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// GetJob implements TrackerRepository
func (s *PostgresStorage) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM courier_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// AppendTransition implements TrackerRepository
func (s *PostgresStorage) AppendTransition(ctx context.Context, rec TransitionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO courier_job_transitions (job_id, from_state, to_state, at, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.JobID, string(rec.From), string(rec.To), rec.At, nilIfEmptyMap(rec.Metadata),
	)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return ErrJobNotFound
		}
		return fmt.Errorf("append transition for job %s: %w", rec.JobID, err)
	}
	return nil
}

// ListTransitions implements TrackerRepository
func (s *PostgresStorage) ListTransitions(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courier_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job %s: %w", id, err)
	}
	if !exists {
		return nil, ErrJobNotFound
	}

	rows, err := s.db.Query(ctx,
		`SELECT job_id, from_state, to_state, at, metadata
		 FROM courier_job_transitions WHERE job_id = $1 ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions for job %s: %w", id, err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			rec      TransitionRecord
			from, to string
		)
		if err := rows.Scan(&rec.JobID, &from, &to, &rec.At, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		rec.From, rec.To = State(from), State(to)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// Stats implements TrackerRepository
func (s *PostgresStorage) Stats(ctx context.Context, queue QueueName, now time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx,
		`SELECT
		     count(*) FILTER (WHERE state = 'queued' OR (state = 'scheduled' AND dispatch_at <= $2)),
		     count(*) FILTER (WHERE state = 'dispatching'),
		     count(*) FILTER (WHERE state = 'sent'),
		     count(*) FILTER (WHERE state = 'failed'),
		     count(*) FILTER (WHERE state = 'scheduled' AND dispatch_at > $2),
		     count(*) FILTER (WHERE state = 'cancelled')
		 FROM courier_jobs WHERE queue = $1`,
		string(queue), now,
	).Scan(&st.Waiting, &st.Active, &st.Sent, &st.Failed, &st.Delayed, &st.Cancelled)
	if err != nil {
		return Stats{}, fmt.Errorf("stats for queue %s: %w", queue, err)
	}
	return st, nil
}

// ListTerminal implements TrackerRepository
func (s *PostgresStorage) ListTerminal(ctx context.Context, before time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM courier_jobs
		 WHERE state IN ('sent', 'failed', 'cancelled') AND terminal_at < $1
		 ORDER BY terminal_at ASC
		 LIMIT $2`,
		before, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list terminal jobs: %w", err)
	}
	return collectJobs(rows)
}

// DeleteJobs implements TrackerRepository. Transitions go with the job via ON DELETE CASCADE.
func (s *PostgresStorage) DeleteJobs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.db.Exec(ctx, `DELETE FROM courier_jobs WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

// CreateBatch implements BatchRepository
func (s *PostgresStorage) CreateBatch(ctx context.Context, batch *BatchJob) error {
	if batch == nil {
		return errors.New("batch cannot be nil")
	}

	chunks, err := json.Marshal(uuidStrings(batch.ChunkIDs))
	if err != nil {
		return fmt.Errorf("encode batch chunks: %w", err)
	}
	failures, err := json.Marshal(nonNilFailures(batch.Failures))
	if err != nil {
		return fmt.Errorf("encode batch failures: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO courier_batches
		 (id, template, chunk_ids, total, queued, failed_to_queue, skipped, failures, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		batch.ID, batch.Template, chunks, batch.Total, batch.Queued,
		batch.FailedToQueue, batch.Skipped, failures, batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch implements BatchRepository
func (s *PostgresStorage) GetBatch(ctx context.Context, id uuid.UUID) (*BatchJob, error) {
	var (
		b                BatchJob
		chunks, failures []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, template, chunk_ids, total, queued, failed_to_queue, skipped, failures, created_at
		 FROM courier_batches WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Template, &chunks, &b.Total, &b.Queued, &b.FailedToQueue, &b.Skipped, &failures, &b.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}

	if err := json.Unmarshal(chunks, &b.ChunkIDs); err != nil {
		return nil, fmt.Errorf("decode batch chunks: %w", err)
	}
	if err := json.Unmarshal(failures, &b.Failures); err != nil {
		return nil, fmt.Errorf("decode batch failures: %w", err)
	}
	return &b, nil
}

func jobArgs(j *Job) []any {
	var payload []byte
	if len(j.Payload) > 0 {
		payload = j.Payload
	}
	return []any{
		j.ID,
		string(j.Queue),
		string(j.Kind),
		string(j.OriginKind),
		j.UserID,
		payload,
		int16(j.Priority),
		j.RespectQuietHours,
		j.RequestedDelay.Milliseconds(),
		j.DispatchAt,
		j.Attempt,
		j.MaxAttempts,
		j.BaseBackoff.Milliseconds(),
		string(j.State),
		j.LastError,
		j.ParentID,
		j.BatchID,
		j.CreatedAt,
		j.UpdatedAt,
		j.LastAttemptAt,
		j.TerminalAt,
		j.RetryID,
	}
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j                          Job
		queue, kind, origin, state string
		priority                   int16
		delayMillis, backoffMillis int64
		payload                    []byte
	)
	err := row.Scan(
		&j.ID, &queue, &kind, &origin, &j.UserID, &payload, &priority,
		&j.RespectQuietHours, &delayMillis, &j.DispatchAt, &j.Attempt, &j.MaxAttempts,
		&backoffMillis, &state, &j.LastError, &j.ParentID, &j.BatchID, &j.CreatedAt,
		&j.UpdatedAt, &j.LastAttemptAt, &j.TerminalAt, &j.RetryID,
	)
	if err != nil {
		return nil, err
	}

	j.Queue = QueueName(queue)
	j.Kind = Kind(kind)
	j.OriginKind = Kind(origin)
	j.State = State(state)
	j.Priority = Priority(priority)
	j.RequestedDelay = time.Duration(delayMillis) * time.Millisecond
	j.BaseBackoff = time.Duration(backoffMillis) * time.Millisecond
	if len(payload) > 0 {
		j.Payload = json.RawMessage(payload)
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*Job, error) {
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// sqlLimit maps "no limit" to NULL, which LIMIT treats as unbounded
func sqlLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nilIfEmptyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nonNilFailures(f []RecipientFailure) []RecipientFailure {
	if f == nil {
		return []RecipientFailure{}
	}
	return f
}
