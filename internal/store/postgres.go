package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements the
// same methods, which keeps the Postgres store testable without a server.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_job":         `INSERT INTO jobs (id, status, file_count, user_context, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_job_status":  `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_job_result":  `UPDATE jobs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_job":            `SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE id = $1`,
	"upsert_file_record": pgUpsertFileRecord,
	"append_job_log":     `INSERT INTO job_logs (job_id, ts, level, stage, file_id, message) VALUES ($1, $2, $3, $4, $5, $6)`,
}

const pgUpsertFileRecord = `INSERT INTO file_records (file_id, job_id, name, type, agent, status, confidence, duration_ms, word_count, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (file_id) DO UPDATE SET
	agent = EXCLUDED.agent,
	status = EXCLUDED.status,
	confidence = EXCLUDED.confidence,
	duration_ms = EXCLUDED.duration_ms,
	word_count = EXCLUDED.word_count,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at`

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

	// Prepare frequently-used statements on each new connection.
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status       TEXT NOT NULL DEFAULT 'pending',
	file_count   INTEGER NOT NULL DEFAULT 0,
	user_context TEXT NOT NULL DEFAULT '',
	result       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS file_records (
	file_id     TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	agent       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	word_count  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id       TEXT NOT NULL,
	key          TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	data         BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(job_id, key)
);

CREATE TABLE IF NOT EXISTS job_logs (
	id      BIGSERIAL PRIMARY KEY,
	job_id  TEXT NOT NULL,
	ts      TIMESTAMPTZ NOT NULL,
	level   TEXT NOT NULL,
	stage   TEXT NOT NULL,
	file_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_file_records_job_id ON file_records(job_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_job_id ON artifacts(job_id);
CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id, id);
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

func (s *PostgresStore) CreateJob(ctx context.Context, fileCount int, userContext string) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, file_count, user_context, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(model.JobStatusPending), fileCount, userContext, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:          id,
		Status:      model.JobStatusPending,
		FileCount:   fileCount,
		UserContext: userContext,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.JobStatusFailed), errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobResult(ctx context.Context, jobID string, result *model.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.JobStatusCompleted), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job result %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanPGJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPGJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) UpsertFileRecord(ctx context.Context, rec model.FileRecord) error {
	_, err := s.pool.Exec(ctx, pgUpsertFileRecord,
		rec.FileID, rec.JobID, rec.Name, string(rec.Type), string(rec.Agent), string(rec.Status),
		rec.Confidence, rec.DurationMS, rec.WordCount, rec.Error, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert file record %s", rec.FileID)
}

func (s *PostgresStore) ListFileRecords(ctx context.Context, jobID string) ([]model.FileRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT file_id, job_id, name, type, agent, status, confidence, duration_ms, word_count, error
		 FROM file_records WHERE job_id = $1 ORDER BY file_id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list file records")
	}
	defer rows.Close()

	var recs []model.FileRecord
	for rows.Next() {
		var r model.FileRecord
		var fileType, agent, status string
		if err := rows.Scan(&r.FileID, &r.JobID, &r.Name, &fileType, &agent, &status,
			&r.Confidence, &r.DurationMS, &r.WordCount, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan file record")
		}
		r.Type = model.FileType(fileType)
		r.Agent = model.AgentKind(agent)
		r.Status = model.FileStatus(status)
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list file records iterate")
}

func (s *PostgresStore) PutArtifact(ctx context.Context, jobID, key, contentType string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, job_id, key, content_type, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id, key) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data,
			created_at = EXCLUDED.created_at`,
		uuid.New().String(), jobID, key, contentType, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put artifact %s/%s", jobID, key)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, jobID, key string) ([]byte, string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data, content_type FROM artifacts WHERE job_id = $1 AND key = $2`,
		jobID, key,
	)

	var data []byte
	var contentType string
	err := row.Scan(&data, &contentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", eris.Wrapf(err, "postgres: get artifact %s/%s", jobID, key)
	}
	return data, contentType, nil
}

func (s *PostgresStore) ListArtifactKeys(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM artifacts WHERE job_id = $1 ORDER BY key`, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifact keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list artifact keys iterate")
}

func (s *PostgresStore) AppendJobLog(ctx context.Context, jobID string, e joblog.Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_logs (job_id, ts, level, stage, file_id, message) VALUES ($1, $2, $3, $4, $5, $6)`,
		jobID, ts, e.Level, e.Stage, e.FileID, e.Message,
	)
	return eris.Wrapf(err, "postgres: append job log %s", jobID)
}

func (s *PostgresStore) TailJobLog(ctx context.Context, jobID string, n int) ([]joblog.Entry, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ts, level, stage, file_id, message FROM
		 (SELECT id, ts, level, stage, file_id, message FROM job_logs WHERE job_id = $1 ORDER BY id DESC LIMIT $2) tail
		 ORDER BY id ASC`,
		jobID, n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: tail job log")
	}
	defer rows.Close()

	var entries []joblog.Entry
	for rows.Next() {
		var e joblog.Entry
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Stage, &e.FileID, &e.Message); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job log entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: tail job log iterate")
}

func scanPGJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	var resultJSON []byte

	err := row.Scan(&j.ID, &status, &j.FileCount, &j.UserContext, &resultJSON, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	j.Status = model.JobStatus(status)

	if len(resultJSON) > 0 {
		var result model.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job result")
		}
		j.Result = &result
	}
	return &j, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
